package interfaces

// SpeechSink receives text the host application should announce through
// its screen-reader layer. Implementations must not block: delivery is
// fire-and-forget from the caller's point of view, and the caller never
// retries.
type SpeechSink interface {
	// Speak announces the given text exactly once.
	Speak(text string)
}

// SpeechSinkFunc adapts a plain function to a SpeechSink.
type SpeechSinkFunc func(text string)

func (f SpeechSinkFunc) Speak(text string) { f(text) }

package interfaces

// MediaChannel is the host's audio transport, keyed by participant ID.
// The session layer only signals stream lifecycle; capture, playback and
// codecs are entirely the host's concern. Errors are advisory: the
// session layer logs them and keeps its own state authoritative.
type MediaChannel interface {
	// OpenStream starts receiving the given participant's audio.
	OpenStream(participantID int64) error

	// CloseStream stops receiving the given participant's audio.
	CloseStream(participantID int64) error

	// SetCaptureMuted mutes or unmutes the local microphone capture.
	SetCaptureMuted(muted bool) error
}

// Package input turns raw key events into session actions. It never
// touches the network: bindings are closures supplied by the host, and
// the router's whole job is deciding which presses count.
package input

import (
	"log/slog"
	"sync"
)

// Key is a host-reported key identity.
type Key string

// Digit keys. The top row and the numpad are distinct at the host layer
// but identical to users, so the router folds numpad digits into these
// before lookup.
const (
	KeyDigit0 Key = "0"
	KeyDigit1 Key = "1"
	KeyDigit2 Key = "2"
	KeyDigit3 Key = "3"
	KeyDigit4 Key = "4"
	KeyDigit5 Key = "5"
	KeyDigit6 Key = "6"
	KeyDigit7 Key = "7"
	KeyDigit8 Key = "8"
	KeyDigit9 Key = "9"
)

const (
	KeyNumpad0 Key = "numpad0"
	KeyNumpad1 Key = "numpad1"
	KeyNumpad2 Key = "numpad2"
	KeyNumpad3 Key = "numpad3"
	KeyNumpad4 Key = "numpad4"
	KeyNumpad5 Key = "numpad5"
	KeyNumpad6 Key = "numpad6"
	KeyNumpad7 Key = "numpad7"
	KeyNumpad8 Key = "numpad8"
	KeyNumpad9 Key = "numpad9"
)

var numpadToDigit = map[Key]Key{
	KeyNumpad0: KeyDigit0,
	KeyNumpad1: KeyDigit1,
	KeyNumpad2: KeyDigit2,
	KeyNumpad3: KeyDigit3,
	KeyNumpad4: KeyDigit4,
	KeyNumpad5: KeyDigit5,
	KeyNumpad6: KeyDigit6,
	KeyNumpad7: KeyDigit7,
	KeyNumpad8: KeyDigit8,
	KeyNumpad9: KeyDigit9,
}

// Normalize folds numpad digits into their top-row equivalents. Every
// other key passes through unchanged.
func Normalize(k Key) Key {
	if digit, ok := numpadToDigit[k]; ok {
		return digit
	}
	return k
}

// EventKind distinguishes presses from releases.
type EventKind int

const (
	KeyDown EventKind = iota
	KeyUp
)

// Event is one raw key transition from the host.
type Event struct {
	Key  Key
	Kind EventKind
}

// Action runs when its bound key is pressed.
type Action func()

// Bindings maps normalized keys to actions for one screen.
type Bindings map[Key]Action

// FocusProbe reports whether a text input currently has focus. While it
// returns true, no shortcut may fire: the keystrokes belong to the text
// field.
type FocusProbe func() bool

// Router dispatches key-down events against the active bindings. OS key
// repeat delivers a stream of downs for a held key; only the leading
// edge dispatches, and the key must be released before it can fire
// again.
type Router struct {
	mu       sync.Mutex
	bindings Bindings
	focus    FocusProbe
	held     map[Key]bool
	logger   *slog.Logger
}

// NewRouter creates a router for one screen's bindings. focus may be
// nil when the screen has no text inputs.
func NewRouter(bindings Bindings, focus FocusProbe, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		bindings: bindings,
		focus:    focus,
		held:     make(map[Key]bool),
		logger:   logger,
	}
}

// Handle consumes one key event and reports whether an action ran.
func (r *Router) Handle(ev Event) bool {
	key := Normalize(ev.Key)

	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Kind == KeyUp {
		delete(r.held, key)
		return false
	}

	if r.held[key] {
		return false
	}
	r.held[key] = true

	if r.focus != nil && r.focus() {
		return false
	}

	action, bound := r.bindings[key]
	if !bound {
		return false
	}

	r.logger.Debug("dispatching key action", "key", string(key))
	action()
	return true
}

// Rebind swaps the binding table on a screen transition. Keys already
// held keep their held state, so a key pressed on the previous screen
// cannot fire on the new one until it is released first.
func (r *Router) Rebind(bindings Bindings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = bindings
}

// ReleaseAll clears the held set. Hosts call this when the window loses
// focus, because the matching key-up events will never arrive.
func (r *Router) ReleaseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held = make(map[Key]bool)
}

package session

import (
	"sync"

	"earshot/pkg/types"
)

// State names the orchestrator's lifecycle position.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateJoined       State = "joined"
	StateReconnecting State = "reconnecting"
	StateLeaving      State = "leaving"
	StateClosed       State = "closed"
)

// CloseReason explains a terminal transition to StateClosed.
type CloseReason string

const (
	CloseReasonLeft           CloseReason = "left"
	CloseReasonKicked         CloseReason = "kicked"
	CloseReasonSessionEnded   CloseReason = "session_ended"
	CloseReasonConnectFailed  CloseReason = "connect_failed"
	CloseReasonConnectionLost CloseReason = "connection_lost"
)

// EventKind discriminates orchestrator events.
type EventKind string

const (
	EventStateChanged    EventKind = "state_changed"
	EventRosterChanged   EventKind = "roster_changed"
	EventChatAppended    EventKind = "chat_appended"
	EventPlaybackChanged EventKind = "playback_changed"
	EventSessionClosed   EventKind = "session_closed"
)

// Event is one observable change, published to every subscriber. Only
// the fields matching Kind are populated.
type Event struct {
	Kind     EventKind
	State    State
	Roster   []types.Participant
	Message  *types.ChatMessage
	Playback *types.PlaybackState
	Reason   CloseReason
	Detail   string
	Err      error
}

// subscriptionBuffer bounds each subscriber's queue. A consumer that
// falls this far behind starts losing events rather than stalling the
// session loop; renderers recover from loss by reading snapshots.
const subscriptionBuffer = 64

// Subscription delivers orchestrator events until Close is called or
// the session reaches StateClosed, after which the channel is closed.
type Subscription struct {
	ch    chan Event
	id    int64
	owner *Orchestrator
	once  sync.Once
}

// Events returns the subscriber's channel.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription. Once Close returns, no further
// events are delivered and the channel is closed; pending buffered
// events are discarded with it.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.owner.subMu.Lock()
		delete(s.owner.subs, s.id)
		s.owner.subMu.Unlock()
		close(s.ch)
	})
}

// closeFromOwner closes the channel during orchestrator teardown; the
// map entry is cleared wholesale by the caller.
func (s *Subscription) closeFromOwner() {
	s.once.Do(func() {
		close(s.ch)
	})
}

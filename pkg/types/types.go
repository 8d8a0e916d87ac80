package types

import (
	"time"
)

// Role identifies what a participant may do inside a session.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// SessionHandle carries everything needed to join one live session.
// It is immutable for the lifetime of a connection; rejoining a session
// requires a fresh handle.
type SessionHandle struct {
	SessionID int64  `json:"session_id"`
	SelfID    int64  `json:"self_id"`
	SelfName  string `json:"self_name"`
	Role      string `json:"role"`
}

// IsTeacher reports whether the handle grants teacher-only operations.
func (h SessionHandle) IsTeacher() bool {
	return h.Role == RoleTeacher
}

// Participant is one member of the live roster. Absence from the roster
// means not-in-session; there is no tombstone state.
type Participant struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Muted      bool     `json:"muted"`
	RaisedHand bool     `json:"raised"`
	// MicLevel is nil until the first mic_level frame arrives for this
	// participant. Values are clamped to [0,1] before they are stored.
	MicLevel *float64 `json:"level,omitempty"`
}

// ChatMessage is one entry in a session's append-only chat log.
type ChatMessage struct {
	Seq        int64     `json:"seq"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	FromSelf   bool      `json:"from_self"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
}

// PendingNotificationIntent is a parsed session invitation waiting to be
// acted on, either immediately or once the user has logged in.
type PendingNotificationIntent struct {
	SessionID    int64     `json:"session_id"`
	SessionTitle string    `json:"session_title"`
	TeacherName  string    `json:"teacher_name"`
	ArrivedAt    time.Time `json:"arrived_at"`
}

// Playback status values for the shared audio material.
const (
	PlaybackStopped = "stopped"
	PlaybackPlaying = "playing"
	PlaybackPaused  = "paused"
)

// PlaybackState mirrors the teacher-controlled audio material signalling.
// It tracks control state only; the media itself travels out of band.
type PlaybackState struct {
	AudioID  int64   `json:"audio_id"`
	Title    string  `json:"title"`
	Status   string  `json:"status"`
	Speed    float64 `json:"speed"`
	Position float64 `json:"position"`
}

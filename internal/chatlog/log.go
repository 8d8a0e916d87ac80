// Package chatlog keeps the append-only chat history of one session.
package chatlog

import (
	"log/slog"
	"sync"
	"time"

	"earshot/pkg/interfaces"
	"earshot/pkg/types"
)

// Archiver receives every appended message for durable storage. Archive
// failures never affect the in-memory log.
type Archiver interface {
	ArchiveMessage(sessionID int64, msg types.ChatMessage) error
}

// Log is one session's chat history. Messages are only ever appended:
// no dedup, no reordering, no deletion. Sequence numbers start at zero
// and are never reused, so assistive navigation can anchor on them.
type Log struct {
	mu        sync.RWMutex
	sessionID int64
	messages  []types.ChatMessage
	nextSeq   int64
	speech    interfaces.SpeechSink
	archive   Archiver
	logger    *slog.Logger
}

// New creates an empty log. speech and archive may be nil when the host
// runs without a screen reader or without persistence.
func New(sessionID int64, speech interfaces.SpeechSink, archive Archiver, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		sessionID: sessionID,
		speech:    speech,
		archive:   archive,
		logger:    logger,
	}
}

// AppendLocal records a message the local user just sent. The entry is
// appended before the frame reaches the server, so the user always sees
// their own message immediately. Local messages are never announced.
func (l *Log) AppendLocal(selfID int64, selfName, text string) types.ChatMessage {
	return l.append(selfID, selfName, text, true)
}

// AppendRemote records a message received from the session and, for
// messages from other participants, announces it through the speech
// sink exactly once before returning.
func (l *Log) AppendRemote(senderID int64, senderName, text string, fromSelf bool) types.ChatMessage {
	msg := l.append(senderID, senderName, text, fromSelf)
	if !fromSelf && l.speech != nil {
		announcement := text
		if senderName != "" {
			announcement = senderName + ": " + text
		}
		l.speech.Speak(announcement)
	}
	return msg
}

func (l *Log) append(senderID int64, senderName, text string, fromSelf bool) types.ChatMessage {
	l.mu.Lock()
	msg := types.ChatMessage{
		Seq:        l.nextSeq,
		SenderID:   senderID,
		SenderName: senderName,
		FromSelf:   fromSelf,
		Text:       text,
		SentAt:     time.Now(),
	}
	l.nextSeq++
	l.messages = append(l.messages, msg)
	l.mu.Unlock()

	if l.archive != nil {
		if err := l.archive.ArchiveMessage(l.sessionID, msg); err != nil {
			l.logger.Warn("failed to archive chat message",
				"session_id", l.sessionID, "seq", msg.Seq, "error", err)
		}
	}
	return msg
}

// Messages returns a copy of the full history in append order.
func (l *Log) Messages() []types.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.ChatMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len reports the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

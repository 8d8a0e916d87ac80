// Package store keeps the client's durable local state in SQLite: the
// saved identity, the chat archive, and the session event log. All
// writes funnel through one goroutine; SQLite handles concurrent
// readers fine but punishes concurrent writers with lock contention.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"earshot/internal/chatlog"
	"earshot/pkg/interfaces"
	"earshot/pkg/types"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS identity (
	key        TEXT PRIMARY KEY,
	int_value  INTEGER,
	text_value TEXT,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	session_id  INTEGER NOT NULL,
	seq         INTEGER NOT NULL,
	sender_id   INTEGER NOT NULL,
	sender_name TEXT NOT NULL,
	from_self   INTEGER NOT NULL,
	body        TEXT NOT NULL,
	sent_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session_time ON messages(session_id, sent_at);

CREATE TABLE IF NOT EXISTS session_events (
	id         TEXT PRIMARY KEY,
	session_id INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	detail     TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session_time ON session_events(session_id, created_at);
`

const sqlitePragmas = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA temp_store = MEMORY;
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;
`

// enqueueTimeout bounds how long a caller waits for space in the write
// queue before giving up.
const enqueueTimeout = 10 * time.Second

// Config holds the store settings.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}
	return c
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Manager owns the SQLite database. Reads go straight to the pool;
// writes are serialized through writeCh.
type Manager struct {
	db      *sql.DB
	logger  *slog.Logger
	writeCh chan writeOperation

	shutdown chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// SessionEvent is one recorded lifecycle event.
type SessionEvent struct {
	SessionID int64
	EventType string
	Detail    string
	CreatedAt time.Time
}

var _ interfaces.IdentityStore = (*Manager)(nil)
var _ chatlog.Archiver = (*Manager)(nil)

// NewManager opens (creating if needed) the database at cfg.Path and
// prepares the schema.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	cfg = cfg.withDefaults()
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if _, err := db.Exec(sqlitePragmas); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("preparing schema: %w", err)
	}

	m := &Manager{
		db:       db,
		logger:   logger,
		writeCh:  make(chan writeOperation, 100),
		shutdown: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case op := <-m.writeCh:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("store write failed", "error", err)
			}
			op.result <- err
		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeCh <- writeOperation{operation: operation, result: result}:
	case <-time.After(enqueueTimeout):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrClosed
	}
}

// SetInt stores an integer identity value under key.
func (m *Manager) SetInt(key string, value int64) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO identity (key, int_value, text_value, updated_at)
			VALUES (?, ?, NULL, ?)
			ON CONFLICT(key) DO UPDATE SET
				int_value = excluded.int_value,
				text_value = NULL,
				updated_at = excluded.updated_at
		`, key, value, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("storing identity key %s: %w", key, err)
		}
		return nil
	})
}

// SetString stores a string identity value under key.
func (m *Manager) SetString(key, value string) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO identity (key, int_value, text_value, updated_at)
			VALUES (?, NULL, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				int_value = NULL,
				text_value = excluded.text_value,
				updated_at = excluded.updated_at
		`, key, value, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("storing identity key %s: %w", key, err)
		}
		return nil
	})
}

// GetInt reads an integer identity value. The second return is false
// when the key is absent or holds no integer.
func (m *Manager) GetInt(key string) (int64, bool) {
	var value sql.NullInt64
	err := m.db.QueryRow(`SELECT int_value FROM identity WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			m.logger.Warn("identity read failed", "key", key, "error", err)
		}
		return 0, false
	}
	if !value.Valid {
		return 0, false
	}
	return value.Int64, true
}

// GetString reads a string identity value.
func (m *Manager) GetString(key string) (string, bool) {
	var value sql.NullString
	err := m.db.QueryRow(`SELECT text_value FROM identity WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			m.logger.Warn("identity read failed", "key", key, "error", err)
		}
		return "", false
	}
	if !value.Valid {
		return "", false
	}
	return value.String, true
}

// DeleteIdentity removes a stored identity value. Deleting an absent
// key is not an error.
func (m *Manager) DeleteIdentity(key string) error {
	return m.executeWrite(func(db *sql.DB) error {
		if _, err := db.Exec(`DELETE FROM identity WHERE key = ?`, key); err != nil {
			return fmt.Errorf("deleting identity key %s: %w", key, err)
		}
		return nil
	})
}

// ArchiveMessage appends one chat message to the durable archive.
func (m *Manager) ArchiveMessage(sessionID int64, msg types.ChatMessage) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO messages (id, session_id, seq, sender_id, sender_name, from_self, body, sent_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, uuid.New().String(), sessionID, msg.Seq, msg.SenderID, msg.SenderName, msg.FromSelf, msg.Text, msg.SentAt)
		if err != nil {
			return fmt.Errorf("archiving message: %w", err)
		}
		return nil
	})
}

// History returns the archived chat for one session, oldest first.
func (m *Manager) History(ctx context.Context, sessionID int64) ([]types.ChatMessage, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT seq, sender_id, sender_name, from_self, body, sent_at
		FROM messages
		WHERE session_id = ?
		ORDER BY sent_at ASC, seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		if err := rows.Scan(&msg.Seq, &msg.SenderID, &msg.SenderName, &msg.FromSelf, &msg.Text, &msg.SentAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// LogEvent records one session lifecycle event.
func (m *Manager) LogEvent(sessionID int64, eventType, detail string) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO session_events (id, session_id, event_type, detail, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, uuid.New().String(), sessionID, eventType, detail, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("recording event %s: %w", eventType, err)
		}
		return nil
	})
}

// Events returns the recorded events for one session, oldest first.
func (m *Manager) Events(ctx context.Context, sessionID int64) ([]SessionEvent, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT session_id, event_type, COALESCE(detail, ''), created_at
		FROM session_events
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []SessionEvent
	for rows.Next() {
		var ev SessionEvent
		if err := rows.Scan(&ev.SessionID, &ev.EventType, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, nil
}

// HealthCheck verifies the database answers both a ping and a read.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identity`).Scan(&n); err != nil {
		return fmt.Errorf("store read test failed: %w", err)
	}
	return nil
}

// Close drains the write loop and closes the database. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}

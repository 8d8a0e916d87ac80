// Package notify resolves push-notification payloads into session
// navigation. Payload handling is deliberately unforgiving: anything
// that does not look exactly like a session invitation is dropped with
// a diagnostic, never surfaced to the user.
package notify

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"earshot/pkg/interfaces"
	"earshot/pkg/types"
)

// Payload keys of a session invitation.
const (
	payloadKeyType         = "type"
	payloadKeySessionID    = "session_id"
	payloadKeySessionTitle = "session_title"
	payloadKeyTeacherName  = "teacher_name"

	invitationType = "session_invitation"
)

const defaultConfirmDelay = 1500 * time.Millisecond

type pendingState int

const (
	awaitingIdentity pendingState = iota
	navigated
)

// Resolver turns invitation payloads into at most one navigation and
// one join prompt each. An invitation that arrives before login is held
// until the host reports the login flow finished.
type Resolver struct {
	mu           sync.Mutex
	identity     interfaces.IdentityStore
	navigator    interfaces.SessionNavigator
	confirmDelay time.Duration
	logger       *slog.Logger

	pending     *types.PendingNotificationIntent
	state       pendingState
	promptTimer *time.Timer
	closed      bool
}

// NewResolver creates a resolver. confirmDelay <= 0 selects the default
// gap between landing on the session screen and the join prompt; the
// gap exists so the screen reader finishes announcing the new screen
// before the prompt interrupts.
func NewResolver(identity interfaces.IdentityStore, navigator interfaces.SessionNavigator, confirmDelay time.Duration, logger *slog.Logger) *Resolver {
	if confirmDelay <= 0 {
		confirmDelay = defaultConfirmDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		identity:     identity,
		navigator:    navigator,
		confirmDelay: confirmDelay,
		logger:       logger,
	}
}

// HandlePayload consumes one notification payload, exactly as delivered
// by the host's push layer. Non-invitation and malformed payloads are
// dropped. A newer invitation replaces an older unconsumed one.
func (r *Resolver) HandlePayload(payload map[string]string) {
	if payload[payloadKeyType] != invitationType {
		r.logger.Debug("ignoring non-invitation notification", "type", payload[payloadKeyType])
		return
	}

	sessionID, err := strconv.ParseInt(payload[payloadKeySessionID], 10, 64)
	if err != nil || sessionID <= 0 {
		r.logger.Warn("dropping invitation with bad session id",
			"session_id", payload[payloadKeySessionID], "error", err)
		return
	}

	intent := types.PendingNotificationIntent{
		SessionID:    sessionID,
		SessionTitle: payload[payloadKeySessionTitle],
		TeacherName:  payload[payloadKeyTeacherName],
		ArrivedAt:    time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.stopPromptTimerLocked()
	r.pending = &intent
	r.state = awaitingIdentity
	r.logger.Info("session invitation received",
		"session_id", intent.SessionID, "title", intent.SessionTitle)

	r.tryEmitLocked()
}

// ResolvePending retries emission for an invitation that was held while
// the user was logged out. The host calls this once login completes.
func (r *Resolver) ResolvePending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.pending == nil || r.state != awaitingIdentity {
		return
	}
	r.tryEmitLocked()
}

// Pending returns the unconsumed invitation, if any.
func (r *Resolver) Pending() (types.PendingNotificationIntent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return types.PendingNotificationIntent{}, false
	}
	return *r.pending, true
}

// ConfirmPending consumes the invitation with the user's prompt answer
// and returns it. Declining never navigates away or leaves a session;
// whatever screen the user is on stays theirs.
func (r *Resolver) ConfirmPending(accepted bool) (types.PendingNotificationIntent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return types.PendingNotificationIntent{}, false
	}

	intent := *r.pending
	r.pending = nil
	r.stopPromptTimerLocked()
	r.logger.Info("invitation resolved",
		"session_id", intent.SessionID, "accepted", accepted)
	return intent, true
}

// Close cancels any scheduled prompt and rejects further payloads.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.pending = nil
	r.stopPromptTimerLocked()
}

// tryEmitLocked navigates and schedules the join prompt when the stored
// identity is complete. Missing identity keeps the intent parked in
// awaitingIdentity.
func (r *Resolver) tryEmitLocked() {
	userID, ok := r.identity.GetInt(interfaces.IdentityKeyUserID)
	if !ok || userID <= 0 {
		r.logger.Debug("holding invitation until login", "session_id", r.pending.SessionID)
		return
	}
	name, ok := r.identity.GetString(interfaces.IdentityKeyUserName)
	if !ok || name == "" {
		name, ok = r.identity.GetString(interfaces.IdentityKeyDisplayName)
		if !ok || name == "" {
			r.logger.Debug("holding invitation until login", "session_id", r.pending.SessionID)
			return
		}
	}

	intent := *r.pending
	handle := types.SessionHandle{
		SessionID: intent.SessionID,
		SelfID:    userID,
		SelfName:  name,
		Role:      types.RoleStudent,
	}

	r.state = navigated
	r.navigator.ShowSession(handle, intent)

	r.promptTimer = time.AfterFunc(r.confirmDelay, func() {
		r.firePrompt(intent)
	})
}

func (r *Resolver) firePrompt(intent types.PendingNotificationIntent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.pending == nil || r.state != navigated {
		return
	}
	if r.pending.SessionID != intent.SessionID || !r.pending.ArrivedAt.Equal(intent.ArrivedAt) {
		// A newer invitation replaced this one while its timer ran.
		return
	}
	r.navigator.PromptJoin(intent)
}

func (r *Resolver) stopPromptTimerLocked() {
	if r.promptTimer != nil {
		r.promptTimer.Stop()
		r.promptTimer = nil
	}
}

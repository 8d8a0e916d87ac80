// Package app is the composition root: it wires configuration,
// telemetry, the local store, notification resolution, and key input
// into one client, and hands out session orchestrators.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"earshot/internal/config"
	"earshot/internal/input"
	"earshot/internal/notify"
	"earshot/internal/session"
	"earshot/internal/store"
	"earshot/internal/telemetry"
	"earshot/pkg/interfaces"
	"earshot/pkg/types"
)

// Options carries the host-provided surfaces. Any of them may be nil;
// the client then runs without speech, audio, or navigation.
type Options struct {
	Speech    interfaces.SpeechSink
	Media     interfaces.MediaChannel
	Navigator interfaces.SessionNavigator
	Focus     input.FocusProbe
}

// Application coordinates all client components.
type Application struct {
	config  *config.Config
	logger  *slog.Logger
	tracer  trace.Tracer
	cleanup func()

	store    *store.Manager
	resolver *notify.Resolver
	keys     *input.Router
	metrics  *session.Metrics
	opts     Options

	mu      sync.Mutex
	current *session.Orchestrator
}

// noopNavigator stands in when the host provides no navigation
// surface; invitations still resolve and can be read via Pending.
type noopNavigator struct{}

func (noopNavigator) ShowSession(types.SessionHandle, types.PendingNotificationIntent) {}
func (noopNavigator) PromptJoin(types.PendingNotificationIntent)                       {}

// New builds the client. Initialization order is logging, telemetry,
// store, resolver, input; a failure tears down whatever already
// started.
func New(cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := telemetry.InitLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	tracer, meter, cleanup, err := telemetry.InitTelemetry(context.Background(), cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	metrics, err := telemetry.NewSessionMetrics(meter)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create session metrics: %w", err)
	}

	st, err := store.NewManager(store.Config{Path: cfg.Store.Path}, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	navigator := opts.Navigator
	if navigator == nil {
		navigator = noopNavigator{}
	}
	resolver := notify.NewResolver(st, navigator, cfg.Notify.ConfirmDelay, logger)

	keys := input.NewRouter(input.Bindings{}, opts.Focus, logger)

	return &Application{
		config:   cfg,
		logger:   logger,
		tracer:   tracer,
		cleanup:  cleanup,
		store:    st,
		resolver: resolver,
		keys:     keys,
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Start verifies the client is able to run. There is no background
// machinery to launch until a session is joined.
func (a *Application) Start(ctx context.Context) error {
	if err := a.store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}
	a.logger.Info("earshot client started",
		"server_url", a.config.Server.URL,
		"store_path", a.config.Store.Path,
	)
	return nil
}

// JoinSession connects to the given session and makes it the active
// one. A still-open previous session is left first.
func (a *Application) JoinSession(ctx context.Context, handle types.SessionHandle) (*session.Orchestrator, error) {
	ctx, span := a.tracer.Start(ctx, "session.join")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("session.id", handle.SessionID),
		attribute.String("session.role", handle.Role),
	)

	a.mu.Lock()
	prev := a.current
	a.mu.Unlock()
	if prev != nil && prev.State() != session.StateClosed {
		a.logger.Info("leaving previous session", "session_id", prev.Handle().SessionID)
		if err := prev.Leave(); err != nil {
			a.logger.Warn("failed to leave previous session", "error", err)
		}
	}

	orch, err := session.New(handle, a.sessionConfig(), session.Dependencies{
		Speech:   a.opts.Speech,
		Media:    a.opts.Media,
		Archive:  a.store,
		Recorder: a.store,
		Logger:   a.logger,
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, err
	}

	// Subscribe before joining so an immediate closure cannot slip
	// past the watcher.
	sub := orch.Subscribe()
	if err := orch.Join(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	a.mu.Lock()
	a.current = orch
	a.mu.Unlock()

	a.bindSessionKeys(orch)
	go a.watchSession(orch, sub)
	return orch, nil
}

func (a *Application) sessionConfig() session.Config {
	return session.Config{
		ServerURL:         a.config.Server.URL,
		DialTimeout:       a.config.Server.DialTimeout,
		WriteTimeout:      a.config.Server.WriteTimeout,
		SendBuffer:        a.config.Server.SendBuffer,
		PingInterval:      a.config.Server.PingInterval,
		PongWait:          a.config.Server.PongWait,
		ReconnectInitial:  a.config.Reconnect.Initial,
		ReconnectMax:      a.config.Reconnect.Max,
		ReconnectFactor:   a.config.Reconnect.Factor,
		ReconnectAttempts: a.config.Reconnect.MaxAttempts,
	}
}

// bindSessionKeys maps the classroom hotkeys onto the active session:
// 1 toggles the hand, 2 toggles the microphone, 0 reads the roster.
// Number pad digits arrive pre-normalized by the input router.
func (a *Application) bindSessionKeys(o *session.Orchestrator) {
	a.keys.Rebind(input.Bindings{
		input.KeyDigit1: func() {
			if err := o.ToggleHand(); err != nil {
				a.logger.Warn("hand toggle failed", "error", err)
			}
		},
		input.KeyDigit2: func() {
			muted := false
			if self, found := findByID(o.Roster(), o.Handle().SelfID); found {
				muted = self.Muted
			}
			if err := o.SetSelfMuted(!muted); err != nil {
				a.logger.Warn("mute toggle failed", "error", err)
			}
		},
		input.KeyDigit0: func() {
			a.announceRoster(o)
		},
	})
}

func findByID(roster []types.Participant, id int64) (types.Participant, bool) {
	for _, p := range roster {
		if p.ID == id {
			return p, true
		}
	}
	return types.Participant{}, false
}

func (a *Application) announceRoster(o *session.Orchestrator) {
	if a.opts.Speech == nil {
		return
	}
	roster := o.Roster()
	raised := 0
	for _, p := range roster {
		if p.RaisedHand {
			raised++
		}
	}
	text := strconv.Itoa(len(roster)) + " in session"
	if raised > 0 {
		text += ", " + strconv.Itoa(raised) + " hands raised"
	}
	a.opts.Speech.Speak(text)
}

// watchSession follows the orchestrator's events until it closes, then
// announces the closure and releases the hotkeys.
func (a *Application) watchSession(o *session.Orchestrator, sub *session.Subscription) {
	for ev := range sub.Events() {
		if ev.Kind == session.EventSessionClosed {
			a.announceClosure(ev)
		}
	}

	a.mu.Lock()
	if a.current == o {
		a.current = nil
	}
	a.mu.Unlock()

	a.keys.Rebind(input.Bindings{})
	a.keys.ReleaseAll()
}

func (a *Application) announceClosure(ev session.Event) {
	if a.opts.Speech == nil {
		return
	}
	switch ev.Reason {
	case session.CloseReasonKicked:
		text := "You were removed from the session"
		if ev.Detail != "" {
			text += ": " + ev.Detail
		}
		a.opts.Speech.Speak(text)
	case session.CloseReasonSessionEnded:
		a.opts.Speech.Speak("The session has ended")
	case session.CloseReasonConnectionLost:
		a.opts.Speech.Speak("Connection to the session was lost")
	case session.CloseReasonConnectFailed:
		a.opts.Speech.Speak("Could not join the session")
	}
	// A deliberate leave needs no announcement.
}

// CurrentSession returns the active orchestrator, or nil.
func (a *Application) CurrentSession() *session.Orchestrator {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// HandleNotification feeds one push payload to the invitation
// resolver.
func (a *Application) HandleNotification(payload map[string]string) {
	a.resolver.HandlePayload(payload)
}

// ResolveAfterLogin retries a held invitation once identity exists.
func (a *Application) ResolveAfterLogin() {
	a.resolver.ResolvePending()
}

// Resolver exposes the invitation resolver for hosts that drive the
// confirmation flow themselves.
func (a *Application) Resolver() *notify.Resolver {
	return a.resolver
}

// Keys exposes the hotkey router; the host forwards key events to it.
func (a *Application) Keys() *input.Router {
	return a.keys
}

// Store exposes the local store for identity and history reads.
func (a *Application) Store() *store.Manager {
	return a.store
}

// History returns the archived chat of a session.
func (a *Application) History(ctx context.Context, sessionID int64) ([]types.ChatMessage, error) {
	return a.store.History(ctx, sessionID)
}

// Stop shuts the client down: active session, resolver, store,
// telemetry, in that order.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("shutting down earshot client")

	a.mu.Lock()
	current := a.current
	a.mu.Unlock()
	if current != nil {
		if err := current.Leave(); err != nil {
			a.logger.Warn("failed to leave session during shutdown", "error", err)
		}
	}

	a.resolver.Close()

	if err := a.store.Close(); err != nil {
		a.logger.Warn("store shutdown error", "error", err)
	}

	a.cleanup()
	return nil
}

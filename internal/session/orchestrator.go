// Package session drives one live classroom session: it owns the
// connection, applies every inbound frame to the roster and chat log,
// runs the reconnect policy, and exposes the operations a participant
// can perform. All session state is mutated from a single loop
// goroutine, so ordering is the arrival order of frames and requests.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"earshot/internal/chatlog"
	"earshot/internal/roster"
	"earshot/internal/transport"
	"earshot/pkg/interfaces"
	"earshot/pkg/types"
)

// Config tunes one orchestrator. Zero values select defaults.
type Config struct {
	ServerURL         string
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	PingInterval      time.Duration
	PongWait          time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	ReconnectFactor   float64
	ReconnectAttempts int
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 15 * time.Second
	}
	if c.ReconnectFactor < 1 {
		c.ReconnectFactor = 2
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 5
	}
	return c
}

// EventRecorder persists session lifecycle events for later review.
// Recording is best-effort; failures are logged and ignored.
type EventRecorder interface {
	LogEvent(sessionID int64, eventType, detail string) error
}

// Metrics carries the orchestrator's instruments. The struct and every
// field are optional.
type Metrics struct {
	FramesReceived metric.Int64Counter
	FramesIgnored  metric.Int64Counter
	ChatMessages   metric.Int64Counter
	Reconnects     metric.Int64Counter
}

func (m *Metrics) count(c metric.Int64Counter) {
	if m == nil || c == nil {
		return
	}
	c.Add(context.Background(), 1)
}

// Dependencies are the host-side collaborators of one session.
type Dependencies struct {
	Speech   interfaces.SpeechSink
	Media    interfaces.MediaChannel
	Archive  chatlog.Archiver
	Recorder EventRecorder
	Logger   *slog.Logger
	Metrics  *Metrics
}

type action struct {
	run   func() error
	reply chan error
}

type inboundFrame struct {
	seq   int64
	frame *types.Frame
}

type closeSignal struct {
	seq int64
	err error
}

// Orchestrator synchronizes one participant with one live session.
type Orchestrator struct {
	handle  types.SessionHandle
	cfg     Config
	url     string
	logger  *slog.Logger
	metrics *Metrics

	roster *roster.Store
	chat   *chatlog.Log

	media    interfaces.MediaChannel
	recorder EventRecorder

	actionCh    chan action
	frameCh     chan inboundFrame
	closeCh     chan closeSignal
	reconnectCh chan struct{}
	loopDone    chan struct{}
	doneOnce    sync.Once
	started     atomic.Bool
	leaveEarly  atomic.Bool

	// Owned by the run loop (and by Join before the loop starts).
	conn           *transport.Connection
	dialSeq        int64
	attempts       int
	reconnectTimer *time.Timer

	stateMu  sync.RWMutex
	stateVal State
	playback types.PlaybackState

	subMu      sync.RWMutex
	subs       map[int64]*Subscription
	subsClosed bool
	nextSubID  int64
}

// New builds an orchestrator for the given handle. The session is not
// contacted until Join.
func New(handle types.SessionHandle, cfg Config, deps Dependencies) (*Orchestrator, error) {
	if err := handle.Validate(); err != nil {
		return nil, fmt.Errorf("session handle: %w", err)
	}
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return nil, ErrInvalidServerURL
	}
	wsURL, err := sessionURL(cfg.ServerURL, handle)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", handle.SessionID, "participant_id", handle.SelfID)

	return &Orchestrator{
		handle:      handle,
		cfg:         cfg,
		url:         wsURL,
		logger:      logger,
		metrics:     deps.Metrics,
		roster:      roster.NewStore(),
		chat:        chatlog.New(handle.SessionID, deps.Speech, deps.Archive, logger),
		media:       deps.Media,
		recorder:    deps.Recorder,
		actionCh:    make(chan action, 100),
		frameCh:     make(chan inboundFrame, 1000),
		closeCh:     make(chan closeSignal, 8),
		reconnectCh: make(chan struct{}, 1),
		loopDone:    make(chan struct{}),
		stateVal:    StateIdle,
		playback:    types.PlaybackState{Status: types.PlaybackStopped, Speed: 1},
		subs:        make(map[int64]*Subscription),
	}, nil
}

// Handle returns the immutable join parameters.
func (o *Orchestrator) Handle() types.SessionHandle {
	return o.handle
}

// Join connects to the session. It suspends until the connection is
// open or has terminally failed; a failed first connect closes the
// orchestrator without any retries. Join can be called once.
func (o *Orchestrator) Join(ctx context.Context) error {
	o.stateMu.Lock()
	if o.stateVal != StateIdle {
		o.stateMu.Unlock()
		return ErrAlreadyJoined
	}
	o.stateVal = StateConnecting
	o.stateMu.Unlock()
	o.publish(Event{Kind: EventStateChanged, State: StateConnecting})

	o.dialSeq = 1
	conn, err := o.dialOnce(ctx)
	if err != nil {
		o.setState(StateClosed)
		o.publish(Event{Kind: EventSessionClosed, Reason: CloseReasonConnectFailed, Err: err})
		o.closeSubscriptions()
		o.markLoopDone()
		return fmt.Errorf("joining session %d: %w", o.handle.SessionID, err)
	}

	o.conn = conn
	if o.leaveEarly.Load() {
		// Leave raced the dial; close out before the loop ever runs.
		_ = conn.Close()
		o.conn = nil
		o.setState(StateClosed)
		o.publish(Event{Kind: EventSessionClosed, Reason: CloseReasonLeft})
		o.closeSubscriptions()
		o.markLoopDone()
		return nil
	}

	o.setState(StateJoined)
	o.recordEvent("connected", conn.Epoch())
	o.requestResync()

	o.started.Store(true)
	go o.run()
	return nil
}

// Leave ends participation. Safe to call at any time and in any state;
// leaving a session that is already closed is a no-op.
func (o *Orchestrator) Leave() error {
	if o.loopRunning() {
		return o.do(func() error {
			return o.leaveOp()
		})
	}

	o.leaveEarly.Store(true)
	o.stateMu.Lock()
	if o.stateVal != StateIdle {
		// Closed, or a Join in flight will observe leaveEarly.
		o.stateMu.Unlock()
		return nil
	}
	o.stateVal = StateClosed
	o.stateMu.Unlock()
	o.publish(Event{Kind: EventStateChanged, State: StateClosed})
	o.publish(Event{Kind: EventSessionClosed, Reason: CloseReasonLeft})
	o.closeSubscriptions()
	o.markLoopDone()
	return nil
}

// SendChat sends a chat message. The message appears in the local log
// immediately; delivery rides the connection. Blank messages are
// dropped without error.
func (o *Orchestrator) SendChat(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !o.loopRunning() {
		return types.ErrNotConnected
	}
	return o.do(func() error { return o.sendChatOp(text) })
}

// SetSelfMuted mutes or unmutes the local participant.
func (o *Orchestrator) SetSelfMuted(muted bool) error {
	if !o.loopRunning() {
		return types.ErrNotConnected
	}
	return o.do(func() error {
		if o.State() != StateJoined {
			return types.ErrNotConnected
		}
		return o.applySelfMute(muted)
	})
}

// SetHandRaised raises or lowers the local participant's hand.
func (o *Orchestrator) SetHandRaised(raised bool) error {
	if !o.loopRunning() {
		return types.ErrNotConnected
	}
	return o.do(func() error { return o.setHandOp(raised) })
}

// ToggleHand flips the local hand state as currently known.
func (o *Orchestrator) ToggleHand() error {
	if !o.loopRunning() {
		return types.ErrNotConnected
	}
	return o.do(func() error {
		p, _ := o.roster.Get(o.handle.SelfID)
		return o.setHandOp(!p.RaisedHand)
	})
}

// MuteParticipant mutes or unmutes another participant. Teacher only;
// students get types.ErrUnauthorized and nothing reaches the wire.
func (o *Orchestrator) MuteParticipant(id int64, muted bool) error {
	if !o.loopRunning() {
		return types.ErrNotConnected
	}
	return o.do(func() error {
		if o.State() != StateJoined {
			return types.ErrNotConnected
		}
		if !o.handle.IsTeacher() {
			return types.ErrUnauthorized
		}
		if id == o.handle.SelfID {
			return o.applySelfMute(muted)
		}
		o.roster.ApplyLocalMuted(id, muted)
		o.publishRoster()
		o.sendFrame(&types.Frame{
			Type:          types.FrameTypeMuteOther,
			ParticipantID: id,
			Muted:         types.BoolPtr(muted),
		})
		return nil
	})
}

// KickParticipant removes another participant. Teacher only.
func (o *Orchestrator) KickParticipant(id int64) error {
	if !o.loopRunning() {
		return types.ErrNotConnected
	}
	return o.do(func() error {
		if o.State() != StateJoined {
			return types.ErrNotConnected
		}
		if !o.handle.IsTeacher() {
			return types.ErrUnauthorized
		}
		if id == o.handle.SelfID {
			return ErrCannotKickSelf
		}
		o.roster.ApplyLocalRemove(id)
		o.publishRoster()
		if o.media != nil {
			if err := o.media.CloseStream(id); err != nil {
				o.logger.Warn("failed to close media stream", "target_id", id, "error", err)
			}
		}
		o.sendFrame(&types.Frame{Type: types.FrameTypeKick, ParticipantID: id})
		o.recordEvent("kick_requested", strconv.FormatInt(id, 10))
		return nil
	})
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.stateVal
}

// Roster returns a point-in-time copy of the roster, ordered by id.
func (o *Orchestrator) Roster() []types.Participant {
	return o.roster.Snapshot()
}

// Messages returns the chat history so far.
func (o *Orchestrator) Messages() []types.ChatMessage {
	return o.chat.Messages()
}

// Playback returns the current shared-audio control state.
func (o *Orchestrator) Playback() types.PlaybackState {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.playback
}

// Subscribe registers an event consumer. Events are delivered in the
// order the session observed them; a consumer that stops draining its
// channel loses events instead of stalling the session.
func (o *Orchestrator) Subscribe() *Subscription {
	o.subMu.Lock()
	defer o.subMu.Unlock()

	o.nextSubID++
	sub := &Subscription{
		ch:    make(chan Event, subscriptionBuffer),
		id:    o.nextSubID,
		owner: o,
	}
	if o.subsClosed {
		sub.closeFromOwner()
		return sub
	}
	o.subs[sub.id] = sub
	return sub
}

// run is the session loop: the only goroutine that mutates roster,
// chat, playback and connection state after Join.
func (o *Orchestrator) run() {
	o.logger.Debug("session loop started")
	defer o.logger.Debug("session loop stopped")

	for {
		select {
		case a := <-o.actionCh:
			a.reply <- a.run()
		case inf := <-o.frameCh:
			o.handleFrame(inf)
		case cs := <-o.closeCh:
			o.handleClose(cs)
		case <-o.reconnectCh:
			o.handleReconnectAttempt()
		}
		if o.State() == StateClosed {
			return
		}
	}
}

// do runs op on the session loop and waits for its result. Once the
// loop is gone every queued request resolves to ErrNotConnected.
func (o *Orchestrator) do(op func() error) error {
	a := action{run: op, reply: make(chan error, 1)}
	select {
	case o.actionCh <- a:
	case <-o.loopDone:
		return types.ErrNotConnected
	}
	select {
	case err := <-a.reply:
		return err
	case <-o.loopDone:
		// The loop may have answered just before exiting.
		select {
		case err := <-a.reply:
			return err
		default:
			return types.ErrNotConnected
		}
	}
}

func (o *Orchestrator) loopRunning() bool {
	if !o.started.Load() {
		return false
	}
	select {
	case <-o.loopDone:
		return false
	default:
		return true
	}
}

func (o *Orchestrator) dialOnce(ctx context.Context) (*transport.Connection, error) {
	seq := o.dialSeq
	callbacks := transport.Callbacks{
		OnFrame: func(f *types.Frame) {
			select {
			case o.frameCh <- inboundFrame{seq: seq, frame: f}:
			case <-o.loopDone:
			default:
				o.logger.Warn("inbound frame queue full, dropping frame", "type", f.Type)
				if o.metrics != nil {
					o.metrics.count(o.metrics.FramesIgnored)
				}
			}
		},
		OnClose: func(err error) {
			select {
			case o.closeCh <- closeSignal{seq: seq, err: err}:
			case <-o.loopDone:
			}
		},
	}
	return transport.Dial(ctx, o.url, callbacks, transport.Options{
		HandshakeTimeout: o.cfg.DialTimeout,
		WriteTimeout:     o.cfg.WriteTimeout,
		SendBuffer:       o.cfg.SendBuffer,
		PingInterval:     o.cfg.PingInterval,
		PongWait:         o.cfg.PongWait,
		Logger:           o.logger,
		DroppedFrames:    o.droppedCounter(),
	})
}

func (o *Orchestrator) droppedCounter() metric.Int64Counter {
	if o.metrics == nil {
		return nil
	}
	return o.metrics.FramesIgnored
}

// requestResync asks the server for a full roster snapshot. Sent after
// every successful dial so the roster converges even if updates were
// missed while disconnected.
func (o *Orchestrator) requestResync() {
	o.sendFrame(&types.Frame{Type: types.FrameTypeResync})
}

func (o *Orchestrator) sendFrame(f *types.Frame) {
	if o.conn == nil {
		return
	}
	if err := o.conn.Send(f); err != nil {
		o.logger.Warn("frame send failed", "type", f.Type, "error", err)
	}
}

func (o *Orchestrator) sendChatOp(text string) error {
	if o.State() != StateJoined {
		return types.ErrNotConnected
	}
	msg := o.chat.AppendLocal(o.handle.SelfID, o.handle.SelfName, text)
	o.publish(Event{Kind: EventChatAppended, Message: &msg})
	if o.metrics != nil {
		o.metrics.count(o.metrics.ChatMessages)
	}
	o.sendFrame(&types.Frame{
		Type:          types.FrameTypeChat,
		ParticipantID: o.handle.SelfID,
		Text:          text,
	})
	return nil
}

func (o *Orchestrator) applySelfMute(muted bool) error {
	o.roster.ApplyLocalMuted(o.handle.SelfID, muted)
	o.publishRoster()
	if o.media != nil {
		if err := o.media.SetCaptureMuted(muted); err != nil {
			o.logger.Warn("failed to set capture mute", "muted", muted, "error", err)
		}
	}
	o.sendFrame(&types.Frame{
		Type:          types.FrameTypeMuteSelf,
		ParticipantID: o.handle.SelfID,
		Muted:         types.BoolPtr(muted),
	})
	return nil
}

func (o *Orchestrator) setHandOp(raised bool) error {
	if o.State() != StateJoined {
		return types.ErrNotConnected
	}
	o.roster.ApplyLocalRaised(o.handle.SelfID, raised)
	o.publishRoster()
	o.sendFrame(&types.Frame{
		Type:          types.FrameTypeRaiseHand,
		ParticipantID: o.handle.SelfID,
		Raised:        types.BoolPtr(raised),
	})
	return nil
}

func (o *Orchestrator) leaveOp() error {
	switch o.State() {
	case StateClosed, StateLeaving:
		return nil
	}
	o.setState(StateLeaving)
	o.recordEvent("leave", "")
	o.transitionClosed(CloseReasonLeft, "", nil)
	return nil
}

func (o *Orchestrator) handleFrame(inf inboundFrame) {
	if inf.seq != o.dialSeq {
		return // frame from a connection this session already abandoned
	}
	if o.State() != StateJoined {
		return
	}
	if o.metrics != nil {
		o.metrics.count(o.metrics.FramesReceived)
	}

	f := inf.frame
	switch f.Type {
	case types.FrameTypeJoined:
		changed := o.roster.Apply(roster.Joined(f.ParticipantID, f.Name, boolVal(f.Muted), boolVal(f.Raised)))
		if changed {
			o.publishRoster()
		}
		if o.media != nil && f.ParticipantID != o.handle.SelfID {
			if err := o.media.OpenStream(f.ParticipantID); err != nil {
				o.logger.Warn("failed to open media stream", "target_id", f.ParticipantID, "error", err)
			}
		}
		o.recordEvent("participant_joined", f.Name)

	case types.FrameTypeLeft:
		if o.roster.Apply(roster.Left(f.ParticipantID)) {
			o.publishRoster()
		}
		if o.media != nil && f.ParticipantID != o.handle.SelfID {
			if err := o.media.CloseStream(f.ParticipantID); err != nil {
				o.logger.Warn("failed to close media stream", "target_id", f.ParticipantID, "error", err)
			}
		}
		o.recordEvent("participant_left", strconv.FormatInt(f.ParticipantID, 10))

	case types.FrameTypeMuteChanged:
		if f.Muted == nil {
			o.dropIncomplete(f)
			return
		}
		if o.roster.Apply(roster.MuteChanged(f.ParticipantID, *f.Muted)) {
			o.publishRoster()
		}
		if f.ParticipantID == o.handle.SelfID && o.media != nil {
			if err := o.media.SetCaptureMuted(*f.Muted); err != nil {
				o.logger.Warn("failed to set capture mute", "muted", *f.Muted, "error", err)
			}
		}

	case types.FrameTypeHandRaised:
		if f.Raised == nil {
			o.dropIncomplete(f)
			return
		}
		if o.roster.Apply(roster.HandRaised(f.ParticipantID, *f.Raised)) {
			o.publishRoster()
		}

	case types.FrameTypeMicLevel:
		if f.Level == nil {
			o.dropIncomplete(f)
			return
		}
		if o.roster.Apply(roster.MicLevel(f.ParticipantID, *f.Level)) {
			o.publishRoster()
		}

	case types.FrameTypeChat:
		fromSelf := f.ParticipantID == o.handle.SelfID
		msg := o.chat.AppendRemote(f.ParticipantID, f.Name, f.Text, fromSelf)
		o.publish(Event{Kind: EventChatAppended, Message: &msg})
		if o.metrics != nil {
			o.metrics.count(o.metrics.ChatMessages)
		}

	case types.FrameTypeSessionState:
		o.roster.Resync(f.Participants)
		o.publishRoster()
		o.recordEvent("roster_resync", strconv.Itoa(len(f.Participants)))

	case types.FrameTypeKicked:
		o.logger.Info("removed from session", "reason", f.Reason)
		o.recordEvent("kicked", f.Reason)
		o.transitionClosed(CloseReasonKicked, f.Reason, nil)

	case types.FrameTypeSessionEnded:
		o.logger.Info("session ended by teacher")
		o.recordEvent("session_ended", "")
		o.transitionClosed(CloseReasonSessionEnded, "", nil)

	case types.FrameTypeAudioSelected:
		o.updatePlayback(func(p *types.PlaybackState) {
			p.AudioID = f.AudioID
			p.Title = f.Title
			p.Status = types.PlaybackStopped
			p.Speed = floatVal(f.Speed, 1)
			p.Position = floatVal(f.Position, 0)
		})

	case types.FrameTypeAudioPlay:
		o.updatePlayback(func(p *types.PlaybackState) {
			p.Status = types.PlaybackPlaying
			if f.Speed != nil {
				p.Speed = *f.Speed
			}
			if f.Position != nil {
				p.Position = *f.Position
			}
		})

	case types.FrameTypeAudioPause:
		o.updatePlayback(func(p *types.PlaybackState) {
			p.Status = types.PlaybackPaused
			if f.Position != nil {
				p.Position = *f.Position
			}
		})

	default:
		if o.metrics != nil {
			o.metrics.count(o.metrics.FramesIgnored)
		}
		o.logger.Debug("ignoring unknown frame type", "type", f.Type)
	}
}

// dropIncomplete handles a frame whose type is known but whose payload
// is missing a required field. Like unparsable input it is diagnostic
// only, never fatal.
func (o *Orchestrator) dropIncomplete(f *types.Frame) {
	if o.metrics != nil {
		o.metrics.count(o.metrics.FramesIgnored)
	}
	o.logger.Warn("dropping incomplete frame",
		"type", f.Type, "participant_id", f.ParticipantID, "error", types.ErrMalformedFrame)
}

func (o *Orchestrator) handleClose(cs closeSignal) {
	if cs.seq != o.dialSeq || cs.err == nil {
		return
	}
	if o.State() != StateJoined {
		return
	}

	o.conn = nil
	o.logger.Info("connection interrupted", "error", cs.err)
	o.recordEvent("connection_interrupted", cs.err.Error())
	o.setState(StateReconnecting)
	o.attempts = 0
	o.scheduleReconnect(reconnectDelay(o.cfg.ReconnectInitial, o.cfg.ReconnectMax, o.cfg.ReconnectFactor, 1))
}

func (o *Orchestrator) handleReconnectAttempt() {
	if o.State() != StateReconnecting {
		return
	}

	o.dialSeq++
	o.attempts++
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.DialTimeout)
	conn, err := o.dialOnce(ctx)
	cancel()

	if err != nil {
		o.logger.Warn("reconnect attempt failed",
			"attempt", o.attempts, "max_attempts", o.cfg.ReconnectAttempts, "error", err)
		if o.attempts >= o.cfg.ReconnectAttempts {
			o.recordEvent("connection_lost", "")
			o.transitionClosed(CloseReasonConnectionLost, "", types.ErrConnectionLost)
			return
		}
		o.scheduleReconnect(reconnectDelay(o.cfg.ReconnectInitial, o.cfg.ReconnectMax, o.cfg.ReconnectFactor, o.attempts+1))
		return
	}

	o.conn = conn
	o.attempts = 0
	if o.metrics != nil {
		o.metrics.count(o.metrics.Reconnects)
	}
	o.logger.Info("reconnected", "epoch", conn.Epoch())
	o.recordEvent("reconnected", conn.Epoch())
	o.setState(StateJoined)
	o.requestResync()
}

func (o *Orchestrator) scheduleReconnect(d time.Duration) {
	o.stopReconnectTimer()
	o.reconnectTimer = time.AfterFunc(d, func() {
		select {
		case o.reconnectCh <- struct{}{}:
		case <-o.loopDone:
		}
	})
}

func (o *Orchestrator) stopReconnectTimer() {
	if o.reconnectTimer != nil {
		o.reconnectTimer.Stop()
		o.reconnectTimer = nil
	}
}

// transitionClosed is the single terminal path: stop timers, drop the
// connection, announce the closure, release subscribers.
func (o *Orchestrator) transitionClosed(reason CloseReason, detail string, err error) {
	o.stopReconnectTimer()
	if o.conn != nil {
		_ = o.conn.Close()
		o.conn = nil
	}
	o.setState(StateClosed)
	o.publish(Event{Kind: EventSessionClosed, Reason: reason, Detail: detail, Err: err})
	o.closeSubscriptions()
	o.markLoopDone()
}

func (o *Orchestrator) setState(s State) {
	o.stateMu.Lock()
	prev := o.stateVal
	o.stateVal = s
	o.stateMu.Unlock()
	if prev != s {
		o.logger.Info("session state changed", "from", string(prev), "to", string(s))
		o.publish(Event{Kind: EventStateChanged, State: s})
	}
}

func (o *Orchestrator) updatePlayback(mutate func(*types.PlaybackState)) {
	o.stateMu.Lock()
	mutate(&o.playback)
	snapshot := o.playback
	o.stateMu.Unlock()
	o.publish(Event{Kind: EventPlaybackChanged, Playback: &snapshot})
}

func (o *Orchestrator) publishRoster() {
	o.publish(Event{Kind: EventRosterChanged, Roster: o.roster.Snapshot()})
}

func (o *Orchestrator) publish(ev Event) {
	o.subMu.RLock()
	defer o.subMu.RUnlock()
	for _, s := range o.subs {
		select {
		case s.ch <- ev:
		default:
			// Subscriber is not draining; losing events beats stalling
			// the session for everyone else.
		}
	}
}

func (o *Orchestrator) closeSubscriptions() {
	o.subMu.Lock()
	subs := o.subs
	o.subs = make(map[int64]*Subscription)
	o.subsClosed = true
	o.subMu.Unlock()

	for _, s := range subs {
		s.closeFromOwner()
	}
}

func (o *Orchestrator) markLoopDone() {
	o.doneOnce.Do(func() { close(o.loopDone) })
}

func (o *Orchestrator) recordEvent(eventType, detail string) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.LogEvent(o.handle.SessionID, eventType, detail); err != nil {
		o.logger.Warn("failed to record session event", "event", eventType, "error", err)
	}
}

// sessionURL builds the per-session WebSocket endpoint, carrying the
// participant's identity as query parameters.
func sessionURL(base string, h types.SessionHandle) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing server URL %q: %w", base, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/sessions/" + strconv.FormatInt(h.SessionID, 10)
	q := u.Query()
	q.Set("participant_id", strconv.FormatInt(h.SelfID, 10))
	q.Set("name", h.SelfName)
	q.Set("role", h.Role)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func boolVal(p *bool) bool {
	if p != nil {
		return *p
	}
	return false
}

func floatVal(p *float64, def float64) float64 {
	if p != nil {
		return *p
	}
	return def
}

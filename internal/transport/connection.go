package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"

	"earshot/pkg/types"
)

// Callbacks are invoked from the connection's read goroutine. OnFrame
// receives every well-formed frame in arrival order. OnClose fires
// exactly once: nil after a local Close, non-nil after an unexpected
// closure. Neither callback may block for long; hand off and return.
type Callbacks struct {
	OnFrame func(*types.Frame)
	OnClose func(error)
}

// Options tune one connection. Zero values fall back to defaults that
// suit a classroom-sized session.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int
	PingInterval     time.Duration
	PongWait         time.Duration
	Logger           *slog.Logger
	// DroppedFrames counts malformed or overflowed inbound frames.
	// Optional; nil disables the instrument.
	DroppedFrames metric.Int64Counter
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 100
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Connection wraps one dialed WebSocket. All writes go through a single
// writer goroutine so frame order is preserved and concurrent senders
// never race on the socket. Reconnection policy lives with the caller;
// a Connection is dead once closed.
type Connection struct {
	conn      *websocket.Conn
	epoch     string
	writeCh   chan []byte
	callbacks Callbacks
	opts      Options
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Dial opens a WebSocket connection to url and starts its read, write
// and keepalive goroutines. The returned connection is live: frames may
// arrive before Dial's caller regains control.
func Dial(ctx context.Context, url string, callbacks Callbacks, opts Options) (*Connection, error) {
	if callbacks.OnFrame == nil {
		return nil, ErrNilCallback
	}
	opts = opts.withDefaults()

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:      conn,
		epoch:     uuid.NewString(),
		writeCh:   make(chan []byte, opts.SendBuffer),
		callbacks: callbacks,
		opts:      opts,
		ctx:       connCtx,
		cancel:    cancel,
	}
	c.logger = opts.Logger.With("epoch", c.epoch)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	go c.writeLoop()
	go c.readLoop()
	go c.pingLoop()

	c.logger.Debug("connection established", "url", url)
	return c, nil
}

// Epoch identifies this dial attempt in logs and events.
func (c *Connection) Epoch() string {
	return c.epoch
}

// Send enqueues one frame for the writer goroutine. It never blocks
// longer than the write timeout and never panics; after close it fails
// with types.ErrNotConnected.
func (c *Connection) Send(frame *types.Frame) error {
	select {
	case <-c.ctx.Done():
		return fmt.Errorf("send %s: %w", frame.Type, types.ErrNotConnected)
	default:
	}

	data, err := frame.Encode()
	if err != nil {
		return err
	}

	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("send %s: %w", frame.Type, types.ErrNotConnected)
	case <-timer.C:
		return fmt.Errorf("send %s: %w", frame.Type, ErrWriteTimeout)
	}
}

// Close tears the connection down and reports OnClose(nil). Safe to
// call any number of times, from any goroutine.
func (c *Connection) Close() error {
	c.shutdown(nil, true)
	return nil
}

// shutdown runs the terminal sequence at most once. A nil err marks a
// local, intentional close.
func (c *Connection) shutdown(err error, sendCloseFrame bool) {
	c.closeOnce.Do(func() {
		if sendCloseFrame {
			deadline := time.Now().Add(c.opts.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		}
		c.cancel()
		_ = c.conn.Close()
		if err != nil {
			c.logger.Info("connection closed unexpectedly", "error", err)
		} else {
			c.logger.Debug("connection closed")
		}
		if c.callbacks.OnClose != nil {
			c.callbacks.OnClose(err)
		}
	})
}

// writeLoop is the only goroutine that touches the socket for data
// frames. writeCh is never closed; the loop exits via ctx.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.shutdown(fmt.Errorf("setting write deadline: %w", err), false)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.shutdown(fmt.Errorf("writing frame: %w", err), false)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) readLoop() {
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
			c.shutdown(fmt.Errorf("setting read deadline: %w", err), false)
			return
		}
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("reading frame: %w", err), false)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := types.ParseFrame(data)
		if err != nil {
			// Malformed input is the sender's problem, not ours:
			// drop, count, keep reading.
			c.logger.Warn("dropping malformed frame", "error", err)
			c.countDropped()
			continue
		}
		c.callbacks.OnFrame(frame)
	}
}

func (c *Connection) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// Read loop will observe the broken socket.
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) countDropped() {
	if c.opts.DroppedFrames != nil {
		c.opts.DroppedFrames.Add(context.Background(), 1)
	}
}

package ingest

import (
	"context"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// MessageHandler processes one binary gateway frame. The gateway speaks CBOR
// over binary WebSocket frames only; the client never delivers other frame
// types. Returning an error tears the connection down; decode failures
// belong inside the handler and should come back as nil so one bad frame
// cannot sever the stream.
type MessageHandler func(payload []byte) error

const (
	dialTimeout = 10 * time.Second

	// staleFactor sets the read deadline as a multiple of the heartbeat
	// interval. Two missed heartbeats means the gateway, or the path to
	// it, is gone.
	staleFactor = 2
)

// subscribeRequest is the first frame sent on every connection. SinceUS asks
// the gateway to replay buffered frames newer than the given timestamp, so a
// reconnect resumes where the last connection left off instead of dropping
// whatever arrived during the outage.
type subscribeRequest struct {
	Kind    string `cbor:"kind"`
	SinceUS int64  `cbor:"since_us,omitempty"`
}

// frameEnvelope is the minimal decode of a gateway frame, just enough to
// advance the resume cursor without touching the event payload.
type frameEnvelope struct {
	TimeUS int64 `cbor:"time_us"`
}

// Client maintains the WebSocket subscription to the device gateway. It
// reconnects with exponential backoff and jitter, resubscribes from the last
// delivered frame, and drops connections that go silent past the heartbeat
// window.
type Client struct {
	config  Config
	handler MessageHandler
	logger  *slog.Logger

	mu          sync.Mutex
	rng         *rand.Rand // protected by mu
	conn        *websocket.Conn
	isConnected bool

	// cursorUS is the time_us of the newest frame handed to the handler
	// (atomic). It seeds since_us on resubscribe.
	cursorUS int64

	// failures counts consecutive failed connection cycles (atomic). A
	// graceful gateway close does not count against it.
	failures int64
}

// NewClient creates a gateway client. The handler is invoked for every
// binary frame the gateway delivers.
func NewClient(config Config, handler MessageHandler, logger *slog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:  config,
		handler: handler,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run connects and consumes the gateway stream until ctx is cancelled.
// Every connection cycle dials, subscribes from the resume cursor, and reads
// until the connection dies; a graceful close by the gateway (restart or
// drain) reconnects immediately, anything else backs off.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			c.logger.Info("gateway client stopping")
			c.close()
			return ctx.Err()
		}

		if err := c.connect(ctx); err != nil {
			if c.backoff(ctx, err) != nil {
				return ctx.Err()
			}
			continue
		}

		if c.readLoop(ctx) {
			continue
		}
		if c.backoff(ctx, nil) != nil {
			return ctx.Err()
		}
	}
}

// connect dials the gateway and sends the subscribe frame. The connection is
// only visible to readLoop once the subscription went out: a connection the
// gateway never acknowledged a cursor for must not deliver frames.
func (c *Client) connect(ctx context.Context) error {
	since := atomic.LoadInt64(&c.cursorUS)
	c.logger.Info("connecting to gateway",
		slog.String("url", c.config.URL),
		slog.Int64("resume_since_us", since))

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return err
	}

	sub, err := cbor.Marshal(subscribeRequest{Kind: "subscribe", SinceUS: since})
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, sub); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.isConnected = true
	c.mu.Unlock()

	atomic.StoreInt64(&c.failures, 0)
	c.logger.Info("subscribed to gateway stream")
	return nil
}

// readLoop consumes frames until the connection dies. Returns true when the
// loop ended for a benign reason: context cancellation or a graceful close
// by the gateway.
func (c *Client) readLoop(ctx context.Context) (graceful bool) {
	for {
		if ctx.Err() != nil {
			c.close()
			return true
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return true
		}

		if c.config.HeartbeatInterval > 0 {
			deadline := time.Now().Add(c.config.HeartbeatInterval * staleFactor)
			if err := conn.SetReadDeadline(deadline); err != nil {
				c.close()
				return false
			}
		}

		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			c.close()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("gateway closed the stream",
					slog.String("reason", err.Error()))
				return true
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				c.logger.Warn("gateway silent past heartbeat window, dropping connection",
					slog.Duration("window", c.config.HeartbeatInterval*staleFactor))
			} else {
				c.logger.Warn("gateway connection lost",
					slog.String("error", err.Error()))
			}
			return false
		}

		if messageType != websocket.BinaryMessage {
			// Not part of the gateway protocol; ignore rather than feed
			// the CBOR decoder something that was never CBOR.
			continue
		}

		if c.handler != nil {
			if err := c.handler(payload); err != nil {
				c.logger.Error("frame handler failed, dropping connection",
					slog.String("error", err.Error()))
				c.close()
				return false
			}
		}
		c.advanceCursor(payload)
	}
}

// advanceCursor moves the resume cursor to the frame's time_us. Frames can
// arrive out of order during a backlog replay, so the cursor only moves
// forward.
func (c *Client) advanceCursor(payload []byte) {
	var env frameEnvelope
	if err := cbor.Unmarshal(payload, &env); err != nil || env.TimeUS == 0 {
		return
	}
	for {
		current := atomic.LoadInt64(&c.cursorUS)
		if env.TimeUS <= current {
			return
		}
		if atomic.CompareAndSwapInt64(&c.cursorUS, current, env.TimeUS) {
			return
		}
	}
}

// backoff sleeps before the next connection attempt and counts the failure.
// Returns ctx.Err() when cancelled during the wait.
func (c *Client) backoff(ctx context.Context, cause error) error {
	attempt := atomic.AddInt64(&c.failures, 1)
	delay := c.nextDelay(attempt - 1)

	log := c.logger.Warn
	if c.config.MaxRetryAttempts > 0 && attempt >= c.config.MaxRetryAttempts {
		log = c.logger.Error
	}
	attrs := []any{
		slog.Int64("attempt", attempt),
		slog.Duration("delay", delay),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	log("gateway connection cycle failed, backing off", attrs...)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// nextDelay computes the delay for the given number of prior consecutive
// failures: BaseDelay doubled per failure, capped at MaxDelay, spread by the
// jitter factor so a fleet of workers does not reconnect in lockstep.
func (c *Client) nextDelay(failures int64) time.Duration {
	shift := uint(failures)
	if shift > 30 {
		shift = 30
	}
	delay := float64(c.config.BaseDelay) * float64(uint64(1)<<shift)
	if delay > float64(c.config.MaxDelay) {
		delay = float64(c.config.MaxDelay)
	}

	if c.config.JitterFactor > 0 {
		c.mu.Lock()
		jitter := (c.rng.Float64() - 0.5) * c.config.JitterFactor
		c.mu.Unlock()
		delay = delay * (1 + jitter)
	}

	return time.Duration(delay)
}

// close tears down the current connection, if any.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.isConnected = false
}

// IsConnected reports whether a gateway connection is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected
}

// ResumeCursor returns the time_us of the newest frame delivered to the
// handler.
func (c *Client) ResumeCursor() int64 {
	return atomic.LoadInt64(&c.cursorUS)
}

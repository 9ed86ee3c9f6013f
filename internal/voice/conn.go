package voice

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbourn/go-interview-backend/internal/session"
)

// Errors returned by Conn.
var (
	ErrClosed       = errors.New("voice: connection closed")
	ErrStartTimeout = errors.New("voice: timed out waiting for the call to start")
	ErrStartPending = errors.New("voice: a start is already pending")
)

// Config tunes a Conn. Zero values fall back to the defaults below.
type Config struct {
	// StartTimeout bounds how long Start waits for ack or start-failed.
	StartTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// PingInterval is how often the server pings the browser.
	PingInterval time.Duration
	// ReadTimeout closes the connection when neither a frame nor a pong
	// arrived in time. Zero disables the deadline.
	ReadTimeout time.Duration
	// MaxMessageBytes caps inbound frames.
	MaxMessageBytes int64
}

const (
	defaultStartTimeout    = 15 * time.Second
	defaultWriteTimeout    = 5 * time.Second
	defaultPingInterval    = 20 * time.Second
	defaultMaxMessageBytes = 64 << 10
)

func (c Config) withDefaults() Config {
	if c.StartTimeout <= 0 {
		c.StartTimeout = defaultStartTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = defaultMaxMessageBytes
	}
	return c
}

// Conn is a voice channel relayed over a browser WebSocket.
type Conn struct {
	ws  *websocket.Conn
	cfg Config

	// gorilla/websocket allows one concurrent writer.
	wmu sync.Mutex

	mu      sync.Mutex
	pending chan error

	closeOnce sync.Once
	closed    chan struct{}
}

var _ session.Channel = (*Conn)(nil)

// NewConn wraps an upgraded WebSocket.
func NewConn(ws *websocket.Conn, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	ws.SetReadLimit(cfg.MaxMessageBytes)
	return &Conn{ws: ws, cfg: cfg, closed: make(chan struct{})}
}

// Start sends a start frame and waits for the browser to report whether the
// provider accepted the call.
func (c *Conn) Start(ctx context.Context, assistantID string, vars map[string]string) error {
	ch := make(chan error, 1)
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return ErrStartPending
	}
	c.pending = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
	}()

	if err := c.Send(Frame{Type: TypeStart, Assistant: assistantID, VariableValues: vars}); err != nil {
		return err
	}

	timer := time.NewTimer(c.cfg.StartTimeout)
	defer timer.Stop()
	select {
	case err := <-ch:
		return err
	case <-timer.C:
		return ErrStartTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	}
}

// Stop tells the browser to end the call.
func (c *Conn) Stop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Send(Frame{Type: TypeStop})
}

// Send writes one frame.
func (c *Conn) Send(f Frame) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and closes the socket. It is safe to call
// more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// resolveStart completes a pending Start. Acks with no Start waiting are
// ignored.
func (c *Conn) resolveStart(err error) bool {
	c.mu.Lock()
	ch := c.pending
	c.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- err:
		return true
	default:
		return false
	}
}

// readLoop reads frames until the socket fails and hands each decoded frame
// to handle. Undecodable frames are answered with an error frame and
// skipped.
func (c *Conn) readLoop(handle func(Frame)) error {
	if c.cfg.ReadTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		})
	}
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if c.cfg.ReadTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		if mt != websocket.TextMessage {
			_ = c.Send(Frame{Type: TypeError, Error: "text frames only"})
			continue
		}
		f, err := Decode(data)
		if err != nil {
			_ = c.Send(Frame{Type: TypeError, Error: err.Error()})
			continue
		}
		handle(f)
	}
}

// pingLoop keeps intermediaries from dropping an idle call.
func (c *Conn) pingLoop(ctx context.Context) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-t.C:
			c.wmu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.cfg.WriteTimeout))
			c.wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

package voice

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-interview-backend/internal/session"
)

// Bridge runs m for as long as it lives and relays between it and the
// browser behind c:
//
//   - provider events are delivered to the machine;
//   - connect and disconnect commands become Start and Disconnect;
//   - acks complete a pending Conn.Start;
//   - every published snapshot is forwarded as a state frame.
//
// Bridge returns once the machine has finished and its feedback step is
// done. If the browser goes away first, the session is disconnected, which
// still scores a call that was active. The connection is closed on return.
func Bridge(ctx context.Context, c *Conn, m *session.Machine) {
	lg := log.Ctx(ctx)
	if lg.GetLevel() == zerolog.Disabled {
		lg = &log.Logger
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.Close()

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	go m.Run(ctx)
	go c.pingLoop(ctx)

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for snap := range updates {
			s := snap
			if err := c.Send(Frame{Type: TypeState, State: &s}); err != nil && !errors.Is(err, ErrClosed) {
				lg.Debug().Err(err).Msg("state frame not delivered")
			}
		}
	}()

	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readLoop(func(f Frame) { dispatch(ctx, c, m, f, lg) })
	}()

	select {
	case <-m.Done():
		// Let the final snapshot (with the outcome) reach the browser.
		<-forwarded
	case err := <-readErr:
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			lg.Warn().Err(err).Msg("voice socket closed unexpectedly")
		}
		cancel()
		<-m.Done()
	}
}

func dispatch(ctx context.Context, c *Conn, m *session.Machine, f Frame, lg *zerolog.Logger) {
	switch f.Type {
	case TypeAck:
		c.resolveStart(nil)
	case TypeStartFailed:
		c.resolveStart(&StartRefusedError{Reason: f.Error})
	case TypeConnect:
		// Start blocks until the browser acks, and acks arrive on this
		// goroutine, so it must not run inline.
		go func() {
			if err := m.Start(ctx); err != nil && !errors.Is(err, session.ErrStartAborted) {
				lg.Warn().Err(err).Msg("session start failed")
				_ = c.Send(Frame{Type: TypeError, Error: err.Error()})
			}
		}()
	case TypeDisconnect:
		go func() { _ = m.Disconnect(ctx) }()
	default:
		if ev, ok := ToEvent(f); ok {
			m.Deliver(ev)
			return
		}
		lg.Debug().Str("type", f.Type).Msg("ignoring voice frame")
	}
}

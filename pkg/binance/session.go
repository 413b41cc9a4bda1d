// pkg/binance/session.go
package binance

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/market-feed/pkg/logger"
)

const (
	unitControlSender = "control_sender"
	unitKeepAlive     = "keepalive"
	unitReceiver      = "receiver"
)

const (
	outcomeOK        = "ok"
	outcomeFaulted   = "faulted"
	outcomeCancelled = "cancelled"
)

// unitExit is what every worker unit reports when it ends, whether it
// returned cleanly or not. The first report tears the session down.
type unitExit struct {
	unit string
	err  error
}

func (e *unitExit) Error() string {
	if e.err == nil {
		return e.unit + ": exited"
	}
	return e.unit + ": " + e.err.Error()
}

func (e *unitExit) Unwrap() error { return e.err }

func (e *unitExit) outcome() string {
	switch {
	case e.err == nil:
		return outcomeOK
	case errors.Is(e.err, context.Canceled), errors.Is(e.err, context.DeadlineExceeded):
		return outcomeCancelled
	default:
		return outcomeFaulted
	}
}

// session binds the three worker units to one physical connection.
type session struct {
	conn    Conn
	cfg     *Config
	queue   *controlQueue
	disp    *Dispatcher
	nextID  func() uint64
	stopped func() bool
	log     *logger.Logger

	active atomic.Bool
}

// run starts ControlSender, KeepAlive and Receiver, waits for the first of
// them to end, then cancels the rest, closes the connection and waits for
// them to return.
func (s *session) run(ctx context.Context) *unitExit {
	s.active.Store(true)
	g, gctx := errgroup.WithContext(ctx)

	units := []struct {
		name string
		fn   func(context.Context) error
	}{
		{unitControlSender, s.sendControl},
		{unitKeepAlive, s.keepAlive},
		{unitReceiver, s.receive},
	}
	for _, u := range units {
		g.Go(func() error { return s.runUnit(gctx, u.name, u.fn) })
	}
	g.Go(func() error {
		<-gctx.Done()
		s.active.Store(false)
		_ = s.conn.Close()
		return nil
	})

	var exit *unitExit
	if !errors.As(g.Wait(), &exit) {
		exit = &unitExit{unit: "session"}
	}
	return exit
}

// runUnit always returns a non-nil *unitExit so that errgroup cancels the
// siblings even when the unit itself ended quietly.
func (s *session) runUnit(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &unitExit{unit: name, err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return &unitExit{unit: name, err: fn(ctx)}
}

func (s *session) alive(ctx context.Context) bool {
	return ctx.Err() == nil && s.active.Load() && !s.stopped()
}

// sendControl drains the control queue at RateLimitPerSecond. A failed write
// puts the message back at the head of the queue and ends the unit.
func (s *session) sendControl(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.RateLimitPerSecond)

	for s.alive(ctx) {
		msg, ok := s.queue.Pop(ctx, s.cfg.RecvWait)
		if !ok {
			continue
		}
		msg.ID = s.nextID()
		if err := s.conn.WriteJSON(ctx, msg); err != nil {
			s.queue.PushFront(msg)
			controlRequeued.Inc()
			return fmt.Errorf("send %s id=%d: %w", msg.Method, msg.ID, err)
		}
		controlSent.WithLabelValues(msg.Method).Inc()
		s.log.WithContext(ctx).Debug("control message sent",
			zap.String("method", msg.Method),
			zap.Strings("params", msg.Params),
			zap.Uint64("id", msg.ID),
		)
		if !sleepCtx(ctx, interval) {
			return nil
		}
	}
	return nil
}

// keepAlive pings every PingInterval. A failed ping means the connection is
// dead: the unit ends quietly and the supervisor reconnects.
func (s *session) keepAlive(ctx context.Context) error {
	for s.alive(ctx) {
		if err := s.conn.Ping(ctx); err != nil {
			s.log.WithContext(ctx).Debug("ping failed", zap.Error(err))
			return nil
		}
		if !sleepCtx(ctx, s.cfg.PingInterval) {
			return nil
		}
	}
	return nil
}

// receive reads frames until the connection ends. Malformed frames are
// dropped; handler failures are contained by the dispatcher.
func (s *session) receive(ctx context.Context) error {
	for {
		frame, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		msg, ok := Classify(frame)
		if !ok {
			wsMalformed.Inc()
			s.log.WithContext(ctx).Debug("malformed frame dropped", zap.Int("bytes", len(frame)))
			continue
		}
		wsFrames.WithLabelValues(string(msg.Kind)).Inc()
		s.disp.DispatchMessage(ctx, msg)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

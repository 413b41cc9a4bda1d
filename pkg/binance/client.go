// pkg/binance/client.go
package binance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/pkg/backoff"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

var tracer = otel.Tracer("feed/binance")

// Client keeps a multiplexed Binance stream subscription alive across
// disconnects and routes inbound events to handlers.
type Client struct {
	cfg     Config
	log     *logger.Logger
	dialer  Dialer
	streams *StreamSet
	queue   *controlQueue
	disp    *Dispatcher

	ctrlMu sync.Mutex // keeps set mutation and enqueue in the same order
	msgID  atomic.Uint64

	running   atomic.Bool
	stopped   atomic.Bool
	stopCh    chan struct{}
	closeOnce sync.Once
	closeErr  error

	connMu sync.Mutex
	conn   Conn
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the gorilla websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New validates cfg and builds a Client. Initial streams are normalized and
// seeded into the connection URL; they are not sent as control messages.
func New(cfg Config, log *logger.Logger, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.Named("binance-ws")

	c := &Client{
		cfg:     cfg,
		log:     log,
		streams: NewStreamSet(cfg.Streams...),
		queue:   newControlQueue(),
		disp:    NewDispatcher(log),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = newWSDialer(cfg)
	}
	return c, nil
}

// SetHandler replaces the handler for kind; nil restores the no-op.
func (c *Client) SetHandler(kind Kind, h Handler) { c.disp.Set(kind, h) }

// Subscribe adds streams to the desired set and enqueues one SUBSCRIBE for
// the ones that were not present. Already-present streams are ignored.
func (c *Client) Subscribe(streams ...string) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	added := c.streams.Add(streams...)
	if len(added) == 0 {
		return
	}
	c.queue.Push(ControlMessage{Method: MethodSubscribe, Params: added})
	c.log.Debug("subscribe queued", zap.Strings("streams", added))
}

// Unsubscribe removes streams from the desired set and enqueues one
// UNSUBSCRIBE for the ones that were present.
func (c *Client) Unsubscribe(streams ...string) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	removed := c.streams.Remove(streams...)
	if len(removed) == 0 {
		return
	}
	c.queue.Push(ControlMessage{Method: MethodUnsubscribe, Params: removed})
	c.log.Debug("unsubscribe queued", zap.Strings("streams", removed))
}

// Streams returns the sorted desired subscription set.
func (c *Client) Streams() []string { return c.streams.Snapshot() }

// Connected reports whether a session is currently open.
func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Run connects and keeps reconnecting until Close is called (returns nil)
// or ctx is cancelled (returns ctx.Err()). Transport errors never escape.
func (c *Client) Run(ctx context.Context) error {
	if c.stopped.Load() {
		return nil
	}
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	exit := func() error {
		if c.stopped.Load() {
			c.log.Info("client closed, run loop exiting")
			return nil
		}
		return ctx.Err()
	}

	schedule := backoff.NewSchedule(c.cfg.Backoff)
	for {
		if c.stopped.Load() || runCtx.Err() != nil {
			return exit()
		}

		connected, err := c.serve(runCtx)
		if c.stopped.Load() || runCtx.Err() != nil {
			return exit()
		}
		// После живой сессии расписание сбрасывается, но пауза не нулевая:
		// даже здоровый разрыв ждёт initial+jitter, чтобы не долбить сервер.
		if connected {
			schedule.Reset()
		}

		delay := schedule.Next()
		reconnectDelay.Observe(delay.Seconds())
		c.log.Warn("reconnecting after delay", zap.Duration("delay", delay), zap.Error(err))
		if !sleepCtx(runCtx, delay) {
			return exit()
		}
	}
}

// serve runs one connection session. connected reports whether the dial
// succeeded; err describes why the session ended.
func (c *Client) serve(ctx context.Context) (connected bool, err error) {
	sid := uuid.NewString()
	ctx = logger.ContextWithSessionID(ctx, sid)

	snapshot := c.streams.Snapshot()
	url := endpointURL(c.cfg.BaseURL(), snapshot)

	ctx, span := tracer.Start(ctx, "binance.session", trace.WithAttributes(
		attribute.String("session.id", sid),
		attribute.Int("streams", len(snapshot)),
	))
	defer span.End()
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = logger.ContextWithTraceID(ctx, sc.TraceID().String())
	}
	log := c.log.WithContext(ctx)

	dialCtx, cancelDial := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.dialer.Dial(dialCtx, url)
	cancelDial()
	if err != nil {
		wsConnects.WithLabelValues("error").Inc()
		span.RecordError(err)
		return false, fmt.Errorf("dial: %w", err)
	}
	if !c.attach(conn) {
		_ = conn.Close()
		return false, nil
	}
	defer c.detach()

	wsConnects.WithLabelValues("ok").Inc()
	log.Info("connected", zap.String("url", url), zap.Int("streams", len(snapshot)))

	s := &session{
		conn:    conn,
		cfg:     &c.cfg,
		queue:   c.queue,
		disp:    c.disp,
		nextID:  func() uint64 { return c.msgID.Add(1) },
		stopped: c.stopped.Load,
		log:     c.log,
	}
	exit := s.run(ctx)
	_ = conn.Close()

	outcome := exit.outcome()
	wsSessionEnds.WithLabelValues(exit.unit, outcome).Inc()
	log.Info("session ended",
		zap.String("unit", exit.unit),
		zap.String("outcome", outcome),
		zap.NamedError("cause", exit.err),
	)
	if outcome == outcomeFaulted {
		span.RecordError(exit)
	}
	return true, exit
}

// Close stops Run and closes the active connection. Safe to call repeatedly.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.stopped.Store(true)
		close(c.stopCh)

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn != nil {
			c.closeErr = conn.Close()
		}
	})
	return c.closeErr
}

func (c *Client) attach(conn Conn) bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.stopped.Load() {
		return false
	}
	c.conn = conn
	return true
}

func (c *Client) detach() {
	c.connMu.Lock()
	c.conn = nil
	c.connMu.Unlock()
}

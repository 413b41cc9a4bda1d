// internal/app/app.go
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/market-feed/internal/config"
	"github.com/YaganovValera/market-feed/internal/sink/kafka"
	"github.com/YaganovValera/market-feed/internal/sink/redis"
	"github.com/YaganovValera/market-feed/pkg/backoff"
	"github.com/YaganovValera/market-feed/pkg/binance"
	"github.com/YaganovValera/market-feed/pkg/httpserver"
	"github.com/YaganovValera/market-feed/pkg/logger"
	"github.com/YaganovValera/market-feed/pkg/telemetry"
)

// ErrNotConnected is reported by /readyz while the feed has no session.
var ErrNotConnected = errors.New("feed: not connected")

// Option customizes Run; used by tests to swap the websocket dialer.
type Option func(*options)

type options struct {
	feedOpts []binance.Option
}

// WithFeedOptions forwards options to binance.New.
func WithFeedOptions(opts ...binance.Option) Option {
	return func(o *options) { o.feedOpts = append(o.feedOpts, opts...) }
}

// Run wires telemetry, sinks, the feed client and the ops HTTP server and
// blocks until ctx is cancelled or one of them fails.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	backoff.SetServiceLabel(cfg.ServiceName)

	cfg.Telemetry.ServiceName = cfg.ServiceName
	cfg.Telemetry.ServiceVersion = cfg.ServiceVersion
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownSafe(ctx, "telemetry", func() error { return shutdownTracer(context.Background()) }, log)

	var (
		sinks []binance.Handler
		deps  []dependency
	)

	if cfg.Kafka.Enabled {
		kinds, err := kafka.ParseKinds(cfg.Kafka.Kinds)
		if err != nil {
			return fmt.Errorf("kafka sink init: %w", err)
		}
		prod, err := kafka.NewProducer(ctx, cfg.Kafka, log)
		if err != nil {
			return fmt.Errorf("kafka sink init: %w", err)
		}
		defer shutdownSafe(ctx, "kafka-producer", prod.Close, log)
		sinks = append(sinks, kafka.NewSink(prod, cfg.Kafka.Topic, kinds, log).Handler())
		deps = append(deps, dependency{"kafka", prod.Ping})
	}

	if cfg.Redis.Enabled {
		cache, err := redis.New(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("redis sink init: %w", err)
		}
		defer shutdownSafe(ctx, "redis", cache.Close, log)
		sinks = append(sinks, cache.Handler())
		deps = append(deps, dependency{"redis", cache.Ping})
	}

	feed, err := binance.New(cfg.Feed, log, o.feedOpts...)
	if err != nil {
		return fmt.Errorf("feed init: %w", err)
	}
	if len(sinks) > 0 {
		feed.SetHandler(binance.KindAny, fanout(sinks...))
	}

	httpSrv, err := httpserver.New(cfg.HTTP, readiness(feed.Connected, deps...), log)
	if err != nil {
		return fmt.Errorf("httpserver init: %w", err)
	}

	log.Info("starting feed",
		zap.String("market", string(cfg.Feed.Market)),
		zap.Strings("streams", feed.Streams()),
		zap.Int("sinks", len(sinks)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Start(gctx) })
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownSafe(ctx, "feed", feed.Close, log)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("feed stopped")
	return nil
}

// dependency is a sink backend probed by /readyz.
type dependency struct {
	name string
	ping func(context.Context) error
}

// readiness reports ready only while the feed holds a session and every
// sink backend answers.
func readiness(connected func() bool, deps ...dependency) httpserver.ReadyChecker {
	return func(ctx context.Context) error {
		if !connected() {
			return ErrNotConnected
		}
		for _, d := range deps {
			if err := d.ping(ctx); err != nil {
				return fmt.Errorf("%s: %w", d.name, err)
			}
		}
		return nil
	}
}

// fanout calls every handler in order and joins their errors.
func fanout(hs ...binance.Handler) binance.Handler {
	if len(hs) == 1 {
		return hs[0]
	}
	return func(ctx context.Context, stream string, payload json.RawMessage) error {
		var errs []error
		for _, h := range hs {
			if err := h(ctx, stream, payload); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// shutdownSafe оборачивает вызов Close()/Shutdown() с логированием
func shutdownSafe(ctx context.Context, name string, fn func() error, log *logger.Logger) {
	if err := fn(); err != nil {
		log.WithContext(ctx).Error(name+": shutdown error", zap.Error(err))
		return
	}
	log.WithContext(ctx).Info(name + ": shutdown complete")
}

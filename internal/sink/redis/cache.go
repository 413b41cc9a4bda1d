// internal/sink/redis/cache.go
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/pkg/backoff"
	"github.com/YaganovValera/market-feed/pkg/binance"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

var (
	redisMetrics = struct {
		SetErrors        prometheus.Counter
		GetErrors        prometheus.Counter
		OperationLatency prometheus.Histogram
	}{
		SetErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "feed", Subsystem: "redis_sink", Name: "set_errors_total",
			Help: "Errors on Redis SET of the latest payload",
		}),
		GetErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "feed", Subsystem: "redis_sink", Name: "get_errors_total",
			Help: "Errors on Redis GET of the latest payload",
		}),
		OperationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "feed", Subsystem: "redis_sink", Name: "operation_latency_seconds",
			Help:    "Latency of Redis operations",
			Buckets: prometheus.DefBuckets,
		}),
	}
	tracer = otel.Tracer("feed/sink/redis")
)

// ErrNotFound возвращается, если для стрима ещё нет значения.
var ErrNotFound = errors.New("redis sink: key not found")

// Config хранит параметры подключения к Redis.
type Config struct {
	Enabled   bool           `mapstructure:"enabled"`
	URL       string         `mapstructure:"url"`        // e.g. "redis://host:6379/0"
	TTL       time.Duration  `mapstructure:"ttl"`        // default: 10m
	KeyPrefix string         `mapstructure:"key_prefix"` // default: "feed:last:"
	Backoff   backoff.Config `mapstructure:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 10 * time.Minute
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "feed:last:"
	}
	if c.Backoff.MaxElapsedTime <= 0 {
		c.Backoff.MaxElapsedTime = 2 * time.Second
	}
}

func (c *Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("redis sink: url required")
	}
	return nil
}

// client is the subset of go-redis used by the cache.
type client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Cache keeps the latest payload of every stream under <prefix><stream>.
type Cache struct {
	client     client
	ttl        time.Duration
	prefix     string
	log        *logger.Logger
	backoffCfg backoff.Config
}

// New parses the URL, pings Redis with back-off and returns a Cache.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Cache, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("redis-sink")

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis sink: parse url: %w", err)
	}
	rc := redis.NewClient(opts)

	ping := func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	ctxConn, span := tracer.Start(ctx, "Connect", trace.WithAttributes(attribute.String("addr", opts.Addr)))
	defer span.End()
	if err := backoff.Execute(ctxConn, cfg.Backoff, log, ping); err != nil {
		span.RecordError(err)
		_ = rc.Close()
		return nil, fmt.Errorf("redis sink: connect: %w", err)
	}
	log.Info("connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))

	return newCache(rc, cfg, log), nil
}

func newCache(c client, cfg Config, log *logger.Logger) *Cache {
	return &Cache{
		client:     c,
		ttl:        cfg.TTL,
		prefix:     cfg.KeyPrefix,
		log:        log,
		backoffCfg: cfg.Backoff,
	}
}

// Key returns the Redis key for stream.
func (c *Cache) Key(stream string) string { return c.prefix + stream }

// Handler stores every payload as the latest value of its stream. Frames
// without a stream name are skipped.
func (c *Cache) Handler() binance.Handler {
	return func(ctx context.Context, stream string, payload json.RawMessage) error {
		if stream == "" {
			return nil
		}
		return c.Set(ctx, stream, payload)
	}
}

// Set overwrites the latest payload of stream.
func (c *Cache) Set(ctx context.Context, stream string, payload []byte) error {
	key := c.Key(stream)
	ctx, span := tracer.Start(ctx, "Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	start := time.Now()
	op := func(ctx context.Context) error { return c.client.Set(ctx, key, payload, c.ttl).Err() }
	if err := backoff.Execute(ctx, c.backoffCfg, c.log, op); err != nil {
		redisMetrics.SetErrors.Inc()
		span.RecordError(err)
		return fmt.Errorf("redis sink: set %s: %w", key, err)
	}
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())
	return nil
}

// Last returns the latest stored payload of stream.
func (c *Cache) Last(ctx context.Context, stream string) (json.RawMessage, error) {
	key := c.Key(stream)
	ctx, span := tracer.Start(ctx, "Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	var data []byte
	op := func(ctx context.Context) error {
		val, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return backoff.Permanent(ErrNotFound)
		}
		if err != nil {
			return err
		}
		data = val
		return nil
	}
	if err := backoff.Execute(ctx, c.backoffCfg, c.log, op); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		redisMetrics.GetErrors.Inc()
		span.RecordError(err)
		c.log.WithContext(ctx).Error("GET failed", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	return data, nil
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// Close closes the underlying client.
func (c *Cache) Close() error { return c.client.Close() }

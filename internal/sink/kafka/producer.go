// internal/sink/kafka/producer.go
package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/pkg/backoff"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

var producerMetrics = struct {
	ConnectErrors  prometheus.Counter
	PublishSuccess *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	PublishLatency prometheus.Histogram
}{
	ConnectErrors: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "kafka_sink", Name: "connect_errors_total",
		Help: "Kafka producer connect errors",
	}),
	PublishSuccess: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "kafka_sink", Name: "publish_success_total",
		Help: "Messages published to Kafka",
	}, []string{"kind"}),
	PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "kafka_sink", Name: "publish_errors_total",
		Help: "Messages that could not be published after retries",
	}, []string{"kind"}),
	PublishLatency: promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "feed", Subsystem: "kafka_sink", Name: "publish_latency_seconds",
		Help:    "Publish latency including retries",
		Buckets: prometheus.DefBuckets,
	}),
}

var tracer = otel.Tracer("feed/sink/kafka")

// Config groups the tunables of the Kafka sink.
type Config struct {
	Enabled        bool           `mapstructure:"enabled"`
	Brokers        []string       `mapstructure:"brokers"`
	Topic          string         `mapstructure:"topic"`
	RequiredAcks   string         `mapstructure:"acks"`        // all | leader | none
	Timeout        time.Duration  `mapstructure:"timeout"`     // broker ack timeout
	Compression    string         `mapstructure:"compression"` // none | gzip | snappy | lz4 | zstd
	FlushFrequency time.Duration  `mapstructure:"flush_frequency"`
	FlushMessages  int            `mapstructure:"flush_messages"`
	Kinds          []string       `mapstructure:"kinds"` // empty → every kind
	Backoff        backoff.Config `mapstructure:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	if c.Topic == "" {
		c.Topic = "marketdata.raw"
	}
	// публикация блокирует receiver: ретраи должны быть конечными
	if c.Backoff.MaxElapsedTime <= 0 {
		c.Backoff.MaxElapsedTime = 5 * time.Second
	}
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka sink: brokers required")
	}
	return nil
}

func buildSaramaConfig(c Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()

	switch strings.ToLower(c.RequiredAcks) {
	case "all":
		sc.Producer.RequiredAcks = sarama.WaitForAll
	case "leader":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("kafka sink: invalid acks %q", c.RequiredAcks)
	}

	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Timeout = c.Timeout
	sc.Producer.Idempotent = sc.Producer.RequiredAcks == sarama.WaitForAll
	sc.Net.MaxOpenRequests = 1
	sc.Version = sarama.V2_1_0_0

	if c.FlushFrequency > 0 {
		sc.Producer.Flush.Frequency = c.FlushFrequency
	}
	if c.FlushMessages > 0 {
		sc.Producer.Flush.Messages = c.FlushMessages
	}

	switch strings.ToLower(c.Compression) {
	case "none":
		sc.Producer.Compression = sarama.CompressionNone
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("kafka sink: invalid compression %q", c.Compression)
	}
	return sc, nil
}

// Producer publishes keyed records with retries.
type Producer struct {
	prod       sarama.SyncProducer
	client     sarama.Client
	log        *logger.Logger
	backoffCfg backoff.Config
}

// NewProducer connects to the brokers with back-off and wraps the sync
// producer for OpenTelemetry.
func NewProducer(ctx context.Context, cfg Config, log *logger.Logger) (*Producer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("kafka-producer")

	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	var (
		client   sarama.Client
		syncProd sarama.SyncProducer
	)
	connect := func(context.Context) error {
		c, err := sarama.NewClient(cfg.Brokers, sc)
		if err != nil {
			producerMetrics.ConnectErrors.Inc()
			return err
		}
		p, err := sarama.NewSyncProducerFromClient(c)
		if err != nil {
			_ = c.Close()
			producerMetrics.ConnectErrors.Inc()
			return err
		}
		client, syncProd = c, p
		return nil
	}

	ctxConn, span := tracer.Start(ctx, "Connect",
		trace.WithAttributes(attribute.StringSlice("brokers", cfg.Brokers)))
	defer span.End()
	if err := backoff.Execute(ctxConn, cfg.Backoff, log, connect); err != nil {
		span.RecordError(err)
		log.Error("connect failed", zap.Error(err))
		return nil, fmt.Errorf("kafka sink: connect: %w", err)
	}

	log.Info("producer ready", zap.Strings("brokers", cfg.Brokers))
	return &Producer{
		prod:       otelsarama.WrapSyncProducer(sc, syncProd),
		client:     client,
		log:        log,
		backoffCfg: cfg.Backoff,
	}, nil
}

// Publish отправляет сообщение в Kafka c ретраями.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	ctx, span := tracer.Start(ctx, "Publish", trace.WithAttributes(attribute.String("topic", topic)))
	defer span.End()

	send := func(context.Context) error {
		_, _, err := p.prod.SendMessage(&sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.ByteEncoder(key),
			Value: sarama.ByteEncoder(value),
		})
		return err
	}
	if err := backoff.Execute(ctx, p.backoffCfg, p.log, send); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Ping обновляет метаданные клиента, проверяя доступность кластера.
func (p *Producer) Ping(ctx context.Context) error {
	_, span := tracer.Start(ctx, "Ping")
	defer span.End()
	if p.client == nil {
		return nil
	}
	if err := p.client.RefreshMetadata(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Close корректно закрывает продьюсер и клиент.
func (p *Producer) Close() error {
	if err := p.prod.Close(); err != nil {
		p.log.Error("producer close failed", zap.Error(err))
		return err
	}
	if p.client != nil && !p.client.Closed() {
		if err := p.client.Close(); err != nil {
			p.log.Error("client close failed", zap.Error(err))
			return err
		}
	}
	p.log.Info("producer closed")
	return nil
}

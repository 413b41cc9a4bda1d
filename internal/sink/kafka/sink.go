// internal/sink/kafka/sink.go
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/YaganovValera/market-feed/pkg/binance"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

// Publisher is the part of Producer the sink needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Sink forwards classified messages to a Kafka topic. The record key is the
// stream name so that one stream stays ordered within a partition.
type Sink struct {
	pub   Publisher
	topic string
	kinds map[binance.Kind]struct{} // nil → publish everything
	log   *logger.Logger
	now   func() time.Time
}

// NewSink builds a Sink on top of pub. With non-empty kinds only messages of
// those kinds are published.
func NewSink(pub Publisher, topic string, kinds []binance.Kind, log *logger.Logger) *Sink {
	s := &Sink{pub: pub, topic: topic, log: log.Named("kafka-sink"), now: time.Now}
	if len(kinds) > 0 {
		s.kinds = make(map[binance.Kind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	return s
}

// ParseKinds resolves configured kind names, accepting the same aliases as
// binance.ParseKind.
func ParseKinds(names []string) ([]binance.Kind, error) {
	kinds := make([]binance.Kind, 0, len(names))
	for _, n := range names {
		k, err := binance.ParseKind(n)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Handler returns a binance.Handler suitable for the "any" slot.
func (s *Sink) Handler() binance.Handler {
	return func(ctx context.Context, stream string, payload json.RawMessage) error {
		kind := binance.KindFromContext(ctx)
		if s.kinds != nil {
			if _, ok := s.kinds[kind]; !ok {
				return nil
			}
		}
		start := time.Now()

		value, err := Envelope(kind, stream, s.now(), payload)
		if err != nil {
			return err
		}
		err = s.pub.Publish(ctx, s.topic, []byte(stream), value)
		producerMetrics.PublishLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			producerMetrics.PublishErrors.WithLabelValues(kind.String()).Inc()
			return fmt.Errorf("kafka sink: publish %s: %w", stream, err)
		}
		producerMetrics.PublishSuccess.WithLabelValues(kind.String()).Inc()
		s.log.WithContext(ctx).Debug("published",
			zap.String("kind", kind.String()),
			zap.String("stream", stream),
			zap.Int("bytes", len(value)),
		)
		return nil
	}
}

// Envelope encodes a message as a protobuf Struct:
// {kind, stream, received_at (RFC 3339, UTC), payload}.
func Envelope(kind binance.Kind, stream string, receivedAt time.Time, payload json.RawMessage) ([]byte, error) {
	body := &structpb.Value{}
	if err := protojson.Unmarshal(payload, body); err != nil {
		return nil, fmt.Errorf("kafka sink: payload: %w", err)
	}
	env := &structpb.Struct{Fields: map[string]*structpb.Value{
		"kind":        structpb.NewStringValue(kind.String()),
		"stream":      structpb.NewStringValue(stream),
		"received_at": structpb.NewStringValue(receivedAt.UTC().Format(time.RFC3339Nano)),
		"payload":     body,
	}}
	return proto.Marshal(env)
}

// pkg/binance/dispatcher.go
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/pkg/logger"
)

var dispatchTracer = otel.Tracer("feed/binance/dispatcher")

// Handler receives one classified payload. A returned error (or a panic) is
// logged and counted; it never reaches the receiver.
type Handler func(ctx context.Context, stream string, payload json.RawMessage) error

func noopHandler(context.Context, string, json.RawMessage) error { return nil }

// Dispatcher holds the kind → handler table.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
	log      *logger.Logger
}

// NewDispatcher returns a table with a no-op handler for every known kind.
func NewDispatcher(log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[Kind]Handler, len(Kinds())),
		log:      log.Named("dispatcher"),
	}
	for _, k := range Kinds() {
		d.handlers[k] = noopHandler
	}
	return d
}

// Set replaces the handler for kind. A nil handler restores the no-op.
func (d *Dispatcher) Set(kind Kind, h Handler) {
	if h == nil {
		h = noopHandler
	}
	d.mu.Lock()
	d.handlers[kind] = h
	d.mu.Unlock()
}

type kindCtxKey struct{}

// KindFromContext returns the classified kind of the message being handled.
// Inside an "any" handler it is the specific kind the frame was classified as.
func KindFromContext(ctx context.Context) Kind {
	if k, ok := ctx.Value(kindCtxKey{}).(Kind); ok {
		return k
	}
	return KindAny
}

// Dispatch invokes the handler registered for kind. Unknown kinds are a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, kind Kind, stream string, payload json.RawMessage) {
	if _, ok := ctx.Value(kindCtxKey{}).(Kind); !ok {
		ctx = context.WithValue(ctx, kindCtxKey{}, kind)
	}
	d.mu.RLock()
	h, ok := d.handlers[kind]
	d.mu.RUnlock()
	if !ok {
		return
	}

	ctx, span := dispatchTracer.Start(ctx, "Dispatch", trace.WithAttributes(
		attribute.String("event.kind", string(kind)),
		attribute.String("stream", stream),
	))
	defer span.End()

	if err := invoke(ctx, h, stream, payload); err != nil {
		handlerErrors.WithLabelValues(string(kind)).Inc()
		span.RecordError(err)
		d.log.WithContext(ctx).Warn("handler failed",
			zap.String("kind", string(kind)),
			zap.String("stream", stream),
			zap.Error(err),
		)
	}
}

// DispatchMessage routes msg to its kind and, for specific kinds, once more
// to the catch-all "any" handler.
func (d *Dispatcher) DispatchMessage(ctx context.Context, msg Message) {
	ctx = context.WithValue(ctx, kindCtxKey{}, msg.Kind)
	d.Dispatch(ctx, msg.Kind, msg.Stream, msg.Payload)
	if msg.Kind != KindAny {
		d.Dispatch(ctx, KindAny, msg.Stream, msg.Payload)
	}
}

func invoke(ctx context.Context, h Handler, stream string, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, stream, payload)
}

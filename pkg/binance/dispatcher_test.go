package binance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/YaganovValera/market-feed/pkg/logger"
)

func recorder(calls *[]string, name string) Handler {
	return func(_ context.Context, stream string, _ json.RawMessage) error {
		*calls = append(*calls, name+":"+stream)
		return nil
	}
}

func TestDispatcher_SpecificThenAny(t *testing.T) {
	d := NewDispatcher(logger.Nop())
	var calls []string
	d.Set(KindKline, recorder(&calls, "kline"))
	d.Set(KindAny, recorder(&calls, "any"))

	msg, ok := Classify([]byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline"}}`))
	assert.True(t, ok)
	d.DispatchMessage(context.Background(), msg)

	assert.Equal(t, []string{"kline:btcusdt@kline_1m", "any:btcusdt@kline_1m"}, calls)
}

func TestDispatcher_AnyHandlerSeesClassifiedKind(t *testing.T) {
	d := NewDispatcher(logger.Nop())
	var kinds []Kind
	d.Set(KindAny, func(ctx context.Context, _ string, _ json.RawMessage) error {
		kinds = append(kinds, KindFromContext(ctx))
		return nil
	})

	d.DispatchMessage(context.Background(), Message{Kind: KindDepthUpdate, Stream: "s"})
	d.DispatchMessage(context.Background(), Message{Kind: KindAny, Stream: "s"})
	assert.Equal(t, []Kind{KindDepthUpdate, KindAny}, kinds)
	assert.Equal(t, KindAny, KindFromContext(context.Background()))
}

func TestDispatcher_AnyKindInvokedOnce(t *testing.T) {
	d := NewDispatcher(logger.Nop())
	var calls []string
	d.Set(KindAny, recorder(&calls, "any"))

	d.DispatchMessage(context.Background(), Message{Kind: KindAny, Stream: "s", Payload: json.RawMessage(`{}`)})
	assert.Equal(t, []string{"any:s"}, calls)
}

func TestDispatcher_ErrorsAndPanicsAreContained(t *testing.T) {
	d := NewDispatcher(logger.Nop())
	var calls []string
	d.Set(KindAggTrade, func(context.Context, string, json.RawMessage) error {
		panic("boom")
	})
	d.Set(KindTicker, func(context.Context, string, json.RawMessage) error {
		return errors.New("handler failed")
	})
	d.Set(KindAny, recorder(&calls, "any"))

	assert.NotPanics(t, func() {
		d.DispatchMessage(context.Background(), Message{Kind: KindAggTrade, Stream: "a"})
		d.DispatchMessage(context.Background(), Message{Kind: KindTicker, Stream: "t"})
	})
	assert.Equal(t, []string{"any:a", "any:t"}, calls)
}

func TestDispatcher_NilRestoresNoop(t *testing.T) {
	d := NewDispatcher(logger.Nop())
	var calls []string
	d.Set(KindKline, recorder(&calls, "kline"))
	d.Set(KindKline, nil)

	d.Dispatch(context.Background(), KindKline, "s", nil)
	assert.Empty(t, calls)
}

func TestDispatcher_UnknownKindIsNoop(t *testing.T) {
	d := NewDispatcher(logger.Nop())
	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), Kind("liquidation"), "s", nil)
	})
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("miniTicker")
	assert.NoError(t, err)
	assert.Equal(t, KindMiniTicker, k)

	k, err = ParseKind("bookTicker")
	assert.NoError(t, err)
	assert.Equal(t, KindBookTicker, k)

	_, err = ParseKind("trade")
	assert.Error(t, err)
}

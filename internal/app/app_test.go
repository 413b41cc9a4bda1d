// internal/app/app_test.go
package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/market-feed/internal/config"
	"github.com/YaganovValera/market-feed/pkg/binance"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRun_StopsOnCancelAndReportsNotReady(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.HTTP.Addr = freeAddr(t)
	cfg.Feed.Backoff.InitialInterval = 10 * time.Millisecond
	cfg.Feed.Backoff.MaxInterval = 20 * time.Millisecond

	var dials atomic.Int32
	refuse := binance.DialFunc(func(context.Context, string) (binance.Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, logger.Nop(), WithFeedOptions(binance.WithDialer(refuse))) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.HTTP.Addr + "/readyz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusServiceUnavailable
	}, 3*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return dials.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_FailsOnBadFeedConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Feed.Market = "margin"
	err = Run(context.Background(), cfg, logger.Nop())
	assert.ErrorIs(t, err, binance.ErrInvalidMarket)
}

func TestReadiness(t *testing.T) {
	connected := false
	brokerDown := errors.New("kafka: client has run out of available brokers")
	var kafkaErr error
	check := readiness(func() bool { return connected },
		dependency{"kafka", func(context.Context) error { return kafkaErr }},
		dependency{"redis", func(context.Context) error { return nil }},
	)
	ctx := context.Background()

	assert.ErrorIs(t, check(ctx), ErrNotConnected)

	connected = true
	kafkaErr = brokerDown
	err := check(ctx)
	assert.ErrorIs(t, err, brokerDown)
	assert.Contains(t, err.Error(), "kafka")

	kafkaErr = nil
	assert.NoError(t, check(ctx))
}

func TestFanout(t *testing.T) {
	var calls []string
	ok := func(name string) binance.Handler {
		return func(context.Context, string, json.RawMessage) error {
			calls = append(calls, name)
			return nil
		}
	}
	boom := errors.New("boom")
	failing := func(context.Context, string, json.RawMessage) error { return boom }

	h := fanout(ok("a"), failing, ok("b"))
	err := h(context.Background(), "s", nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, calls)

	single := ok("c")
	assert.NoError(t, fanout(single)(context.Background(), "s", nil))
}

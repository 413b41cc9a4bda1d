// internal/sink/redis/cache_test.go
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/market-feed/pkg/backoff"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

// memClient is an in-memory stand-in for go-redis.
type memClient struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	failSet int // number of Set calls to fail before succeeding
}

func newMemClient() *memClient {
	return &memClient{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memClient) Set(_ context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet > 0 {
		m.failSet--
		return redis.NewStatusResult("", errors.New("connection refused"))
	}
	m.data[key] = append([]byte(nil), value.([]byte)...)
	m.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (m *memClient) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (m *memClient) Ping(context.Context) *redis.StatusCmd { return redis.NewStatusResult("PONG", nil) }
func (m *memClient) Close() error                         { return nil }

var fastRetry = backoff.Config{
	InitialInterval: time.Millisecond,
	MaxInterval:     time.Millisecond,
	MaxElapsedTime:  50 * time.Millisecond,
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	assert.Equal(t, 10*time.Minute, cfg.TTL)
	assert.Equal(t, "feed:last:", cfg.KeyPrefix)
	assert.Error(t, cfg.validate())

	cfg.URL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.validate())
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "http://nope"}, logger.Nop())
	assert.Error(t, err)
}

func TestHandler_StoresLatestPayload(t *testing.T) {
	mc := newMemClient()
	c := newCache(mc, Config{TTL: time.Minute, KeyPrefix: "feed:last:", Backoff: fastRetry}, logger.Nop())
	h := c.Handler()
	ctx := context.Background()

	require.NoError(t, h(ctx, "btcusdt@bookticker", json.RawMessage(`{"b":"1"}`)))
	require.NoError(t, h(ctx, "btcusdt@bookticker", json.RawMessage(`{"b":"2"}`)))
	require.NoError(t, h(ctx, "", json.RawMessage(`{"result":null}`)))

	got, err := c.Last(ctx, "btcusdt@bookticker")
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":"2"}`, string(got))
	assert.Equal(t, time.Minute, mc.ttls["feed:last:btcusdt@bookticker"])
	assert.Len(t, mc.data, 1)
}

func TestSet_RetriesTransientErrors(t *testing.T) {
	mc := newMemClient()
	mc.failSet = 2
	c := newCache(mc, Config{TTL: time.Minute, KeyPrefix: "p:", Backoff: fastRetry}, logger.Nop())

	require.NoError(t, c.Set(context.Background(), "s", []byte(`1`)))
	assert.Equal(t, []byte(`1`), mc.data["p:s"])
}

func TestLast_NotFound(t *testing.T) {
	c := newCache(newMemClient(), Config{KeyPrefix: "p:", Backoff: fastRetry}, logger.Nop())
	_, err := c.Last(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
}

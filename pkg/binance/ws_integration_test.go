package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_EndToEndOverWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	queries := make(chan string, 4)
	controls := make(chan ControlMessage, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query().Get("streams")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg ControlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		controls <- msg

		frame := `{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT","k":{"i":"1m"}}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	cfg.Streams = []string{"ethusdt@aggTrade"}
	cfg.WriteTimeout = time.Second
	cfg.DialTimeout = time.Second

	c, err := New(cfg, nil)
	require.NoError(t, err)

	type call struct {
		handler string
		stream  string
		payload string
	}
	calls := make(chan call, 4)
	c.SetHandler(KindKline, func(_ context.Context, stream string, payload json.RawMessage) error {
		calls <- call{"kline", stream, string(payload)}
		return nil
	})
	c.SetHandler(KindAny, func(_ context.Context, stream string, payload json.RawMessage) error {
		calls <- call{"any", stream, string(payload)}
		return nil
	})

	c.Subscribe("BTCUSDT@kline_1m")

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	select {
	case q := <-queries:
		assert.Equal(t, "btcusdt@kline_1m/ethusdt@aggtrade", q)
	case <-time.After(3 * time.Second):
		t.Fatal("server was not dialed")
	}

	select {
	case m := <-controls:
		assert.Equal(t, MethodSubscribe, m.Method)
		assert.Equal(t, []string{"btcusdt@kline_1m"}, m.Params)
		assert.Equal(t, uint64(1), m.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("no SUBSCRIBE received")
	}

	for _, want := range []string{"kline", "any"} {
		select {
		case got := <-calls:
			assert.Equal(t, want, got.handler)
			assert.Equal(t, "btcusdt@kline_1m", got.stream)
			assert.JSONEq(t, `{"e":"kline","s":"BTCUSDT","k":{"i":"1m"}}`, got.payload)
		case <-time.After(3 * time.Second):
			t.Fatalf("%s handler not called", want)
		}
	}

	require.NoError(t, c.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestClient_SilentPeerTriggersReconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	dials := make(chan struct{}, 16)
	release := make(chan struct{})

	// Сервер принимает соединение и молчит: ни кадров, ни pong.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		dials <- struct{}{}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	cfg.Streams = []string{"btcusdt@aggTrade"}
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongWait = 50 * time.Millisecond
	cfg.WriteTimeout = 100 * time.Millisecond
	cfg.DialTimeout = time.Second

	c, err := New(cfg, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	for i := 0; i < 2; i++ {
		select {
		case <-dials:
		case <-time.After(3 * time.Second):
			t.Fatalf("dial %d not observed: silent connection was never dropped", i+1)
		}
	}

	require.NoError(t, c.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

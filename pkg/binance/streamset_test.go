package binance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamSet_AddIsIdempotentAndCaseInsensitive(t *testing.T) {
	s := NewStreamSet()

	assert.Equal(t, []string{"btcusdt@kline_1m"}, s.Add("BTCUSDT@KLINE_1M"))
	assert.Empty(t, s.Add("btcusdt@kline_1m"))
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Contains("BtcUsdt@Kline_1m"))
}

func TestStreamSet_AddKeepsInputOrderAndDropsBlanks(t *testing.T) {
	s := NewStreamSet()
	assert.Equal(t, []string{"c", "a", "b"}, s.Add("c", "", "a", "A", "  ", "b"))
}

func TestStreamSet_Remove(t *testing.T) {
	s := NewStreamSet("a", "b")

	assert.Empty(t, s.Remove("zzz"))
	assert.Equal(t, []string{"a"}, s.Remove("A", "a"))
	assert.Equal(t, []string{"b"}, s.Snapshot())
}

func TestEndpointURL_Deterministic(t *testing.T) {
	base := "wss://fstream.binance.com/stream"

	s1 := NewStreamSet("b@kline_1m", "a@bookticker")
	s2 := NewStreamSet("a@bookticker", "b@kline_1m")

	want := base + "?streams=a@bookticker/b@kline_1m"
	assert.Equal(t, want, endpointURL(base, s1.Snapshot()))
	assert.Equal(t, want, endpointURL(base, s2.Snapshot()))
	assert.Equal(t, base, endpointURL(base, NewStreamSet().Snapshot()))
}

// pkg/binance/classify.go
package binance

import (
	"bytes"
	"encoding/json"
)

// Message is a classified inbound event.
type Message struct {
	Kind    Kind
	Stream  string
	Payload json.RawMessage
}

// bookTicker payloads carry no "e" field; they are recognized by the
// best bid/ask price and quantity keys.
var bookTickerKeys = [...]string{"b", "B", "a", "A"}

// Classify parses one inbound frame. ok is false only for frames that are
// not valid JSON; everything else yields a Message.
//
//	{"stream":s,"data":{...}} → kind inferred from data, payload = data
//	{"stream":s}              → any, payload = whole frame
//	anything else             → any with empty stream, payload = whole frame
func Classify(frame []byte) (msg Message, ok bool) {
	if !json.Valid(frame) {
		return Message{}, false
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(frame, &env); err != nil || env == nil {
		// global array streams (e.g. !miniTicker@arr) come without an envelope
		return Message{Kind: KindAny, Payload: frame}, true
	}

	stream, hasStream := stringField(env, "stream")
	data, hasData := env["data"]
	hasData = hasData && !isNull(data)

	switch {
	case !hasStream && !hasData:
		return Message{Kind: KindAny, Payload: frame}, true
	case !hasData:
		return Message{Kind: KindAny, Stream: stream, Payload: frame}, true
	}
	return Message{Kind: kindOf(data), Stream: stream, Payload: data}, true
}

func kindOf(data json.RawMessage) Kind {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return KindAny
	}

	event, _ := stringField(fields, "e")
	switch event {
	case "kline":
		return KindKline
	case "aggTrade":
		return KindAggTrade
	case "depthUpdate":
		return KindDepthUpdate
	case "24hrMiniTicker":
		return KindMiniTicker
	case "24hrTicker":
		return KindTicker
	}

	for _, k := range bookTickerKeys {
		if _, ok := fields[k]; !ok {
			return KindAny
		}
	}
	return KindBookTicker
}

// stringField reports a string value; null or non-string values count as absent.
func stringField(m map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := m[key]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

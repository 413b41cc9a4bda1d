// pkg/binance/kind.go
package binance

import "fmt"

// Kind identifies the class of an inbound event and selects its handler.
type Kind string

const (
	KindKline       Kind = "kline"
	KindAggTrade    Kind = "aggTrade"
	KindBookTicker  Kind = "bookTicker"
	KindMiniTicker  Kind = "24hrMiniTicker"
	KindDepthUpdate Kind = "depthUpdate"
	KindTicker      Kind = "ticker"
	KindAny         Kind = "any"
)

// Kinds lists every kind that has a default handler.
func Kinds() []Kind {
	return []Kind{KindKline, KindAggTrade, KindBookTicker, KindMiniTicker, KindDepthUpdate, KindTicker, KindAny}
}

// ParseKind maps a handler name to a Kind. "miniTicker" is accepted as an
// alias of "24hrMiniTicker".
func ParseKind(s string) (Kind, error) {
	if s == "miniTicker" {
		return KindMiniTicker, nil
	}
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("binance: unknown event kind %q", s)
}

func (k Kind) String() string { return string(k) }

package stream

import (
	"fmt"
	"strings"
)

// Key is the canonical identity of a physical connection. Two logical
// subscribers with the same key share one socket.
type Key struct {
	Symbol string
	Stream string
}

// KlineKey builds the key for a kline stream at the given interval.
func KlineKey(symbol, interval string) Key {
	return Key{Symbol: strings.ToUpper(symbol), Stream: "kline_" + interval}
}

// TickerKey builds the key for the 24h rolling ticker stream.
func TickerKey(symbol string) Key {
	return Key{Symbol: strings.ToUpper(symbol), Stream: "ticker"}
}

// DepthKey builds the key for the order book diff stream.
func DepthKey(symbol string) Key {
	return Key{Symbol: strings.ToUpper(symbol), Stream: "depth"}
}

// Path returns the stream path used on the wire, e.g. "btcusdt@kline_1m".
func (k Key) Path() string {
	return fmt.Sprintf("%s@%s", strings.ToLower(k.Symbol), k.Stream)
}

func (k Key) String() string {
	return k.Path()
}

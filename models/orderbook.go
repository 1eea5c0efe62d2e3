package models

import (
	"strconv"
	"time"
)

// BookLevel represents a single price level in the order book.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// BookSnapshot is the REST depth snapshot used to (re)initialize a replica.
type BookSnapshot struct {
	Symbol       string      `json:"symbol"`
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         []BookLevel `json:"bids"`
	Asks         []BookLevel `json:"asks"`
	Timestamp    time.Time   `json:"timestamp"`
}

// DepthDiff is a single incremental order book update. Quantities are
// absolute amounts at a price, not increments; a quantity of zero removes
// the price level.
type DepthDiff struct {
	Symbol        string      `json:"symbol"`
	FirstUpdateID int64       `json:"first_update_id"`
	FinalUpdateID int64       `json:"final_update_id"`
	Bids          []BookLevel `json:"bids"`
	Asks          []BookLevel `json:"asks"`
	EventTime     int64       `json:"event_time"`
}

// BinanceDepthResp mirrors the depth diff websocket event structure.
type BinanceDepthResp struct {
	Event         string     `json:"e"`
	Time          int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// ParseLevels converts raw [price, qty] string pairs into BookLevels.
// Malformed pairs are skipped rather than failing the whole frame.
func ParseLevels(raw [][]string) []BookLevel {
	levels := make([]BookLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			continue
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			continue
		}
		levels = append(levels, BookLevel{Price: price, Quantity: qty})
	}
	return levels
}

package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"marketsync/models"
)

// EventKind identifies the type of a parsed stream event.
type EventKind int

const (
	// KindKlineOpen is an update to a still-open candle. These arrive at
	// trade frequency and may be throttled.
	KindKlineOpen EventKind = iota
	// KindKlineFinal marks a candle whose interval has closed. Final
	// candles are immutable and must reach every subscriber.
	KindKlineFinal
	// KindTicker is a rolling 24h ticker refresh.
	KindTicker
	// KindDepth is an incremental order book diff.
	KindDepth
)

func (k EventKind) String() string {
	switch k {
	case KindKlineOpen:
		return "kline_open"
	case KindKlineFinal:
		return "kline_final"
	case KindTicker:
		return "ticker"
	case KindDepth:
		return "depth"
	default:
		return "unknown"
	}
}

// Event is a single typed frame received from the exchange stream. Exactly
// one of the payload pointers is set, matching Kind.
type Event struct {
	Kind   EventKind
	Candle *models.Candle
	Ticker *models.Ticker
	Depth  *models.DepthDiff
}

// eventProbe extracts the event tag so the frame can be routed to the right
// decoder.
type eventProbe struct {
	Event string `json:"e"`
}

// ParseFrame converts a raw websocket frame into a typed event.
func ParseFrame(data []byte) (Event, error) {
	var probe eventProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return Event{}, fmt.Errorf("failed to probe frame: %w", err)
	}

	switch probe.Event {
	case "kline":
		return parseKline(data)
	case "depthUpdate":
		return parseDepth(data)
	case "24hrTicker":
		return parseTicker(data)
	default:
		return Event{}, fmt.Errorf("unknown event type %q", probe.Event)
	}
}

func parseKline(data []byte) (Event, error) {
	var resp models.BinanceKlineResp
	if err := json.Unmarshal(data, &resp); err != nil {
		return Event{}, fmt.Errorf("failed to decode kline frame: %w", err)
	}

	open, err := strconv.ParseFloat(resp.Kline.Open, 64)
	if err != nil {
		return Event{}, fmt.Errorf("invalid kline open %q: %w", resp.Kline.Open, err)
	}
	high, err := strconv.ParseFloat(resp.Kline.High, 64)
	if err != nil {
		return Event{}, fmt.Errorf("invalid kline high %q: %w", resp.Kline.High, err)
	}
	low, err := strconv.ParseFloat(resp.Kline.Low, 64)
	if err != nil {
		return Event{}, fmt.Errorf("invalid kline low %q: %w", resp.Kline.Low, err)
	}
	closePrice, err := strconv.ParseFloat(resp.Kline.Close, 64)
	if err != nil {
		return Event{}, fmt.Errorf("invalid kline close %q: %w", resp.Kline.Close, err)
	}
	volume, err := strconv.ParseFloat(resp.Kline.Volume, 64)
	if err != nil {
		return Event{}, fmt.Errorf("invalid kline volume %q: %w", resp.Kline.Volume, err)
	}

	candle := &models.Candle{
		Symbol:    resp.Symbol,
		Interval:  resp.Kline.Interval,
		OpenTime:  time.UnixMilli(resp.Kline.StartTime),
		CloseTime: time.UnixMilli(resp.Kline.CloseTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Final:     resp.Kline.IsFinal,
	}

	kind := KindKlineOpen
	if candle.Final {
		kind = KindKlineFinal
	}
	return Event{Kind: kind, Candle: candle}, nil
}

func parseTicker(data []byte) (Event, error) {
	var resp models.BinanceTickerResp
	if err := json.Unmarshal(data, &resp); err != nil {
		return Event{}, fmt.Errorf("failed to decode ticker frame: %w", err)
	}

	price, err := strconv.ParseFloat(resp.LastPrice, 64)
	if err != nil {
		return Event{}, fmt.Errorf("invalid ticker price %q: %w", resp.LastPrice, err)
	}
	change, err := strconv.ParseFloat(resp.PriceChangePercent, 64)
	if err != nil {
		return Event{}, fmt.Errorf("invalid ticker change %q: %w", resp.PriceChangePercent, err)
	}
	volume, err := strconv.ParseFloat(resp.Volume, 64)
	if err != nil {
		return Event{}, fmt.Errorf("invalid ticker volume %q: %w", resp.Volume, err)
	}

	return Event{Kind: KindTicker, Ticker: &models.Ticker{
		Symbol:             resp.Symbol,
		Price:              price,
		PriceChangePercent: change,
		Volume:             volume,
		At:                 time.UnixMilli(resp.Time),
	}}, nil
}

func parseDepth(data []byte) (Event, error) {
	var resp models.BinanceDepthResp
	if err := json.Unmarshal(data, &resp); err != nil {
		return Event{}, fmt.Errorf("failed to decode depth frame: %w", err)
	}

	return Event{Kind: KindDepth, Depth: &models.DepthDiff{
		Symbol:        resp.Symbol,
		FirstUpdateID: resp.FirstUpdateID,
		FinalUpdateID: resp.FinalUpdateID,
		Bids:          models.ParseLevels(resp.Bids),
		Asks:          models.ParseLevels(resp.Asks),
		EventTime:     resp.Time,
	}}, nil
}

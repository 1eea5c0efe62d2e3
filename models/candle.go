package models

import "time"

// Candle is one OHLCV bar for a single interval bucket. While the interval is
// still open the most recent candle is mutated in place as trades accumulate;
// once Final is set the bar is immutable.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Final     bool      `json:"final"`
}

// Ticker is the latest observed 24h rolling summary for a symbol. The core
// keeps no ticker history; each frame replaces the previous one.
type Ticker struct {
	Symbol             string    `json:"symbol"`
	Price              float64   `json:"price"`
	PriceChangePercent float64   `json:"price_change_percent"`
	Volume             float64   `json:"volume"`
	At                 time.Time `json:"at"`
}

// BinanceKlineResp mirrors the kline websocket event structure.
type BinanceKlineResp struct {
	Event  string `json:"e"`
	Time   int64  `json:"E"`
	Symbol string `json:"s"`
	Kline  struct {
		StartTime int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		IsFinal   bool   `json:"x"`
	} `json:"k"`
}

// BinanceTickerResp mirrors the 24h rolling ticker websocket event structure.
type BinanceTickerResp struct {
	Event              string `json:"e"`
	Time               int64  `json:"E"`
	Symbol             string `json:"s"`
	LastPrice          string `json:"c"`
	PriceChangePercent string `json:"P"`
	Volume             string `json:"v"`
}

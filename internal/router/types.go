package router

import (
	"github.com/shopspring/decimal"

	"github.com/rickgao/marketstream/internal/model"
)

// Frame types carried in the "type" discriminator.
const (
	TypeTrade       = "trade"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeError       = "error"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// FrameKind classifies a decoded inbound frame.
type FrameKind int

const (
	KindUnknown FrameKind = iota
	KindTrade
	KindPing
	KindError
)

// Frame is a decoded inbound provider frame.
type Frame struct {
	Kind FrameKind

	// Trade frames: one coalesced event per symbol, in first-appearance order.
	Trades []model.TradeEvent
	Ticks  int // Raw tick count before coalescing

	// Error frames
	Code    int
	Message string

	// Type is the raw discriminator, kept for logging unknown frames.
	Type string
}

// RateLimited reports whether an error frame signals provider rate limiting.
func (f Frame) RateLimited() bool {
	return f.Kind == KindError && isRateLimitMessage(f.Code, f.Message)
}

// Command is an outbound subscribe/unsubscribe/pong frame.
type Command struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol,omitempty"`
}

// Tick is a single provider trade print.
type Tick struct {
	Symbol    string          `json:"s"`
	Price     decimal.Decimal `json:"p"`
	Volume    decimal.Decimal `json:"v"`
	Timestamp int64           `json:"t"` // ms since epoch
}

// Wire types for JSON parsing

// messageEnvelope is used for fast type extraction.
type messageEnvelope struct {
	Type string `json:"type"`
}

// tradeWire is the wire format for trade frames.
type tradeWire struct {
	Type string `json:"type"`
	Data []Tick `json:"data"`
}

// errorWire is the wire format for error frames.
type errorWire struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
	Code int    `json:"code,omitempty"`
}

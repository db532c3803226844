package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Market Data Types
// -----------------------------------------------------------------------------

// TradeEvent is one coalesced trade update for a symbol. Events are created per
// inbound frame, delivered to listeners, then discarded.
type TradeEvent struct {
	Symbol          string          // Canonical streaming symbol
	Price           decimal.Decimal // Last traded price in the frame
	Volume          decimal.Decimal // Summed volume of all ticks in the frame
	TimestampMillis int64           // Latest tick timestamp (ms since epoch)
}

// Time returns the event timestamp as a time.Time.
func (e TradeEvent) Time() time.Time {
	return time.UnixMilli(e.TimestampMillis)
}

// Quote is a polled price snapshot for a symbol.
type Quote struct {
	Symbol          string
	Price           decimal.Decimal
	Volume          decimal.Decimal // Zero when the source has no volume
	TimestampMillis int64
}

// -----------------------------------------------------------------------------
// Subscription Types
// -----------------------------------------------------------------------------

// SubscriptionState is the provider-side state of a symbol.
type SubscriptionState int

const (
	StateUnsubscribed SubscriptionState = iota
	StatePending                        // Waiting for a subscribe frame to go out
	StateActive                         // Subscribe frame sent on the open connection
)

// MarshalText encodes the state by name.
func (s SubscriptionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s SubscriptionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	default:
		return "unsubscribed"
	}
}

// Status is a connection status notification.
type Status struct {
	Connected bool `json:"connected"`
}

// TradeHandler receives coalesced trade events for one symbol.
type TradeHandler func(TradeEvent)

// StatusHandler receives connection status transitions.
type StatusHandler func(Status)

// Diagnostics is a read-only snapshot of a feed's internal state.
type Diagnostics struct {
	Connected           bool      `json:"connected"`
	State               string    `json:"state"`
	SessionID           string    `json:"session_id,omitempty"`
	ActiveSymbols       []string  `json:"active_symbols"`
	PendingSymbols      []string  `json:"pending_symbols"`
	ListenerCount       int       `json:"listener_count"`
	StatusListenerCount int       `json:"status_listener_count"`
	ReconnectAttempts   int       `json:"reconnect_attempts"`
	RateLimited         bool      `json:"rate_limited"`
	CooldownUntil       time.Time `json:"cooldown_until,omitempty"`
	FramesSent          int64     `json:"frames_sent"`
	FramesReceived      int64     `json:"frames_received"`
	ParseErrors         int64     `json:"parse_errors"`

	// Subscriptions holds every symbol with listeners or provider-side state.
	Subscriptions map[string]SubscriptionState `json:"subscriptions,omitempty"`

	// Delivery goroutine
	Deliveries        int64 `json:"deliveries"`
	ListenerPanics    int64 `json:"listener_panics"`
	DeliveryBacklog   int   `json:"delivery_backlog"`
	DeliveryHighWater int   `json:"delivery_high_water"`
}

// SymbolState reports the provider-side state of symbol.
func (d Diagnostics) SymbolState(symbol string) SubscriptionState {
	return d.Subscriptions[symbol]
}

// Feed is the capability every market-data source exposes to the UI layer.
// None of the methods return errors: failures surface through status
// notifications and Diagnostics.
type Feed interface {
	// Subscribe registers onTrade for symbol under consumerID. Registering the
	// same (symbol, consumerID) again replaces the callback.
	Subscribe(symbol, consumerID string, onTrade TradeHandler)

	// Unsubscribe removes the listener. Unknown pairs are ignored.
	Unsubscribe(symbol, consumerID string)

	// OnConnectionStatus registers a connection status observer.
	OnConnectionStatus(consumerID string, onStatus StatusHandler)

	// OffConnectionStatus removes a connection status observer.
	OffConnectionStatus(consumerID string)

	// Diagnostics returns a snapshot for debugging. It has no side effects.
	Diagnostics() Diagnostics
}

package connection

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/marketstream/internal/auth"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no frames)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrRateLimited     = errors.New("provider rate limited")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes
	ReceivedAt time.Time // Local timestamp when the frame was read
}

// DialFunc creates a client and connects it. Only the manager calls it.
type DialFunc func(ctx context.Context) (Client, error)

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string            // WebSocket URL (e.g., wss://ws.finnhub.io)
	Credentials      *auth.Credentials // nil = no auth
	HandshakeTimeout time.Duration     // Dial + upgrade deadline
	PingInterval     time.Duration     // How often we send websocket pings
	PingTimeout      time.Duration     // Max time without any inbound frame before considering the connection stale
	WriteTimeout     time.Duration     // Write deadline for sends
	BufferSize       int               // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       10000,
	}
}

// ManagerConfig configures the subscription manager.
type ManagerConfig struct {
	ReconnectBaseDelay time.Duration // Backoff delay before the first reconnect attempt
	ReconnectMaxDelay  time.Duration // Backoff cap
	RateLimitCooldown  time.Duration // Fixed pause after a provider rate-limit signal; must exceed ReconnectMaxDelay
	SubscribeSpacing   time.Duration // Minimum gap between subscribe/unsubscribe frames
	ConnectTimeout     time.Duration // Deadline for a single dial attempt
	InboxSize          int           // Coordinator inbox buffer
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		RateLimitCooldown:  60 * time.Second,
		SubscribeSpacing:   250 * time.Millisecond,
		ConnectTimeout:     15 * time.Second,
		InboxSize:          1024,
	}
}

// withDefaults fills zero fields from DefaultManagerConfig.
func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = d.ReconnectMaxDelay
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		c.ReconnectMaxDelay = c.ReconnectBaseDelay
	}
	if c.RateLimitCooldown <= c.ReconnectMaxDelay {
		c.RateLimitCooldown = 2 * c.ReconnectMaxDelay
	}
	if c.SubscribeSpacing <= 0 {
		c.SubscribeSpacing = d.SubscribeSpacing
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	return c
}

// ConnState is the reconnection controller state.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rickgao/marketstream/internal/model"
)

// ErrEmptyFrame is returned when a frame has no payload.
var ErrEmptyFrame = errors.New("empty frame")

// ParseFrame decodes a raw provider frame and routes it by type. Trade frames
// are coalesced per symbol before being returned.
func ParseFrame(data []byte) (Frame, error) {
	msgType, err := extractType(data)
	if err != nil {
		return Frame{}, err
	}

	switch msgType {
	case TypeTrade:
		var wire tradeWire
		if err := json.Unmarshal(data, &wire); err != nil {
			return Frame{}, fmt.Errorf("parse trade frame: %w", err)
		}
		return Frame{
			Kind:   KindTrade,
			Type:   msgType,
			Trades: Coalesce(wire.Data),
			Ticks:  len(wire.Data),
		}, nil

	case TypePing:
		return Frame{Kind: KindPing, Type: msgType}, nil

	case TypeError:
		var wire errorWire
		if err := json.Unmarshal(data, &wire); err != nil {
			return Frame{}, fmt.Errorf("parse error frame: %w", err)
		}
		return Frame{
			Kind:    KindError,
			Type:    msgType,
			Code:    wire.Code,
			Message: wire.Msg,
		}, nil
	}

	return Frame{Kind: KindUnknown, Type: msgType}, nil
}

// extractType reads only the "type" discriminator.
func extractType(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFrame
	}
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("extract frame type: %w", err)
	}
	return env.Type, nil
}

// Coalesce groups ticks by symbol. For each symbol the price is the last
// tick's price in arrival order, the volume is the sum of all volumes and the
// timestamp is the maximum. Ticks without a symbol are dropped.
func Coalesce(ticks []Tick) []model.TradeEvent {
	if len(ticks) == 0 {
		return nil
	}

	index := make(map[string]int, len(ticks))
	events := make([]model.TradeEvent, 0, len(ticks))

	for _, tick := range ticks {
		if tick.Symbol == "" {
			continue
		}
		i, ok := index[tick.Symbol]
		if !ok {
			index[tick.Symbol] = len(events)
			events = append(events, model.TradeEvent{
				Symbol:          tick.Symbol,
				Price:           tick.Price,
				Volume:          tick.Volume,
				TimestampMillis: tick.Timestamp,
			})
			continue
		}

		ev := &events[i]
		ev.Price = tick.Price
		ev.Volume = ev.Volume.Add(tick.Volume)
		if tick.Timestamp > ev.TimestampMillis {
			ev.TimestampMillis = tick.Timestamp
		}
	}

	return events
}

// ParseCommand decodes an outbound command frame. Used by providers that
// interpret subscribe frames locally.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("parse command: %w", err)
	}
	switch cmd.Type {
	case TypeSubscribe, TypeUnsubscribe:
		if cmd.Symbol == "" {
			return Command{}, fmt.Errorf("%s command without symbol", cmd.Type)
		}
	case TypePong:
	default:
		return Command{}, fmt.Errorf("unknown command type %q", cmd.Type)
	}
	return cmd, nil
}

// EncodeSubscribe returns a subscribe frame for symbol.
func EncodeSubscribe(symbol string) []byte {
	return encodeCommand(Command{Type: TypeSubscribe, Symbol: symbol})
}

// EncodeUnsubscribe returns an unsubscribe frame for symbol.
func EncodeUnsubscribe(symbol string) []byte {
	return encodeCommand(Command{Type: TypeUnsubscribe, Symbol: symbol})
}

// EncodePong returns the keep-alive reply frame.
func EncodePong() []byte {
	return encodeCommand(Command{Type: TypePong})
}

func encodeCommand(cmd Command) []byte {
	data, _ := json.Marshal(cmd)
	return data
}

// EncodeTrades returns a trade frame carrying quotes as ticks.
func EncodeTrades(quotes []model.Quote) []byte {
	wire := tradeWire{Type: TypeTrade, Data: make([]Tick, 0, len(quotes))}
	for _, q := range quotes {
		wire.Data = append(wire.Data, Tick{
			Symbol:    q.Symbol,
			Price:     q.Price,
			Volume:    q.Volume,
			Timestamp: q.TimestampMillis,
		})
	}
	data, _ := json.Marshal(wire)
	return data
}

// EncodeError returns an error frame.
func EncodeError(code int, msg string) []byte {
	data, _ := json.Marshal(errorWire{Type: TypeError, Code: code, Msg: msg})
	return data
}

// isRateLimitMessage classifies provider error frames.
func isRateLimitMessage(code int, msg string) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "limit exceeded")
}

package connection

import "github.com/rickgao/marketstream/internal/model"

type tradeListener struct {
	id string
	fn model.TradeHandler
}

// listenerRegistry maps symbol to its listeners in registration order.
// Only the coordinator goroutine touches it.
type listenerRegistry struct {
	bySymbol map[string][]tradeListener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{bySymbol: make(map[string][]tradeListener)}
}

// add registers fn for (symbol, id). Re-adding an id replaces its callback in
// place. It reports whether this is the symbol's first listener.
func (r *listenerRegistry) add(symbol, id string, fn model.TradeHandler) bool {
	listeners, exists := r.bySymbol[symbol]
	for i := range listeners {
		if listeners[i].id == id {
			listeners[i].fn = fn
			return false
		}
	}
	r.bySymbol[symbol] = append(listeners, tradeListener{id: id, fn: fn})
	return !exists
}

// remove drops (symbol, id). It reports whether a listener was removed and
// whether the symbol has no listeners left.
func (r *listenerRegistry) remove(symbol, id string) (removed, last bool) {
	listeners, ok := r.bySymbol[symbol]
	if !ok {
		return false, false
	}
	for i := range listeners {
		if listeners[i].id != id {
			continue
		}
		listeners = append(listeners[:i:i], listeners[i+1:]...)
		if len(listeners) == 0 {
			delete(r.bySymbol, symbol)
			return true, true
		}
		r.bySymbol[symbol] = listeners
		return true, false
	}
	return false, false
}

// handlers returns a snapshot of symbol's callbacks in registration order.
func (r *listenerRegistry) handlers(symbol string) []model.TradeHandler {
	listeners := r.bySymbol[symbol]
	if len(listeners) == 0 {
		return nil
	}
	out := make([]model.TradeHandler, len(listeners))
	for i, l := range listeners {
		out[i] = l.fn
	}
	return out
}

// symbols returns every symbol with at least one listener.
func (r *listenerRegistry) symbols() []string {
	out := make([]string, 0, len(r.bySymbol))
	for symbol := range r.bySymbol {
		out = append(out, symbol)
	}
	return out
}

// count returns the total number of (symbol, id) registrations.
func (r *listenerRegistry) count() int {
	n := 0
	for _, listeners := range r.bySymbol {
		n += len(listeners)
	}
	return n
}

func (r *listenerRegistry) empty() bool {
	return len(r.bySymbol) == 0
}


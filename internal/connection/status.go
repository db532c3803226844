package connection

import "github.com/rickgao/marketstream/internal/model"

type statusListener struct {
	id string
	fn model.StatusHandler
}

// statusBroadcaster tracks connection status observers and the last status
// they were told about.
type statusBroadcaster struct {
	listeners []statusListener
	current   model.Status
}

// add registers or replaces the observer for id.
func (b *statusBroadcaster) add(id string, fn model.StatusHandler) {
	for i := range b.listeners {
		if b.listeners[i].id == id {
			b.listeners[i].fn = fn
			return
		}
	}
	b.listeners = append(b.listeners, statusListener{id: id, fn: fn})
}

// remove is idempotent.
func (b *statusBroadcaster) remove(id string) {
	for i := range b.listeners {
		if b.listeners[i].id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

// set records the connection status and reports whether it changed.
func (b *statusBroadcaster) set(connected bool) bool {
	if b.current.Connected == connected {
		return false
	}
	b.current = model.Status{Connected: connected}
	return true
}

func (b *statusBroadcaster) handlers() []model.StatusHandler {
	if len(b.listeners) == 0 {
		return nil
	}
	out := make([]model.StatusHandler, len(b.listeners))
	for i, l := range b.listeners {
		out[i] = l.fn
	}
	return out
}

func (b *statusBroadcaster) count() int {
	return len(b.listeners)
}

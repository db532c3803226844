package connection

import (
	"slices"
	"sort"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/router"
)

// opKind is a pending protocol operation for a symbol.
type opKind int

const (
	opSubscribe opKind = iota + 1
	opUnsubscribe
)

func (o opKind) String() string {
	if o == opSubscribe {
		return router.TypeSubscribe
	}
	return router.TypeUnsubscribe
}

// pendingOp is the head of the queue.
type pendingOp struct {
	symbol string
	op     opKind
}

// frame encodes the protocol frame for the op.
func (p pendingOp) frame() []byte {
	if p.op == opSubscribe {
		return router.EncodeSubscribe(p.symbol)
	}
	return router.EncodeUnsubscribe(p.symbol)
}

// subscriptionQueue holds at most one pending op per symbol, in FIFO order,
// and the set of symbols whose subscribe frame has been sent on the current
// connection. Only the coordinator goroutine touches it.
type subscriptionQueue struct {
	order   []string
	pending map[string]opKind
	active  map[string]struct{}
}

func newSubscriptionQueue() *subscriptionQueue {
	return &subscriptionQueue{
		pending: make(map[string]opKind),
		active:  make(map[string]struct{}),
	}
}

// enqueueSubscribe records interest in symbol. It reports whether a frame is
// now queued.
func (q *subscriptionQueue) enqueueSubscribe(symbol string) bool {
	switch q.pending[symbol] {
	case opSubscribe:
		return false
	case opUnsubscribe:
		// Still active on the provider; dropping the unsubscribe is enough.
		q.removePending(symbol)
		return false
	}

	if _, ok := q.active[symbol]; ok {
		return false
	}

	q.pending[symbol] = opSubscribe
	q.order = append(q.order, symbol)
	return true
}

// enqueueUnsubscribe withdraws interest in symbol. A pending subscribe is
// cancelled outright so no frame is ever sent for it.
func (q *subscriptionQueue) enqueueUnsubscribe(symbol string) bool {
	switch q.pending[symbol] {
	case opUnsubscribe:
		return false
	case opSubscribe:
		q.removePending(symbol)
		return false
	}

	if _, ok := q.active[symbol]; !ok {
		return false
	}

	q.pending[symbol] = opUnsubscribe
	q.order = append(q.order, symbol)
	return true
}

// peek returns the head of the queue.
func (q *subscriptionQueue) peek() (pendingOp, bool) {
	if len(q.order) == 0 {
		return pendingOp{}, false
	}
	symbol := q.order[0]
	return pendingOp{symbol: symbol, op: q.pending[symbol]}, true
}

// commit removes the head after its frame was sent and updates the active set.
func (q *subscriptionQueue) commit(p pendingOp) {
	if len(q.order) == 0 || q.order[0] != p.symbol {
		return
	}
	q.order = q.order[1:]
	delete(q.pending, p.symbol)

	if p.op == opSubscribe {
		q.active[p.symbol] = struct{}{}
	} else {
		delete(q.active, p.symbol)
	}
}

// requeueActive is called when the connection drops. Every active symbol goes
// back to pending subscribe ahead of already-pending subscribes, and pending
// unsubscribes are dropped since the provider no longer tracks them.
func (q *subscriptionQueue) requeueActive() int {
	for symbol, op := range q.pending {
		if op == opUnsubscribe {
			delete(q.active, symbol)
		}
	}

	replay := make([]string, 0, len(q.active)+len(q.order))
	for symbol := range q.active {
		replay = append(replay, symbol)
	}
	sort.Strings(replay)
	n := len(replay)

	for _, symbol := range q.order {
		if q.pending[symbol] == opSubscribe {
			replay = append(replay, symbol)
		}
	}

	q.order = replay
	q.pending = make(map[string]opKind, len(replay))
	for _, symbol := range replay {
		q.pending[symbol] = opSubscribe
	}
	q.active = make(map[string]struct{})

	return n
}

func (q *subscriptionQueue) removePending(symbol string) {
	delete(q.pending, symbol)
	if i := slices.Index(q.order, symbol); i >= 0 {
		q.order = slices.Delete(q.order, i, i+1)
	}
}

func (q *subscriptionQueue) len() int {
	return len(q.order)
}

// state reports the provider-side state of symbol. A symbol with a queued
// unsubscribe is still active until that frame goes out.
func (q *subscriptionQueue) state(symbol string) model.SubscriptionState {
	if _, ok := q.active[symbol]; ok {
		return model.StateActive
	}
	if q.pending[symbol] == opSubscribe {
		return model.StatePending
	}
	return model.StateUnsubscribed
}

func (q *subscriptionQueue) activeSymbols() []string {
	out := make([]string, 0, len(q.active))
	for symbol := range q.active {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func (q *subscriptionQueue) pendingSymbols() []string {
	out := make([]string, 0, len(q.pending))
	for symbol, op := range q.pending {
		if op == opSubscribe {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out
}

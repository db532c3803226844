package connection

import (
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/router"
)

// delivery is one unit of work for the delivery goroutine: either a trade
// event for a listener snapshot or a status notification.
type delivery struct {
	trade         model.TradeEvent
	tradeHandlers []model.TradeHandler

	status         model.Status
	statusHandlers []model.StatusHandler
}

// dispatcher invokes listener callbacks on a single goroutine, in the order
// deliveries were posted. Callbacks may call back into the manager.
type dispatcher struct {
	buf    *router.GrowableBuffer[delivery]
	logger *slog.Logger
	done   chan struct{}

	delivered atomic.Int64
	panics    atomic.Int64
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	return &dispatcher{
		buf:    router.NewGrowableBuffer[delivery](256),
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (d *dispatcher) postTrade(ev model.TradeEvent, handlers []model.TradeHandler) {
	if len(handlers) == 0 {
		return
	}
	d.buf.Send(delivery{trade: ev, tradeHandlers: handlers})
}

func (d *dispatcher) postStatus(st model.Status, handlers []model.StatusHandler) {
	if len(handlers) == 0 {
		return
	}
	d.buf.Send(delivery{status: st, statusHandlers: handlers})
}

// run delivers until the buffer is closed and drained.
func (d *dispatcher) run() {
	defer close(d.done)

	for {
		item, ok := d.buf.Receive()
		if !ok {
			return
		}
		for _, fn := range item.tradeHandlers {
			d.call(item.trade.Symbol, func() { fn(item.trade) })
		}
		for _, fn := range item.statusHandlers {
			d.call("", func() { fn(item.status) })
		}
	}
}

// call runs fn, isolating the remaining listeners from a panic.
func (d *dispatcher) call(symbol string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("listener panicked",
				"symbol", symbol,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
	d.delivered.Add(1)
}

// fill copies delivery counters and the backlog into d.
func (d *dispatcher) fill(diag *model.Diagnostics) {
	stats := d.buf.Stats()
	diag.Deliveries = d.delivered.Load()
	diag.ListenerPanics = d.panics.Load()
	diag.DeliveryBacklog = stats.Count
	diag.DeliveryHighWater = stats.HighWaterMark
}

// close stops accepting deliveries and waits for queued ones to finish.
func (d *dispatcher) close() {
	d.buf.Close()
	<-d.done
}

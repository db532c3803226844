package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/router"
)

// Manager multiplexes per-symbol trade interest from many consumers onto one
// provider connection.
type Manager interface {
	model.Feed

	// Start launches the coordinator and delivery goroutines.
	Start(ctx context.Context) error

	// Stop closes the connection, cancels timers and waits for in-flight
	// deliveries.
	Stop(ctx context.Context) error
}

// ManagerOption configures optional manager dependencies.
type ManagerOption func(*manager)

// WithClock replaces the wall clock used for backoff, cooldown and pacing timers.
func WithClock(clk clock.Clock) ManagerOption {
	return func(m *manager) {
		m.clock = clk
	}
}

// manager implements Manager. Every field below the inbox is owned by the
// coordinator goroutine; public methods only post closures to the inbox.
type manager struct {
	cfg    ManagerConfig
	dial   DialFunc
	logger *slog.Logger
	clock  clock.Clock

	inbox   chan func()
	stopped chan struct{}
	started atomic.Bool
	final   atomic.Pointer[model.Diagnostics]

	// Calls made before Start queue here; the coordinator runs them first.
	startMu sync.Mutex
	running bool
	backlog []func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatch *dispatcher

	// Counters
	framesSent     atomic.Int64
	framesReceived atomic.Int64
	parseErrors    atomic.Int64

	// Coordinator-owned state
	state         ConnState
	client        Client
	gen           uint64 // bumps whenever the current connection is replaced or dropped
	sessionID     string
	pumpStop      chan struct{}
	connectCancel context.CancelFunc

	registry *listenerRegistry
	queue    *subscriptionQueue
	status   statusBroadcaster
	recon    *reconnector
	limiter  *rate.Limiter

	retryTimer    *clock.Timer
	cooldownTimer *clock.Timer
	drainTimer    *clock.Timer
}

// NewManager creates a subscription manager. dial is called whenever a new
// connection is needed.
func NewManager(cfg ManagerConfig, dial DialFunc, logger *slog.Logger, opts ...ManagerOption) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	m := &manager{
		cfg:      cfg,
		dial:     dial,
		logger:   logger.With("component", "stream_manager"),
		clock:    clock.New(),
		inbox:    make(chan func(), cfg.InboxSize),
		stopped:  make(chan struct{}),
		registry: newListenerRegistry(),
		queue:    newSubscriptionQueue(),
		limiter:  rate.NewLimiter(rate.Every(cfg.SubscribeSpacing), 1),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.recon = newReconnector(cfg, m.clock)
	m.dispatch = newDispatcher(m.logger)

	return m
}

// Start begins the manager.
func (m *manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("manager already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.startMu.Lock()
	m.running = true
	backlog := m.backlog
	m.backlog = nil
	m.startMu.Unlock()

	go m.dispatch.run()

	m.wg.Add(1)
	go m.run(backlog)

	m.logger.Info("stream manager started",
		"reconnect_base", m.cfg.ReconnectBaseDelay,
		"reconnect_max", m.cfg.ReconnectMaxDelay,
		"cooldown", m.cfg.RateLimitCooldown,
		"subscribe_spacing", m.cfg.SubscribeSpacing,
	)

	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	if !m.started.Load() {
		return nil
	}
	m.logger.Info("stopping stream manager")

	if m.cancel != nil {
		m.cancel()
	}

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.dispatch.close()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, abandoning in-flight deliveries")
		return ctx.Err()
	}

	m.logger.Info("stream manager stopped")
	return nil
}

// Subscribe registers onTrade for symbol under consumerID.
func (m *manager) Subscribe(symbol, consumerID string, onTrade model.TradeHandler) {
	if symbol == "" || consumerID == "" || onTrade == nil {
		m.logger.Warn("ignoring invalid subscribe",
			"symbol", symbol,
			"consumer", consumerID,
			"has_handler", onTrade != nil,
		)
		return
	}

	m.post(func() {
		if m.registry.add(symbol, consumerID, onTrade) {
			m.queue.enqueueSubscribe(symbol)
			m.logger.Debug("first listener", "symbol", symbol, "consumer", consumerID)
		}
		m.reconcile()
	})
}

// Unsubscribe removes a listener. Unknown pairs are ignored.
func (m *manager) Unsubscribe(symbol, consumerID string) {
	m.post(func() {
		removed, last := m.registry.remove(symbol, consumerID)
		if !removed {
			return
		}
		if last {
			m.queue.enqueueUnsubscribe(symbol)
			m.logger.Debug("last listener removed", "symbol", symbol, "consumer", consumerID)
		}
		m.reconcile()
	})
}

// OnConnectionStatus registers a status observer. It immediately receives the
// current status.
func (m *manager) OnConnectionStatus(consumerID string, onStatus model.StatusHandler) {
	if consumerID == "" || onStatus == nil {
		m.logger.Warn("ignoring invalid status listener", "consumer", consumerID)
		return
	}

	m.post(func() {
		m.status.add(consumerID, onStatus)
		m.dispatch.postStatus(m.status.current, []model.StatusHandler{onStatus})
	})
}

// OffConnectionStatus removes a status observer.
func (m *manager) OffConnectionStatus(consumerID string) {
	m.post(func() {
		m.status.remove(consumerID)
	})
}

// Diagnostics returns a snapshot of the manager state.
func (m *manager) Diagnostics() model.Diagnostics {
	if !m.started.Load() {
		return model.Diagnostics{State: StateIdle.String()}
	}

	reply := make(chan model.Diagnostics, 1)
	if !m.post(func() { reply <- m.snapshot() }) {
		return m.finalDiagnostics()
	}

	select {
	case d := <-reply:
		return d
	case <-m.stopped:
		return m.finalDiagnostics()
	}
}

func (m *manager) finalDiagnostics() model.Diagnostics {
	if d := m.final.Load(); d != nil {
		return *d
	}
	return model.Diagnostics{State: StateClosed.String()}
}

// post hands fn to the coordinator. Before Start it queues fn without
// blocking. It reports false once the manager has stopped.
func (m *manager) post(fn func()) bool {
	m.startMu.Lock()
	if !m.running {
		m.backlog = append(m.backlog, fn)
		m.startMu.Unlock()
		return true
	}
	m.startMu.Unlock()

	select {
	case <-m.stopped:
		return false
	default:
	}

	select {
	case m.inbox <- fn:
		return true
	case <-m.stopped:
		return false
	}
}

// run is the coordinator loop. backlog holds calls made before Start.
func (m *manager) run(backlog []func()) {
	defer m.wg.Done()
	defer close(m.stopped)

	for _, fn := range backlog {
		fn()
	}

	for {
		select {
		case fn := <-m.inbox:
			fn()
		case <-m.ctx.Done():
			m.shutdown()
			return
		}
	}
}

func (m *manager) shutdown() {
	stopTimer(&m.retryTimer)
	stopTimer(&m.cooldownTimer)
	stopTimer(&m.drainTimer)

	if m.connectCancel != nil {
		m.connectCancel()
		m.connectCancel = nil
	}
	m.releaseClient()
	m.state = StateClosed
	m.setStatus(false)

	d := m.snapshot()
	m.final.Store(&d)
}

// reconcile moves the connection toward what the registry and queue need.
func (m *manager) reconcile() {
	wanted := m.wanted()

	switch m.state {
	case StateConnecting:
		return

	case StateConnected:
		if !wanted {
			m.logger.Info("no listeners left, closing idle connection", "session", m.sessionID)
			m.releaseClient()
			m.state = StateIdle
			m.setStatus(false)
			return
		}
		m.drain()

	case StateIdle, StateClosed:
		if !wanted {
			stopTimer(&m.retryTimer)
			m.state = StateIdle
			return
		}
		if m.cooldownTimer != nil || m.retryTimer != nil {
			return
		}
		m.connect()
	}
}

// connect starts a dial in the background; the result comes back through the inbox.
func (m *manager) connect() {
	m.state = StateConnecting
	m.gen++
	gen := m.gen

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ConnectTimeout)
	m.connectCancel = cancel

	m.logger.Debug("connecting", "attempt", m.recon.attempts)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		c, err := m.dial(ctx)
		if !m.post(func() { m.handleDialResult(gen, c, err) }) && c != nil {
			c.Close()
		}
	}()
}

func (m *manager) handleDialResult(gen uint64, c Client, err error) {
	if gen != m.gen || m.state != StateConnecting {
		if c != nil {
			go c.Close()
		}
		return
	}
	m.connectCancel = nil

	if err != nil {
		m.state = StateClosed
		if errors.Is(err, ErrRateLimited) {
			m.enterCooldown("handshake rejected")
			return
		}
		m.logger.Warn("connect failed", "error", err, "attempt", m.recon.attempts)
		m.scheduleReconnect()
		return
	}

	m.recon.reset()
	if !m.wanted() {
		// Every listener left while the dial was in flight.
		m.logger.Debug("nothing to subscribe, closing new connection")
		go c.Close()
		m.state = StateIdle
		return
	}

	m.client = c
	m.state = StateConnected
	m.sessionID = uuid.NewString()

	stop := make(chan struct{})
	m.pumpStop = stop
	m.wg.Add(1)
	go m.pump(gen, c, stop)

	m.logger.Info("connected",
		"session", m.sessionID,
		"pending", m.queue.len(),
	)
	m.setStatus(true)
	m.reconcile()
}

// pump forwards one connection's frames and its terminal error to the coordinator.
func (m *manager) pump(gen uint64, c Client, stop <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-stop:
			return
		case msg, ok := <-c.Messages():
			if !ok {
				m.post(func() { m.handleConnError(gen, ErrNotConnected) })
				return
			}
			if !m.post(func() { m.handleMessage(gen, msg) }) {
				return
			}
		case err := <-c.Errors():
			m.post(func() { m.handleConnError(gen, err) })
			return
		}
	}
}

func (m *manager) handleConnError(gen uint64, err error) {
	if gen != m.gen || m.state != StateConnected {
		return
	}

	m.logger.Warn("connection lost", "session", m.sessionID, "error", err)
	m.releaseClient()
	m.state = StateClosed
	m.setStatus(false)

	if errors.Is(err, ErrRateLimited) {
		m.enterCooldown("connection rate limited")
		return
	}
	m.scheduleReconnect()
}

func (m *manager) handleMessage(gen uint64, msg TimestampedMessage) {
	if gen != m.gen || m.state != StateConnected {
		return
	}
	m.framesReceived.Add(1)

	frame, err := router.ParseFrame(msg.Data)
	if err != nil {
		m.parseErrors.Add(1)
		m.logger.Warn("dropping malformed frame", "error", err, "bytes", len(msg.Data))
		return
	}

	switch frame.Kind {
	case router.KindTrade:
		for _, ev := range frame.Trades {
			m.dispatch.postTrade(ev, m.registry.handlers(ev.Symbol))
		}

	case router.KindPing:
		if err := m.client.Send(router.EncodePong()); err != nil {
			m.logger.Debug("failed to answer ping", "error", err)
		}

	case router.KindError:
		if frame.RateLimited() {
			m.logger.Warn("provider rate limit", "code", frame.Code, "message", frame.Message)
			m.releaseClient()
			m.state = StateClosed
			m.setStatus(false)
			m.enterCooldown(frame.Message)
			return
		}
		m.logger.Warn("provider error", "code", frame.Code, "message", frame.Message)

	default:
		m.logger.Debug("ignoring frame", "type", frame.Type)
	}
}

// releaseClient drops the current connection. Active symbols go back to the
// queue so they are replayed on the next connection.
func (m *manager) releaseClient() {
	stopTimer(&m.drainTimer)

	if m.pumpStop != nil {
		close(m.pumpStop)
		m.pumpStop = nil
	}
	if m.client != nil {
		c := m.client
		go func() {
			if err := c.Close(); err != nil {
				m.logger.Debug("close connection", "error", err)
			}
		}()
		m.client = nil
	}
	m.gen++
	m.sessionID = ""

	if n := m.queue.requeueActive(); n > 0 {
		m.logger.Info("requeued active symbols for replay", "count", n)
	}
}

func (m *manager) scheduleReconnect() {
	if m.retryTimer != nil || m.cooldownTimer != nil {
		return
	}
	if !m.wanted() {
		m.state = StateIdle
		return
	}

	delay := m.recon.next()
	m.logger.Info("scheduling reconnect", "delay", delay, "attempt", m.recon.attempts)

	var t *clock.Timer
	t = m.clock.AfterFunc(delay, func() {
		m.post(func() {
			if m.retryTimer != t {
				return
			}
			m.retryTimer = nil
			m.reconcile()
		})
	})
	m.retryTimer = t
}

// enterCooldown suppresses all connects and protocol frames for the cooldown
// window. The caller has already dropped the connection.
func (m *manager) enterCooldown(reason string) {
	stopTimer(&m.retryTimer)
	stopTimer(&m.cooldownTimer)

	until := m.recon.startCooldown(m.clock.Now())
	m.logger.Warn("rate limited, cooling down",
		"reason", reason,
		"until", until,
		"cooldown", m.cfg.RateLimitCooldown,
	)

	var t *clock.Timer
	t = m.clock.AfterFunc(m.cfg.RateLimitCooldown, func() {
		m.post(func() {
			if m.cooldownTimer != t {
				return
			}
			m.cooldownTimer = nil
			m.recon.endCooldown()
			m.logger.Info("cooldown elapsed")
			m.reconcile()
		})
	})
	m.cooldownTimer = t
}

// drain sends queued frames, one per SubscribeSpacing.
func (m *manager) drain() {
	if m.state != StateConnected || m.cooldownTimer != nil || m.drainTimer != nil {
		return
	}

	for {
		p, ok := m.queue.peek()
		if !ok {
			m.reconcileIdle()
			return
		}

		now := m.clock.Now()
		r := m.limiter.ReserveN(now, 1)
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			m.scheduleDrain(delay)
			return
		}

		if err := m.client.Send(p.frame()); err != nil {
			m.logger.Warn("send failed, will retry",
				"op", p.op.String(),
				"symbol", p.symbol,
				"error", err,
			)
			m.scheduleDrain(m.cfg.SubscribeSpacing)
			return
		}

		m.framesSent.Add(1)
		m.queue.commit(p)
		m.logger.Debug("sent", "op", p.op.String(), "symbol", p.symbol, "queued", m.queue.len())
	}
}

// reconcileIdle closes the connection once the queue drained and nobody listens.
func (m *manager) reconcileIdle() {
	if !m.wanted() {
		m.reconcile()
	}
}

// wanted reports whether anyone listens or a frame is still queued.
func (m *manager) wanted() bool {
	return !m.registry.empty() || m.queue.len() > 0
}

func (m *manager) scheduleDrain(delay time.Duration) {
	var t *clock.Timer
	t = m.clock.AfterFunc(delay, func() {
		m.post(func() {
			if m.drainTimer != t {
				return
			}
			m.drainTimer = nil
			m.reconcile()
		})
	})
	m.drainTimer = t
}

// setStatus broadcasts real transitions only.
func (m *manager) setStatus(connected bool) {
	if !m.status.set(connected) {
		return
	}
	m.dispatch.postStatus(m.status.current, m.status.handlers())
}

func (m *manager) snapshot() model.Diagnostics {
	d := model.Diagnostics{
		Connected:           m.state == StateConnected,
		State:               m.state.String(),
		SessionID:           m.sessionID,
		ActiveSymbols:       m.queue.activeSymbols(),
		PendingSymbols:      m.queue.pendingSymbols(),
		ListenerCount:       m.registry.count(),
		StatusListenerCount: m.status.count(),
		ReconnectAttempts:   m.recon.attempts,
		RateLimited:         m.cooldownTimer != nil,
		CooldownUntil:       m.recon.cooldownUntil,
		FramesSent:          m.framesSent.Load(),
		FramesReceived:      m.framesReceived.Load(),
		ParseErrors:         m.parseErrors.Load(),
		Subscriptions:       m.subscriptions(),
	}
	m.dispatch.fill(&d)
	return d
}

// subscriptions maps every listened or provider-side symbol to its state.
func (m *manager) subscriptions() map[string]model.SubscriptionState {
	out := make(map[string]model.SubscriptionState)
	for _, symbol := range m.registry.symbols() {
		out[symbol] = m.queue.state(symbol)
	}
	for _, symbol := range m.queue.activeSymbols() {
		out[symbol] = model.StateActive
	}
	return out
}

func stopTimer(t **clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

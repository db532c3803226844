package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketstream/internal/router"
)

// fakeClient records sent frames and lets tests inject inbound frames and errors.
type fakeClient struct {
	mu        sync.Mutex
	sent      []string
	closed    bool
	failSends int

	messages chan TimestampedMessage
	errors   chan error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		messages: make(chan TimestampedMessage, 100),
		errors:   make(chan error, 1),
	}
}

func (c *fakeClient) Connect(ctx context.Context) error { return nil }

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	if c.failSends > 0 {
		c.failSends--
		return errors.New("write: broken pipe")
	}
	c.sent = append(c.sent, string(data))
	return nil
}

func (c *fakeClient) Messages() <-chan TimestampedMessage { return c.messages }
func (c *fakeClient) Errors() <-chan error                { return c.errors }

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeClient) inject(frame string) {
	c.messages <- TimestampedMessage{Data: []byte(frame), ReceivedAt: time.Now()}
}

func (c *fakeClient) fail(err error) {
	c.errors <- err
}

func (c *fakeClient) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out fakeClients, optionally failing dials.
type fakeDialer struct {
	mu      sync.Mutex
	clients []*fakeClient
	errs    []error // consumed one per dial; nil entries succeed
	failAll error
	calls   int
}

func (d *fakeDialer) dial(ctx context.Context) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	if d.failAll != nil {
		return nil, d.failAll
	}
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	c := newFakeClient()
	d.clients = append(d.clients, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) client(i int) *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.clients) {
		return nil
	}
	return d.clients[i]
}

// allFrames returns every frame sent on every connection, in dial order.
func (d *fakeDialer) allFrames() []string {
	d.mu.Lock()
	clients := append([]*fakeClient(nil), d.clients...)
	d.mu.Unlock()

	var out []string
	for _, c := range clients {
		out = append(out, c.frames()...)
	}
	return out
}

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  8 * time.Second,
		RateLimitCooldown:  60 * time.Second,
		SubscribeSpacing:   250 * time.Millisecond,
		ConnectTimeout:     5 * time.Second,
		InboxSize:          64,
	}
}

type testHarness struct {
	m      Manager
	clock  *clock.Mock
	dialer *fakeDialer
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		clock:  clock.NewMock(),
		dialer: &fakeDialer{},
	}
	h.m = NewManager(testManagerConfig(), h.dialer.dial, nil, WithClock(h.clock))
	require.NoError(t, h.m.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.m.Stop(ctx)
	})
	return h
}

// sync waits until the coordinator has processed everything posted so far.
func (h *testHarness) sync() {
	h.m.Diagnostics()
}

// advance moves the mock clock and lets fired timers post their continuations.
func (h *testHarness) advance(d time.Duration) {
	h.sync()
	h.clock.Add(d)
}

// waitClient waits for the i-th successful dial.
func (h *testHarness) waitClient(t *testing.T, i int) *fakeClient {
	t.Helper()
	var c *fakeClient
	require.Eventually(t, func() bool {
		c = h.dialer.client(i)
		return c != nil
	}, time.Second, 5*time.Millisecond, "client %d never dialed", i)
	return c
}

// waitFrames waits until c has sent exactly want.
func waitFrames(t *testing.T, h *testHarness, c *fakeClient, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.frames()) >= len(want)
	}, time.Second, 5*time.Millisecond, "frames: got %v, want %v", c.frames(), want)
	h.sync()
	require.Equal(t, want, c.frames())
}

func sub(symbol string) string   { return string(router.EncodeSubscribe(symbol)) }
func unsub(symbol string) string { return string(router.EncodeUnsubscribe(symbol)) }

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketstream/internal/auth"
	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/connection"
	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/router"
)

func testConfig(kind string) *config.StreamerConfig {
	return &config.StreamerConfig{
		Provider: config.ProviderConfig{Kind: kind, APIKey: "test-key"},
		Stream: config.StreamConfig{
			ReconnectBaseDelay: 10 * time.Millisecond,
			ReconnectMaxDelay:  50 * time.Millisecond,
			RateLimitCooldown:  time.Second,
			SubscribeSpacing:   10 * time.Millisecond,
			ConnectTimeout:     2 * time.Second,
			PingInterval:       time.Second,
			PingTimeout:        5 * time.Second,
			WriteTimeout:       time.Second,
			BufferSize:         64,
		},
		Poller: config.PollerConfig{
			Interval:    time.Second,
			Concurrency: 2,
			Timeout:     time.Second,
		},
		Simulator: config.SimulatorConfig{BasePrice: 50, Volatility: 0.01, MaxVolume: 10, Seed: 7},
	}
}

func stopManager(t *testing.T, m connection.Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
}

func TestBuild_UnknownKind(t *testing.T) {
	_, err := Build(testConfig("iex"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider kind "iex"`)
}

func TestBuild_MissingKey(t *testing.T) {
	for _, kind := range []string{config.ProviderFinnhub, config.ProviderPoll} {
		t.Run(kind, func(t *testing.T) {
			cfg := testConfig(kind)
			cfg.Provider.APIKey = ""
			_, err := Build(cfg, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, auth.ErrNoKey))
		})
	}
}

func TestBuild_SimNeedsNoKey(t *testing.T) {
	cfg := testConfig(config.ProviderSim)
	cfg.Provider.APIKey = ""
	dial, err := Build(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, dial)
}

func TestConfigMapping(t *testing.T) {
	cfg := testConfig(config.ProviderFinnhub)
	cfg.Provider.WSURL = "wss://ws.example.test"

	mc := ManagerConfig(cfg)
	assert.Equal(t, cfg.Stream.ReconnectBaseDelay, mc.ReconnectBaseDelay)
	assert.Equal(t, cfg.Stream.RateLimitCooldown, mc.RateLimitCooldown)
	assert.Equal(t, cfg.Stream.SubscribeSpacing, mc.SubscribeSpacing)

	creds := &auth.Credentials{APIKey: "k"}
	cc := ClientConfig(cfg, creds)
	assert.Equal(t, "wss://ws.example.test", cc.URL)
	assert.Same(t, creds, cc.Credentials)
	assert.Equal(t, cfg.Stream.PingTimeout, cc.PingTimeout)

	pc := PollerConfig(cfg)
	assert.Equal(t, cfg.Poller.Interval, pc.Interval)
	assert.Equal(t, cfg.Stream.BufferSize, pc.BufferSize)

	sc := SimConfig(cfg)
	assert.Equal(t, uint64(7), sc.Seed)
}

// tradeSink collects delivered trades.
type tradeSink struct {
	mu     sync.Mutex
	trades []model.TradeEvent
}

func (s *tradeSink) on(e model.TradeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, e)
}

func (s *tradeSink) all() []model.TradeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TradeEvent(nil), s.trades...)
}

func TestManager_SimProvider(t *testing.T) {
	mock := clock.NewMock()
	cfg := testConfig(config.ProviderSim)

	dial, err := Build(cfg, nil, WithClock(mock))
	require.NoError(t, err)

	m := connection.NewManager(ManagerConfig(cfg), dial, nil)
	require.NoError(t, m.Start(context.Background()))
	defer stopManager(t, m)

	sink := &tradeSink{}
	m.Subscribe("AAPL", "ui-1", sink.on)

	require.Eventually(t, func() bool {
		d := m.Diagnostics()
		return d.Connected && len(d.ActiveSymbols) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mock.Add(cfg.Poller.Interval)
		return len(sink.all()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	e := sink.all()[0]
	assert.Equal(t, "AAPL", e.Symbol)
	assert.True(t, e.Price.IsPositive())
	assert.True(t, e.Volume.IsPositive())
}

// finnhubServer accepts one websocket session and answers each subscribe
// with a single trade for that symbol.
func finnhubServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get(auth.TokenParam) != token {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd router.Command
			if json.Unmarshal(data, &cmd) != nil || cmd.Type != router.TypeSubscribe {
				continue
			}
			frame := `{"type":"trade","data":[` +
				`{"s":"` + cmd.Symbol + `","p":187.5,"v":3,"t":1700000000000},` +
				`{"s":"` + cmd.Symbol + `","p":187.75,"v":2,"t":1700000000005}]}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
	}))
}

func TestManager_FinnhubProvider(t *testing.T) {
	server := finnhubServer(t, "test-key")
	defer server.Close()

	cfg := testConfig(config.ProviderFinnhub)
	cfg.Provider.WSURL = "ws" + strings.TrimPrefix(server.URL, "http")

	dial, err := Build(cfg, nil)
	require.NoError(t, err)

	m := connection.NewManager(ManagerConfig(cfg), dial, nil)
	require.NoError(t, m.Start(context.Background()))
	defer stopManager(t, m)

	var statusMu sync.Mutex
	var statuses []bool
	m.OnConnectionStatus("ops", func(s model.Status) {
		statusMu.Lock()
		defer statusMu.Unlock()
		statuses = append(statuses, s.Connected)
	})

	sink := &tradeSink{}
	m.Subscribe("MSFT", "ui-1", sink.on)

	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	e := sink.all()[0]
	assert.Equal(t, "MSFT", e.Symbol)
	assert.Equal(t, "187.75", e.Price.String())
	assert.Equal(t, "5", e.Volume.String())
	assert.Equal(t, int64(1700000000005), e.TimestampMillis)

	require.Eventually(t, func() bool {
		statusMu.Lock()
		defer statusMu.Unlock()
		return len(statuses) >= 2 && !statuses[0] && statuses[len(statuses)-1]
	}, time.Second, 5*time.Millisecond)
}

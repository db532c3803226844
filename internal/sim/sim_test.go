package sim

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_Deterministic(t *testing.T) {
	cfg := Config{BasePrice: 50, Volatility: 0.01, MaxVolume: 10, Seed: 42}
	a := New(cfg, WithClock(clock.NewMock()))
	b := New(cfg, WithClock(clock.NewMock()))

	for i := 0; i < 20; i++ {
		qa, err := a.GetQuote(context.Background(), "AAPL")
		require.NoError(t, err)
		qb, err := b.GetQuote(context.Background(), "AAPL")
		require.NoError(t, err)

		assert.True(t, qa.Price.Equal(qb.Price), "step %d: %s != %s", i, qa.Price, qb.Price)
		assert.True(t, qa.Volume.Equal(qb.Volume))
	}
}

func TestSource_WalkStaysInBounds(t *testing.T) {
	mock := clock.NewMock()
	s := New(Config{BasePrice: 1, Volatility: 0.5, MaxVolume: 3, Seed: 7}, WithClock(mock))

	var lastTS int64
	for i := 0; i < 500; i++ {
		q, err := s.GetQuote(context.Background(), "PENNY")
		require.NoError(t, err)

		assert.True(t, q.Price.GreaterThanOrEqual(minPrice), "price %s below floor", q.Price)
		assert.True(t, q.Volume.IntPart() >= 1 && q.Volume.IntPart() <= 3, "volume %s", q.Volume)
		assert.Greater(t, q.TimestampMillis, lastTS, "timestamps strictly increase")
		lastTS = q.TimestampMillis
	}
}

func TestSource_StartPriceStablePerSymbol(t *testing.T) {
	a := New(Config{BasePrice: 100, Seed: 1})
	b := New(Config{BasePrice: 100, Seed: 2})

	qa, err := a.GetQuote(context.Background(), "MSFT")
	require.NoError(t, err)
	qb, err := b.GetQuote(context.Background(), "MSFT")
	require.NoError(t, err)

	assert.True(t, qa.Price.Equal(qb.Price), "first quote depends only on symbol")
	assert.True(t, qa.Price.GreaterThanOrEqual(a.startPrice("MSFT")))
	assert.Equal(t, "MSFT", qa.Symbol)
}

func TestSource_UsesClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(time.Hour)
	s := New(DefaultConfig(), WithClock(mock))

	q, err := s.GetQuote(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, mock.Now().UnixMilli(), q.TimestampMillis)
}

func TestSource_ContextCanceled(t *testing.T) {
	s := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetQuote(ctx, "X")
	assert.ErrorIs(t, err, context.Canceled)
}

package connection

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestReconnector_DelaysDoubleUpToCap(t *testing.T) {
	cfg := ManagerConfig{
		ReconnectBaseDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:  5 * time.Second,
		RateLimitCooldown:  time.Minute,
	}
	r := newReconnector(cfg, clock.NewMock())

	var got []time.Duration
	for i := 0; i < 8; i++ {
		got = append(got, r.next())
	}

	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}, got)
	assert.Equal(t, 8, r.attempts)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i], got[i-1])
	}
}

func TestReconnector_Reset(t *testing.T) {
	cfg := ManagerConfig{ReconnectBaseDelay: time.Second, ReconnectMaxDelay: 30 * time.Second}
	r := newReconnector(cfg, clock.New())

	r.next()
	r.next()
	r.reset()

	assert.Zero(t, r.attempts)
	assert.Equal(t, time.Second, r.next())
}

func TestReconnector_Cooldown(t *testing.T) {
	mock := clock.NewMock()
	r := newReconnector(ManagerConfig{RateLimitCooldown: time.Minute}, mock)

	until := r.startCooldown(mock.Now())
	assert.Equal(t, mock.Now().Add(time.Minute), until)
	assert.Equal(t, until, r.cooldownUntil)

	r.endCooldown()
	assert.True(t, r.cooldownUntil.IsZero())
}

package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketstream/internal/model"
)

// sendAll commits every queued op as if each frame had been written.
func sendAll(q *subscriptionQueue) []pendingOp {
	var sent []pendingOp
	for {
		p, ok := q.peek()
		if !ok {
			return sent
		}
		q.commit(p)
		sent = append(sent, p)
	}
}

func TestQueue_SubscribeDeduplicated(t *testing.T) {
	q := newSubscriptionQueue()

	assert.True(t, q.enqueueSubscribe("AAPL"))
	assert.False(t, q.enqueueSubscribe("AAPL"), "already pending")
	assert.Equal(t, model.StatePending, q.state("AAPL"))

	sent := sendAll(q)
	require.Len(t, sent, 1)
	assert.Equal(t, model.StateActive, q.state("AAPL"))

	assert.False(t, q.enqueueSubscribe("AAPL"), "already active")
	assert.Zero(t, q.len())
}

func TestQueue_UnsubscribeCancelsPendingSubscribe(t *testing.T) {
	q := newSubscriptionQueue()

	q.enqueueSubscribe("AAPL")
	q.enqueueSubscribe("MSFT")
	assert.False(t, q.enqueueUnsubscribe("AAPL"))

	sent := sendAll(q)
	require.Len(t, sent, 1)
	assert.Equal(t, pendingOp{symbol: "MSFT", op: opSubscribe}, sent[0])
	assert.Equal(t, model.StateUnsubscribed, q.state("AAPL"))
}

func TestQueue_SubscribeCancelsPendingUnsubscribe(t *testing.T) {
	q := newSubscriptionQueue()
	q.enqueueSubscribe("AAPL")
	sendAll(q)

	assert.True(t, q.enqueueUnsubscribe("AAPL"))
	assert.Equal(t, model.StateActive, q.state("AAPL"), "active until the unsubscribe goes out")
	assert.False(t, q.enqueueUnsubscribe("AAPL"))

	assert.False(t, q.enqueueSubscribe("AAPL"))
	assert.Zero(t, q.len())
	assert.Equal(t, model.StateActive, q.state("AAPL"))
}

func TestQueue_UnsubscribeUnknownIsNoop(t *testing.T) {
	q := newSubscriptionQueue()
	assert.False(t, q.enqueueUnsubscribe("AAPL"))
	assert.Zero(t, q.len())
}

func TestQueue_FIFOAndNetEffect(t *testing.T) {
	q := newSubscriptionQueue()
	q.enqueueSubscribe("A")
	q.enqueueSubscribe("B")
	sendAll(q)

	q.enqueueUnsubscribe("A")
	q.enqueueSubscribe("C")
	q.enqueueUnsubscribe("B")

	sent := sendAll(q)
	assert.Equal(t, []pendingOp{
		{symbol: "A", op: opUnsubscribe},
		{symbol: "C", op: opSubscribe},
		{symbol: "B", op: opUnsubscribe},
	}, sent)
	assert.Equal(t, []string{"C"}, q.activeSymbols())
}

func TestQueue_CommitIgnoresStaleHead(t *testing.T) {
	q := newSubscriptionQueue()
	q.enqueueSubscribe("A")
	q.commit(pendingOp{symbol: "B", op: opSubscribe})
	assert.Equal(t, 1, q.len())
	assert.Empty(t, q.activeSymbols())
}

func TestQueue_RequeueActive(t *testing.T) {
	q := newSubscriptionQueue()
	for _, s := range []string{"MSFT", "AAPL", "TSLA"} {
		q.enqueueSubscribe(s)
	}
	sendAll(q)

	q.enqueueUnsubscribe("TSLA") // provider forgets it on disconnect
	q.enqueueSubscribe("NVDA")   // not sent yet

	n := q.requeueActive()
	assert.Equal(t, 2, n)
	assert.Empty(t, q.activeSymbols())
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, q.pendingSymbols())
	assert.Equal(t, model.StateUnsubscribed, q.state("TSLA"))

	sent := sendAll(q)
	require.Len(t, sent, 3)
	assert.Equal(t, "AAPL", sent[0].symbol)
	assert.Equal(t, "MSFT", sent[1].symbol)
	assert.Equal(t, "NVDA", sent[2].symbol)
}

func TestPendingOp_Frame(t *testing.T) {
	assert.JSONEq(t, `{"type":"subscribe","symbol":"AAPL"}`, string(pendingOp{symbol: "AAPL", op: opSubscribe}.frame()))
	assert.JSONEq(t, `{"type":"unsubscribe","symbol":"AAPL"}`, string(pendingOp{symbol: "AAPL", op: opUnsubscribe}.frame()))
	assert.Equal(t, "subscribe", opSubscribe.String())
	assert.Equal(t, "unsubscribe", opUnsubscribe.String())
}

package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/flowstate/pkg/api"
)

func view(flow api.FlowID, node api.NodeID, status api.Status, ts int64) api.NodeView {
	return api.NodeView{
		Flow:  flow,
		Node:  node,
		State: api.NodeState{Status: status, LastUpdated: ts},
	}
}

func TestHub_DeliversToEverySubscriberOfKey(t *testing.T) {
	h := New(nil)
	key := api.Key{Flow: "f1", Node: "n1"}

	var card, dialog []api.Status
	h.Subscribe(key, func(v api.NodeView) { card = append(card, v.State.Status) })
	h.Subscribe(key, func(v api.NodeView) { dialog = append(dialog, v.State.Status) })
	h.Subscribe(api.Key{Flow: "f1", Node: "other"}, func(api.NodeView) {
		t.Fatalf("subscriber of another node must not be notified")
	})

	require.True(t, h.Publish(view("f1", "n1", api.StatusInProgress, 1), 1))

	assert.Equal(t, []api.Status{api.StatusInProgress}, card)
	assert.Equal(t, []api.Status{api.StatusInProgress}, dialog)
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h := New(nil)
	key := api.Key{Flow: "f1", Node: "n1"}

	calls := 0
	unsub := h.Subscribe(key, func(api.NodeView) { calls++ })
	other := h.Subscribe(key, func(api.NodeView) {})

	unsub()
	unsub()
	assert.Equal(t, 1, h.Subscribers(key))

	h.Publish(view("f1", "n1", api.StatusCompleted, 1), 1)
	assert.Zero(t, calls)

	other()
	assert.Zero(t, h.Subscribers(key))
}

func TestHub_SkipsOlderRevisions(t *testing.T) {
	h := New(nil)
	key := api.Key{Flow: "f1", Node: "n1"}

	var seen []uint64
	h.Subscribe(key, func(v api.NodeView) { seen = append(seen, uint64(v.State.LastUpdated)) })

	assert.True(t, h.Publish(view("f1", "n1", api.StatusCompleted, 2), 2))
	assert.False(t, h.Publish(view("f1", "n1", api.StatusInProgress, 1), 1))
	assert.Equal(t, []uint64{2}, seen)
}

func TestHub_FlowSubscribersSeeAllNodes(t *testing.T) {
	h := New(nil)

	var nodes []api.NodeID
	h.SubscribeFlow("f1", func(v api.NodeView) { nodes = append(nodes, v.Node) })

	h.Publish(view("f1", "a", api.StatusIdle, 1), 1)
	h.Publish(view("f2", "b", api.StatusIdle, 1), 2)
	h.Publish(view("f1", "c", api.StatusIdle, 1), 3)

	assert.Equal(t, []api.NodeID{"a", "c"}, nodes)
}

func TestHub_RecoversPanickingSubscriber(t *testing.T) {
	var mu sync.Mutex
	var panics []any
	h := New(func(key api.Key, r any) {
		mu.Lock()
		defer mu.Unlock()
		panics = append(panics, r)
	})
	key := api.Key{Flow: "f1", Node: "n1"}

	delivered := false
	h.Subscribe(key, func(api.NodeView) { panic("boom") })
	h.Subscribe(key, func(api.NodeView) { delivered = true })

	require.NotPanics(t, func() { h.Publish(view("f1", "n1", api.StatusError, 1), 1) })
	assert.True(t, delivered)
	assert.Equal(t, []any{"boom"}, panics)
}

func TestHub_CallbackMayUnsubscribeDuringDelivery(t *testing.T) {
	h := New(nil)
	key := api.Key{Flow: "f1", Node: "n1"}

	var unsub func()
	calls := 0
	unsub = h.Subscribe(key, func(api.NodeView) {
		calls++
		unsub()
	})

	h.Publish(view("f1", "n1", api.StatusInProgress, 1), 1)
	h.Publish(view("f1", "n1", api.StatusCompleted, 2), 2)
	assert.Equal(t, 1, calls)
}

func TestHub_CallbacksReceiveCopies(t *testing.T) {
	h := New(nil)
	key := api.Key{Flow: "f1", Node: "n1"}

	h.Subscribe(key, func(v api.NodeView) { *v.State.Ticker = "MUTATED" })
	var got string
	h.Subscribe(key, func(v api.NodeView) { got = *v.State.Ticker })

	v := view("f1", "n1", api.StatusInProgress, 1)
	v.State.Ticker = api.Ptr("AAPL")
	h.Publish(v, 1)

	assert.Equal(t, "AAPL", got)
	assert.Equal(t, "AAPL", *v.State.Ticker)
}

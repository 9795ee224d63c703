// Package dispatch delivers node view changes to subscribers keyed by
// (flow, node).
//
// The Hub holds only callbacks; it never owns node state. Every publication
// carries a revision. A publication whose revision is not newer than the last
// one delivered for the same key is skipped, so a subscriber never observes a
// key moving backwards even when several goroutines publish.
package dispatch

import (
	"maps"
	"slices"
	"sync"

	"github.com/petrijr/flowstate/pkg/api"
)

// PanicHandler is told about callbacks that panicked.
type PanicHandler func(key api.Key, recovered any)

// Hub is a registry of subscriber callbacks. It is safe for concurrent use.
type Hub struct {
	mu        sync.Mutex
	nextID    uint64
	byKey     map[api.Key]map[uint64]func(api.NodeView)
	byFlow    map[api.FlowID]map[uint64]func(api.NodeView)
	delivered map[api.Key]uint64
	onPanic   PanicHandler
}

// New creates a Hub. onPanic may be nil.
func New(onPanic PanicHandler) *Hub {
	return &Hub{
		byKey:     make(map[api.Key]map[uint64]func(api.NodeView)),
		byFlow:    make(map[api.FlowID]map[uint64]func(api.NodeView)),
		delivered: make(map[api.Key]uint64),
		onPanic:   onPanic,
	}
}

// Subscribe registers fn for changes to key. The returned function removes
// the subscription; calling it more than once is harmless.
func (h *Hub) Subscribe(key api.Key, fn func(api.NodeView)) func() {
	if fn == nil {
		return func() {}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	subs := h.byKey[key]
	if subs == nil {
		subs = make(map[uint64]func(api.NodeView))
		h.byKey[key] = subs
	}
	subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs := h.byKey[key]; subs != nil {
				delete(subs, id)
				if len(subs) == 0 {
					delete(h.byKey, key)
				}
			}
		})
	}
}

// SubscribeFlow registers fn for changes to any node of flow.
func (h *Hub) SubscribeFlow(flow api.FlowID, fn func(api.NodeView)) func() {
	if fn == nil {
		return func() {}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	subs := h.byFlow[flow]
	if subs == nil {
		subs = make(map[uint64]func(api.NodeView))
		h.byFlow[flow] = subs
	}
	subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs := h.byFlow[flow]; subs != nil {
				delete(subs, id)
				if len(subs) == 0 {
					delete(h.byFlow, flow)
				}
			}
		})
	}
}

// Publish delivers view to the subscribers of its key, then to those of its
// flow, each group in subscription order. It reports whether the publication was delivered
// (false means it was older than one already delivered).
//
// Callbacks run on the calling goroutine without the Hub lock held, so they
// may subscribe, unsubscribe or publish.
func (h *Hub) Publish(view api.NodeView, rev uint64) bool {
	key := view.Key()

	h.mu.Lock()
	if rev <= h.delivered[key] {
		h.mu.Unlock()
		return false
	}
	h.delivered[key] = rev
	targets := append(sortedCallbacks(h.byKey[key]), sortedCallbacks(h.byFlow[key.Flow])...)
	h.mu.Unlock()

	for _, fn := range targets {
		h.call(key, fn, view)
	}
	return true
}

// Subscribers returns the number of callbacks registered for key, not
// counting flow-wide subscriptions.
func (h *Hub) Subscribers(key api.Key) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byKey[key])
}

func (h *Hub) call(key api.Key, fn func(api.NodeView), view api.NodeView) {
	defer func() {
		if r := recover(); r != nil && h.onPanic != nil {
			h.onPanic(key, r)
		}
	}()
	// Each callback receives its own copy.
	v := view
	v.State = view.State.Clone()
	if view.Override != nil {
		m := *view.Override
		v.Override = &m
	}
	fn(v)
}

func sortedCallbacks(subs map[uint64]func(api.NodeView)) []func(api.NodeView) {
	if len(subs) == 0 {
		return nil
	}
	ids := slices.Sorted(maps.Keys(subs))
	out := make([]func(api.NodeView), 0, len(ids))
	for _, id := range ids {
		out = append(out, subs[id])
	}
	return out
}

// Package normalize turns raw backend progress events into node deltas.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/flowstate/pkg/api"
)

var (
	// ErrUnresolvedAgent is returned when an event names an agent that is not
	// part of the flow graph, typically because the node was removed.
	ErrUnresolvedAgent = errors.New("unresolved agent")

	// ErrUnknownStatus is returned for status strings that map to no Status.
	ErrUnknownStatus = errors.New("unknown status")
)

// Resolver maps an agent identifier to the node it drives in a flow.
type Resolver interface {
	Resolve(flow api.FlowID, agent string) (api.NodeID, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(flow api.FlowID, agent string) (api.NodeID, bool)

func (f ResolverFunc) Resolve(flow api.FlowID, agent string) (api.NodeID, bool) {
	return f(flow, agent)
}

// IdentityResolver resolves every non-empty agent to the node of the same ID.
var IdentityResolver Resolver = ResolverFunc(func(_ api.FlowID, agent string) (api.NodeID, bool) {
	if agent == "" {
		return "", false
	}
	return api.NodeID(agent), true
})

// Normalizer converts ProgressEvents into Updates.
type Normalizer struct {
	resolver Resolver
	now      func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the clock used for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

// New creates a Normalizer. A nil resolver falls back to IdentityResolver.
func New(resolver Resolver, opts ...Option) *Normalizer {
	if resolver == nil {
		resolver = IdentityResolver
	}
	n := &Normalizer{resolver: resolver, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize maps ev to its target node and builds the delta to upsert.
// It has no side effects.
func (n *Normalizer) Normalize(flow api.FlowID, ev api.ProgressEvent) (api.Update, error) {
	status, err := ParseStatus(ev.Status)
	if err != nil {
		return api.Update{}, err
	}
	node, ok := n.resolver.Resolve(flow, ev.Agent)
	if !ok {
		return api.Update{}, fmt.Errorf("%w: %q", ErrUnresolvedAgent, ev.Agent)
	}

	ts := n.now().UnixMilli()
	if ev.Timestamp != nil {
		ts = *ev.Timestamp
	}

	d := api.Delta{
		Status:    &status,
		Timestamp: ts,
	}
	if ev.Ticker != nil {
		t := *ev.Ticker
		d.Ticker = &t
	}
	if ev.Message != nil {
		m := *ev.Message
		d.Message = &m
	}

	return api.Update{
		Key:   api.Key{Flow: flow, Node: node},
		Delta: d,
	}, nil
}

var statusAliases = map[string]api.Status{
	"IDLE":        api.StatusIdle,
	"PENDING":     api.StatusIdle,
	"IN_PROGRESS": api.StatusInProgress,
	"RUNNING":     api.StatusInProgress,
	"STARTED":     api.StatusInProgress,
	"COMPLETED":   api.StatusCompleted,
	"COMPLETE":    api.StatusCompleted,
	"DONE":        api.StatusCompleted,
	"SUCCESS":     api.StatusCompleted,
	"ERROR":       api.StatusError,
	"FAILED":      api.StatusError,
	"FAILURE":     api.StatusError,
}

// ParseStatus maps a backend status string onto a Status.
// Matching ignores case, and '-' or ' ' are treated as '_'.
func ParseStatus(s string) (api.Status, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if st, ok := statusAliases[key]; ok {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

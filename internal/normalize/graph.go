package normalize

import (
	"errors"
	"fmt"
	"sync"

	"github.com/petrijr/flowstate/pkg/api"
)

// ErrAmbiguousAgent is returned when two nodes of one flow claim the same agent.
var ErrAmbiguousAgent = errors.New("ambiguous agent")

// GraphResolver resolves agents against the node lists of registered flows.
// It is safe for concurrent use.
type GraphResolver struct {
	mu       sync.RWMutex
	byFlow   map[api.FlowID]map[string]api.NodeID
	fallback Resolver
}

var _ Resolver = (*GraphResolver)(nil)

// NewGraphResolver creates an empty GraphResolver.
func NewGraphResolver() *GraphResolver {
	return &GraphResolver{
		byFlow: make(map[api.FlowID]map[string]api.NodeID),
	}
}

// WithFallback makes flows without a registered graph resolve through f
// instead of failing. It returns r.
func (r *GraphResolver) WithFallback(f Resolver) *GraphResolver {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = f
	return r
}

// Register replaces the agent table of flow with one built from nodes.
// A node resolves both by its agent key and by its own ID.
func (r *GraphResolver) Register(flow api.FlowID, nodes []api.FlowNode) error {
	table := make(map[string]api.NodeID, len(nodes)*2)
	for _, n := range nodes {
		if n.Agent == "" {
			continue
		}
		if other, ok := table[n.Agent]; ok && other != n.ID {
			return fmt.Errorf("%w: %q claimed by %q and %q", ErrAmbiguousAgent, n.Agent, other, n.ID)
		}
		table[n.Agent] = n.ID
	}
	for _, n := range nodes {
		if other, ok := table[string(n.ID)]; ok && other != n.ID {
			return fmt.Errorf("%w: node ID %q shadows agent of %q", ErrAmbiguousAgent, n.ID, other)
		}
		table[string(n.ID)] = n.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byFlow[flow] = table
	return nil
}

// RegisterFlow registers the nodes of a stored flow record.
func (r *GraphResolver) RegisterFlow(f api.Flow) error {
	return r.Register(f.ID, f.Nodes)
}

// Forget drops the table of flow.
func (r *GraphResolver) Forget(flow api.FlowID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byFlow, flow)
}

func (r *GraphResolver) Resolve(flow api.FlowID, agent string) (api.NodeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	table, ok := r.byFlow[flow]
	if !ok {
		if r.fallback != nil {
			return r.fallback.Resolve(flow, agent)
		}
		return "", false
	}
	id, ok := table[agent]
	return id, ok
}

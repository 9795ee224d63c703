package persistence

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/flowstate/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of
// PartitionStore and FlowStore backed by maps.
type InMemoryStore struct {
	mu         sync.RWMutex
	partitions map[api.FlowID]Partition
	flows      map[api.FlowID]api.Flow
	now        func() time.Time
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		partitions: make(map[api.FlowID]Partition),
		flows:      make(map[api.FlowID]api.Flow),
		now:        time.Now,
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ PartitionStore = (*InMemoryStore)(nil)

var _ FlowStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) partition(flow api.FlowID) Partition {
	p, ok := s.partitions[flow]
	if !ok {
		p = newPartition(flow)
		s.partitions[flow] = p
	}
	return p
}

func (s *InMemoryStore) SaveNodeState(ctx context.Context, key api.Key, st api.NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partition(key.Flow).Nodes[key.Node] = st.Clone()
	return nil
}

func (s *InMemoryStore) SaveOverride(ctx context.Context, key api.Key, model *api.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partition(key.Flow)
	if model == nil {
		delete(p.Overrides, key.Node)
		return nil
	}
	p.Overrides[key.Node] = *model
	return nil
}

func (s *InMemoryStore) SaveOutput(ctx context.Context, flow api.FlowID, out api.RunOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partition(flow)
	out.Data = slices.Clone(out.Data)
	p.Output = &out
	s.partitions[flow] = p
	return nil
}

func (s *InMemoryStore) LoadPartition(ctx context.Context, flow api.FlowID) (Partition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := newPartition(flow)
	p, ok := s.partitions[flow]
	if !ok {
		return out, nil
	}
	for id, st := range p.Nodes {
		out.Nodes[id] = st.Clone()
	}
	maps.Copy(out.Overrides, p.Overrides)
	if p.Output != nil {
		o := *p.Output
		o.Data = slices.Clone(o.Data)
		out.Output = &o
	}
	return out, nil
}

func (s *InMemoryStore) DeletePartition(ctx context.Context, flow api.FlowID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.partitions, flow)
	return nil
}

func (s *InMemoryStore) ListPartitions(ctx context.Context) ([]api.FlowID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []api.FlowID
	for id, p := range s.partitions {
		if !p.Empty() {
			result = append(result, id)
		}
	}
	slices.Sort(result)
	return result, nil
}

func (s *InMemoryStore) CreateFlow(ctx context.Context, f api.Flow) (api.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = api.FlowID(uuid.NewString())
	}
	if _, ok := s.flows[f.ID]; ok {
		return api.Flow{}, ErrFlowExists
	}
	now := s.now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	s.flows[f.ID] = cloneFlow(f)
	return f, nil
}

func (s *InMemoryStore) UpdateFlow(ctx context.Context, f api.Flow) (api.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.flows[f.ID]
	if !ok {
		return api.Flow{}, ErrFlowNotFound
	}
	f.CreatedAt = existing.CreatedAt
	f.UpdatedAt = s.now().UTC()
	s.flows[f.ID] = cloneFlow(f)
	return f, nil
}

func (s *InMemoryStore) GetFlow(ctx context.Context, id api.FlowID) (api.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[id]
	if !ok {
		return api.Flow{}, ErrFlowNotFound
	}
	return cloneFlow(f), nil
}

func (s *InMemoryStore) ListFlows(ctx context.Context) ([]api.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]api.Flow, 0, len(s.flows))
	for _, f := range s.flows {
		result = append(result, cloneFlow(f))
	}
	sortFlows(result)
	return result, nil
}

func (s *InMemoryStore) DeleteFlow(ctx context.Context, id api.FlowID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[id]; !ok {
		return ErrFlowNotFound
	}
	delete(s.flows, id)
	return nil
}

func cloneFlow(f api.Flow) api.Flow {
	f.Nodes = slices.Clone(f.Nodes)
	f.Edges = slices.Clone(f.Edges)
	return f
}

// sortFlows orders flows by creation time, then ID.
func sortFlows(flows []api.Flow) {
	slices.SortFunc(flows, func(a, b api.Flow) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}

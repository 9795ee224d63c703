package engine

import (
	"slices"

	"github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/pkg/api"
)

// partition holds everything the engine knows about one flow.
type partition struct {
	nodes     map[api.NodeID]api.NodeState
	overrides map[api.NodeID]api.Model
	output    *api.RunOutput
}

func newPartition() *partition {
	return &partition{
		nodes:     make(map[api.NodeID]api.NodeState),
		overrides: make(map[api.NodeID]api.Model),
	}
}

func partitionFromStore(p persistence.Partition) *partition {
	out := newPartition()
	for id, st := range p.Nodes {
		out.nodes[id] = st.Clone()
	}
	for id, m := range p.Overrides {
		out.overrides[id] = m
	}
	if p.Output != nil {
		o := cloneOutput(*p.Output)
		out.output = &o
	}
	return out
}

// nodeIDs returns every node with either a state or an override, sorted.
func (p *partition) nodeIDs() []api.NodeID {
	ids := make([]api.NodeID, 0, len(p.nodes)+len(p.overrides))
	for id := range p.nodes {
		ids = append(ids, id)
	}
	for id := range p.overrides {
		if _, ok := p.nodes[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (p *partition) view(flow api.FlowID, node api.NodeID) api.NodeView {
	st, ok := p.nodes[node]
	if !ok {
		st = api.IdleState()
	}
	v := api.NodeView{Flow: flow, Node: node, State: st.Clone()}
	if m, ok := p.overrides[node]; ok {
		v.Override = &m
	}
	return v
}

// flowRegistry tracks partitions, the current flow and open tabs.
// It is not safe for concurrent use; engineImpl guards it with its mutex.
type flowRegistry struct {
	partitions map[api.FlowID]*partition
	destroyed  map[api.FlowID]struct{}
	current    api.FlowID
	tabs       []api.FlowID
}

func newFlowRegistry() *flowRegistry {
	return &flowRegistry{
		partitions: make(map[api.FlowID]*partition),
		destroyed:  make(map[api.FlowID]struct{}),
		current:    api.DefaultFlow,
	}
}

func (r *flowRegistry) lookup(flow api.FlowID) (*partition, bool) {
	p, ok := r.partitions[flow]
	return p, ok
}

// activate installs p as the partition of flow. A destroyed flow becomes
// active again.
func (r *flowRegistry) activate(flow api.FlowID, p *partition) {
	delete(r.destroyed, flow)
	r.partitions[flow] = p
}

func (r *flowRegistry) wasDestroyed(flow api.FlowID) bool {
	_, ok := r.destroyed[flow]
	return ok
}

func (r *flowRegistry) destroy(flow api.FlowID) {
	delete(r.partitions, flow)
	r.destroyed[flow] = struct{}{}
	r.removeTab(flow)
}

func (r *flowRegistry) state(flow api.FlowID) api.PartitionState {
	if _, ok := r.partitions[flow]; ok {
		return api.PartitionActive
	}
	if r.wasDestroyed(flow) {
		return api.PartitionDestroyed
	}
	return api.PartitionUnreferenced
}

func (r *flowRegistry) flows() []api.FlowID {
	ids := make([]api.FlowID, 0, len(r.partitions))
	for id := range r.partitions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// openTab appends flow to the tab list, moving it to the end if it was
// already open.
func (r *flowRegistry) openTab(flow api.FlowID) {
	r.removeTab(flow)
	r.tabs = append(r.tabs, flow)
}

func (r *flowRegistry) removeTab(flow api.FlowID) bool {
	i := slices.Index(r.tabs, flow)
	if i < 0 {
		return false
	}
	r.tabs = slices.Delete(r.tabs, i, i+1)
	return true
}

// fallback is the flow that becomes current when the current one goes away.
func (r *flowRegistry) fallback() api.FlowID {
	if n := len(r.tabs); n > 0 {
		return r.tabs[n-1]
	}
	return api.DefaultFlow
}

func cloneOutput(out api.RunOutput) api.RunOutput {
	out.Data = slices.Clone(out.Data)
	return out
}

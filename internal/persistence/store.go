package persistence

import (
	"context"
	"errors"

	"github.com/petrijr/flowstate/pkg/api"
)

var (
	// ErrFlowNotFound is returned when a flow record does not exist.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrFlowExists is returned when creating a flow whose ID is taken.
	ErrFlowExists = errors.New("flow already exists")
)

// Partition is the durable image of one flow's state.
type Partition struct {
	Flow      api.FlowID
	Nodes     map[api.NodeID]api.NodeState
	Overrides map[api.NodeID]api.Model
	Output    *api.RunOutput
}

// Empty reports whether the partition holds no data.
func (p Partition) Empty() bool {
	return len(p.Nodes) == 0 && len(p.Overrides) == 0 && p.Output == nil
}

func newPartition(flow api.FlowID) Partition {
	return Partition{
		Flow:      flow,
		Nodes:     make(map[api.NodeID]api.NodeState),
		Overrides: make(map[api.NodeID]api.Model),
	}
}

// PartitionStore mirrors flow partitions to storage so they survive a
// restart. The in-memory engine state stays authoritative; stores only
// persist what the engine already committed.
type PartitionStore interface {
	// SaveNodeState stores the committed state of key.
	SaveNodeState(ctx context.Context, key api.Key, st api.NodeState) error
	// SaveOverride stores the override of key; nil removes it.
	SaveOverride(ctx context.Context, key api.Key, model *api.Model) error
	// SaveOutput stores the latest run output of flow.
	SaveOutput(ctx context.Context, flow api.FlowID, out api.RunOutput) error
	// LoadPartition returns everything stored for flow. A flow that was
	// never stored yields an empty partition, not an error.
	LoadPartition(ctx context.Context, flow api.FlowID) (Partition, error)
	// DeletePartition removes everything stored for flow. It is idempotent.
	DeletePartition(ctx context.Context, flow api.FlowID) error
	// ListPartitions returns the flows that have stored data.
	ListPartitions(ctx context.Context) ([]api.FlowID, error)
}

// FlowStore handles storage of flow records.
type FlowStore interface {
	// CreateFlow stores a new flow. An empty ID is replaced by a new UUID.
	CreateFlow(ctx context.Context, f api.Flow) (api.Flow, error)
	// UpdateFlow replaces an existing flow.
	UpdateFlow(ctx context.Context, f api.Flow) (api.Flow, error)
	GetFlow(ctx context.Context, id api.FlowID) (api.Flow, error)
	ListFlows(ctx context.Context) ([]api.Flow, error)
	// DeleteFlow removes a flow record. Missing flows yield ErrFlowNotFound.
	DeleteFlow(ctx context.Context, id api.FlowID) error
}

// NoopPartitionStore discards everything.
type NoopPartitionStore struct{}

var _ PartitionStore = NoopPartitionStore{}

func (NoopPartitionStore) SaveNodeState(ctx context.Context, key api.Key, st api.NodeState) error {
	return nil
}
func (NoopPartitionStore) SaveOverride(ctx context.Context, key api.Key, model *api.Model) error {
	return nil
}
func (NoopPartitionStore) SaveOutput(ctx context.Context, flow api.FlowID, out api.RunOutput) error {
	return nil
}
func (NoopPartitionStore) LoadPartition(ctx context.Context, flow api.FlowID) (Partition, error) {
	return newPartition(flow), nil
}
func (NoopPartitionStore) DeletePartition(ctx context.Context, flow api.FlowID) error { return nil }
func (NoopPartitionStore) ListPartitions(ctx context.Context) ([]api.FlowID, error) {
	return nil, nil
}

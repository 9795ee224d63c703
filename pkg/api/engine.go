package api

import "context"

// Engine is the consumer-facing API of the state synchronization engine.
//
// None of its operations fail: unknown keys read as idle, stale or
// unresolvable events are dropped, and references to deleted flows silently
// recreate an empty partition.
type Engine interface {
	// Apply normalizes a raw progress event for flow and upserts it.
	// It reports whether the stored state changed.
	Apply(ctx context.Context, flow FlowID, ev ProgressEvent) bool

	// Upsert merges delta into the state stored for key, last writer by
	// timestamp wins. It returns the resulting view and whether it changed.
	Upsert(ctx context.Context, key Key, delta Delta) (NodeView, bool)

	// Read returns the execution state of key, or IdleState.
	Read(ctx context.Context, key Key) NodeState

	// View returns the execution state of key merged with its override.
	View(ctx context.Context, key Key) NodeView

	// ReadAll returns views of every node known in flow, ordered by node ID.
	ReadAll(ctx context.Context, flow FlowID) []NodeView

	// ResetRun returns every node of flow to IDLE before a new run.
	// Overrides are kept.
	ResetRun(ctx context.Context, flow FlowID)

	// SetOutput records the result of the latest run of flow.
	SetOutput(ctx context.Context, flow FlowID, out RunOutput)

	// Output returns the result of the latest run of flow, if any.
	Output(ctx context.Context, flow FlowID) (RunOutput, bool)

	// SetOverride sets (or, with nil, clears) the model override of key.
	SetOverride(ctx context.Context, key Key, model *Model)

	// GetOverride returns the model override of key, or nil.
	GetOverride(ctx context.Context, key Key) *Model

	// EffectiveModel returns the override of key, falling back to global.
	EffectiveModel(ctx context.Context, key Key, global *Model) *Model

	// Subscribe registers fn for changes of key. The returned function
	// unsubscribes; it is idempotent.
	Subscribe(key Key, fn func(NodeView)) (unsubscribe func())

	// SubscribeFlow registers fn for changes of any node in flow.
	SubscribeFlow(flow FlowID, fn func(NodeView)) (unsubscribe func())

	// SwitchTo makes flow the current flow. No partition is modified.
	SwitchTo(ctx context.Context, flow FlowID)

	// Current returns the current flow.
	Current() FlowID

	// OpenTab opens a tab for flow and makes it current.
	OpenTab(ctx context.Context, flow FlowID)

	// CloseTab closes the tab of flow. Its partition is retained.
	CloseTab(ctx context.Context, flow FlowID)

	// Tabs returns the open tabs in opening order.
	Tabs() []FlowID

	// Delete destroys the partition of flow: node states, overrides and
	// run output. It is irreversible.
	Delete(ctx context.Context, flow FlowID)

	// PartitionState reports the lifecycle state of flow's partition.
	PartitionState(flow FlowID) PartitionState

	// Flows returns the flows that currently own a partition.
	Flows() []FlowID

	// LoadCatalog returns the model catalog, possibly empty.
	LoadCatalog(ctx context.Context) []Model
}

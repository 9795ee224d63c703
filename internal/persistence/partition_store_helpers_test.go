package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/petrijr/flowstate/pkg/api"
)

// exercisePartitionStore runs the behaviour every PartitionStore shares.
// The store must start empty.
func exercisePartitionStore(t *testing.T, store PartitionStore) {
	t.Helper()
	ctx := context.Background()

	flow := api.FlowID("flow-a")
	planner := api.Key{Flow: flow, Node: "planner"}
	writer := api.Key{Flow: flow, Node: "writer"}

	empty, err := store.LoadPartition(ctx, "never-stored")
	if err != nil {
		t.Fatalf("LoadPartition on unknown flow failed: %v", err)
	}
	if !empty.Empty() {
		t.Fatalf("expected empty partition, got %+v", empty)
	}

	st := api.NodeState{
		Status:      api.StatusInProgress,
		Ticker:      api.Ptr("AAPL"),
		Message:     "analyzing",
		LastUpdated: 100,
		Messages: []api.MessageEntry{
			{Status: api.StatusInProgress, Ticker: "AAPL", Message: "analyzing", Timestamp: 100},
		},
	}
	if err := store.SaveNodeState(ctx, planner, st); err != nil {
		t.Fatalf("SaveNodeState failed: %v", err)
	}
	// Node without ticker or history.
	if err := store.SaveNodeState(ctx, writer, api.NodeState{Status: api.StatusIdle, LastUpdated: 5}); err != nil {
		t.Fatalf("SaveNodeState failed: %v", err)
	}

	// Overwrite keeps only the latest value.
	st.Status = api.StatusCompleted
	st.LastUpdated = 200
	if err := store.SaveNodeState(ctx, planner, st); err != nil {
		t.Fatalf("SaveNodeState overwrite failed: %v", err)
	}

	model := api.Model{DisplayName: "GPT 4.1", ModelName: "gpt-4.1", Provider: api.ProviderOpenAI}
	if err := store.SaveOverride(ctx, planner, &model); err != nil {
		t.Fatalf("SaveOverride failed: %v", err)
	}
	if err := store.SaveOverride(ctx, writer, &model); err != nil {
		t.Fatalf("SaveOverride failed: %v", err)
	}
	if err := store.SaveOverride(ctx, writer, nil); err != nil {
		t.Fatalf("SaveOverride(nil) failed: %v", err)
	}

	out := api.RunOutput{Data: []byte(`{"ok":true}`), CompletedAt: 300}
	if err := store.SaveOutput(ctx, flow, out); err != nil {
		t.Fatalf("SaveOutput failed: %v", err)
	}

	p, err := store.LoadPartition(ctx, flow)
	if err != nil {
		t.Fatalf("LoadPartition failed: %v", err)
	}
	if p.Flow != flow {
		t.Fatalf("expected flow %q, got %q", flow, p.Flow)
	}
	if len(p.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(p.Nodes))
	}
	if got := p.Nodes["planner"]; !got.Equal(st) {
		t.Fatalf("planner state mismatch:\n got  %+v\n want %+v", got, st)
	}
	w := p.Nodes["writer"]
	if w.Ticker != nil || len(w.Messages) != 0 || w.LastUpdated != 5 || w.Status != api.StatusIdle {
		t.Fatalf("unexpected writer state: %+v", w)
	}
	if len(p.Overrides) != 1 || p.Overrides["planner"] != model {
		t.Fatalf("unexpected overrides: %+v", p.Overrides)
	}
	if p.Output == nil || string(p.Output.Data) != `{"ok":true}` || p.Output.CompletedAt != 300 {
		t.Fatalf("unexpected output: %+v", p.Output)
	}

	other := api.Key{Flow: "flow-b", Node: "planner"}
	if err := store.SaveNodeState(ctx, other, api.NodeState{Status: api.StatusError, LastUpdated: 1}); err != nil {
		t.Fatalf("SaveNodeState failed: %v", err)
	}

	flows, err := store.ListPartitions(ctx)
	if err != nil {
		t.Fatalf("ListPartitions failed: %v", err)
	}
	if len(flows) != 2 || flows[0] != "flow-a" || flows[1] != "flow-b" {
		t.Fatalf("unexpected partitions: %v", flows)
	}

	if err := store.DeletePartition(ctx, flow); err != nil {
		t.Fatalf("DeletePartition failed: %v", err)
	}
	if err := store.DeletePartition(ctx, flow); err != nil {
		t.Fatalf("second DeletePartition failed: %v", err)
	}

	p, err = store.LoadPartition(ctx, flow)
	if err != nil {
		t.Fatalf("LoadPartition after delete failed: %v", err)
	}
	if !p.Empty() {
		t.Fatalf("expected deleted partition to be empty, got %+v", p)
	}

	// Other flows are untouched.
	p, err = store.LoadPartition(ctx, "flow-b")
	if err != nil {
		t.Fatalf("LoadPartition failed: %v", err)
	}
	if p.Nodes["planner"].Status != api.StatusError {
		t.Fatalf("flow-b lost its state: %+v", p)
	}
}

// exerciseDefaultFlow checks that the unnamed flow is an ordinary partition.
func exerciseDefaultFlow(t *testing.T, store PartitionStore) {
	t.Helper()
	ctx := context.Background()

	key := api.Key{Flow: api.DefaultFlow, Node: "solo"}
	if err := store.SaveNodeState(ctx, key, api.NodeState{Status: api.StatusCompleted, LastUpdated: 9}); err != nil {
		t.Fatalf("SaveNodeState failed: %v", err)
	}
	p, err := store.LoadPartition(ctx, api.DefaultFlow)
	if err != nil {
		t.Fatalf("LoadPartition failed: %v", err)
	}
	if p.Nodes["solo"].LastUpdated != 9 {
		t.Fatalf("unexpected default flow partition: %+v", p)
	}
}

func exerciseFlowStore(t *testing.T, store FlowStore) {
	t.Helper()
	ctx := context.Background()

	created, err := store.CreateFlow(ctx, api.Flow{
		Name:  "research",
		Nodes: []api.FlowNode{{ID: "n1", Type: "agent", Agent: "market_analyst", Name: "Market"}},
		Edges: []api.FlowEdge{{ID: "e1", Source: "n1", Target: "n2"}},
	})
	if err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated flow ID")
	}
	if created.CreatedAt.IsZero() || !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("unexpected timestamps: %v / %v", created.CreatedAt, created.UpdatedAt)
	}

	if _, err := store.CreateFlow(ctx, api.Flow{ID: created.ID, Name: "dup"}); !errors.Is(err, ErrFlowExists) {
		t.Fatalf("expected ErrFlowExists, got %v", err)
	}

	got, err := store.GetFlow(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetFlow failed: %v", err)
	}
	if got.Name != "research" || len(got.Nodes) != 1 || got.Nodes[0].Agent != "market_analyst" || len(got.Edges) != 1 {
		t.Fatalf("unexpected flow: %+v", got)
	}

	got.Name = "research v2"
	got.Viewport = api.Viewport{X: 10, Y: -5, Zoom: 1.5}
	updated, err := store.UpdateFlow(ctx, got)
	if err != nil {
		t.Fatalf("UpdateFlow failed: %v", err)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("UpdateFlow must keep CreatedAt")
	}
	got, err = store.GetFlow(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetFlow failed: %v", err)
	}
	if got.Name != "research v2" || got.Viewport.Zoom != 1.5 {
		t.Fatalf("update not stored: %+v", got)
	}

	if _, err := store.UpdateFlow(ctx, api.Flow{ID: "missing"}); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}

	if _, err := store.CreateFlow(ctx, api.Flow{ID: "explicit", Name: "second"}); err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}
	list, err := store.ListFlows(ctx)
	if err != nil {
		t.Fatalf("ListFlows failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 flows, got %d", len(list))
	}

	if err := store.DeleteFlow(ctx, created.ID); err != nil {
		t.Fatalf("DeleteFlow failed: %v", err)
	}
	if err := store.DeleteFlow(ctx, created.ID); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
	if _, err := store.GetFlow(ctx, created.ID); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
}

package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/petrijr/flowstate/pkg/api"
)

func TestNormalize_MapsAgentAndFields(t *testing.T) {
	r := NewGraphResolver()
	if err := r.Register("f1", []api.FlowNode{
		{ID: "warren_buffett_abc", Type: "agent", Agent: "warren_buffett_agent"},
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	n := New(r)

	upd, err := n.Normalize("f1", api.ProgressEvent{
		Agent:     "warren_buffett_agent",
		Ticker:    api.Ptr("AAPL"),
		Status:    "in progress",
		Message:   api.Ptr("Fetching financial metrics"),
		Timestamp: api.Ptr(int64(100)),
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	want := api.Key{Flow: "f1", Node: "warren_buffett_abc"}
	if upd.Key != want {
		t.Fatalf("expected key %v, got %v", want, upd.Key)
	}
	if upd.Delta.Status == nil || *upd.Delta.Status != api.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %v", upd.Delta.Status)
	}
	if upd.Delta.Ticker == nil || *upd.Delta.Ticker != "AAPL" {
		t.Fatalf("unexpected ticker: %v", upd.Delta.Ticker)
	}
	if upd.Delta.Message == nil || *upd.Delta.Message != "Fetching financial metrics" {
		t.Fatalf("unexpected message: %v", upd.Delta.Message)
	}
	if upd.Delta.Timestamp != 100 {
		t.Fatalf("expected timestamp 100, got %d", upd.Delta.Timestamp)
	}
}

func TestNormalize_AssignsClockWhenTimestampMissing(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_123)
	n := New(nil, WithClock(func() time.Time { return fixed }))

	upd, err := n.Normalize(api.DefaultFlow, api.ProgressEvent{Agent: "agent-7", Status: "COMPLETED"})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if upd.Delta.Timestamp != fixed.UnixMilli() {
		t.Fatalf("expected clock timestamp, got %d", upd.Delta.Timestamp)
	}
	if upd.Delta.Ticker != nil || upd.Delta.Message != nil {
		t.Fatalf("absent fields must stay nil: %+v", upd.Delta)
	}
}

func TestNormalize_UnresolvedAgent(t *testing.T) {
	n := New(NewGraphResolver())

	_, err := n.Normalize("f1", api.ProgressEvent{Agent: "gone", Status: "IDLE"})
	if !errors.Is(err, ErrUnresolvedAgent) {
		t.Fatalf("expected ErrUnresolvedAgent, got %v", err)
	}
}

func TestNormalize_UnknownStatus(t *testing.T) {
	n := New(nil)

	_, err := n.Normalize("f1", api.ProgressEvent{Agent: "a", Status: "sleeping"})
	if !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestParseStatus_Aliases(t *testing.T) {
	cases := map[string]api.Status{
		"IDLE":        api.StatusIdle,
		"in_progress": api.StatusInProgress,
		"In-Progress": api.StatusInProgress,
		"Done":        api.StatusCompleted,
		"complete":    api.StatusCompleted,
		"failed":      api.StatusError,
		" ERROR ":     api.StatusError,
	}
	for in, want := range cases {
		got, err := ParseStatus(in)
		if err != nil {
			t.Fatalf("ParseStatus(%q) failed: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGraphResolver_RejectsAmbiguousAgent(t *testing.T) {
	r := NewGraphResolver()
	err := r.Register("f1", []api.FlowNode{
		{ID: "n1", Agent: "same"},
		{ID: "n2", Agent: "same"},
	})
	if !errors.Is(err, ErrAmbiguousAgent) {
		t.Fatalf("expected ErrAmbiguousAgent, got %v", err)
	}
}

func TestGraphResolver_ResolvesNodeIDAndForgets(t *testing.T) {
	r := NewGraphResolver()
	if err := r.Register("f1", []api.FlowNode{{ID: "portfolio_manager", Type: "agent"}}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if id, ok := r.Resolve("f1", "portfolio_manager"); !ok || id != "portfolio_manager" {
		t.Fatalf("expected node ID to resolve to itself, got %q %v", id, ok)
	}
	if _, ok := r.Resolve("f2", "portfolio_manager"); ok {
		t.Fatalf("tables must not leak across flows")
	}

	r.Forget("f1")
	if _, ok := r.Resolve("f1", "portfolio_manager"); ok {
		t.Fatalf("expected table to be forgotten")
	}
}

func TestGraphResolver_FallbackForUnregisteredFlows(t *testing.T) {
	r := NewGraphResolver().WithFallback(IdentityResolver)
	if err := r.Register("f1", []api.FlowNode{{ID: "n1", Agent: "risk_manager"}}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if id, ok := r.Resolve(api.DefaultFlow, "risk_manager"); !ok || id != "risk_manager" {
		t.Fatalf("expected identity fallback, got %q %v", id, ok)
	}
	// Registered flows stay strict.
	if _, ok := r.Resolve("f1", "ghost"); ok {
		t.Fatalf("expected registered flow to reject unknown agent")
	}
}

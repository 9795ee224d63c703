package flowstate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestLocalRunner_AppliesQueuedRun drives a full run through the queue and
// checks that each event kind lands in the engine.
func TestLocalRunner_AppliesQueuedRun(t *testing.T) {
	runner := NewLocalRunner()
	ctx := context.Background()

	if err := runner.StartWorkers(ctx, 2); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	defer runner.Stop()

	if err := runner.StartWorkers(ctx, 1); err == nil {
		t.Fatalf("expected second StartWorkers to fail")
	}

	events := []StreamEvent{
		{Type: StreamStart},
		{Type: StreamProgress, Progress: ProgressEvent{Agent: "n1", Status: "IN_PROGRESS", Timestamp: Ptr(int64(10))}},
		{Type: StreamProgress, Progress: ProgressEvent{Agent: "n1", Status: "DONE", Timestamp: Ptr(int64(20))}},
		{Type: StreamComplete, Data: []byte(`{"ok":true}`)},
	}
	for _, ev := range events {
		if err := runner.Enqueue(ctx, "f1", ev); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		out, ok := runner.Engine.Output(ctx, "f1")
		st := runner.Engine.Read(ctx, Key{Flow: "f1", Node: "n1"})
		if ok && st.Status == StatusCompleted {
			if string(out.Data) != `{"ok":true}` {
				t.Fatalf("unexpected output %s", out.Data)
			}
			if st.LastUpdated != 20 {
				t.Fatalf("expected last_updated 20, got %d", st.LastUpdated)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run not applied in time: status=%s output=%v", st.Status, ok)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLocalRunner_StopIsIdempotent(t *testing.T) {
	runner := NewLocalRunner()
	runner.Stop()

	if err := runner.StartWorkers(context.Background(), 0); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	runner.Stop()
	runner.Stop()

	// Restart after Stop is allowed.
	if err := runner.StartWorkers(context.Background(), 1); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	runner.Stop()
}

func TestRunner_IngestSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: progress\ndata: {\"agent\":\"risk_manager\",\"status\":\"ERROR\",\"timestamp\":7}\n\n")
	}))
	t.Cleanup(srv.Close)

	runner := NewLocalRunner()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runner.StartWorkers(ctx, 1); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	defer runner.Stop()

	done := make(chan error, 1)
	go func() { done <- runner.IngestSSE(ctx, srv.URL, "f1") }()

	key := Key{Flow: "f1", Node: "risk_manager"}
	deadline := time.Now().Add(2 * time.Second)
	for runner.Engine.Read(ctx, key).Status != StatusError {
		if time.Now().After(deadline) {
			t.Fatalf("SSE event not applied in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("IngestSSE did not return after cancel")
	}
}

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petrijr/flowstate/internal/engine"
	"github.com/petrijr/flowstate/internal/taskqueue"
	"github.com/petrijr/flowstate/pkg/api"
)

func newTestWorker(t *testing.T) (*Worker, api.Engine) {
	t.Helper()
	eng := engine.NewInMemoryEngine()
	w := New(eng, taskqueue.NewInMemoryQueue(16))
	w.now = func() time.Time { return time.UnixMilli(5_000) }
	return w, eng
}

func processAll(t *testing.T, w *Worker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		processed, err := w.ProcessOne(context.Background())
		if err != nil {
			t.Fatalf("ProcessOne failed: %v", err)
		}
		if !processed {
			t.Fatalf("expected a task to be processed")
		}
	}
}

func TestWorker_AppliesRunLifecycle(t *testing.T) {
	ctx := context.Background()
	w, eng := newTestWorker(t)
	key := api.Key{Flow: "flow", Node: "market_analyst"}

	if err := w.EnqueueProgress(ctx, "flow", api.ProgressEvent{Agent: "market_analyst", Status: "COMPLETED", Timestamp: api.Ptr(int64(10))}); err != nil {
		t.Fatalf("EnqueueProgress failed: %v", err)
	}
	processAll(t, w, 1)
	if got := eng.Read(ctx, key).Status; got != api.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got)
	}

	events := []api.StreamEvent{
		{Type: api.StreamStart},
		{Type: api.StreamProgress, Progress: api.ProgressEvent{Agent: "market_analyst", Status: "IN_PROGRESS", Message: api.Ptr("Fetching"), Timestamp: api.Ptr(int64(6_000))}},
		{Type: api.StreamComplete, Data: []byte(`{"decisions":{"AAPL":"buy"}}`)},
	}
	for _, ev := range events {
		if err := w.Enqueue(ctx, "flow", ev); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	processAll(t, w, 1)
	if st := eng.Read(ctx, key); st.Status != api.StatusIdle || st.LastUpdated != 5_000 {
		t.Fatalf("start must reset node to IDLE at the worker clock, got %+v", st)
	}

	processAll(t, w, 2)
	st := eng.Read(ctx, key)
	if st.Status != api.StatusInProgress || st.Message != "Fetching" {
		t.Fatalf("unexpected state: %+v", st)
	}
	out, ok := eng.Output(ctx, "flow")
	if !ok || string(out.Data) != `{"decisions":{"AAPL":"buy"}}` || out.CompletedAt != 5_000 {
		t.Fatalf("unexpected output: %+v (ok=%v)", out, ok)
	}
}

func TestWorker_StoresRunError(t *testing.T) {
	ctx := context.Background()
	w, eng := newTestWorker(t)

	if err := w.Enqueue(ctx, "flow", api.StreamEvent{Type: api.StreamError, Error: "backend unavailable"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	processAll(t, w, 1)

	out, ok := eng.Output(ctx, "flow")
	if !ok || out.Error != "backend unavailable" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestWorker_UnknownEventType(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWorker(t)

	if err := w.Enqueue(ctx, "flow", api.StreamEvent{Type: "heartbeat"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	processed, err := w.ProcessOne(ctx)
	if !processed {
		t.Fatalf("expected task to count as processed")
	}
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestWorker_DroppedEventIsNotAnError(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWorker(t)

	if err := w.EnqueueProgress(ctx, "flow", api.ProgressEvent{Agent: "", Status: "nonsense"}); err != nil {
		t.Fatalf("EnqueueProgress failed: %v", err)
	}
	processAll(t, w, 1)
}

func TestWorker_ProcessOneRespectsContext(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	processed, err := w.ProcessOne(ctx)
	if processed || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected (false, Canceled), got (%v, %v)", processed, err)
	}
}

func TestWorker_RunUntilCancelled(t *testing.T) {
	w, eng := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	var reported []error
	go func() {
		done <- w.Run(ctx, func(err error) { reported = append(reported, err) })
	}()

	for i := 0; i < 3; i++ {
		ev := api.ProgressEvent{Agent: "n", Status: "IN_PROGRESS", Timestamp: api.Ptr(int64(i + 1))}
		if err := w.EnqueueProgress(context.Background(), "flow", ev); err != nil {
			t.Fatalf("EnqueueProgress failed: %v", err)
		}
	}
	if err := w.Enqueue(context.Background(), "flow", api.StreamEvent{Type: "bogus"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for eng.Read(context.Background(), api.Key{Flow: "flow", Node: "n"}).LastUpdated != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("worker did not apply queued events")
		}
		time.Sleep(5 * time.Millisecond)
	}
	for w.queue.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("worker did not drain the queue")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
	if len(reported) != 1 || !errors.Is(reported[0], ErrUnknownEventType) {
		t.Fatalf("expected one unknown event error, got %v", reported)
	}
}

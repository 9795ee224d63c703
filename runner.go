package flowstate

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/petrijr/flowstate/internal/ingest"
	"github.com/petrijr/flowstate/internal/taskqueue"
	"github.com/petrijr/flowstate/pkg/worker"
)

// Runner bundles an Engine, a task queue and a Worker.
//
// Typical usage:
//
//	runner := flowstate.NewLocalRunner()
//	_ = runner.StartWorkers(ctx, 1)
//	defer runner.Stop()
//
//	_ = runner.Enqueue(ctx, "flow-1", flowstate.StreamEvent{Type: flowstate.StreamStart})
//	view := runner.Engine.View(ctx, flowstate.Key{Flow: "flow-1", Node: "risk_manager"})
type Runner struct {
	// Engine receives the events processed by Worker.
	Engine Engine

	// Queue holds events between ingestion and processing.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	// Logger receives task errors. Defaults to slog.Default().
	Logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a Runner backed by an in-memory engine and an
// in-memory queue.
//
// This is intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner() *Runner {
	return NewRunner(NewInMemoryEngine(), taskqueue.NewInMemoryQueue(1024))
}

// NewRunner constructs a Runner over eng and q.
func NewRunner(eng Engine, q taskqueue.Queue) *Runner {
	return &Runner{
		Engine: eng,
		Queue:  q,
		Worker: worker.New(eng, q),
	}
}

// StartWorkers starts 'concurrency' worker goroutines that process tasks
// until Stop is called or ctx is cancelled.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *Runner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("flowstate: Runner already started")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()
			// A bad task is logged and skipped; only cancellation ends the loop.
			_ = r.Worker.Run(ctx, func(err error) {
				logger.WarnContext(ctx, "task_failed", slog.Any("error", err))
			})
		}()
	}

	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Enqueue queues a stream event for flow. It is applied when a worker
// picks it up.
func (r *Runner) Enqueue(ctx context.Context, flow FlowID, ev StreamEvent) error {
	return r.Worker.Enqueue(ctx, flow, ev)
}

// IngestSSE reads the server-sent event stream at url into the queue as
// events of flow, reconnecting after failures, until ctx is cancelled.
func (r *Runner) IngestSSE(ctx context.Context, url string, flow FlowID) error {
	return r.ingest(ctx, ingest.NewSSESource(url, flow, r.Worker))
}

// IngestWebSocket is IngestSSE for a WebSocket stream.
func (r *Runner) IngestWebSocket(ctx context.Context, url string, flow FlowID) error {
	return r.ingest(ctx, ingest.NewWebSocketSource(url, flow, r.Worker))
}

func (r *Runner) ingest(ctx context.Context, src ingest.Source) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return ingest.Reconnect(ctx, src, ingest.DefaultReconnectDelay, func(err error) {
		logger.WarnContext(ctx, "ingest_disconnected", slog.Any("error", err))
	})
}

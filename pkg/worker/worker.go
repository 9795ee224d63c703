package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/flowstate/internal/taskqueue"
	"github.com/petrijr/flowstate/pkg/api"
)

// ErrUnknownEventType is returned for tasks whose stream event type the
// worker does not handle.
var ErrUnknownEventType = errors.New("unknown stream event type")

// Worker pulls stream events from a Queue and applies them to an Engine.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	now    func() time.Time
}

// New creates a new Worker.
func New(engine api.Engine, queue taskqueue.Queue) *Worker {
	return &Worker{
		engine: engine,
		queue:  queue,
		now:    time.Now,
	}
}

// Enqueue queues ev for flow. It does NOT apply the event itself; that is
// done by ProcessOne.
func (w *Worker) Enqueue(ctx context.Context, flow api.FlowID, ev api.StreamEvent) error {
	return w.queue.Enqueue(ctx, taskqueue.NewTask(flow, ev))
}

// EnqueueProgress queues a single progress event for flow.
func (w *Worker) EnqueueProgress(ctx context.Context, flow api.FlowID, ev api.ProgressEvent) error {
	return w.Enqueue(ctx, flow, api.StreamEvent{Type: api.StreamProgress, Progress: ev})
}

// ProcessOne pulls a single task from the queue and applies it.
// Returns (processed, error):
//   - processed == false: no task was obtained (ctx cancelled or dequeue failed)
//   - processed == true: a task was handled; err reports an unknown event type.
//
// Progress events that the engine drops (stale, unresolvable) are not
// errors; the engine reports them through its observer.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	return true, w.handle(ctx, task)
}

func (w *Worker) handle(ctx context.Context, task *taskqueue.Task) error {
	ev := task.Event
	switch ev.Type {
	case api.StreamStart:
		w.engine.ResetRun(ctx, task.Flow)
	case api.StreamProgress:
		w.engine.Apply(ctx, task.Flow, ev.Progress)
	case api.StreamComplete:
		w.engine.SetOutput(ctx, task.Flow, api.RunOutput{
			Data:        ev.Data,
			CompletedAt: w.now().UnixMilli(),
		})
	case api.StreamError:
		w.engine.SetOutput(ctx, task.Flow, api.RunOutput{
			Error:       ev.Error,
			CompletedAt: w.now().UnixMilli(),
		})
	default:
		return fmt.Errorf("task %s: %w: %q", task.ID, ErrUnknownEventType, ev.Type)
	}
	return nil
}

// Run processes tasks until ctx is cancelled. Errors for individual tasks
// are passed to onError, which may be nil. Run returns ctx's error.
func (w *Worker) Run(ctx context.Context, onError func(error)) error {
	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}

	for {
		processed, err := w.ProcessOne(ctx)
		if err != nil && processed {
			report(err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil && !processed {
			report(err)
			// Back off briefly when the queue itself is failing.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

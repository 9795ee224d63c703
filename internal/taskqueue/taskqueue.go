// Package taskqueue decouples event ingestion from the engine: sources
// enqueue stream events, workers dequeue and apply them.
package taskqueue

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/flowstate/pkg/api"
)

// Task carries one stream event of one flow to a worker.
type Task struct {
	ID    string
	Flow  api.FlowID
	Event api.StreamEvent

	EnqueuedAt time.Time
}

// NewTask wraps ev in a Task with a fresh ID.
func NewTask(flow api.FlowID, ev api.StreamEvent) Task {
	return Task{
		ID:         uuid.NewString(),
		Flow:       flow,
		Event:      ev,
		EnqueuedAt: time.Now().UTC(),
	}
}

// clone returns a copy of t that shares no memory with it.
func (t Task) clone() Task {
	t.Event.Data = slices.Clone(t.Event.Data)
	p := &t.Event.Progress
	if p.Ticker != nil {
		p.Ticker = api.Ptr(*p.Ticker)
	}
	if p.Message != nil {
		p.Message = api.Ptr(*p.Message)
	}
	if p.Timestamp != nil {
		p.Timestamp = api.Ptr(*p.Timestamp)
	}
	return t
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is available
	// or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}

// Package worker provides the background worker that applies execution
// stream events to a flowstate engine.
//
// Ingest sources (SSE, WebSocket, HTTP) only enqueue events; a worker
// dequeues them and maps each envelope onto the engine:
//
//   - start: ResetRun returns every node of the flow to IDLE
//   - progress: Apply normalizes the event and upserts the node state
//   - complete: SetOutput stores the final output of the run
//   - error: SetOutput stores the run-level error message
//
// Because the engine orders updates per node by timestamp, several workers
// may consume the same queue; a single worker preserves queue order across
// nodes as well.
//
// # Usage
//
//	q := taskqueue.NewInMemoryQueue(0)
//	w := worker.New(engine, q)
//	go w.Run(ctx, func(err error) { logger.Warn("task_failed", "error", err) })
//
// Most users obtain queues and workers through the flowstate package.
package worker

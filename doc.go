// Package flowstate keeps the execution state of workflow graphs in sync
// with the backend that runs them.
//
// A workflow editor shows one node per analysis or decision agent. While a
// run is in progress the backend streams progress events; flowstate folds
// them into per-node state that views can read and subscribe to, and keeps
// every flow fully isolated from the others.
//
// # Core Concepts
//
//  1. Engine
//  2. Partition
//  3. Override
//  4. Runner
//
// # Engine
//
// The Engine owns one partition per flow and offers:
//   - Apply / Upsert: merge progress, last writer by timestamp wins
//   - Read / View / ReadAll: copies of node state, IDLE when unknown
//   - Subscribe / SubscribeFlow: change notifications, once per change
//   - SwitchTo / OpenTab / CloseTab: the current flow and open tabs
//   - Delete: destroy a flow's partition
//   - LoadCatalog: the memoized model catalog
//
// None of these operations fail. Unknown keys read as idle, stale and
// unresolvable events are dropped and reported to the Observer.
//
// Engines keep all state in memory and can mirror it to a durable store:
//
//   - SQLite
//   - Postgres
//   - Redis
//   - MongoDB
//
// A mirrored partition is loaded back on first reference after a restart.
//
// # Partition
//
// A partition holds the node states, the model overrides and the output of
// the latest run of one flow. Updates to one flow never appear in another,
// and a deleted flow comes back empty when referenced again.
//
// # Override
//
// An override is a model chosen for a single node. It supersedes the
// flow-level default and survives new runs:
//
//	eng.SetOverride(ctx, key, &flowstate.Model{ModelName: "gpt-4.1", Provider: "OpenAI"})
//	m := eng.EffectiveModel(ctx, key, globalDefault)
//
// # Runner
//
// Runner couples an Engine with a task queue and a worker. Stream sources
// enqueue, workers dequeue and apply:
//
//	runner := flowstate.NewLocalRunner()
//	_ = runner.StartWorkers(ctx, 1)
//	go runner.IngestSSE(ctx, "http://backend/hedge-fund/run", "flow-1")
//
// The flowstate command runs the same pieces as a daemon with an HTTP API.
package flowstate

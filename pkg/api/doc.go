// Package api contains the core types shared by the flowstate engine and its
// integrations: flow and node identifiers, node execution state, model
// overrides, the raw progress event shape, the Engine consumer interface and
// the Observer contract.
//
// Most users interact with the higher-level flowstate package, which
// re-exports selected types and helpers from this package. The api package
// is intended for integrations (view layers, transports, storage backends)
// that need the raw types without pulling in the engine.
//
// # Node state
//
// A NodeState is addressed by a Key, the pair (FlowID, NodeID). It carries a
// Status, an optional ticker, the latest progress message and LastUpdated,
// the unix-millisecond timestamp of the event it reflects. Updates arrive as
// a Delta: a partial record whose nil fields leave the stored value alone.
//
// Readers never see an error. A key that was never written reads as
// IdleState().
//
// # Overrides
//
// A Model override is a per-node user choice. It lives next to, but apart
// from, the execution state: progress events never touch it and setting it
// never touches the execution state. A NodeView merges both for display.
//
// # Observability
//
// Observer receives callbacks for applied and dropped updates, flow
// switches, deletions and catalog fetches. NoopObserver is the default,
// LoggingObserver writes log/slog records and BasicMetrics keeps counters.
// Combine them with NewCompositeObserver.
package api

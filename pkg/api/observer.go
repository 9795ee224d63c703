package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; they are called on the
// goroutine that applies events.
type Observer interface {
	// OnUpdateApplied is called after an upsert or override change altered
	// the stored value of a node.
	OnUpdateApplied(ctx context.Context, view NodeView)

	// OnStaleUpdate is called when a delta older than the stored state was
	// ignored. stored and incoming are unix milliseconds.
	OnStaleUpdate(ctx context.Context, key Key, stored, incoming int64)

	// OnEventDropped is called when a raw event could not be normalized,
	// for example because its agent no longer exists in the graph.
	OnEventDropped(ctx context.Context, flow FlowID, ev ProgressEvent, err error)

	// OnFlowSwitched is called when the current flow changes.
	OnFlowSwitched(ctx context.Context, from, to FlowID)

	// OnFlowDeleted is called after a partition was destroyed.
	OnFlowDeleted(ctx context.Context, flow FlowID)

	// OnCatalogFetch is called after every catalog fetch attempt.
	// attempt is 1 for the first fetch and 2 for the retry.
	OnCatalogFetch(ctx context.Context, attempt int, models int, err error)

	// OnPersistenceError is called when mirroring state to a durable store
	// failed. In-memory state is unaffected.
	OnPersistenceError(ctx context.Context, flow FlowID, op string, err error)

	// OnSubscriberPanic is called when a subscriber callback panicked.
	OnSubscriberPanic(ctx context.Context, key Key, recovered any)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnUpdateApplied(ctx context.Context, view NodeView)                 {}
func (NoopObserver) OnStaleUpdate(ctx context.Context, key Key, stored, incoming int64) {}
func (NoopObserver) OnEventDropped(ctx context.Context, flow FlowID, ev ProgressEvent, err error) {
}
func (NoopObserver) OnFlowSwitched(ctx context.Context, from, to FlowID)                    {}
func (NoopObserver) OnFlowDeleted(ctx context.Context, flow FlowID)                         {}
func (NoopObserver) OnCatalogFetch(ctx context.Context, attempt int, models int, err error) {}
func (NoopObserver) OnPersistenceError(ctx context.Context, flow FlowID, op string, err error) {
}
func (NoopObserver) OnSubscriberPanic(ctx context.Context, key Key, recovered any) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnUpdateApplied(ctx context.Context, view NodeView) {
	for _, o := range c.observers {
		o.OnUpdateApplied(ctx, view)
	}
}

func (c *CompositeObserver) OnStaleUpdate(ctx context.Context, key Key, stored, incoming int64) {
	for _, o := range c.observers {
		o.OnStaleUpdate(ctx, key, stored, incoming)
	}
}

func (c *CompositeObserver) OnEventDropped(ctx context.Context, flow FlowID, ev ProgressEvent, err error) {
	for _, o := range c.observers {
		o.OnEventDropped(ctx, flow, ev, err)
	}
}

func (c *CompositeObserver) OnFlowSwitched(ctx context.Context, from, to FlowID) {
	for _, o := range c.observers {
		o.OnFlowSwitched(ctx, from, to)
	}
}

func (c *CompositeObserver) OnFlowDeleted(ctx context.Context, flow FlowID) {
	for _, o := range c.observers {
		o.OnFlowDeleted(ctx, flow)
	}
}

func (c *CompositeObserver) OnCatalogFetch(ctx context.Context, attempt int, models int, err error) {
	for _, o := range c.observers {
		o.OnCatalogFetch(ctx, attempt, models, err)
	}
}

func (c *CompositeObserver) OnPersistenceError(ctx context.Context, flow FlowID, op string, err error) {
	for _, o := range c.observers {
		o.OnPersistenceError(ctx, flow, op, err)
	}
}

func (c *CompositeObserver) OnSubscriberPanic(ctx context.Context, key Key, recovered any) {
	for _, o := range c.observers {
		o.OnSubscriberPanic(ctx, key, recovered)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs engine events using the
// provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnUpdateApplied(ctx context.Context, view NodeView) {
	o.Logger.DebugContext(ctx, "update_applied",
		slog.String("flow_id", string(view.Flow)),
		slog.String("node_id", string(view.Node)),
		slog.String("status", string(view.State.Status)),
		slog.Int64("last_updated", view.State.LastUpdated),
	)
}

func (o *LoggingObserver) OnStaleUpdate(ctx context.Context, key Key, stored, incoming int64) {
	o.Logger.DebugContext(ctx, "stale_update",
		slog.String("flow_id", string(key.Flow)),
		slog.String("node_id", string(key.Node)),
		slog.Int64("stored", stored),
		slog.Int64("incoming", incoming),
	)
}

func (o *LoggingObserver) OnEventDropped(ctx context.Context, flow FlowID, ev ProgressEvent, err error) {
	o.Logger.WarnContext(ctx, "event_dropped",
		slog.String("flow_id", string(flow)),
		slog.String("agent", ev.Agent),
		slog.String("status", ev.Status),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnFlowSwitched(ctx context.Context, from, to FlowID) {
	o.Logger.InfoContext(ctx, "flow_switched",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

func (o *LoggingObserver) OnFlowDeleted(ctx context.Context, flow FlowID) {
	o.Logger.InfoContext(ctx, "flow_deleted",
		slog.String("flow_id", string(flow)),
	)
}

func (o *LoggingObserver) OnCatalogFetch(ctx context.Context, attempt int, models int, err error) {
	level := slog.LevelInfo
	if err != nil || models == 0 {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "catalog_fetch",
		slog.Int("attempt", attempt),
		slog.Int("models", models),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnPersistenceError(ctx context.Context, flow FlowID, op string, err error) {
	o.Logger.ErrorContext(ctx, "persistence_error",
		slog.String("flow_id", string(flow)),
		slog.String("op", op),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnSubscriberPanic(ctx context.Context, key Key, recovered any) {
	o.Logger.ErrorContext(ctx, "subscriber_panic",
		slog.String("flow_id", string(key.Flow)),
		slog.String("node_id", string(key.Node)),
		slog.Any("panic", recovered),
	)
}

// BasicMetrics collects simple counters.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	updatesApplied atomic.Int64
	staleUpdates   atomic.Int64
	eventsDropped  atomic.Int64
	flowsDeleted   atomic.Int64
	catalogFetches atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	UpdatesApplied int64
	StaleUpdates   int64
	EventsDropped  int64
	FlowsDeleted   int64
	CatalogFetches int64
}

func (m *BasicMetrics) OnUpdateApplied(ctx context.Context, view NodeView) {
	m.updatesApplied.Add(1)
}

func (m *BasicMetrics) OnStaleUpdate(ctx context.Context, key Key, stored, incoming int64) {
	m.staleUpdates.Add(1)
}

func (m *BasicMetrics) OnEventDropped(ctx context.Context, flow FlowID, ev ProgressEvent, err error) {
	m.eventsDropped.Add(1)
}

func (m *BasicMetrics) OnFlowDeleted(ctx context.Context, flow FlowID) {
	m.flowsDeleted.Add(1)
}

func (m *BasicMetrics) OnCatalogFetch(ctx context.Context, attempt int, models int, err error) {
	m.catalogFetches.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	return BasicMetricsSnapshot{
		UpdatesApplied: m.updatesApplied.Load(),
		StaleUpdates:   m.staleUpdates.Load(),
		EventsDropped:  m.eventsDropped.Load(),
		FlowsDeleted:   m.flowsDeleted.Load(),
		CatalogFetches: m.catalogFetches.Load(),
	}
}

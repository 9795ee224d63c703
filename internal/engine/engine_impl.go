package engine

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/flowstate/internal/catalog"
	"github.com/petrijr/flowstate/internal/dispatch"
	"github.com/petrijr/flowstate/internal/normalize"
	"github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/pkg/api"
)

// engineImpl is the in-process state synchronization engine.
//
// All partition mutation happens under mu. Observer hooks and subscriber
// callbacks run after mu is released, so either may call back into the
// engine. Writes to the partition store happen under mu to keep the durable
// mirror in commit order.
type engineImpl struct {
	mu       sync.Mutex
	registry *flowRegistry
	rev      uint64

	hub        *dispatch.Hub
	normalizer *normalize.Normalizer
	resolver   normalize.Resolver
	catalog    *catalog.Loader
	store      persistence.PartitionStore
	observer   api.Observer

	now          func() time.Time
	historyLimit int
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	Persistence persistence.Persistence
	Observer    api.Observer

	// Resolver maps agents to nodes. Defaults to normalize.IdentityResolver.
	Resolver normalize.Resolver

	// Catalog serves LoadCatalog. Without one the catalog is always empty.
	Catalog *catalog.Loader

	// Clock defaults to time.Now.
	Clock func() time.Time

	// HistoryLimit bounds per-node message history. Zero means
	// DefaultHistoryLimit; negative disables the history.
	HistoryLimit int
}

var _ api.Engine = (*engineImpl)(nil)

// NewInMemoryEngine creates an engine that keeps partitions in memory only.
func NewInMemoryEngine() api.Engine {
	return NewEngine(persistence.Persistence{})
}

// NewSQLiteEngine creates an engine mirroring partitions to SQLite.
func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	store, err := persistence.NewSQLitePartitionStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(persistence.Persistence{Partitions: store}), nil
}

// NewPostgresEngine creates an engine mirroring partitions to PostgreSQL.
func NewPostgresEngine(db *sql.DB) (api.Engine, error) {
	store, err := persistence.NewPostgresPartitionStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(persistence.Persistence{Partitions: store}), nil
}

// NewRedisEngine creates an engine mirroring partitions to Redis.
func NewRedisEngine(client redis.UniversalClient) api.Engine {
	return NewEngine(persistence.Persistence{
		Partitions: persistence.NewRedisPartitionStore(client, "flowstate:"),
	})
}

// NewMongoEngine creates an engine mirroring partitions to MongoDB.
func NewMongoEngine(client *mongo.Client, dbName string) api.Engine {
	return NewEngine(persistence.Persistence{
		Partitions: persistence.NewMongoPartitionStore(client, dbName),
	})
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	store := cfg.Persistence.Partitions
	if store == nil {
		store = persistence.NoopPartitionStore{}
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = normalize.IdentityResolver
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	limit := cfg.HistoryLimit
	if limit == 0 {
		limit = DefaultHistoryLimit
	}

	e := &engineImpl{
		registry:     newFlowRegistry(),
		normalizer:   normalize.New(resolver, normalize.WithClock(now)),
		resolver:     resolver,
		catalog:      cfg.Catalog,
		store:        store,
		observer:     obs,
		now:          now,
		historyLimit: limit,
	}
	e.hub = dispatch.New(func(key api.Key, recovered any) {
		e.observer.OnSubscriberPanic(context.Background(), key, recovered)
	})
	return e
}

// NewEngine returns an Engine mirroring partitions to p.Partitions, if set.
// External users access this via flowstate.NewEngine.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{
		Persistence: p,
	})
}

// followups collects work to run once mu is released.
type followups []func()

func (f *followups) add(fn func()) { *f = append(*f, fn) }

func (f followups) run() {
	for _, fn := range f {
		fn()
	}
}

// partitionLocked returns the partition of flow, creating it on first
// reference. A new partition is hydrated from the store unless the flow was
// deleted. Callers hold e.mu.
func (e *engineImpl) partitionLocked(ctx context.Context, flow api.FlowID, after *followups) *partition {
	if p, ok := e.registry.lookup(flow); ok {
		return p
	}

	p := newPartition()
	if !e.registry.wasDestroyed(flow) {
		stored, err := e.store.LoadPartition(ctx, flow)
		if err != nil {
			after.add(func() { e.observer.OnPersistenceError(ctx, flow, "load", err) })
		} else {
			p = partitionFromStore(stored)
		}
	}
	e.registry.activate(flow, p)
	return p
}

// persistLocked reports a failed store write. The in-memory commit stands.
func (e *engineImpl) persistLocked(ctx context.Context, flow api.FlowID, op string, err error, after *followups) {
	if err != nil {
		after.add(func() { e.observer.OnPersistenceError(ctx, flow, op, err) })
	}
}

func (e *engineImpl) publish(ctx context.Context, view api.NodeView, rev uint64) {
	e.observer.OnUpdateApplied(ctx, view)
	e.hub.Publish(view, rev)
}

func (e *engineImpl) Apply(ctx context.Context, flow api.FlowID, ev api.ProgressEvent) bool {
	u, err := e.normalizer.Normalize(flow, ev)
	if err != nil {
		e.observer.OnEventDropped(ctx, flow, ev, err)
		return false
	}
	_, changed := e.Upsert(ctx, u.Key, u.Delta)
	return changed
}

func (e *engineImpl) Upsert(ctx context.Context, key api.Key, delta api.Delta) (api.NodeView, bool) {
	var after followups
	defer func() { after.run() }()

	e.mu.Lock()
	p := e.partitionLocked(ctx, key.Flow, &after)

	stored, known := p.nodes[key.Node]
	if !known {
		stored = api.IdleState()
	}

	next, applied := merge(stored, delta, e.historyLimit)
	if !applied {
		view := p.view(key.Flow, key.Node)
		e.mu.Unlock()
		e.observer.OnStaleUpdate(ctx, key, stored.LastUpdated, delta.Timestamp)
		return view, false
	}
	if e.historyLimit < 0 {
		next.Messages = nil
	}

	if known && next.Equal(stored) {
		view := p.view(key.Flow, key.Node)
		e.mu.Unlock()
		return view, false
	}

	p.nodes[key.Node] = next
	e.persistLocked(ctx, key.Flow, "save_node_state", e.store.SaveNodeState(ctx, key, next), &after)

	view := p.view(key.Flow, key.Node)
	changed := !next.Equal(stored)
	var rev uint64
	if changed {
		e.rev++
		rev = e.rev
	}
	e.mu.Unlock()

	if changed {
		after.add(func() { e.publish(ctx, view, rev) })
	}
	return view, changed
}

func (e *engineImpl) Read(ctx context.Context, key api.Key) api.NodeState {
	return e.View(ctx, key).State
}

func (e *engineImpl) View(ctx context.Context, key api.Key) api.NodeView {
	var after followups
	defer func() { after.run() }()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.partitionLocked(ctx, key.Flow, &after).view(key.Flow, key.Node)
}

func (e *engineImpl) ReadAll(ctx context.Context, flow api.FlowID) []api.NodeView {
	var after followups
	defer func() { after.run() }()

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.partitionLocked(ctx, flow, &after)
	ids := p.nodeIDs()
	views := make([]api.NodeView, 0, len(ids))
	for _, id := range ids {
		views = append(views, p.view(flow, id))
	}
	return views
}

func (e *engineImpl) ResetRun(ctx context.Context, flow api.FlowID) {
	var after followups
	defer func() { after.run() }()

	type publication struct {
		view api.NodeView
		rev  uint64
	}
	var pubs []publication

	e.mu.Lock()
	p := e.partitionLocked(ctx, flow, &after)
	for _, id := range p.nodeIDs() {
		stored, ok := p.nodes[id]
		if !ok {
			continue
		}
		next := resetState(stored)
		if next.Equal(stored) {
			continue
		}
		p.nodes[id] = next
		key := api.Key{Flow: flow, Node: id}
		e.persistLocked(ctx, flow, "save_node_state", e.store.SaveNodeState(ctx, key, next), &after)
		e.rev++
		pubs = append(pubs, publication{view: p.view(flow, id), rev: e.rev})
	}
	e.mu.Unlock()

	for _, pub := range pubs {
		after.add(func() { e.publish(ctx, pub.view, pub.rev) })
	}
}

func (e *engineImpl) SetOutput(ctx context.Context, flow api.FlowID, out api.RunOutput) {
	var after followups
	defer func() { after.run() }()

	out = cloneOutput(out)
	if out.CompletedAt == 0 {
		out.CompletedAt = e.now().UnixMilli()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.partitionLocked(ctx, flow, &after)
	p.output = &out
	e.persistLocked(ctx, flow, "save_output", e.store.SaveOutput(ctx, flow, out), &after)
}

func (e *engineImpl) Output(ctx context.Context, flow api.FlowID) (api.RunOutput, bool) {
	var after followups
	defer func() { after.run() }()

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.partitionLocked(ctx, flow, &after)
	if p.output == nil {
		return api.RunOutput{}, false
	}
	return cloneOutput(*p.output), true
}

func (e *engineImpl) SetOverride(ctx context.Context, key api.Key, model *api.Model) {
	var after followups
	defer func() { after.run() }()

	if model != nil {
		m := *model
		model = &m
	}

	e.mu.Lock()
	p := e.partitionLocked(ctx, key.Flow, &after)
	if !p.setOverride(key.Node, model) {
		e.mu.Unlock()
		return
	}
	e.persistLocked(ctx, key.Flow, "save_override", e.store.SaveOverride(ctx, key, model), &after)
	e.rev++
	rev := e.rev
	view := p.view(key.Flow, key.Node)
	e.mu.Unlock()

	after.add(func() { e.hub.Publish(view, rev) })
}

func (e *engineImpl) GetOverride(ctx context.Context, key api.Key) *api.Model {
	var after followups
	defer func() { after.run() }()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.partitionLocked(ctx, key.Flow, &after).override(key.Node)
}

func (e *engineImpl) EffectiveModel(ctx context.Context, key api.Key, global *api.Model) *api.Model {
	return effectiveModel(e.GetOverride(ctx, key), global)
}

func (e *engineImpl) Subscribe(key api.Key, fn func(api.NodeView)) func() {
	return e.hub.Subscribe(key, fn)
}

func (e *engineImpl) SubscribeFlow(flow api.FlowID, fn func(api.NodeView)) func() {
	return e.hub.SubscribeFlow(flow, fn)
}

func (e *engineImpl) SwitchTo(ctx context.Context, flow api.FlowID) {
	var after followups
	defer func() { after.run() }()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.switchLocked(ctx, flow, &after)
}

func (e *engineImpl) switchLocked(ctx context.Context, flow api.FlowID, after *followups) {
	e.partitionLocked(ctx, flow, after)
	from := e.registry.current
	if from == flow {
		return
	}
	e.registry.current = flow
	after.add(func() { e.observer.OnFlowSwitched(ctx, from, flow) })
}

func (e *engineImpl) Current() api.FlowID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.current
}

func (e *engineImpl) OpenTab(ctx context.Context, flow api.FlowID) {
	var after followups
	defer func() { after.run() }()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.registry.openTab(flow)
	e.switchLocked(ctx, flow, &after)
}

func (e *engineImpl) CloseTab(ctx context.Context, flow api.FlowID) {
	var after followups
	defer func() { after.run() }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.registry.removeTab(flow) {
		return
	}
	if e.registry.current == flow {
		e.switchLocked(ctx, e.registry.fallback(), &after)
	}
}

func (e *engineImpl) Tabs() []api.FlowID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]api.FlowID(nil), e.registry.tabs...)
}

// forgetter is implemented by resolvers that keep per-flow tables.
type forgetter interface {
	Forget(flow api.FlowID)
}

func (e *engineImpl) Delete(ctx context.Context, flow api.FlowID) {
	var after followups
	defer func() { after.run() }()

	type publication struct {
		view api.NodeView
		rev  uint64
	}
	var pubs []publication

	e.mu.Lock()
	if p, ok := e.registry.lookup(flow); ok {
		idle := newPartition()
		for _, id := range p.nodeIDs() {
			e.rev++
			pubs = append(pubs, publication{view: idle.view(flow, id), rev: e.rev})
		}
	}
	e.registry.destroy(flow)
	e.persistLocked(ctx, flow, "delete_partition", e.store.DeletePartition(ctx, flow), &after)
	if next := e.registry.fallback(); e.registry.current == flow && next != flow {
		e.switchLocked(ctx, next, &after)
	}
	e.mu.Unlock()

	if f, ok := e.resolver.(forgetter); ok {
		f.Forget(flow)
	}
	// Mounted views fall back to IDLE. The fresh revisions also supersede
	// any publication of the old partition still in flight.
	for _, pub := range pubs {
		after.add(func() { e.hub.Publish(pub.view, pub.rev) })
	}
	after.add(func() { e.observer.OnFlowDeleted(ctx, flow) })
}

func (e *engineImpl) PartitionState(flow api.FlowID) api.PartitionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.state(flow)
}

func (e *engineImpl) Flows() []api.FlowID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.flows()
}

func (e *engineImpl) LoadCatalog(ctx context.Context) []api.Model {
	if e.catalog == nil {
		return nil
	}
	return e.catalog.Load(ctx)
}

package flowstate

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/flowstate/internal/engine"
	"github.com/petrijr/flowstate/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	FlowID               = api.FlowID
	NodeID               = api.NodeID
	Key                  = api.Key
	Status               = api.Status
	NodeState            = api.NodeState
	NodeView             = api.NodeView
	MessageEntry         = api.MessageEntry
	Delta                = api.Delta
	Model                = api.Model
	Provider             = api.Provider
	ProgressEvent        = api.ProgressEvent
	RunOutput            = api.RunOutput
	StreamEvent          = api.StreamEvent
	StreamEventType      = api.StreamEventType
	PartitionState       = api.PartitionState
	Flow                 = api.Flow
	FlowNode             = api.FlowNode
	FlowEdge             = api.FlowEdge
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	// EngineConfig configures NewEngineWithConfig.
	EngineConfig = engine.Config
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export status and envelope values for convenience.

const (
	DefaultFlow = api.DefaultFlow

	StatusIdle       = api.StatusIdle
	StatusInProgress = api.StatusInProgress
	StatusCompleted  = api.StatusCompleted
	StatusError      = api.StatusError

	StreamStart    = api.StreamStart
	StreamProgress = api.StreamProgress
	StreamComplete = api.StreamComplete
	StreamError    = api.StreamError
)

// Ptr returns a pointer to v, for filling optional event and delta fields.
func Ptr[T any](v T) *T { return api.Ptr(v) }

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine that keeps all partitions in memory.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewEngineWithConfig(engine.Config{Observer: obs})
}

// NewSQLiteEngine returns an Engine that mirrors partitions to a SQLite
// database and hydrates them from it on first reference.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewPostgresEngine returns an Engine that mirrors partitions to PostgreSQL.
func NewPostgresEngine(db *sql.DB) (Engine, error) {
	return engine.NewPostgresEngine(db)
}

// NewRedisEngine returns an Engine that mirrors partitions to Redis.
func NewRedisEngine(client redis.UniversalClient) Engine {
	return engine.NewRedisEngine(client)
}

// NewMongoEngine returns an Engine that mirrors partitions to MongoDB.
func NewMongoEngine(client *mongo.Client, dbName string) Engine {
	return engine.NewMongoEngine(client, dbName)
}

// NewEngineWithConfig returns an Engine built from cfg.
func NewEngineWithConfig(cfg EngineConfig) Engine {
	return engine.NewEngineWithConfig(cfg)
}

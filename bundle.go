package flowstate

import (
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/flowstate/internal/engine"
	"github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/internal/taskqueue"
)

// NewSQLiteRunner constructs a Runner whose engine mirrors partitions to db.
// Flow state survives a restart; queued events do not, as the queue is kept
// in memory with the given capacity.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:flowstate.db?_journal=WAL")
//	runner, err := flowstate.NewSQLiteRunner(db, 1024)
func NewSQLiteRunner(db *sql.DB, capacity int) (*Runner, error) {
	eng, err := NewSQLiteEngine(db)
	if err != nil {
		return nil, err
	}
	return NewRunner(eng, taskqueue.NewInMemoryQueue(capacity)), nil
}

// NewRedisRunner constructs a durable Engine + Queue + Worker combo sharing
// the same Redis client. Partitions and queued events both live under
// prefix, so events enqueued before a crash are applied after a restart.
func NewRedisRunner(client redis.UniversalClient, prefix string) *Runner {
	eng := engine.NewEngine(persistence.Persistence{
		Partitions: persistence.NewRedisPartitionStore(client, prefix),
	})
	return NewRunner(eng, taskqueue.NewRedisQueue(client, prefix))
}

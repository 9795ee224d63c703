package persistence

import (
	"database/sql"
)

// PostgresPartitionStore is a PartitionStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresPartitionStore struct {
	*sqlPartitionStore
}

// Ensure PostgresPartitionStore implements PartitionStore.
var _ PartitionStore = (*PostgresPartitionStore)(nil)

// NewPostgresPartitionStore initializes the required schema in the given
// database and returns a new PostgresPartitionStore.
func NewPostgresPartitionStore(db *sql.DB) (*PostgresPartitionStore, error) {
	s, err := newSQLPartitionStore(db, postgresDialect)
	if err != nil {
		return nil, err
	}
	return &PostgresPartitionStore{sqlPartitionStore: s}, nil
}

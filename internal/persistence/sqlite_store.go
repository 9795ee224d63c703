package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/petrijr/flowstate/pkg/api"
)

// SQLitePartitionStore is a PartitionStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLitePartitionStore struct {
	*sqlPartitionStore
}

// Ensure SQLitePartitionStore implements PartitionStore.
var _ PartitionStore = (*SQLitePartitionStore)(nil)

// NewSQLitePartitionStore initializes the required schema in the given
// database and returns a new SQLitePartitionStore.
func NewSQLitePartitionStore(db *sql.DB) (*SQLitePartitionStore, error) {
	s, err := newSQLPartitionStore(db, sqliteDialect)
	if err != nil {
		return nil, err
	}
	return &SQLitePartitionStore{sqlPartitionStore: s}, nil
}

// SQLiteFlowStore is a FlowStore backed by SQLite. Nodes, edges and the
// viewport are stored as JSON columns.
type SQLiteFlowStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ FlowStore = (*SQLiteFlowStore)(nil)

// NewSQLiteFlowStore initializes the flows table and returns a store.
func NewSQLiteFlowStore(db *sql.DB) (*SQLiteFlowStore, error) {
	s := &SQLiteFlowStore{db: db, now: time.Now}
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS flows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			nodes TEXT NOT NULL,
			edges TEXT NOT NULL,
			viewport TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: init flows schema: %w", err)
	}
	return s, nil
}

type flowColumns struct {
	nodes, edges, viewport string
}

func encodeFlowColumns(f api.Flow) (flowColumns, error) {
	var cols flowColumns
	nodes := f.Nodes
	if nodes == nil {
		nodes = []api.FlowNode{}
	}
	edges := f.Edges
	if edges == nil {
		edges = []api.FlowEdge{}
	}
	var err error
	if cols.nodes, err = sonic.MarshalString(nodes); err != nil {
		return cols, err
	}
	if cols.edges, err = sonic.MarshalString(edges); err != nil {
		return cols, err
	}
	if cols.viewport, err = sonic.MarshalString(f.Viewport); err != nil {
		return cols, err
	}
	return cols, nil
}

func (s *SQLiteFlowStore) CreateFlow(ctx context.Context, f api.Flow) (api.Flow, error) {
	if f.ID == "" {
		f.ID = api.FlowID(uuid.NewString())
	}
	cols, err := encodeFlowColumns(f)
	if err != nil {
		return api.Flow{}, err
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	f.CreatedAt = now
	f.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO flows (id, name, description, nodes, edges, viewport, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		string(f.ID), f.Name, f.Description, cols.nodes, cols.edges, cols.viewport,
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return api.Flow{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return api.Flow{}, ErrFlowExists
	}
	return f, nil
}

func (s *SQLiteFlowStore) UpdateFlow(ctx context.Context, f api.Flow) (api.Flow, error) {
	existing, err := s.GetFlow(ctx, f.ID)
	if err != nil {
		return api.Flow{}, err
	}
	cols, err := encodeFlowColumns(f)
	if err != nil {
		return api.Flow{}, err
	}
	f.CreatedAt = existing.CreatedAt
	f.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)

	_, err = s.db.ExecContext(ctx, `
		UPDATE flows
		SET name = ?, description = ?, nodes = ?, edges = ?, viewport = ?, updated_at = ?
		WHERE id = ?`,
		f.Name, f.Description, cols.nodes, cols.edges, cols.viewport,
		f.UpdatedAt.UnixMilli(), string(f.ID),
	)
	if err != nil {
		return api.Flow{}, err
	}
	return f, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (api.Flow, error) {
	var (
		f                      api.Flow
		id                     string
		nodes, edges, viewport string
		created, updated       int64
	)
	if err := row.Scan(&id, &f.Name, &f.Description, &nodes, &edges, &viewport, &created, &updated); err != nil {
		return api.Flow{}, err
	}
	f.ID = api.FlowID(id)
	if err := sonic.UnmarshalString(nodes, &f.Nodes); err != nil {
		return api.Flow{}, fmt.Errorf("decode nodes of flow %q: %w", id, err)
	}
	if err := sonic.UnmarshalString(edges, &f.Edges); err != nil {
		return api.Flow{}, fmt.Errorf("decode edges of flow %q: %w", id, err)
	}
	if err := sonic.UnmarshalString(viewport, &f.Viewport); err != nil {
		return api.Flow{}, fmt.Errorf("decode viewport of flow %q: %w", id, err)
	}
	f.CreatedAt = time.UnixMilli(created).UTC()
	f.UpdatedAt = time.UnixMilli(updated).UTC()
	return f, nil
}

func (s *SQLiteFlowStore) GetFlow(ctx context.Context, id api.FlowID) (api.Flow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, nodes, edges, viewport, created_at, updated_at
		FROM flows WHERE id = ?`, string(id))
	f, err := scanFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Flow{}, ErrFlowNotFound
	}
	return f, err
}

func (s *SQLiteFlowStore) ListFlows(ctx context.Context) ([]api.Flow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, nodes, edges, viewport, created_at, updated_at
		FROM flows ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []api.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (s *SQLiteFlowStore) DeleteFlow(ctx context.Context, id api.FlowID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrFlowNotFound
	}
	return nil
}

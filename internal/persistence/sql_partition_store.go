package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/petrijr/flowstate/pkg/api"
)

// sqlDialect captures the differences between the SQL backends.
type sqlDialect struct {
	name string
	blob string
	// numbered placeholders ($1, $2, ...) instead of '?'
	numbered bool
}

var (
	sqliteDialect   = sqlDialect{name: "sqlite", blob: "BLOB"}
	postgresDialect = sqlDialect{name: "postgres", blob: "BYTEA", numbered: true}
)

func (d sqlDialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlPartitionStore is a PartitionStore over database/sql.
//
// Tables:
//
//	node_states(flow_id, node_id, status, ticker, message, last_updated, messages)
//	node_overrides(flow_id, node_id, display_name, model_name, provider)
//	run_outputs(flow_id, data, error, completed_at)
type sqlPartitionStore struct {
	db      *sql.DB
	dialect sqlDialect
}

func newSQLPartitionStore(db *sql.DB, d sqlDialect) (*sqlPartitionStore, error) {
	s := &sqlPartitionStore{db: db, dialect: d}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("%s: init schema: %w", d.name, err)
	}
	return s, nil
}

func (s *sqlPartitionStore) initSchema() error {
	stmts := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS node_states (
			flow_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			status TEXT NOT NULL,
			ticker TEXT,
			message TEXT NOT NULL DEFAULT '',
			last_updated BIGINT NOT NULL DEFAULT 0,
			messages %s,
			PRIMARY KEY (flow_id, node_id)
		)`, s.dialect.blob),
		`
		CREATE TABLE IF NOT EXISTS node_overrides (
			flow_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			model_name TEXT NOT NULL,
			provider TEXT NOT NULL,
			PRIMARY KEY (flow_id, node_id)
		)`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS run_outputs (
			flow_id TEXT PRIMARY KEY,
			data %s,
			error TEXT NOT NULL DEFAULT '',
			completed_at BIGINT NOT NULL DEFAULT 0
		)`, s.dialect.blob),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlPartitionStore) SaveNodeState(ctx context.Context, key api.Key, st api.NodeState) error {
	var messages []byte
	if len(st.Messages) > 0 {
		var err error
		if messages, err = EncodeValue(st.Messages); err != nil {
			return err
		}
	}
	var ticker sql.NullString
	if st.Ticker != nil {
		ticker = sql.NullString{String: *st.Ticker, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO node_states (flow_id, node_id, status, ticker, message, last_updated, messages)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (flow_id, node_id) DO UPDATE SET
			status = excluded.status,
			ticker = excluded.ticker,
			message = excluded.message,
			last_updated = excluded.last_updated,
			messages = excluded.messages`),
		string(key.Flow),
		string(key.Node),
		string(st.Status),
		ticker,
		st.Message,
		st.LastUpdated,
		messages,
	)
	return err
}

func (s *sqlPartitionStore) SaveOverride(ctx context.Context, key api.Key, model *api.Model) error {
	if model == nil {
		_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
			DELETE FROM node_overrides WHERE flow_id = ? AND node_id = ?`),
			string(key.Flow), string(key.Node),
		)
		return err
	}

	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO node_overrides (flow_id, node_id, display_name, model_name, provider)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (flow_id, node_id) DO UPDATE SET
			display_name = excluded.display_name,
			model_name = excluded.model_name,
			provider = excluded.provider`),
		string(key.Flow),
		string(key.Node),
		model.DisplayName,
		model.ModelName,
		string(model.Provider),
	)
	return err
}

func (s *sqlPartitionStore) SaveOutput(ctx context.Context, flow api.FlowID, out api.RunOutput) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO run_outputs (flow_id, data, error, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (flow_id) DO UPDATE SET
			data = excluded.data,
			error = excluded.error,
			completed_at = excluded.completed_at`),
		string(flow),
		out.Data,
		out.Error,
		out.CompletedAt,
	)
	return err
}

func (s *sqlPartitionStore) LoadPartition(ctx context.Context, flow api.FlowID) (Partition, error) {
	p := newPartition(flow)

	// Queries run one after another; an in-memory SQLite database lives on a
	// single connection.
	if err := s.loadNodes(ctx, &p); err != nil {
		return p, err
	}
	if err := s.loadOverrides(ctx, &p); err != nil {
		return p, err
	}

	var out api.RunOutput
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT data, error, completed_at FROM run_outputs WHERE flow_id = ?`), string(p.Flow),
	).Scan(&out.Data, &out.Error, &out.CompletedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return p, err
	default:
		p.Output = &out
	}

	return p, nil
}

func (s *sqlPartitionStore) loadNodes(ctx context.Context, p *Partition) error {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT node_id, status, ticker, message, last_updated, messages
		FROM node_states
		WHERE flow_id = ?`), string(p.Flow))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			node     string
			status   string
			ticker   sql.NullString
			st       api.NodeState
			messages []byte
		)
		if err := rows.Scan(&node, &status, &ticker, &st.Message, &st.LastUpdated, &messages); err != nil {
			return err
		}
		st.Status = api.Status(status)
		if ticker.Valid {
			t := ticker.String
			st.Ticker = &t
		}
		if st.Messages, err = DecodeValue[[]api.MessageEntry](messages); err != nil {
			return err
		}
		p.Nodes[api.NodeID(node)] = st
	}
	return rows.Err()
}

func (s *sqlPartitionStore) loadOverrides(ctx context.Context, p *Partition) error {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT node_id, display_name, model_name, provider
		FROM node_overrides
		WHERE flow_id = ?`), string(p.Flow))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var node, provider string
		var m api.Model
		if err := rows.Scan(&node, &m.DisplayName, &m.ModelName, &provider); err != nil {
			return err
		}
		m.Provider = api.Provider(provider)
		p.Overrides[api.NodeID(node)] = m
	}
	return rows.Err()
}

func (s *sqlPartitionStore) DeletePartition(ctx context.Context, flow api.FlowID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"node_states", "node_overrides", "run_outputs"} {
		if _, err := tx.ExecContext(ctx, s.dialect.rebind("DELETE FROM "+table+" WHERE flow_id = ?"), string(flow)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlPartitionStore) ListPartitions(ctx context.Context) ([]api.FlowID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flow_id FROM node_states
		UNION
		SELECT flow_id FROM node_overrides
		UNION
		SELECT flow_id FROM run_outputs
		ORDER BY flow_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []api.FlowID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, api.FlowID(id))
	}
	return result, rows.Err()
}

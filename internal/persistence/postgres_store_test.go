package persistence

import (
	"database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/flowstate/internal/testutil"
)

type PostgresStoreTestSuite struct {
	suite.Suite
	endpoint string
	store    *PostgresPartitionStore
	db       *sql.DB
}

func TestPostgresTestSuite(t *testing.T) {
	testsuite := new(PostgresStoreTestSuite)
	testsuite.endpoint = testutil.GetPostgresEndpoint(t)
	initTestPostgresStore(t, testsuite)
	suite.Run(t, testsuite)
}

func (p *PostgresStoreTestSuite) SetupTest() {
	_, err := p.db.Exec("TRUNCATE TABLE node_states, node_overrides, run_outputs")
	p.NoErrorf(err, "TRUNCATE failed: %v", err)
}

func initTestPostgresStore(t *testing.T, ts *PostgresStoreTestSuite) {
	t.Helper()

	db, err := sql.Open("pgx", ts.endpoint)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	ts.db = db

	store, err := NewPostgresPartitionStore(db)
	if err != nil {
		t.Fatalf("NewPostgresPartitionStore failed: %v", err)
	}
	ts.store = store
}

func (p *PostgresStoreTestSuite) TestPartitionStoreBehaviour() {
	exercisePartitionStore(p.T(), p.store)
}

func (p *PostgresStoreTestSuite) TestDefaultFlow() {
	exerciseDefaultFlow(p.T(), p.store)
}

func (p *PostgresStoreTestSuite) TestSchemaIsIdempotent() {
	_, err := NewPostgresPartitionStore(p.db)
	p.NoError(err)
}

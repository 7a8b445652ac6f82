// internal/testutil/db.go
package testutil

import (
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// schema mirrors migrations/sqlite/000001_init.up.sql so tests run against the same
// shape without a migration step.
const schema = `
CREATE TABLE workflows (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name VARCHAR(100) NOT NULL UNIQUE,
    description TEXT,
    enabled BOOLEAN NOT NULL DEFAULT 1,
    logging_enabled BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE workflow_nodes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    workflow_id INTEGER NOT NULL REFERENCES workflows(id),
    node_id VARCHAR(100) NOT NULL,
    node_type VARCHAR(50) NOT NULL,
    name VARCHAR(100) NOT NULL,
    position_x INTEGER NOT NULL DEFAULT 0,
    position_y INTEGER NOT NULL DEFAULT 0,
    config TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX idx_workflow_nodes_workflow ON workflow_nodes(workflow_id, position_x);

CREATE TABLE workflow_connections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    workflow_id INTEGER NOT NULL REFERENCES workflows(id),
    source_node VARCHAR(100) NOT NULL,
    target_node VARCHAR(100) NOT NULL,
    condition TEXT
);

CREATE TABLE endpoints (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name VARCHAR(100) NOT NULL,
    path VARCHAR(500) NOT NULL UNIQUE,
    method VARCHAR(10) NOT NULL DEFAULT 'GET',
    description TEXT,
    enabled BOOLEAN NOT NULL DEFAULT 1,
    summary VARCHAR(200),
    logic_type VARCHAR(50) NOT NULL DEFAULT 'simple',
    workflow_id INTEGER,
    model_id INTEGER,
    custom_code TEXT,
    response_template TEXT
);

CREATE TABLE data_models (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name VARCHAR(100) NOT NULL UNIQUE,
    table_name VARCHAR(100) NOT NULL UNIQUE,
    description TEXT,
    enabled BOOLEAN NOT NULL DEFAULT 1
);

CREATE TABLE database_configs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name VARCHAR(100) NOT NULL UNIQUE,
    description TEXT,
    db_type VARCHAR(50) NOT NULL,
    host VARCHAR(500),
    port INTEGER,
    database VARCHAR(200),
    username VARCHAR(200),
    password VARCHAR(500),
    path VARCHAR(500),
    pool_size INTEGER NOT NULL DEFAULT 5,
    max_overflow INTEGER NOT NULL DEFAULT 10,
    pool_timeout INTEGER NOT NULL DEFAULT 30,
    pool_recycle INTEGER NOT NULL DEFAULT 3600,
    enabled BOOLEAN NOT NULL DEFAULT 1,
    is_default BOOLEAN NOT NULL DEFAULT 0,
    created_at VARCHAR(50) NOT NULL DEFAULT '',
    updated_at VARCHAR(50) NOT NULL DEFAULT ''
);
`

// SetupTestDB opens an in-memory sqlite database with the metadata schema
// applied. The connection is closed when the test finishes.
func SetupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// The in-memory database lives and dies with its single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		errClose := db.Close()
		if errClose != nil {
			t.Logf("Failed to close test database: %v", errClose)
		}
		t.Fatalf("Failed to apply test schema: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}

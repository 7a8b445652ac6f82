package storage

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/flowgate/flowgate/pkg/models"
	"github.com/flowgate/flowgate/pkg/storage"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DBInterface is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx.
type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
}

// SQLStore implements storage.Store on any sqlx-supported driver. Queries are
// written with ? placeholders and rebound per driver.
type SQLStore struct {
	db         DBInterface
	driverName string
}

// NewSQLStore opens the metadata database and verifies connectivity.
func NewSQLStore(driverName, dsn string) (*SQLStore, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &SQLStore{db: db, driverName: driverName}, nil
}

// NewSQLStoreFromDB wraps an existing connection, e.g. in tests.
func NewSQLStoreFromDB(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, driverName: db.DriverName()}
}

// DB exposes the underlying connection for callers that need raw access, such
// as the generic CRUD executor. Returns nil inside a transaction.
func (s *SQLStore) DB() *sqlx.DB {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db
	}
	return nil
}

func (s *SQLStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &SQLStore{db: tx, driverName: s.driverName}, nil
	}
	return nil, errors.New("cannot begin transaction on unknown type")
}

func (s *SQLStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return errors.New("cannot commit: not a transaction")
}

func (s *SQLStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return errors.New("cannot rollback: not a transaction")
}

func (s *SQLStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// insert runs an INSERT and returns the new row id, using RETURNING on postgres
// and LastInsertId elsewhere.
func (s *SQLStore) insert(query string, args ...interface{}) (int64, error) {
	if s.driverName == "postgres" {
		var id int64
		err := s.db.QueryRowx(s.db.Rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := s.db.Exec(s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ---- Workflows ----

func (s *SQLStore) SaveWorkflow(w models.Workflow) (int64, error) {
	id, err := s.insert(
		"INSERT INTO workflows (name, description, enabled, logging_enabled) VALUES (?, ?, ?, ?)",
		w.Name, w.Description, w.Enabled, w.LoggingEnabled)
	if err != nil {
		return 0, errors.Wrap(err, "save workflow")
	}
	return id, nil
}

func (s *SQLStore) GetWorkflow(id int64) (models.Workflow, error) {
	var w models.Workflow
	err := s.db.Get(&w, s.db.Rebind("SELECT * FROM workflows WHERE id = ?"), id)
	if err == sql.ErrNoRows {
		return models.Workflow{}, storage.ErrNotFound
	}
	return w, err
}

func (s *SQLStore) GetWorkflowByName(name string) (models.Workflow, error) {
	var w models.Workflow
	err := s.db.Get(&w, s.db.Rebind("SELECT * FROM workflows WHERE name = ?"), name)
	if err == sql.ErrNoRows {
		return models.Workflow{}, storage.ErrNotFound
	}
	return w, err
}

func (s *SQLStore) ListWorkflows() ([]models.Workflow, error) {
	workflows := []models.Workflow{}
	err := s.db.Select(&workflows, "SELECT * FROM workflows ORDER BY id")
	return workflows, err
}

func (s *SQLStore) UpdateWorkflow(w models.Workflow) error {
	res, err := s.db.Exec(
		s.db.Rebind("UPDATE workflows SET name = ?, description = ?, enabled = ?, logging_enabled = ? WHERE id = ?"),
		w.Name, w.Description, w.Enabled, w.LoggingEnabled, w.ID)
	if err != nil {
		return errors.Wrap(err, "update workflow")
	}
	return requireRow(res)
}

func (s *SQLStore) DeleteWorkflow(id int64) error {
	if _, err := s.db.Exec(s.db.Rebind("DELETE FROM workflow_connections WHERE workflow_id = ?"), id); err != nil {
		return err
	}
	if _, err := s.db.Exec(s.db.Rebind("DELETE FROM workflow_nodes WHERE workflow_id = ?"), id); err != nil {
		return err
	}
	res, err := s.db.Exec(s.db.Rebind("DELETE FROM workflows WHERE id = ?"), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---- Node graph ----

func (s *SQLStore) ListWorkflowNodes(workflowID int64) ([]models.WorkflowNode, error) {
	nodes := []models.WorkflowNode{}
	err := s.db.Select(&nodes,
		s.db.Rebind("SELECT * FROM workflow_nodes WHERE workflow_id = ? ORDER BY position_x, id"),
		workflowID)
	return nodes, err
}

func (s *SQLStore) ListWorkflowConnections(workflowID int64) ([]models.WorkflowConnection, error) {
	conns := []models.WorkflowConnection{}
	err := s.db.Select(&conns,
		s.db.Rebind("SELECT * FROM workflow_connections WHERE workflow_id = ? ORDER BY id"),
		workflowID)
	return conns, err
}

// ReplaceWorkflowGraph deletes a workflow's nodes and connections and writes the
// given set, matching the canvas save semantics.
func (s *SQLStore) ReplaceWorkflowGraph(workflowID int64, nodes []models.WorkflowNode, conns []models.WorkflowConnection) error {
	// Connections go first because of the foreign key.
	if _, err := s.db.Exec(s.db.Rebind("DELETE FROM workflow_connections WHERE workflow_id = ?"), workflowID); err != nil {
		return errors.Wrap(err, "delete old connections")
	}
	if _, err := s.db.Exec(s.db.Rebind("DELETE FROM workflow_nodes WHERE workflow_id = ?"), workflowID); err != nil {
		return errors.Wrap(err, "delete old nodes")
	}
	for _, n := range nodes {
		_, err := s.db.Exec(
			s.db.Rebind("INSERT INTO workflow_nodes (workflow_id, node_id, node_type, name, position_x, position_y, config) VALUES (?, ?, ?, ?, ?, ?, ?)"),
			workflowID, n.NodeID, n.NodeType, n.Name, n.PositionX, n.PositionY, n.Config)
		if err != nil {
			return errors.Wrapf(err, "save node %s", n.NodeID)
		}
	}
	for _, c := range conns {
		_, err := s.db.Exec(
			s.db.Rebind("INSERT INTO workflow_connections (workflow_id, source_node, target_node, condition) VALUES (?, ?, ?, ?)"),
			workflowID, c.SourceNode, c.TargetNode, c.Condition)
		if err != nil {
			return errors.Wrap(err, "save connection")
		}
	}
	return nil
}

// ---- Endpoints ----

func (s *SQLStore) SaveEndpoint(e models.Endpoint) (int64, error) {
	id, err := s.insert(
		"INSERT INTO endpoints (name, path, method, description, enabled, summary, logic_type, workflow_id, model_id, custom_code, response_template) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.Name, e.Path, e.Method, e.Description, e.Enabled, e.Summary, e.LogicType,
		e.WorkflowID, e.ModelID, e.CustomCode, e.ResponseTemplate)
	if err != nil {
		return 0, errors.Wrap(err, "save endpoint")
	}
	return id, nil
}

func (s *SQLStore) ListEndpoints() ([]models.Endpoint, error) {
	endpoints := []models.Endpoint{}
	err := s.db.Select(&endpoints, "SELECT * FROM endpoints ORDER BY id")
	return endpoints, err
}

func (s *SQLStore) ListEnabledEndpoints() ([]models.Endpoint, error) {
	endpoints := []models.Endpoint{}
	err := s.db.Select(&endpoints, s.db.Rebind("SELECT * FROM endpoints WHERE enabled = ? ORDER BY id"), true)
	return endpoints, err
}

// ---- Data models ----

func (s *SQLStore) GetDataModel(id int64) (models.DataModel, error) {
	var dm models.DataModel
	err := s.db.Get(&dm, s.db.Rebind("SELECT * FROM data_models WHERE id = ?"), id)
	if err == sql.ErrNoRows {
		return models.DataModel{}, storage.ErrNotFound
	}
	return dm, err
}

// ---- Database configs ----

func (s *SQLStore) SaveDatabaseConfig(c models.DatabaseConfig) (int64, error) {
	var count int
	if err := s.db.Get(&count, s.db.Rebind("SELECT COUNT(*) FROM database_configs WHERE name = ?"), c.Name); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, storage.ErrNameConflict
	}
	id, err := s.insert(
		"INSERT INTO database_configs (name, description, db_type, host, port, database, username, password, path, pool_size, max_overflow, pool_timeout, pool_recycle, enabled, is_default, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		c.Name, c.Description, c.DBType, c.Host, c.Port, c.Database, c.Username, c.Password, c.Path,
		c.PoolSize, c.MaxOverflow, c.PoolTimeout, c.PoolRecycle, c.Enabled, c.IsDefault,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return 0, errors.Wrap(err, "save database config")
	}
	return id, nil
}

func (s *SQLStore) GetDatabaseConfig(id int64) (models.DatabaseConfig, error) {
	var c models.DatabaseConfig
	err := s.db.Get(&c, s.db.Rebind("SELECT * FROM database_configs WHERE id = ?"), id)
	if err == sql.ErrNoRows {
		return models.DatabaseConfig{}, storage.ErrNotFound
	}
	return c, err
}

func (s *SQLStore) ListDatabaseConfigs() ([]models.DatabaseConfig, error) {
	configs := []models.DatabaseConfig{}
	err := s.db.Select(&configs, "SELECT * FROM database_configs ORDER BY id")
	return configs, err
}

func (s *SQLStore) ListEnabledDatabaseConfigs() ([]models.DatabaseConfig, error) {
	configs := []models.DatabaseConfig{}
	err := s.db.Select(&configs, s.db.Rebind("SELECT * FROM database_configs WHERE enabled = ? ORDER BY id"), true)
	return configs, err
}

func (s *SQLStore) UpdateDatabaseConfig(c models.DatabaseConfig) error {
	res, err := s.db.Exec(
		s.db.Rebind(`UPDATE database_configs SET name = ?, description = ?, db_type = ?, host = ?, port = ?,
			database = ?, username = ?, password = ?, path = ?, pool_size = ?, max_overflow = ?,
			pool_timeout = ?, pool_recycle = ?, enabled = ?, is_default = ?, updated_at = ? WHERE id = ?`),
		c.Name, c.Description, c.DBType, c.Host, c.Port, c.Database, c.Username, c.Password, c.Path,
		c.PoolSize, c.MaxOverflow, c.PoolTimeout, c.PoolRecycle, c.Enabled, c.IsDefault, c.UpdatedAt, c.ID)
	if err != nil {
		return errors.Wrap(err, "update database config")
	}
	return requireRow(res)
}

func (s *SQLStore) DeleteDatabaseConfig(id int64) error {
	res, err := s.db.Exec(s.db.Rebind("DELETE FROM database_configs WHERE id = ?"), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLStore) ClearDefaultFlags(excludeID int64) error {
	_, err := s.db.Exec(
		s.db.Rebind("UPDATE database_configs SET is_default = ? WHERE id <> ?"),
		false, excludeID)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

package storage

import (
	"github.com/flowgate/flowgate/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrNameConflict is returned when a unique name is already taken.
var ErrNameConflict = errors.New("name already exists")

// Store defines the metadata storage operations for flowgate.
type Store interface {
	// Transaction lifecycle
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Workflow operations
	SaveWorkflow(w models.Workflow) (int64, error)
	GetWorkflow(id int64) (models.Workflow, error)
	GetWorkflowByName(name string) (models.Workflow, error)
	ListWorkflows() ([]models.Workflow, error)
	UpdateWorkflow(w models.Workflow) error
	DeleteWorkflow(id int64) error

	// Node graph operations; nodes are returned ordered by canvas X position
	ListWorkflowNodes(workflowID int64) ([]models.WorkflowNode, error)
	ListWorkflowConnections(workflowID int64) ([]models.WorkflowConnection, error)
	ReplaceWorkflowGraph(workflowID int64, nodes []models.WorkflowNode, conns []models.WorkflowConnection) error

	// Endpoint operations
	SaveEndpoint(e models.Endpoint) (int64, error)
	ListEndpoints() ([]models.Endpoint, error)
	ListEnabledEndpoints() ([]models.Endpoint, error)

	// Data model operations
	GetDataModel(id int64) (models.DataModel, error)

	// Database config operations
	SaveDatabaseConfig(c models.DatabaseConfig) (int64, error)
	GetDatabaseConfig(id int64) (models.DatabaseConfig, error)
	ListDatabaseConfigs() ([]models.DatabaseConfig, error)
	ListEnabledDatabaseConfigs() ([]models.DatabaseConfig, error)
	UpdateDatabaseConfig(c models.DatabaseConfig) error
	DeleteDatabaseConfig(id int64) error
	// ClearDefaultFlags unsets is_default on every config except excludeID
	// (pass 0 to clear all).
	ClearDefaultFlags(excludeID int64) error
}

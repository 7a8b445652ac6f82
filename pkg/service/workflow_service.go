// Package service holds the application services between the HTTP layer and
// the storage, registry and engine packages.
package service

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/flowgate/flowgate/pkg/engine"
	"github.com/flowgate/flowgate/pkg/models"
	"github.com/flowgate/flowgate/pkg/sandbox"
	"github.com/flowgate/flowgate/pkg/storage"
)

// Logger defines the logging interface for the services
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Invocation errors the HTTP layer maps onto status codes.
var (
	ErrMissingWorkflowName = errors.New("workflow_name is required")
	ErrWorkflowNotFound    = errors.New("workflow not found or disabled")
	ErrWorkflowEmpty       = errors.New("workflow has no nodes")
)

// WorkflowService manages workflow definitions and runs them by name.
type WorkflowService struct {
	store  storage.Store
	engine *engine.Engine
	logger Logger
}

// NewWorkflowService wires a WorkflowService.
func NewWorkflowService(store storage.Store, eng *engine.Engine, logger Logger) *WorkflowService {
	return &WorkflowService{store: store, engine: eng, logger: logger}
}

// Invoke runs an enabled workflow selected by the workflow_name key of the
// request body. The remaining body keys become the workflow's request body,
// stamped with _method so scripts can tell how they were invoked.
func (s *WorkflowService) Invoke(body map[string]interface{}) (map[string]interface{}, error) {
	rawName, ok := body["workflow_name"]
	if !ok {
		return nil, ErrMissingWorkflowName
	}
	name, ok := rawName.(string)
	if !ok || name == "" {
		return nil, ErrMissingWorkflowName
	}

	wf, err := s.store.GetWorkflowByName(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, errors.Wrap(err, "load workflow")
	}
	if !wf.Enabled {
		return nil, ErrWorkflowNotFound
	}

	nodes, err := s.store.ListWorkflowNodes(wf.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load workflow nodes")
	}
	if len(nodes) == 0 {
		return nil, ErrWorkflowEmpty
	}

	body["_method"] = "POST"
	reqCtx := sandbox.RequestContext{
		Method:      "POST",
		RequestPath: fmt.Sprintf("/workflow/api/%s", name),
		Path:        map[string]string{},
		Query:       map[string]string{},
		Body:        body,
		Headers:     map[string]string{},
	}

	s.logger.Infof("Invoking workflow '%s' (%d nodes)", name, len(nodes))
	return s.engine.Execute(wf, models.BuildNodeMap(nodes), reqCtx), nil
}

// CreateWorkflow persists a workflow definition with its node graph.
func (s *WorkflowService) CreateWorkflow(w models.Workflow, nodes []models.WorkflowNode, conns []models.WorkflowConnection) (int64, error) {
	if w.Name == "" {
		return 0, errors.New("empty workflow name")
	}
	tx, err := s.store.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "begin transaction")
	}
	id, err := tx.SaveWorkflow(w)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.ReplaceWorkflowGraph(id, nodes, conns); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit transaction")
	}
	s.logger.Infof("Created workflow '%s' with ID %d", w.Name, id)
	return id, nil
}

// UpdateWorkflow persists changed workflow metadata and, when nodes is
// non-nil, replaces the node graph.
func (s *WorkflowService) UpdateWorkflow(w models.Workflow, nodes []models.WorkflowNode, conns []models.WorkflowConnection) error {
	tx, err := s.store.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := tx.UpdateWorkflow(w); err != nil {
		_ = tx.Rollback()
		return err
	}
	if nodes != nil {
		if err := tx.ReplaceWorkflowGraph(w.ID, nodes, conns); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// DeleteWorkflow removes a workflow and its graph.
func (s *WorkflowService) DeleteWorkflow(id int64) error {
	return s.store.DeleteWorkflow(id)
}

// ListWorkflows returns all workflow definitions.
func (s *WorkflowService) ListWorkflows() ([]models.Workflow, error) {
	return s.store.ListWorkflows()
}

// GetWorkflow returns one workflow with its node graph.
func (s *WorkflowService) GetWorkflow(id int64) (models.Workflow, []models.WorkflowNode, []models.WorkflowConnection, error) {
	wf, err := s.store.GetWorkflow(id)
	if err != nil {
		return models.Workflow{}, nil, nil, err
	}
	nodes, err := s.store.ListWorkflowNodes(id)
	if err != nil {
		return models.Workflow{}, nil, nil, err
	}
	conns, err := s.store.ListWorkflowConnections(id)
	if err != nil {
		return models.Workflow{}, nil, nil, err
	}
	return wf, nodes, conns, nil
}

package storage

import (
	"sync"

	"github.com/flowgate/flowgate/pkg/models"
)

// MockStore implements storage.Store with in-memory storage
type MockStore struct {
	mu          sync.Mutex
	workflows   []models.Workflow
	nodes       []models.WorkflowNode
	connections []models.WorkflowConnection
	endpoints   []models.Endpoint
	dataModels  []models.DataModel
	dbConfigs   []models.DatabaseConfig
	nextID      int64
}

// NewMockStore returns an empty in-memory Store for tests.
func NewMockStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) Begin() (Store, error) { return m, nil }
func (m *MockStore) Commit() error         { return nil }
func (m *MockStore) Rollback() error       { return nil }
func (m *MockStore) Close() error          { return nil }

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MockStore) SaveWorkflow(w models.Workflow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.ID = m.id()
	m.workflows = append(m.workflows, w)
	return w.ID, nil
}

func (m *MockStore) GetWorkflow(id int64) (models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workflows {
		if w.ID == id {
			return w, nil
		}
	}
	return models.Workflow{}, ErrNotFound
}

func (m *MockStore) GetWorkflowByName(name string) (models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workflows {
		if w.Name == name {
			return w, nil
		}
	}
	return models.Workflow{}, ErrNotFound
}

func (m *MockStore) ListWorkflows() ([]models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Workflow, len(m.workflows))
	copy(out, m.workflows)
	return out, nil
}

func (m *MockStore) UpdateWorkflow(w models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.workflows {
		if m.workflows[i].ID == w.ID {
			m.workflows[i] = w
			return nil
		}
	}
	return ErrNotFound
}

func (m *MockStore) DeleteWorkflow(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.workflows {
		if m.workflows[i].ID == id {
			m.workflows = append(m.workflows[:i], m.workflows[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MockStore) ListWorkflowNodes(workflowID int64) ([]models.WorkflowNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkflowNode
	for _, n := range m.nodes {
		if n.WorkflowID == workflowID {
			out = append(out, n)
		}
	}
	// keep the store contract: ordered by canvas X position
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].PositionX < out[j-1].PositionX; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (m *MockStore) ListWorkflowConnections(workflowID int64) ([]models.WorkflowConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkflowConnection
	for _, c := range m.connections {
		if c.WorkflowID == workflowID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockStore) ReplaceWorkflowGraph(workflowID int64, nodes []models.WorkflowNode, conns []models.WorkflowConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.nodes[:0]
	for _, n := range m.nodes {
		if n.WorkflowID != workflowID {
			kept = append(kept, n)
		}
	}
	m.nodes = kept
	keptConns := m.connections[:0]
	for _, c := range m.connections {
		if c.WorkflowID != workflowID {
			keptConns = append(keptConns, c)
		}
	}
	m.connections = keptConns
	for _, n := range nodes {
		n.ID = m.id()
		n.WorkflowID = workflowID
		m.nodes = append(m.nodes, n)
	}
	for _, c := range conns {
		c.ID = m.id()
		c.WorkflowID = workflowID
		m.connections = append(m.connections, c)
	}
	return nil
}

func (m *MockStore) SaveEndpoint(e models.Endpoint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.id()
	m.endpoints = append(m.endpoints, e)
	return e.ID, nil
}

func (m *MockStore) ListEndpoints() ([]models.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Endpoint, len(m.endpoints))
	copy(out, m.endpoints)
	return out, nil
}

func (m *MockStore) ListEnabledEndpoints() ([]models.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Endpoint
	for _, e := range m.endpoints {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out, nil
}

// AddDataModel seeds a data model for tests.
func (m *MockStore) AddDataModel(dm models.DataModel) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	dm.ID = m.id()
	m.dataModels = append(m.dataModels, dm)
	return dm.ID
}

func (m *MockStore) GetDataModel(id int64) (models.DataModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, dm := range m.dataModels {
		if dm.ID == id {
			return dm, nil
		}
	}
	return models.DataModel{}, ErrNotFound
}

func (m *MockStore) SaveDatabaseConfig(c models.DatabaseConfig) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.dbConfigs {
		if existing.Name == c.Name {
			return 0, ErrNameConflict
		}
	}
	c.ID = m.id()
	m.dbConfigs = append(m.dbConfigs, c)
	return c.ID, nil
}

func (m *MockStore) GetDatabaseConfig(id int64) (models.DatabaseConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.dbConfigs {
		if c.ID == id {
			return c, nil
		}
	}
	return models.DatabaseConfig{}, ErrNotFound
}

func (m *MockStore) ListDatabaseConfigs() ([]models.DatabaseConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.DatabaseConfig, len(m.dbConfigs))
	copy(out, m.dbConfigs)
	return out, nil
}

func (m *MockStore) ListEnabledDatabaseConfigs() ([]models.DatabaseConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DatabaseConfig
	for _, c := range m.dbConfigs {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockStore) UpdateDatabaseConfig(c models.DatabaseConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.dbConfigs {
		if m.dbConfigs[i].ID == c.ID {
			m.dbConfigs[i] = c
			return nil
		}
	}
	return ErrNotFound
}

func (m *MockStore) DeleteDatabaseConfig(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.dbConfigs {
		if m.dbConfigs[i].ID == id {
			m.dbConfigs = append(m.dbConfigs[:i], m.dbConfigs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MockStore) ClearDefaultFlags(excludeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.dbConfigs {
		if m.dbConfigs[i].ID != excludeID {
			m.dbConfigs[i].IsDefault = false
		}
	}
	return nil
}

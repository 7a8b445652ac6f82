package models

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/pkg/errors"
)

// Workflow is a named, numbered-node script program owned by the admin layer.
type Workflow struct {
	ID             int64   `json:"id" db:"id"`
	Name           string  `json:"name" db:"name"` // Unique name, used by the invoke-by-name entry point
	Description    *string `json:"description,omitempty" db:"description"`
	Enabled        bool    `json:"enabled" db:"enabled"`
	LoggingEnabled bool    `json:"logging_enabled" db:"logging_enabled"` // Controls execution trace persistence
}

// NodeConfig is the free-form per-node configuration JSON column.
// The "code" entry holds the node's script source.
type NodeConfig map[string]interface{}

// Value implements driver.Valuer so the config round-trips through a TEXT column.
func (c NodeConfig) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "marshal node config")
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (c *NodeConfig) Scan(src interface{}) error {
	if src == nil {
		*c = NodeConfig{}
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.Errorf("unsupported node config column type %T", src)
	}
	if len(b) == 0 {
		*c = NodeConfig{}
		return nil
	}
	return errors.Wrap(json.Unmarshal(b, c), "unmarshal node config")
}

// WorkflowNode is a single script node on the workflow canvas.
type WorkflowNode struct {
	ID         int64      `json:"id" db:"id"`
	WorkflowID int64      `json:"workflow_id" db:"workflow_id"`
	NodeID     string     `json:"node_id" db:"node_id"`     // Canvas-level identifier
	NodeType   string     `json:"node_type" db:"node_type"` // start, end, process, condition, database, api, transform
	Name       string     `json:"name" db:"name"`
	PositionX  int        `json:"position_x" db:"position_x"` // Canvas X; encodes the execution-order key
	PositionY  int        `json:"position_y" db:"position_y"`
	Config     NodeConfig `json:"config" db:"config"`
}

// Number is the node's execution-order key, derived from its canvas X position.
func (n WorkflowNode) Number() int {
	return n.PositionX / 200
}

// Code returns the node's script source from its config, or "" when absent.
func (n WorkflowNode) Code() string {
	code, _ := n.Config["code"].(string)
	return code
}

// WorkflowConnection is a persisted canvas edge between two nodes. The executing
// state machine never consults connections; control flow comes from each node's
// returned next-node value. Connections are stored and served for the canvas UI only.
type WorkflowConnection struct {
	ID         int64   `json:"id" db:"id"`
	WorkflowID int64   `json:"workflow_id" db:"workflow_id"`
	SourceNode string  `json:"source" db:"source_node"`
	TargetNode string  `json:"target" db:"target_node"`
	Condition  *string `json:"condition,omitempty" db:"condition"`
}

// BuildNodeMap indexes nodes by execution-order number. Callers pass nodes ordered
// by position X; on a number collision the later node wins.
func BuildNodeMap(nodes []WorkflowNode) map[int]WorkflowNode {
	nodeMap := make(map[int]WorkflowNode, len(nodes))
	for _, n := range nodes {
		nodeMap[n.Number()] = n
	}
	return nodeMap
}

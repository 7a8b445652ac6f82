package models

// Logic types select the endpoint's execution strategy.
const (
	LogicSimple   = "simple"   // templated response (or inline custom code when set)
	LogicWorkflow = "workflow" // numbered-node script workflow
	LogicCRUD     = "crud"     // generic table CRUD over a data model
	LogicCustom   = "custom"   // inline script with a restricted environment
)

// Endpoint is a declared API route and its execution strategy. The admin layer owns
// these records; the runtime only reads them.
type Endpoint struct {
	ID               int64   `json:"id" db:"id"`
	Name             string  `json:"name" db:"name"`
	Path             string  `json:"path" db:"path"`     // Route path, unique
	Method           string  `json:"method" db:"method"` // HTTP method
	Description      *string `json:"description,omitempty" db:"description"`
	Enabled          bool    `json:"enabled" db:"enabled"`
	Summary          *string `json:"summary,omitempty" db:"summary"`
	LogicType        string  `json:"logic_type" db:"logic_type"`
	WorkflowID       *int64  `json:"workflow_id,omitempty" db:"workflow_id"`
	ModelID          *int64  `json:"model_id,omitempty" db:"model_id"`
	CustomCode       *string `json:"custom_code,omitempty" db:"custom_code"`
	ResponseTemplate *string `json:"response_template,omitempty" db:"response_template"` // JSON template
}

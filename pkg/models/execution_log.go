package models

import "time"

// Run statuses recorded in an execution trace.
const (
	ExecutionStatusRunning = "running"
	ExecutionStatusSuccess = "success"
	ExecutionStatusError   = "error"
)

// NodeExecution is the per-node sub-record of one run.
type NodeExecution struct {
	NodeNumber int     `json:"node_number"`
	NodeName   string  `json:"node_name"`
	StartTime  string  `json:"start_time"` // RFC 3339
	EndTime    string  `json:"end_time,omitempty"`
	Duration   float64 `json:"duration,omitempty"` // seconds
	Status     string  `json:"status"`
	NextNode   int     `json:"next_node,omitempty"`
	Output     string  `json:"output,omitempty"` // stringified node result, truncated to 500 chars
	Error      string  `json:"error,omitempty"`
	Traceback  string  `json:"traceback,omitempty"`
}

// ExecutionLog is the immutable record of one workflow run. It is created at run
// start, appended to while the run progresses, and persisted once at run end as a
// plain-text trace file.
type ExecutionLog struct {
	ExecutionID  string `json:"execution_id"`
	WorkflowID   int64  `json:"workflow_id"`
	WorkflowName string `json:"workflow_name"`

	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Duration   float64    `json:"duration,omitempty"` // seconds
	Status     string     `json:"status"`
	FinalNode  *int       `json:"final_node,omitempty"`
	Iterations int        `json:"iterations"`

	RequestMethod string                 `json:"request_method"`
	RequestPath   string                 `json:"request_path"`
	RequestBody   map[string]interface{} `json:"request_body,omitempty"`
	RequestQuery  map[string]string      `json:"request_query,omitempty"`

	Result         map[string]interface{} `json:"result,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	ErrorTraceback string                 `json:"error_traceback,omitempty"`

	NodeExecutions []NodeExecution `json:"node_executions"`
}

// Package engine drives workflow execution: the numbered-node state machine,
// the endpoint dispatcher and the generic CRUD executor.
package engine

import (
	"fmt"
	"time"

	"github.com/flowgate/flowgate/pkg/models"
	"github.com/flowgate/flowgate/pkg/sandbox"
	"github.com/flowgate/flowgate/pkg/trace"
)

// MaxIterations is the only guard against runaway workflows; there is no
// separate execution timeout.
const MaxIterations = 1000

// Logger is the logging interface the engine depends on.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Status is the terminal state of one run.
type Status string

const (
	StatusDone           Status = "done"
	StatusMissingNodeEnd Status = "missing_node_end" // normal completion, not an error
	StatusCycleError     Status = "cycle_error"
	StatusEmptyCodeError Status = "empty_code_error"
	StatusExecError      Status = "exec_error"
	StatusIterationLimit Status = "iteration_limit"
)

// IsError reports whether the status is a failure. MissingNodeEnd is the
// canonical termination for a chain that runs out of declared nodes and
// counts as success.
func (s Status) IsError() bool {
	switch s {
	case StatusDone, StatusMissingNodeEnd:
		return false
	}
	return true
}

// RunResult is the outcome of one workflow run. Payload is the exact response
// body returned to the caller.
type RunResult struct {
	Status     Status
	Payload    map[string]interface{}
	FinalNode  *int
	Iterations int
}

// Engine executes numbered-node workflows. Every run gets an independent node
// map and visited-set; runs of the same workflow never share state.
type Engine struct {
	sandbox *sandbox.Builder
	tracer  *trace.Tracer
	logger  Logger
}

// New returns an Engine executing node scripts through the given sandbox
// builder and recording runs through the tracer.
func New(b *sandbox.Builder, tracer *trace.Tracer, logger Logger) *Engine {
	return &Engine{sandbox: b, tracer: tracer, logger: logger}
}

// Run executes a workflow without recording a trace.
func (e *Engine) Run(nodeMap map[int]models.WorkflowNode, reqCtx sandbox.RequestContext) RunResult {
	return e.run(nodeMap, reqCtx, nil)
}

// Execute runs a workflow recording an execution trace. The trace is persisted
// only when the workflow has logging enabled; persistence failures never fail
// the run. The returned payload carries the trace's execution id.
func (e *Engine) Execute(wf models.Workflow, nodeMap map[int]models.WorkflowNode, reqCtx sandbox.RequestContext) map[string]interface{} {
	execLog := e.tracer.Begin(wf.ID, wf.Name, trace.RequestInfo{
		Method: reqCtx.Method,
		Path:   reqCtx.RequestPath,
		Query:  reqCtx.Query,
		Body:   reqCtx.Body,
	})

	res := e.run(nodeMap, reqCtx, execLog)

	status := models.ExecutionStatusSuccess
	if res.Status.IsError() {
		status = models.ExecutionStatusError
	}
	e.tracer.Finish(execLog, status, res.Payload, res.FinalNode, res.Iterations)

	if wf.LoggingEnabled {
		if _, err := e.tracer.Save(execLog); err != nil {
			e.logger.Warnf("Failed to persist execution trace %s: %v", execLog.ExecutionID, err)
		}
	}

	res.Payload["execution_id"] = execLog.ExecutionID
	return res.Payload
}

// run is one pass of the state machine. Execution always begins at node 1
// with empty input data. A run is complete exactly when a node's returned
// next-node value is <= 0 or is not a key of the node map.
func (e *Engine) run(nodeMap map[int]models.WorkflowNode, reqCtx sandbox.RequestContext, execLog *models.ExecutionLog) RunResult {
	current := 1
	var data interface{} = map[string]interface{}{}
	visited := make(map[int]bool)
	iterations := 0

	for iterations < MaxIterations {
		iterations++

		node, ok := nodeMap[current]
		if !ok {
			final := current - 1
			return RunResult{
				Status: StatusMissingNodeEnd,
				Payload: map[string]interface{}{
					"message":    fmt.Sprintf("workflow ended: node %d does not exist", current),
					"final_node": final,
					"data":       data,
				},
				FinalNode:  &final,
				Iterations: iterations,
			}
		}

		if visited[current] {
			return RunResult{
				Status: StatusCycleError,
				Payload: map[string]interface{}{
					"error":        fmt.Sprintf("cycle detected: node %d already visited", current),
					"current_node": current,
					"data":         data,
				},
				Iterations: iterations,
			}
		}
		visited[current] = true

		if node.Code() == "" {
			return RunResult{
				Status: StatusEmptyCodeError,
				Payload: map[string]interface{}{
					"error": fmt.Sprintf("node %d has no code", current),
					"node":  current,
				},
				Iterations: iterations,
			}
		}

		nodeStart := time.Now()
		nodeLog := models.NodeExecution{
			NodeNumber: current,
			NodeName:   node.Name,
			StartTime:  nodeStart.Format(time.RFC3339Nano),
		}

		res, err := e.sandbox.ExecuteNode(node, data, reqCtx)
		nodeEnd := time.Now()
		nodeLog.EndTime = nodeEnd.Format(time.RFC3339Nano)
		nodeLog.Duration = nodeEnd.Sub(nodeStart).Seconds()

		if err != nil {
			traceback := fmt.Sprintf("%+v", err)
			nodeLog.Status = models.ExecutionStatusError
			nodeLog.Error = err.Error()
			nodeLog.Traceback = traceback
			if execLog != nil {
				e.tracer.RecordNode(execLog, nodeLog)
			}
			return RunResult{
				Status: StatusExecError,
				Payload: map[string]interface{}{
					"error":     fmt.Sprintf("node %d execution failed: %s", current, err.Error()),
					"node":      current,
					"traceback": traceback,
				},
				Iterations: iterations,
			}
		}

		nodeLog.Status = models.ExecutionStatusSuccess
		nodeLog.NextNode = res.NextNode
		nodeLog.Output = truncate(fmt.Sprintf("%v", res.Data), 500)
		if execLog != nil {
			e.tracer.RecordNode(execLog, nodeLog)
		}

		data = res.Data
		next := res.NextNode
		if _, exists := nodeMap[next]; next <= 0 || !exists {
			final := current
			return RunResult{
				Status: StatusDone,
				Payload: map[string]interface{}{
					"message":    "workflow completed",
					"final_node": current,
					"data":       data,
					"iterations": iterations,
				},
				FinalNode:  &final,
				Iterations: iterations,
			}
		}
		current = next
	}

	return RunResult{
		Status: StatusIterationLimit,
		Payload: map[string]interface{}{
			"error":      "workflow exceeded max iterations",
			"iterations": iterations,
		},
		Iterations: iterations,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

package engine_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/flowgate/flowgate/pkg/engine"
	"github.com/flowgate/flowgate/pkg/models"
	"github.com/flowgate/flowgate/pkg/sandbox"
	"github.com/flowgate/flowgate/pkg/trace"
)

func newTestEngine(t *testing.T) (*engine.Engine, string) {
	logger := logrus.New()
	dir := t.TempDir()
	builder := sandbox.NewBuilder(nil, logger)
	return engine.New(builder, trace.New(dir, logger), logger), dir
}

func scriptNode(x int, name, code string) models.WorkflowNode {
	return models.WorkflowNode{
		NodeID:    fmt.Sprintf("n%d", x/200),
		NodeType:  "process",
		Name:      name,
		PositionX: x,
		Config:    models.NodeConfig{"code": code},
	}
}

func emptyCtx() sandbox.RequestContext {
	return sandbox.RequestContext{
		Method:      "POST",
		RequestPath: "/workflow/api/test",
		Path:        map[string]string{},
		Query:       map[string]string{},
		Body:        map[string]interface{}{},
		Headers:     map[string]string{},
	}
}

func TestRunLinearChain(t *testing.T) {
	eng, _ := newTestEngine(t)
	nodes := []models.WorkflowNode{
		scriptNode(200, "first", "result = {a: 1}; next_node = 2;"),
		scriptNode(400, "second", "result = {a: data.a, b: 2}; next_node = 3;"),
		scriptNode(600, "third", "response = {a: data.a, b: data.b}; next_node = 0;"),
	}

	res := eng.Run(models.BuildNodeMap(nodes), emptyCtx())

	assert.Equal(t, engine.StatusDone, res.Status)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, "workflow completed", res.Payload["message"])
	assert.Equal(t, 3, res.Payload["final_node"])

	data, ok := res.Payload["data"].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, int64(1), data["a"])
	assert.Equal(t, int64(2), data["b"])
}

func TestRunTwoNodeScenario(t *testing.T) {
	eng, _ := newTestEngine(t)
	nodes := []models.WorkflowNode{
		scriptNode(200, "first", "next_node = 2; result = {a: 1};"),
		scriptNode(400, "second", "next_node = 0; response = {a: data.a, b: 2};"),
	}

	res := eng.Run(models.BuildNodeMap(nodes), emptyCtx())

	assert.Equal(t, engine.StatusDone, res.Status)
	assert.Equal(t, 2, res.Iterations)
	data := res.Payload["data"].(map[string]interface{})
	assert.Equal(t, int64(1), data["a"])
	assert.Equal(t, int64(2), data["b"])
}

func TestRunStopsWithoutNextNode(t *testing.T) {
	eng, _ := newTestEngine(t)
	nodes := []models.WorkflowNode{
		scriptNode(200, "only", "result = {done: true};"),
	}

	res := eng.Run(models.BuildNodeMap(nodes), emptyCtx())

	assert.Equal(t, engine.StatusDone, res.Status)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 1, res.Payload["final_node"])
}

func TestRunMissingStartNode(t *testing.T) {
	eng, _ := newTestEngine(t)

	res := eng.Run(map[int]models.WorkflowNode{}, emptyCtx())

	assert.Equal(t, engine.StatusMissingNodeEnd, res.Status)
	assert.False(t, res.Status.IsError())
	assert.Equal(t, "workflow ended: node 1 does not exist", res.Payload["message"])
	assert.Equal(t, 0, res.Payload["final_node"])
}

func TestRunCycleDetection(t *testing.T) {
	eng, _ := newTestEngine(t)
	nodes := []models.WorkflowNode{
		scriptNode(200, "first", "next_node = 2;"),
		scriptNode(400, "second", "next_node = 1;"),
	}

	res := eng.Run(models.BuildNodeMap(nodes), emptyCtx())

	assert.Equal(t, engine.StatusCycleError, res.Status)
	assert.True(t, res.Status.IsError())
	assert.Equal(t, "cycle detected: node 1 already visited", res.Payload["error"])
	assert.Equal(t, 1, res.Payload["current_node"])
}

func TestRunEmptyCode(t *testing.T) {
	eng, _ := newTestEngine(t)
	nodes := []models.WorkflowNode{
		scriptNode(200, "empty", ""),
	}

	res := eng.Run(models.BuildNodeMap(nodes), emptyCtx())

	assert.Equal(t, engine.StatusEmptyCodeError, res.Status)
	assert.Equal(t, "node 1 has no code", res.Payload["error"])
	assert.Equal(t, 1, res.Payload["node"])
}

func TestRunScriptError(t *testing.T) {
	eng, _ := newTestEngine(t)
	nodes := []models.WorkflowNode{
		scriptNode(200, "broken", "throw new Error('boom');"),
	}

	res := eng.Run(models.BuildNodeMap(nodes), emptyCtx())

	assert.Equal(t, engine.StatusExecError, res.Status)
	errMsg, ok := res.Payload["error"].(string)
	assert.True(t, ok)
	assert.Contains(t, errMsg, "node 1 execution failed")
	assert.Contains(t, errMsg, "boom")
	traceback, ok := res.Payload["traceback"].(string)
	assert.True(t, ok)
	assert.NotEmpty(t, traceback)
}

func TestRunIterationLimit(t *testing.T) {
	eng, _ := newTestEngine(t)
	nodeMap := make(map[int]models.WorkflowNode, 1100)
	for i := 1; i <= 1100; i++ {
		nodeMap[i] = scriptNode(i*200, fmt.Sprintf("node-%d", i), fmt.Sprintf("next_node = %d;", i+1))
	}

	res := eng.Run(nodeMap, emptyCtx())

	assert.Equal(t, engine.StatusIterationLimit, res.Status)
	assert.Equal(t, engine.MaxIterations, res.Iterations)
	assert.Equal(t, "workflow exceeded max iterations", res.Payload["error"])
}

func TestExecutePersistsTraceWhenLoggingEnabled(t *testing.T) {
	eng, dir := newTestEngine(t)
	wf := models.Workflow{ID: 7, Name: "traced", Enabled: true, LoggingEnabled: true}
	nodes := []models.WorkflowNode{
		scriptNode(200, "only", "response = {ok: true}; next_node = 0;"),
	}

	payload := eng.Execute(wf, models.BuildNodeMap(nodes), emptyCtx())

	execID, ok := payload["execution_id"].(string)
	assert.True(t, ok)
	assert.NotEmpty(t, execID)

	files, err := filepath.Glob(filepath.Join(dir, "*.log"))
	assert.NoError(t, err)
	assert.Len(t, files, 1)

	content, err := os.ReadFile(files[0])
	assert.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "工作流执行日志")
	assert.Contains(t, text, "traced")
	assert.Contains(t, text, execID)
	assert.Contains(t, text, "SUCCESS")
	assert.Contains(t, filepath.Base(files[0]), strings.ReplaceAll(execID, "-", ""))
}

func TestExecuteSkipsTraceWhenLoggingDisabled(t *testing.T) {
	eng, dir := newTestEngine(t)
	wf := models.Workflow{ID: 8, Name: "untraced", Enabled: true}
	nodes := []models.WorkflowNode{
		scriptNode(200, "only", "response = {ok: true};"),
	}

	payload := eng.Execute(wf, models.BuildNodeMap(nodes), emptyCtx())

	assert.NotEmpty(t, payload["execution_id"])
	files, err := filepath.Glob(filepath.Join(dir, "*.log"))
	assert.NoError(t, err)
	assert.Empty(t, files)
}

func TestBuildNodeMapLaterNodeWins(t *testing.T) {
	a := scriptNode(200, "first", "next_node = 0;")
	b := scriptNode(210, "shadow", "next_node = 0;") // same number: 210/200 == 1

	nodeMap := models.BuildNodeMap([]models.WorkflowNode{a, b})

	assert.Len(t, nodeMap, 1)
	assert.Equal(t, "shadow", nodeMap[1].Name)
}

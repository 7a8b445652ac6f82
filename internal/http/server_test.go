package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	internal_http "github.com/flowgate/flowgate/internal/http"
	"github.com/flowgate/flowgate/pkg/engine"
	"github.com/flowgate/flowgate/pkg/models"
	"github.com/flowgate/flowgate/pkg/registry"
	"github.com/flowgate/flowgate/pkg/sandbox"
	"github.com/flowgate/flowgate/pkg/service"
	"github.com/flowgate/flowgate/pkg/storage"
	"github.com/flowgate/flowgate/pkg/trace"
)

func strptr(s string) *string { return &s }

func newTestServer(t *testing.T, store storage.Store) *httptest.Server {
	logger := logrus.New()
	reg := registry.New(store, logger)
	t.Cleanup(reg.CloseAll)

	tracer := trace.New(t.TempDir(), logger)
	builder := sandbox.NewBuilder(reg, logger)
	eng := engine.New(builder, tracer, logger)
	dispatcher := engine.NewDispatcher(store, eng, nil, logger)
	workflows := service.NewWorkflowService(store, eng, logger)
	configs := service.NewConfigService(store, reg, logger)

	srv := internal_http.NewServer(store, workflows, configs, dispatcher, tracer)
	handler, err := srv.Handler()
	assert.NoError(t, err)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	body, err := json.Marshal(payload)
	assert.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	assert.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	defer resp.Body.Close()
	var body map[string]interface{}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, storage.NewMockStore())

	resp, err := http.Get(ts.URL + "/health")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInvokeWorkflowRoute(t *testing.T) {
	store := storage.NewMockStore()
	wfID, err := store.SaveWorkflow(models.Workflow{Name: "echo", Enabled: true, LoggingEnabled: true})
	assert.NoError(t, err)
	assert.NoError(t, store.ReplaceWorkflowGraph(wfID, []models.WorkflowNode{{
		NodeID: "n1", NodeType: "process", Name: "echo",
		PositionX: 200,
		Config:    models.NodeConfig{"code": "response = {msg: context.body.msg}; next_node = 0;"},
	}}, nil))
	ts := newTestServer(t, store)

	t.Run("success", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/workflow/api", map[string]interface{}{
			"workflow_name": "echo",
			"msg":           "hello",
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, "workflow completed", body["message"])
		data := body["data"].(map[string]interface{})
		assert.Equal(t, "hello", data["msg"])
		assert.NotEmpty(t, body["execution_id"])
	})

	t.Run("missing workflow name", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/workflow/api", map[string]interface{}{"msg": "hello"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Contains(t, body["error"], "workflow_name")
	})

	t.Run("unknown workflow", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/workflow/api", map[string]interface{}{"workflow_name": "ghost"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid json", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/workflow/api", "application/json", bytes.NewReader([]byte("{nope")))
		assert.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestWorkflowAdminRoutes(t *testing.T) {
	ts := newTestServer(t, storage.NewMockStore())

	resp := postJSON(t, ts.URL+"/workflows", map[string]interface{}{
		"name":    "created",
		"enabled": true,
		"nodes": []map[string]interface{}{{
			"node_id": "n1", "node_type": "start", "name": "s",
			"position_x": 200,
			"config":     map[string]interface{}{"code": "next_node = 0;"},
		}},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody(t, resp)
	id := int64(created["id"].(float64))

	t.Run("get", func(t *testing.T) {
		getResp, err := http.Get(fmt.Sprintf("%s/workflows/%d", ts.URL, id))
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, getResp.StatusCode)
		body := decodeBody(t, getResp)
		assert.Equal(t, "created", body["name"])
		assert.Len(t, body["nodes"], 1)
	})

	t.Run("get missing", func(t *testing.T) {
		getResp, err := http.Get(ts.URL + "/workflows/9999")
		assert.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
		getResp.Body.Close()
	})

	t.Run("bad id", func(t *testing.T) {
		getResp, err := http.Get(ts.URL + "/workflows/abc")
		assert.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, getResp.StatusCode)
		getResp.Body.Close()
	})
}

func TestDeclaredEndpointRoutes(t *testing.T) {
	store := storage.NewMockStore()
	_, err := store.SaveEndpoint(models.Endpoint{
		Name: "greeting", Path: "/api/greeting", Method: "GET",
		Enabled: true, LogicType: models.LogicSimple,
		ResponseTemplate: strptr(`{"greeting": "hello {{query.name}}"}`),
	})
	assert.NoError(t, err)
	_, err = store.SaveEndpoint(models.Endpoint{
		Name: "hidden", Path: "/api/hidden", Method: "GET",
		Enabled: false, LogicType: models.LogicSimple,
	})
	assert.NoError(t, err)
	ts := newTestServer(t, store)

	t.Run("template endpoint", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/greeting?name=ada")
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, "hello ada", body["greeting"])
	})

	t.Run("disabled endpoint not registered", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/hidden")
		assert.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("new endpoint goes live without restart", func(t *testing.T) {
		createResp := postJSON(t, ts.URL+"/endpoints", map[string]interface{}{
			"name": "late", "path": "/api/late", "method": "GET",
			"enabled": true, "logic_type": "simple",
		})
		assert.Equal(t, http.StatusCreated, createResp.StatusCode)
		createResp.Body.Close()

		resp, err := http.Get(ts.URL + "/api/late")
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, "Endpoint late executed", body["message"])
	})
}

func TestTraceRoutes(t *testing.T) {
	store := storage.NewMockStore()
	wfID, err := store.SaveWorkflow(models.Workflow{Name: "traced", Enabled: true, LoggingEnabled: true})
	assert.NoError(t, err)
	assert.NoError(t, store.ReplaceWorkflowGraph(wfID, []models.WorkflowNode{{
		NodeID: "n1", NodeType: "process", Name: "only",
		PositionX: 200,
		Config:    models.NodeConfig{"code": "response = {ok: true}; next_node = 0;"},
	}}, nil))
	ts := newTestServer(t, store)

	resp := postJSON(t, ts.URL+"/workflow/api", map[string]interface{}{"workflow_name": "traced"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp)

	var filename string
	t.Run("list traces", func(t *testing.T) {
		listResp, err := http.Get(fmt.Sprintf("%s/workflows/%d/logs", ts.URL, wfID))
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, listResp.StatusCode)
		body := decodeBody(t, listResp)
		assert.Equal(t, float64(1), body["total"])
		logs := body["logs"].([]interface{})
		entry := logs[0].(map[string]interface{})
		filename = entry["filename"].(string)
		assert.NotEmpty(t, filename)
	})

	t.Run("read trace", func(t *testing.T) {
		readResp, err := http.Get(fmt.Sprintf("%s/workflows/%d/logs/%s", ts.URL, wfID, filename))
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, readResp.StatusCode)
		body := decodeBody(t, readResp)
		assert.Contains(t, body["content"], "工作流执行日志")
	})

	t.Run("bad filename", func(t *testing.T) {
		readResp, err := http.Get(fmt.Sprintf("%s/workflows/%d/logs/%s", ts.URL, wfID, "notes.txt"))
		assert.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, readResp.StatusCode)
		readResp.Body.Close()
	})
}

func TestDatabaseConfigRoutes(t *testing.T) {
	ts := newTestServer(t, storage.NewMockStore())

	resp := postJSON(t, ts.URL+"/database-configs", map[string]interface{}{
		"name":    "scratch",
		"db_type": "sqlite",
		"path":    t.TempDir() + "/scratch.db",
		"enabled": true,
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody(t, resp)
	id := int64(created["id"].(float64))

	t.Run("test connection", func(t *testing.T) {
		testResp, err := http.Post(fmt.Sprintf("%s/database-configs/%d/test", ts.URL, id), "application/json", nil)
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, testResp.StatusCode)
		body := decodeBody(t, testResp)
		assert.Equal(t, true, body["success"])
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		dupResp := postJSON(t, ts.URL+"/database-configs", map[string]interface{}{
			"name":    "scratch",
			"db_type": "sqlite",
			"path":    "/tmp/elsewhere.db",
		})
		assert.Equal(t, http.StatusConflict, dupResp.StatusCode)
		dupResp.Body.Close()
	})

	t.Run("unknown config test", func(t *testing.T) {
		testResp, err := http.Post(ts.URL+"/database-configs/9999/test", "application/json", nil)
		assert.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, testResp.StatusCode)
		testResp.Body.Close()
	})
}

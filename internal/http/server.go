// Package http exposes the runtime over HTTP: the workflow invoke entry
// point, the declared-endpoint routes and the admin surface for workflows,
// endpoints, database configs and execution traces.
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/flowgate/flowgate/internal/log"
	"github.com/flowgate/flowgate/pkg/engine"
	"github.com/flowgate/flowgate/pkg/models"
	"github.com/flowgate/flowgate/pkg/sandbox"
	"github.com/flowgate/flowgate/pkg/service"
	"github.com/flowgate/flowgate/pkg/storage"
	"github.com/flowgate/flowgate/pkg/trace"
)

// Server bundles the handlers' dependencies. The route table is swappable so
// newly declared endpoints go live without a restart.
type Server struct {
	store      storage.Store
	workflows  *service.WorkflowService
	configs    *service.ConfigService
	dispatcher *engine.Dispatcher
	tracer     *trace.Tracer

	handler atomic.Value // *http.ServeMux
}

// NewServer wires a Server.
func NewServer(store storage.Store, workflows *service.WorkflowService, configs *service.ConfigService, dispatcher *engine.Dispatcher, tracer *trace.Tracer) *Server {
	return &Server{
		store:      store,
		workflows:  workflows,
		configs:    configs,
		dispatcher: dispatcher,
		tracer:     tracer,
	}
}

// StartServer builds the route table and serves until the listener fails.
func StartServer(addr string, s *Server) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	log.GetLogger().Infof("Starting flowgate server on %s", addr)
	return http.ListenAndServe(addr, handler)
}

// Handler builds the initial route table and returns the server as a handler
// that always serves the current table.
func (s *Server) Handler() (http.Handler, error) {
	if err := s.ReloadRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// ServeHTTP serves the current route table.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.Load().(*http.ServeMux).ServeHTTP(w, r)
}

// ReloadRoutes rebuilds the route table from the current set of enabled
// declared endpoints and swaps it in atomically.
func (s *Server) ReloadRoutes() error {
	mux, err := s.buildMux()
	if err != nil {
		return err
	}
	s.handler.Store(mux)
	return nil
}

// buildMux assembles the full route table: fixed routes first, then one route
// per enabled declared endpoint.
func (s *Server) buildMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("POST /workflow/api", s.invokeWorkflowHandler)

	mux.HandleFunc("GET /workflows", s.listWorkflowsHandler)
	mux.HandleFunc("POST /workflows", s.createWorkflowHandler)
	mux.HandleFunc("GET /workflows/{id}", s.getWorkflowHandler)
	mux.HandleFunc("PUT /workflows/{id}", s.updateWorkflowHandler)
	mux.HandleFunc("DELETE /workflows/{id}", s.deleteWorkflowHandler)
	mux.HandleFunc("GET /workflows/{id}/logs", s.listTracesHandler)
	mux.HandleFunc("GET /workflows/{id}/logs/{filename}", s.readTraceHandler)

	mux.HandleFunc("GET /database-configs", s.listConfigsHandler)
	mux.HandleFunc("POST /database-configs", s.createConfigHandler)
	mux.HandleFunc("GET /database-configs/{id}", s.getConfigHandler)
	mux.HandleFunc("PUT /database-configs/{id}", s.updateConfigHandler)
	mux.HandleFunc("DELETE /database-configs/{id}", s.deleteConfigHandler)
	mux.HandleFunc("POST /database-configs/{id}/test", s.testConfigHandler)

	mux.HandleFunc("GET /endpoints", s.listEndpointsHandler)
	mux.HandleFunc("POST /endpoints", s.createEndpointHandler)

	if err := s.registerDeclaredEndpoints(mux); err != nil {
		return nil, err
	}
	return mux, nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "flowgate server is running")
}

// invokeWorkflowHandler is the invoke-by-name entry point: the body selects
// the workflow through its workflow_name key and the rest of the body is
// handed to the workflow as its request body.
func (s *Server) invokeWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.workflows.Invoke(body)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingWorkflowName), errors.Is(err, service.ErrWorkflowEmpty):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrWorkflowNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			log.GetLogger().Errorf("Failed to invoke workflow: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// workflowPayload is the admin create/update body: the workflow plus its node
// graph.
type workflowPayload struct {
	models.Workflow
	Nodes       []models.WorkflowNode       `json:"nodes"`
	Connections []models.WorkflowConnection `json:"connections"`
}

func (s *Server) listWorkflowsHandler(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.workflows.ListWorkflows()
	if err != nil {
		log.GetLogger().Errorf("Failed to list workflows: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, workflows)
}

func (s *Server) createWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	var payload workflowPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := s.workflows.CreateWorkflow(payload.Workflow, payload.Nodes, payload.Connections)
	if err != nil {
		if errors.Is(err, storage.ErrNameConflict) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		log.GetLogger().Errorf("Failed to create workflow: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

func (s *Server) getWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	wf, nodes, conns, err := s.workflows.GetWorkflow(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		log.GetLogger().Errorf("Failed to load workflow %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, workflowPayload{Workflow: wf, Nodes: nodes, Connections: conns})
}

func (s *Server) updateWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var payload workflowPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payload.Workflow.ID = id
	if err := s.workflows.UpdateWorkflow(payload.Workflow, payload.Nodes, payload.Connections); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		log.GetLogger().Errorf("Failed to update workflow %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "updated successfully"})
}

func (s *Server) deleteWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	if err := s.workflows.DeleteWorkflow(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		log.GetLogger().Errorf("Failed to delete workflow %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "deleted successfully"})
}

// listTracesHandler lists persisted execution traces of one workflow, newest
// first.
func (s *Server) listTracesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	wf, err := s.store.GetWorkflow(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.tracer.ListForWorkflow(wf.Name, limit)
	if err != nil {
		log.GetLogger().Errorf("Failed to list traces for workflow %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflow_id": id,
		"logs":        entries,
		"total":       len(entries),
	})
}

func (s *Server) readTraceHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := pathInt64(w, r, "id"); !ok {
		return
	}
	filename := r.PathValue("filename")
	if err := trace.ValidateFilename(filename); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	content, err := s.tracer.ReadFile(filename)
	if err != nil {
		writeError(w, http.StatusNotFound, "log file not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"filename": filename,
		"content":  content,
	})
}

func (s *Server) listConfigsHandler(w http.ResponseWriter, r *http.Request) {
	configs, err := s.configs.ListConfigs()
	if err != nil {
		log.GetLogger().Errorf("Failed to list database configs: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (s *Server) createConfigHandler(w http.ResponseWriter, r *http.Request) {
	var cfg models.DatabaseConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := s.configs.SaveConfig(cfg)
	if err != nil {
		if errors.Is(err, storage.ErrNameConflict) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		log.GetLogger().Errorf("Failed to save database config: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

func (s *Server) getConfigHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	cfg, err := s.configs.GetConfig(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "database config not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) updateConfigHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var cfg models.DatabaseConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cfg.ID = id
	if err := s.configs.UpdateConfig(cfg); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "database config not found")
			return
		}
		log.GetLogger().Errorf("Failed to update database config %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "updated successfully"})
}

func (s *Server) deleteConfigHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	if err := s.configs.DeleteConfig(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "database config not found")
			return
		}
		log.GetLogger().Errorf("Failed to delete database config %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "deleted successfully"})
}

func (s *Server) testConfigHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	if err := s.configs.TestConnection(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "database config not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "connection successful",
	})
}

func (s *Server) listEndpointsHandler(w http.ResponseWriter, r *http.Request) {
	endpoints, err := s.store.ListEndpoints()
	if err != nil {
		log.GetLogger().Errorf("Failed to list endpoints: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, endpoints)
}

func (s *Server) createEndpointHandler(w http.ResponseWriter, r *http.Request) {
	var ep models.Endpoint
	if err := json.NewDecoder(r.Body).Decode(&ep); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := s.store.SaveEndpoint(ep)
	if err != nil {
		if errors.Is(err, storage.ErrNameConflict) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		log.GetLogger().Errorf("Failed to save endpoint: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Make the new route live without a restart.
	if err := s.ReloadRoutes(); err != nil {
		log.GetLogger().Warnf("Failed to reload routes after saving endpoint %d: %v", id, err)
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

var pathParam = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// registerDeclaredEndpoints adds one route per enabled declared endpoint.
// Duplicate method+path declarations collapse to the latest one so a stale
// row can never panic the mux.
func (s *Server) registerDeclaredEndpoints(mux *http.ServeMux) error {
	endpoints, err := s.store.ListEnabledEndpoints()
	if err != nil {
		return errors.Wrap(err, "load enabled endpoints")
	}
	routes := make(map[string]models.Endpoint, len(endpoints))
	for _, ep := range endpoints {
		routes[ep.Method+" "+ep.Path] = ep
	}
	for pattern, ep := range routes {
		params := pathParamNames(ep.Path)
		if err := tryHandle(mux, pattern, s.declaredEndpointHandler(ep, params)); err != nil {
			log.GetLogger().Warnf("Skipping endpoint '%s' (%s): %v", ep.Name, pattern, err)
			continue
		}
		log.GetLogger().Infof("Registered endpoint '%s': %s", ep.Name, pattern)
	}
	return nil
}

// tryHandle registers a pattern, converting the mux's registration panic on a
// conflicting pattern into an error.
func tryHandle(mux *http.ServeMux, pattern string, handler http.HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("%v", r)
		}
	}()
	mux.HandleFunc(pattern, handler)
	return nil
}

func pathParamNames(path string) []string {
	matches := pathParam.FindAllStringSubmatch(path, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

func (s *Server) declaredEndpointHandler(ep models.Endpoint, params []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqCtx := buildRequestContext(r, params)
		result, err := s.dispatcher.Dispatch(ep, reqCtx)
		if err != nil {
			log.GetLogger().Errorf("Endpoint '%s' failed: %v", ep.Name, err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// buildRequestContext flattens the inbound request for script consumption:
// first value per query key and header, JSON body when decodable.
func buildRequestContext(r *http.Request, params []string) sandbox.RequestContext {
	pathValues := make(map[string]string, len(params))
	for _, p := range params {
		pathValues[p] = r.PathValue(p)
	}
	query := make(map[string]string)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}
	headers := make(map[string]string)
	for k, vs := range r.Header {
		if len(vs) > 0 {
			headers[k] = vs[0]
		}
	}
	body := map[string]interface{}{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	return sandbox.RequestContext{
		Method:      r.Method,
		RequestPath: r.URL.Path,
		Path:        pathValues,
		Query:       query,
		Body:        body,
		Headers:     headers,
	}
}

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg})
}

package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/flowgate/flowgate/pkg/models"
	"github.com/flowgate/flowgate/pkg/sandbox"
	"github.com/flowgate/flowgate/pkg/storage"
)

// Dispatcher routes a matched endpoint to its execution strategy.
type Dispatcher struct {
	store  storage.Store
	engine *Engine
	crud   *CRUDExecutor
	logger Logger
}

// NewDispatcher wires the dispatcher. crud may be nil when no metadata
// database is available for generic CRUD endpoints.
func NewDispatcher(store storage.Store, eng *Engine, crud *CRUDExecutor, logger Logger) *Dispatcher {
	return &Dispatcher{store: store, engine: eng, crud: crud, logger: logger}
}

// Dispatch executes the endpoint's configured strategy and returns the
// response body. A returned error means the request failed server-side; an
// error-shaped body with a nil error is a deliberate response.
func (d *Dispatcher) Dispatch(ep models.Endpoint, reqCtx sandbox.RequestContext) (interface{}, error) {
	switch ep.LogicType {
	case models.LogicSimple:
		return d.execSimple(ep, reqCtx)
	case models.LogicWorkflow:
		return d.execWorkflow(ep, reqCtx)
	case models.LogicCRUD:
		return d.execCRUD(ep, reqCtx)
	case models.LogicCustom:
		return d.execCustom(ep, reqCtx)
	default:
		return map[string]interface{}{
			"error": fmt.Sprintf("unknown logic type: %s", ep.LogicType),
		}, nil
	}
}

// execSimple prefers inline custom code, then the response template, then a
// canned acknowledgement.
func (d *Dispatcher) execSimple(ep models.Endpoint, reqCtx sandbox.RequestContext) (interface{}, error) {
	if ep.CustomCode != nil && strings.TrimSpace(*ep.CustomCode) != "" {
		return d.runInline(*ep.CustomCode, reqCtx)
	}
	if ep.ResponseTemplate != nil && strings.TrimSpace(*ep.ResponseTemplate) != "" {
		return renderTemplate(*ep.ResponseTemplate, reqCtx.Map()), nil
	}
	return map[string]interface{}{
		"message": fmt.Sprintf("Endpoint %s executed", ep.Name),
	}, nil
}

func (d *Dispatcher) execWorkflow(ep models.Endpoint, reqCtx sandbox.RequestContext) (interface{}, error) {
	if ep.WorkflowID == nil {
		return map[string]interface{}{"error": "endpoint has no workflow bound"}, nil
	}
	wf, err := d.store.GetWorkflow(*ep.WorkflowID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return map[string]interface{}{"error": "workflow not found"}, nil
		}
		return nil, err
	}
	nodes, err := d.store.ListWorkflowNodes(wf.ID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return map[string]interface{}{"error": "workflow is empty"}, nil
	}
	return d.engine.Execute(wf, models.BuildNodeMap(nodes), reqCtx), nil
}

func (d *Dispatcher) execCRUD(ep models.Endpoint, reqCtx sandbox.RequestContext) (interface{}, error) {
	if ep.ModelID == nil {
		return map[string]interface{}{"error": "endpoint has no data model bound"}, nil
	}
	if d.crud == nil {
		return nil, errors.New("crud executor not configured")
	}
	model, err := d.store.GetDataModel(*ep.ModelID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return map[string]interface{}{"error": "data model not found"}, nil
		}
		return nil, err
	}
	return d.crud.Execute(model, reqCtx)
}

func (d *Dispatcher) execCustom(ep models.Endpoint, reqCtx sandbox.RequestContext) (interface{}, error) {
	if ep.CustomCode == nil || strings.TrimSpace(*ep.CustomCode) == "" {
		return map[string]interface{}{"error": "endpoint has no custom code"}, nil
	}
	return d.runInline(*ep.CustomCode, reqCtx)
}

func (d *Dispatcher) runInline(code string, reqCtx sandbox.RequestContext) (interface{}, error) {
	result, found, err := sandbox.RunRestricted(code, reqCtx)
	if err != nil {
		return nil, errors.Wrap(err, "code execution error")
	}
	if !found {
		return map[string]interface{}{"message": "code executed successfully"}, nil
	}
	return result, nil
}

var templateVar = regexp.MustCompile(`\{\{(.+?)\}\}`)

// renderTemplate parses the endpoint's template as JSON and substitutes
// {{dotted.path}} placeholders from the request context. A template that is
// not valid JSON is returned verbatim as a message.
func renderTemplate(tmpl string, ctx map[string]interface{}) interface{} {
	var parsed interface{}
	if err := json.Unmarshal([]byte(tmpl), &parsed); err != nil {
		return map[string]interface{}{"message": tmpl}
	}
	return interpolate(parsed, ctx)
}

// interpolate walks the parsed template replacing placeholders inside string
// leaves. Unresolvable paths become empty strings.
func interpolate(v interface{}, ctx map[string]interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return templateVar.ReplaceAllStringFunc(t, func(m string) string {
			path := strings.TrimSpace(m[2 : len(m)-2])
			val, ok := lookupPath(ctx, path)
			if !ok || val == nil {
				return ""
			}
			return fmt.Sprintf("%v", val)
		})
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = interpolate(val, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = interpolate(val, ctx)
		}
		return out
	default:
		return v
	}
}

// lookupPath resolves a dotted path against nested maps.
func lookupPath(ctx map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = ctx
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]interface{}:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

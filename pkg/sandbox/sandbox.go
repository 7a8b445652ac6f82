// Package sandbox builds the per-node script execution environment. Node
// scripts are ECMAScript programs run on an embedded goja VM with an
// enumerated set of injected symbols: the request context, the node's input
// data, utility namespaces and one database handle per enabled external
// database config.
//
// The environment is a convenience surface, not a security boundary: scripts
// reach the process environment, the filesystem through database paths, and
// the network through the http helper.
package sandbox

import (
	"github.com/dop251/goja"
	"github.com/pkg/errors"

	"github.com/flowgate/flowgate/pkg/models"
	"github.com/flowgate/flowgate/pkg/registry"
)

// Logger is the logging interface the builder depends on.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// RequestContext carries the inbound request's data into node scripts.
type RequestContext struct {
	Method      string
	RequestPath string
	Path        map[string]string
	Query       map[string]string
	Body        map[string]interface{}
	Headers     map[string]string
}

// Map returns the context object as exposed to scripts.
func (c RequestContext) Map() map[string]interface{} {
	return map[string]interface{}{
		"path":    c.Path,
		"query":   c.Query,
		"body":    c.Body,
		"headers": c.Headers,
	}
}

// NodeResult is the structured output of one node execution.
type NodeResult struct {
	NextNode int
	Data     interface{}
	Node     int
}

// Builder constructs execution environments for workflow nodes.
type Builder struct {
	registry *registry.Registry
	logger   Logger
}

// NewBuilder returns a Builder that injects database handles from reg. reg may
// be nil, in which case nodes run without database access.
func NewBuilder(reg *registry.Registry, logger Logger) *Builder {
	return &Builder{registry: reg, logger: logger}
}

// ExecuteNode compiles and runs one node's script and extracts its declared
// results. The script reports its outputs through conventionally named
// globals: next_node (default 0, meaning stop) and, in priority order,
// response, result or a mutated data value.
func (b *Builder) ExecuteNode(node models.WorkflowNode, data interface{}, reqCtx RequestContext) (NodeResult, error) {
	code := node.Code()
	nodeNum := node.Number()

	vm := goja.New()
	installGlobals(vm, b.logger)
	vm.Set("data", data)
	vm.Set("context", reqCtx.Map())
	vm.Set("request", map[string]interface{}{
		"method":  reqCtx.Method,
		"path":    reqCtx.RequestPath,
		"headers": reqCtx.Headers,
	})
	vm.Set("node", nodeNum)
	vm.Set("node_name", node.Name)
	b.injectDatabases(vm)

	program, err := goja.Compile(node.Name, code, false)
	if err != nil {
		return NodeResult{}, errors.Wrap(err, "compile node script")
	}
	if _, err := vm.RunProgram(program); err != nil {
		return NodeResult{}, err
	}

	return NodeResult{
		NextNode: extractNextNode(vm),
		Data:     extractData(vm, data),
		Node:     nodeNum,
	}, nil
}

// injectDatabases binds one handle per enabled external database config, named
// after the config, plus a "db" alias for the default config. Injection
// failures are logged and never abort node execution.
func (b *Builder) injectDatabases(vm *goja.Runtime) {
	if b.registry == nil {
		return
	}
	active, err := b.registry.ListActive()
	if err != nil {
		b.logger.Warnf("Failed to inject database handles: %v", err)
		return
	}
	for name, h := range active {
		module := newDBModule(h)
		vm.Set(name, module)
		if h.Config.IsDefault {
			vm.Set("db", module)
		}
	}
}

func extractNextNode(vm *goja.Runtime) int {
	v := vm.Get("next_node")
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return int(v.ToInteger())
}

// extractData probes the conventional output globals in priority order:
// response, then result, then the (possibly mutated) data value, finally
// falling back to the node's original input.
func extractData(vm *goja.Runtime, input interface{}) interface{} {
	for _, name := range []string{"response", "result", "data"} {
		v := vm.Get(name)
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			continue
		}
		return v.Export()
	}
	return input
}

// RunRestricted executes inline endpoint code in a reduced environment holding
// only the request context and the VM's native primitives plus JSON. The
// script reports its output through a result global.
func RunRestricted(code string, reqCtx RequestContext) (interface{}, bool, error) {
	vm := goja.New()
	vm.Set("context", reqCtx.Map())
	program, err := goja.Compile("custom", code, false)
	if err != nil {
		return nil, false, errors.Wrap(err, "compile custom code")
	}
	if _, err := vm.RunProgram(program); err != nil {
		return nil, false, err
	}
	v := vm.Get("result")
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false, nil
	}
	return v.Export(), true, nil
}

package rego

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/datasafe/papl/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/open-policy-agent/opa/v1/ast"
	opa "github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"gopkg.in/yaml.v3"
)

var plog = logger.GetLogger("rego")

// Engine evaluates Rego queries against a set of policy modules, a data
// document and an optional input document.
//
// Thread-safety: all methods are safe for concurrent use. An evaluation
// sees the modules, data and input present when it started.
type Engine struct {
	mu       sync.RWMutex
	modules  map[string]*ast.Module // parsed modules by path
	data     map[string]any
	input    any
	hasInput bool
}

// NewEngine creates an engine without policies, data or input
func NewEngine() *Engine {
	return &Engine{
		modules: make(map[string]*ast.Module),
		data:    make(map[string]any),
	}
}

// --------------------------------------------------------------------------
// Policies
// --------------------------------------------------------------------------

// AddPolicy parses a Rego (v1 syntax) module and adds it under path.
// A module already stored under path is replaced. Returns the package of the module.
func (e *Engine) AddPolicy(path, text string) (string, error) {
	module, err := ast.ParseModuleWithOpts(path, text, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return "", fmt.Errorf("parse rego module %q: %w", path, err)
	}

	e.mu.Lock()
	e.modules[path] = module
	e.mu.Unlock()

	pkg := packageName(module)
	plog.Debugf("added module %q (package %s)", path, pkg)
	return pkg, nil
}

// AddPolicyFromStore loads the policy stored under key and adds it with the key as path.
func (e *Engine) AddPolicyFromStore(s store.IStore, key string) (string, error) {
	text, err := s.Get(key)
	if err != nil {
		return "", fmt.Errorf("load policy %q: %w", key, err)
	}
	return e.AddPolicy(key, text)
}

// RemovePolicy removes the module stored under path and reports whether it existed.
func (e *Engine) RemovePolicy(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.modules[path]
	delete(e.modules, path)
	return ok
}

// Packages returns the sorted, distinct packages of all loaded modules (without the "data." prefix).
func (e *Engine) Packages() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := make(map[string]struct{}, len(e.modules))
	for _, module := range e.modules {
		seen[packageName(module)] = struct{}{}
	}
	pkgs := make([]string, 0, len(seen))
	for pkg := range seen {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}

func packageName(module *ast.Module) string {
	return strings.TrimPrefix(module.Package.Path.String(), "data.")
}

// --------------------------------------------------------------------------
// Data and Input
// --------------------------------------------------------------------------

// AddData merges a JSON or YAML object into the data document.
// Nested objects are merged, every other value replaces the existing one.
func (e *Engine) AddData(doc []byte) error {
	value, err := decodeDocument(doc)
	if err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("decode data: expected an object, got %T", value)
	}

	e.mu.Lock()
	mergeObjects(e.data, obj)
	e.mu.Unlock()
	return nil
}

// ClearData drops the data document.
func (e *Engine) ClearData() {
	e.mu.Lock()
	e.data = make(map[string]any)
	e.mu.Unlock()
}

// SetInput replaces the input document with a JSON or YAML document.
func (e *Engine) SetInput(doc []byte) error {
	value, err := decodeDocument(doc)
	if err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	e.SetInputValue(value)
	return nil
}

// SetInputValue replaces the input document with an arbitrary Go value.
func (e *Engine) SetInputValue(value any) {
	e.mu.Lock()
	e.input = value
	e.hasInput = true
	e.mu.Unlock()
}

// ClearInput removes the input document.
func (e *Engine) ClearInput() {
	e.mu.Lock()
	e.input = nil
	e.hasInput = false
	e.mu.Unlock()
}

// decodeDocument parses YAML (and therefore JSON) and normalizes the result
// to the types encoding/json produces.
func decodeDocument(doc []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return nil, err
	}
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(normalized, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func mergeObjects(dst, src map[string]any) {
	for k, v := range src {
		srcObj, srcIsObj := v.(map[string]any)
		dstObj, dstIsObj := dst[k].(map[string]any)
		if srcIsObj && dstIsObj {
			mergeObjects(dstObj, srcObj)
			continue
		}
		dst[k] = v
	}
}

// copyObject deep copies a decoded object so the store of an evaluation
// never shares maps with the engine.
func copyObject(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = copyValue(v)
	}
	return dst
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyObject(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

// --------------------------------------------------------------------------
// Evaluation
// --------------------------------------------------------------------------

// EvalQuery evaluates an arbitrary Rego query and returns the full result set.
func (e *Engine) EvalQuery(ctx context.Context, query string) (opa.ResultSet, error) {
	e.mu.RLock()
	opts := []func(*opa.Rego){
		opa.Query(query),
		opa.Store(inmem.NewFromObject(copyObject(e.data))),
	}
	for _, module := range e.modules {
		opts = append(opts, opa.ParsedModule(module))
	}
	input, hasInput := e.input, e.hasInput
	e.mu.RUnlock()

	prepared, err := opa.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare query %q: %w", query, err)
	}

	var evalOpts []opa.EvalOption
	if hasInput {
		evalOpts = append(evalOpts, opa.EvalInput(input))
	}
	results, err := prepared.Eval(ctx, evalOpts...)
	if err != nil {
		return nil, fmt.Errorf("eval query %q: %w", query, err)
	}
	plog.Debugf("query %q returned %d results", query, len(results))
	return results, nil
}

// EvalRule evaluates a single rule, e.g. "authz.allow" or "data.authz.allow".
// The boolean reports whether the rule is defined.
func (e *Engine) EvalRule(ctx context.Context, rule string) (any, bool, error) {
	query := strings.TrimSpace(rule)
	if query == "" {
		return nil, false, fmt.Errorf("empty rule")
	}
	if query != "data" && !strings.HasPrefix(query, "data.") {
		query = "data." + query
	}

	results, err := e.EvalQuery(ctx, query)
	if err != nil {
		return nil, false, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, false, nil
	}
	return results[0].Expressions[0].Value, true, nil
}

// Package mock holds operator-supplied overrides keyed by dotted path and
// resolves them when an intercepted call or property read happens.
package mock

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox/jsvalue"
)

// Kind selects which override store a rule lives in.
type Kind string

const (
	Property    Kind = "property"
	Method      Kind = "method"
	ReturnValue Kind = "returnValue"
	Conditional Kind = "conditional"
	// All is only valid for Remove.
	All Kind = "all"
)

var (
	ErrUnknownKind        = errors.New("unknown mock kind")
	ErrNotCallable        = errors.New("method mock must be a function")
	ErrInvalidConditional = errors.New("conditional mock needs {condition: function, result}")
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Property, Method, ReturnValue, Conditional, All:
		return k, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownKind)
}

type conditional struct {
	condition goja.Callable
	result    goja.Value
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Mocked bool
	Kind   Kind
	Result goja.Value
}

// Counts is the number of rules per kind.
type Counts struct {
	Property    int `json:"property"`
	Method      int `json:"method"`
	ReturnValue int `json:"returnValue"`
	Conditional int `json:"conditional"`
}

// ErrorHandler observes predicates and handlers that threw during Resolve.
type ErrorHandler func(kind Kind, path string, err error)

// Registry stores mocks for one sandbox runtime. Values belong to that
// runtime and must not outlive it.
type Registry struct {
	properties   map[string]goja.Value
	methods      map[string]goja.Callable
	returns      map[string]goja.Value
	conditionals map[string][]conditional

	logger  *zap.Logger
	onError ErrorHandler
}

// New creates an empty registry. logger may be nil.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		properties:   make(map[string]goja.Value),
		methods:      make(map[string]goja.Callable),
		returns:      make(map[string]goja.Value),
		conditionals: make(map[string][]conditional),
		logger:       logger,
	}
}

// OnError registers a handler for swallowed mock failures.
func (r *Registry) OnError(fn ErrorHandler) {
	r.onError = fn
}

// Set registers value under path. Conditional rules append to the path's
// ordered list; every other kind replaces.
func (r *Registry) Set(kind Kind, path string, value goja.Value) error {
	switch kind {
	case Property:
		r.properties[path] = value
	case Method:
		fn, ok := goja.AssertFunction(value)
		if !ok {
			return fmt.Errorf("%s: %w", path, ErrNotCallable)
		}
		r.methods[path] = fn
	case ReturnValue:
		r.returns[path] = value
	case Conditional:
		c, err := parseConditional(value)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		r.conditionals[path] = append(r.conditionals[path], c)
	default:
		return fmt.Errorf("%q: %w", kind, ErrUnknownKind)
	}
	return nil
}

func parseConditional(v goja.Value) (conditional, error) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return conditional{}, ErrInvalidConditional
	}
	fn, ok := goja.AssertFunction(obj.Get("condition"))
	if !ok {
		return conditional{}, ErrInvalidConditional
	}
	result := obj.Get("result")
	if result == nil {
		result = goja.Undefined()
	}
	return conditional{condition: fn, result: result}, nil
}

// Remove deletes the rule of kind at path; All removes every kind.
func (r *Registry) Remove(kind Kind, path string) error {
	switch kind {
	case Property:
		delete(r.properties, path)
	case Method:
		delete(r.methods, path)
	case ReturnValue:
		delete(r.returns, path)
	case Conditional:
		delete(r.conditionals, path)
	case All:
		delete(r.properties, path)
		delete(r.methods, path)
		delete(r.returns, path)
		delete(r.conditionals, path)
	default:
		return fmt.Errorf("%q: %w", kind, ErrUnknownKind)
	}
	return nil
}

// Has reports whether any rule is registered under path.
func (r *Registry) Has(path string) bool {
	if _, ok := r.properties[path]; ok {
		return true
	}
	if _, ok := r.methods[path]; ok {
		return true
	}
	if _, ok := r.returns[path]; ok {
		return true
	}
	_, ok := r.conditionals[path]
	return ok
}

// Property returns the property override for path.
func (r *Registry) Property(path string) (goja.Value, bool) {
	v, ok := r.properties[path]
	return v, ok
}

// Resolve looks for an override of a call to path. Conditional rules are
// tried in registration order, then the value keyed by the first argument,
// then the method handler. Predicates and handlers that throw are reported
// and skipped. The returned error is non-nil only for uncatchable engine
// errors, which the caller must propagate.
func (r *Registry) Resolve(path string, args []goja.Value, this goja.Value) (Resolution, error) {
	for i, c := range r.conditionals[path] {
		ok, err := c.condition(this, args...)
		if err != nil {
			if jsvalue.IsUncatchable(err) {
				return Resolution{}, err
			}
			r.report(Conditional, fmt.Sprintf("%s[%d]", path, i), err)
			continue
		}
		if ok != nil && ok.ToBoolean() {
			return Resolution{Mocked: true, Kind: Conditional, Result: c.result}, nil
		}
	}

	if len(args) > 0 {
		if v, ok := r.returns[path+":"+jsvalue.Key(args[0])]; ok {
			return Resolution{Mocked: true, Kind: ReturnValue, Result: v}, nil
		}
	}

	if fn, ok := r.methods[path]; ok {
		res, err := fn(this, args...)
		if err == nil {
			if res == nil {
				res = goja.Undefined()
			}
			return Resolution{Mocked: true, Kind: Method, Result: res}, nil
		}
		if jsvalue.IsUncatchable(err) {
			return Resolution{}, err
		}
		r.report(Method, path, err)
	}

	return Resolution{}, nil
}

func (r *Registry) report(kind Kind, path string, err error) {
	r.logger.Debug("Mock resolution failed",
		zap.String("kind", string(kind)),
		zap.String("path", path),
		zap.Error(err),
	)
	if r.onError != nil {
		r.onError(kind, path, err)
	}
}

// Counts returns the number of rules per kind. Each conditional rule counts
// once.
func (r *Registry) Counts() Counts {
	n := 0
	for _, list := range r.conditionals {
		n += len(list)
	}
	return Counts{
		Property:    len(r.properties),
		Method:      len(r.methods),
		ReturnValue: len(r.returns),
		Conditional: n,
	}
}

// Clear drops every rule.
func (r *Registry) Clear() {
	r.properties = make(map[string]goja.Value)
	r.methods = make(map[string]goja.Callable)
	r.returns = make(map[string]goja.Value)
	r.conditionals = make(map[string][]conditional)
}

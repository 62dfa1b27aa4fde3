// Package jsvalue renders goja values for logs and classifies engine errors.
// Nothing here throws into the running script: shapes that cannot be read
// degrade to a bracketed type tag.
package jsvalue

import (
	"errors"
	"math/big"
	"reflect"
	"strconv"

	"github.com/dop251/goja"
)

// DefaultMaxString caps rendered primitive strings.
const DefaultMaxString = 100

// Ellipsis marks a truncated string.
const Ellipsis = "..."

// Describer renders values. Unwrap, when set, maps instrumentation proxies
// back to their targets so that describing a value never re-enters a trap.
type Describer struct {
	rt        *goja.Runtime
	maxString int
	unwrap    func(*goja.Object) *goja.Object
}

// NewDescriber creates a describer for rt.
func NewDescriber(rt *goja.Runtime, maxString int, unwrap func(*goja.Object) *goja.Object) *Describer {
	if maxString <= 0 {
		maxString = DefaultMaxString
	}
	return &Describer{rt: rt, maxString: maxString, unwrap: unwrap}
}

// Describe renders v as a short tag or truncated string.
func (d *Describer) Describe(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if sym, ok := v.(*goja.Symbol); ok {
		return "Symbol(" + sym.String() + ")"
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return Truncate(v.String(), d.maxString)
	}
	if d.unwrap != nil {
		obj = d.unwrap(obj)
	}
	out := "[Object]"
	d.rt.Try(func() {
		out = d.describeObject(obj)
	})
	return out
}

// DescribeAll renders a slice of arguments.
func (d *Describer) DescribeAll(args []goja.Value) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = d.Describe(a)
	}
	return out
}

// DescribeError renders a thrown value as an error tag.
func (d *Describer) DescribeError(err error) string {
	return "[Error: " + d.Message(err) + "]"
}

// Message extracts the message of a thrown value.
func (d *Describer) Message(err error) string {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return err.Error()
	}
	obj, ok := ex.Value().(*goja.Object)
	if !ok {
		return d.Describe(ex.Value())
	}
	if d.unwrap != nil {
		obj = d.unwrap(obj)
	}
	msg := ""
	d.rt.Try(func() {
		if m := obj.Get("message"); m != nil {
			msg = m.String()
		}
	})
	return msg
}

func (d *Describer) describeObject(obj *goja.Object) string {
	if _, ok := goja.AssertFunction(obj); ok {
		return "[Function: " + nameOf(obj, "anonymous") + "]"
	}
	switch obj.ClassName() {
	case "Error":
		return "[Error: " + stringOf(obj.Get("message")) + "]"
	case "Array":
		return "[Array(" + strconv.FormatInt(obj.Get("length").ToInteger(), 10) + ")]"
	}
	if ctor, ok := obj.Get("constructor").(*goja.Object); ok {
		return "[Object: " + nameOf(ctor, "Object") + "]"
	}
	return "[Object: Object]"
}

func stringOf(v goja.Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func nameOf(obj *goja.Object, fallback string) string {
	n := obj.Get("name")
	if n == nil || goja.IsUndefined(n) || goja.IsNull(n) {
		return fallback
	}
	if s := n.String(); s != "" {
		return s
	}
	return fallback
}

// Truncate shortens s to max runes, appending Ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + Ellipsis
}

var (
	typeBool   = reflect.TypeOf(true)
	typeString = reflect.TypeOf("")
	typeBigInt = reflect.TypeOf((*big.Int)(nil))
)

// TypeOf mirrors the JavaScript typeof operator.
func TypeOf(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "object"
	}
	switch t := v.(type) {
	case *goja.Symbol:
		return "symbol"
	case *goja.Object:
		if _, ok := goja.AssertFunction(t); ok {
			return "function"
		}
		return "object"
	}
	switch v.ExportType() {
	case typeBool:
		return "boolean"
	case typeString:
		return "string"
	case typeBigInt:
		return "bigint"
	}
	return "number"
}

// IsObject reports whether v is a non-null object or function.
func IsObject(v goja.Value) bool {
	_, ok := v.(*goja.Object)
	return ok
}

// IsUncatchable reports whether err must unwind the whole script, such as
// an interrupt or a stack overflow.
func IsUncatchable(err error) bool {
	var ie *goja.InterruptedError
	var so *goja.StackOverflowError
	return errors.As(err, &ie) || errors.As(err, &so)
}

// Rethrow propagates err into the running script: uncatchable errors keep
// unwinding, exceptions are thrown with their original value.
func Rethrow(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) && !IsUncatchable(err) {
		panic(ex)
	}
	panic(err)
}

// Key renders v the way a template literal would for primitives. Objects
// use their class tag so that no user code runs.
func Key(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	switch t := v.(type) {
	case *goja.Symbol:
		return "Symbol(" + t.String() + ")"
	case *goja.Object:
		return "[object " + t.ClassName() + "]"
	}
	return v.String()
}

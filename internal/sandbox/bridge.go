package sandbox

import (
	"time"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/envsandbox/internal/dom"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/mock"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

// bridgeName is the non-enumerable global through which stub modules reach
// the host.
const bridgeName = "__env__"

func (m *Manager) newBridge() *goja.Object {
	b := m.rt.NewObject()
	set := func(name string, length int, fn func(goja.FunctionCall) goja.Value) {
		_ = b.Set(name, m.native(name, length, fn))
	}

	set("wrap", 2, func(call goja.FunctionCall) goja.Value {
		return m.factory.Wrap(call.Argument(0), call.Argument(1).String())
	})
	set("unwrap", 1, func(call goja.FunctionCall) goja.Value {
		if obj, ok := call.Argument(0).(*goja.Object); ok {
			return m.factory.Unwrap(obj)
		}
		return call.Argument(0)
	})
	set("logUndefined", 2, func(call goja.FunctionCall) goja.Value {
		context := ""
		if c := call.Argument(1); !goja.IsUndefined(c) {
			context = c.String()
		}
		return m.rt.ToValue(m.log.LogUndefined(call.Argument(0).String(), context))
	})
	set("markFixed", 1, func(call goja.FunctionCall) goja.Value {
		return m.rt.ToValue(m.log.MarkFixed(call.Argument(0).String(), proxylog.FixedExternal))
	})

	set("setMock", 3, func(call goja.FunctionCall) goja.Value {
		kind, err := mock.ParseKind(call.Argument(0).String())
		if err == nil {
			err = m.mocks.Set(kind, call.Argument(1).String(), call.Argument(2))
		}
		if err != nil {
			panic(m.rt.NewTypeError(err.Error()))
		}
		return m.rt.ToValue(true)
	})
	set("removeMock", 2, func(call goja.FunctionCall) goja.Value {
		kind, err := mock.ParseKind(call.Argument(0).String())
		if err == nil {
			err = m.mocks.Remove(kind, call.Argument(1).String())
		}
		if err != nil {
			panic(m.rt.NewTypeError(err.Error()))
		}
		return m.rt.ToValue(true)
	})
	set("hasMock", 1, func(call goja.FunctionCall) goja.Value {
		return m.rt.ToValue(m.mocks.Has(call.Argument(0).String()))
	})

	set("pushChain", 1, func(call goja.FunctionCall) goja.Value {
		return m.rt.ToValue(m.chain.Push(call.Argument(0).String()))
	})
	set("popChain", 0, func(call goja.FunctionCall) goja.Value {
		f, ok := m.chain.Pop()
		if !ok {
			return goja.Undefined()
		}
		return m.rt.ToValue(f.Label)
	})
	set("chain", 0, func(call goja.FunctionCall) goja.Value {
		return m.rt.ToValue(m.chain.Label())
	})

	set("schedule", 3, func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(m.rt.NewTypeError("schedule: callback is not a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		repeat := call.Argument(2).ToBoolean()
		var args []goja.Value
		if len(call.Arguments) > 3 {
			args = append(args, call.Arguments[3:]...)
		}
		return m.rt.ToValue(m.timers.schedule(fn, delay, repeat, args))
	})
	set("cancel", 1, func(call goja.FunctionCall) goja.Value {
		return m.rt.ToValue(m.timers.cancel(call.Argument(0).ToInteger()))
	})

	set("describe", 1, func(call goja.FunctionCall) goja.Value {
		return m.rt.ToValue(m.factory.Describer().Describe(call.Argument(0)))
	})

	_ = b.Set("dom", dom.Bind(m.rt, m.doc))
	return b
}

package deepproxy

import (
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox/jsvalue"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

func (f *Factory) key(prop string) goja.Value {
	return f.rt.ToValue(prop)
}

// getReceiver runs getters on the raw target when the read came through
// the target's own proxy, so that engine built-ins see a compatible this.
func (f *Factory) getReceiver(t *goja.Object, receiver goja.Value) goja.Value {
	if r, ok := receiver.(*goja.Object); ok && f.targets[r] == t {
		return t
	}
	if receiver == nil {
		return t
	}
	return receiver
}

// call invokes a captured Reflect function. The engine reports a missing
// member as a nil Value, which is mapped to undefined.
func call(fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	v, err := fn(goja.Undefined(), args...)
	if v == nil {
		v = goja.Undefined()
	}
	return v, err
}

// rawGet reads through Reflect and lets errors reach the script.
func (f *Factory) rawGet(t *goja.Object, prop string, receiver goja.Value) goja.Value {
	v, err := call(f.reflect.get, t, f.key(prop), f.getReceiver(t, receiver))
	if err != nil {
		jsvalue.Rethrow(err)
	}
	return v
}

func (f *Factory) get(t *goja.Object, root, prop string, receiver goja.Value) goja.Value {
	if _, ok := passthrough[prop]; ok {
		return f.rawGet(t, prop, receiver)
	}
	path := join(root, prop)
	observing := f.observing()

	if v, ok := f.mocks.Property(path); ok {
		if observing {
			f.log.LogAccess(proxylog.Get, path, jsvalue.TypeOf(v), f.desc.Describe(v))
		}
		return v
	}

	v, err := call(f.reflect.get, t, f.key(prop), f.getReceiver(t, receiver))
	if err != nil {
		if jsvalue.IsUncatchable(err) {
			panic(err)
		}
		if observing {
			f.log.LogUndefined(path, "Access error: "+f.desc.Message(err))
		}
		f.logger.Debug("Proxy read failed", zap.String("path", path), zap.Error(err))
		return goja.Undefined()
	}

	if observing {
		f.log.LogAccess(proxylog.Get, path, jsvalue.TypeOf(v), f.desc.Describe(v))
		if goja.IsUndefined(v) && !f.present(t, prop) {
			f.log.LogUndefined(path, "")
		}
	}

	obj, ok := v.(*goja.Object)
	if !ok || f.frozen(t, prop) {
		return v
	}
	return f.wrap(obj, path, t)
}

func (f *Factory) present(t *goja.Object, prop string) bool {
	ok, err := call(f.reflect.has, t, f.key(prop))
	if err != nil {
		if jsvalue.IsUncatchable(err) {
			panic(err)
		}
		return false
	}
	return ok.ToBoolean()
}

// frozen reports whether prop is an own non-configurable, non-writable data
// property, whose value a get trap must return unchanged.
func (f *Factory) frozen(t *goja.Object, prop string) bool {
	d, err := f.reflect.getOwnPropertyDescriptor(goja.Undefined(), t, f.key(prop))
	if err != nil {
		if jsvalue.IsUncatchable(err) {
			panic(err)
		}
		return false
	}
	desc, ok := d.(*goja.Object)
	if !ok {
		return false
	}
	writable := desc.Get("writable")
	if writable == nil {
		return false
	}
	configurable := desc.Get("configurable")
	return !writable.ToBoolean() && (configurable == nil || !configurable.ToBoolean())
}

// getSym reads symbol keys unobserved. Symbol.hasInstance is answered
// against the raw target because the engine cannot run instanceof on a
// proxy.
func (f *Factory) getSym(t *goja.Object, sym *goja.Symbol, receiver goja.Value) goja.Value {
	if sym == goja.SymHasInstance && !f.ownKey(t, sym) {
		return f.instanceCheck(t)
	}
	v, err := call(f.reflect.get, t, sym, f.getReceiver(t, receiver))
	if err != nil {
		jsvalue.Rethrow(err)
	}
	return v
}

func (f *Factory) ownKey(t *goja.Object, key goja.Value) bool {
	d, err := call(f.reflect.getOwnPropertyDescriptor, t, key)
	if err != nil {
		jsvalue.Rethrow(err)
	}
	_, ok := d.(*goja.Object)
	return ok
}

// instanceCheck returns the Symbol.hasInstance method handed out for the
// proxy of t. It is created once per target so reads compare equal.
func (f *Factory) instanceCheck(t *goja.Object) *goja.Object {
	if fn, ok := f.checks[t]; ok {
		return fn
	}
	fn := f.rt.ToValue(func(c goja.FunctionCall) goja.Value {
		return f.rt.ToValue(f.rt.InstanceOf(c.Argument(0), t))
	}).(*goja.Object)
	_ = fn.DefineDataProperty("name", f.rt.ToValue("[Symbol.hasInstance]"), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	_ = fn.DefineDataProperty("length", f.rt.ToValue(1), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	f.checks[t] = fn
	return fn
}

func (f *Factory) set(t *goja.Object, root, prop string, value, receiver goja.Value) bool {
	if f.observing() {
		f.log.LogAccess(proxylog.Set, join(root, prop), jsvalue.TypeOf(value), f.desc.Describe(value))
	}
	args := []goja.Value{t, f.key(prop), value}
	// Passing the proxy itself as receiver would re-enter the define trap.
	if r, ok := receiver.(*goja.Object); ok && f.targets[r] != t {
		args = append(args, receiver)
	}
	ok, err := call(f.reflect.set, args...)
	if err != nil {
		jsvalue.Rethrow(err)
	}
	return ok.ToBoolean()
}

func (f *Factory) define(t *goja.Object, root, prop string, desc goja.PropertyDescriptor) bool {
	if f.observing() {
		f.log.LogAccess(proxylog.Define, join(root, prop), jsvalue.TypeOf(desc.Value), f.desc.Describe(desc.Value))
	}
	ok, err := call(f.reflect.defineProperty, t, f.key(prop), f.descriptor(desc))
	if err != nil {
		jsvalue.Rethrow(err)
	}
	return ok.ToBoolean()
}

func (f *Factory) descriptor(d goja.PropertyDescriptor) *goja.Object {
	o := f.rt.NewObject()
	if d.Value != nil {
		_ = o.Set("value", d.Value)
	}
	if d.Writable != goja.FLAG_NOT_SET {
		_ = o.Set("writable", d.Writable.Bool())
	}
	if d.Enumerable != goja.FLAG_NOT_SET {
		_ = o.Set("enumerable", d.Enumerable.Bool())
	}
	if d.Configurable != goja.FLAG_NOT_SET {
		_ = o.Set("configurable", d.Configurable.Bool())
	}
	if d.Getter != nil {
		_ = o.Set("get", d.Getter)
	}
	if d.Setter != nil {
		_ = o.Set("set", d.Setter)
	}
	return o
}

func (f *Factory) remove(t *goja.Object, root, prop string) bool {
	if f.observing() {
		f.log.LogAccess(proxylog.Delete, join(root, prop), "undefined", "undefined")
	}
	ok, err := call(f.reflect.deleteProperty, t, f.key(prop))
	if err != nil {
		jsvalue.Rethrow(err)
	}
	return ok.ToBoolean()
}

// receiver picks the this value for the real call: proxies are unwrapped,
// and a missing receiver falls back to the object the method was read from.
func (f *Factory) receiver(this goja.Value, home *goja.Object) goja.Value {
	if obj, ok := this.(*goja.Object); ok {
		return f.Unwrap(obj)
	}
	if home != nil && (this == nil || goja.IsUndefined(this) || goja.IsNull(this)) {
		return home
	}
	if this == nil {
		return goja.Undefined()
	}
	return this
}

func (f *Factory) apply(t *goja.Object, path string, home *goja.Object, this goja.Value, args []goja.Value) goja.Value {
	if f.chain.Push(path) {
		defer f.chain.Pop()
	}
	self := f.receiver(this, home)
	observing := f.observing()

	res, err := f.mocks.Resolve(path, args, self)
	if err != nil {
		panic(err)
	}
	if res.Mocked {
		if observing {
			f.log.LogCall(path, f.desc.DescribeAll(args), f.desc.Describe(res.Result), false, true)
		}
		return res.Result
	}

	fn, _ := goja.AssertFunction(t)
	out, err := fn(self, args...)
	if err != nil {
		if observing && !jsvalue.IsUncatchable(err) {
			f.log.LogCall(path, f.desc.DescribeAll(args), f.desc.DescribeError(err), true, false)
		}
		jsvalue.Rethrow(err)
	}
	if out == nil {
		out = goja.Undefined()
	}
	if observing {
		f.log.LogCall(path, f.desc.DescribeAll(args), f.desc.Describe(out), false, false)
	}
	return f.wrap(out, path+"()", nil)
}

func (f *Factory) construct(t *goja.Object, path string, args []goja.Value, newTarget *goja.Object) *goja.Object {
	if f.chain.Push(path) {
		defer f.chain.Pop()
	}
	if newTarget != nil {
		newTarget = f.Unwrap(newTarget)
	}
	observing := f.observing()

	ctor, _ := goja.AssertConstructor(t)
	out, err := ctor(newTarget, args...)
	if err != nil {
		if observing && !jsvalue.IsUncatchable(err) {
			f.log.LogCall("new "+path, f.desc.DescribeAll(args), f.desc.DescribeError(err), true, false)
		}
		jsvalue.Rethrow(err)
	}
	if observing {
		f.log.LogCall("new "+path, f.desc.DescribeAll(args), f.desc.Describe(out), false, false)
	}
	return f.wrap(out, path+"()", nil).(*goja.Object)
}

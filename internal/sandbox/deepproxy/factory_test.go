package deepproxy

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox/callchain"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/mock"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

type harness struct {
	rt      *goja.Runtime
	log     *proxylog.Logger
	chain   *callchain.Tracker
	mocks   *mock.Registry
	factory *Factory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rt := goja.New()
	chain := callchain.New(0)
	log := proxylog.New(0, chain)
	mocks := mock.New(nil)
	f, err := New(rt, log, chain, mocks, Options{})
	require.NoError(t, err)
	return &harness{rt: rt, log: log, chain: chain, mocks: mocks, factory: f}
}

// expose wraps the result of src and binds it to name.
func (h *harness) expose(t *testing.T, name, root, src string) goja.Value {
	t.Helper()
	v, err := h.rt.RunString(src)
	require.NoError(t, err)
	p := h.factory.Wrap(v, root)
	require.NoError(t, h.rt.Set(name, p))
	return p
}

func (h *harness) run(t *testing.T, src string) goja.Value {
	t.Helper()
	v, err := h.rt.RunString(src)
	require.NoError(t, err)
	return v
}

func TestWrapPrimitivesUnchanged(t *testing.T) {
	h := newHarness(t)
	for _, v := range []goja.Value{goja.Undefined(), goja.Null(), h.rt.ToValue(1), h.rt.ToValue("s"), h.rt.ToValue(true)} {
		assert.Equal(t, v, h.factory.Wrap(v, "x"))
	}
	assert.Equal(t, 0, h.factory.Size())
}

func TestWrapIdentityAndCycles(t *testing.T) {
	h := newHarness(t)
	p := h.expose(t, "p", "a", `var a = {name: "a"}; a.self = a; a`)

	assert.Same(t, p, h.factory.Wrap(p, "other"), "proxies are not re-wrapped")
	target := h.factory.Unwrap(p.(*goja.Object))
	assert.Same(t, p, h.factory.Wrap(target, "elsewhere"), "cached proxy whatever the root")

	assert.True(t, h.run(t, `p.self === p && p.self.self.self === p`).ToBoolean())
	assert.Equal(t, 1, h.factory.Size(), "cycle resolves to the single cached proxy")

	root, ok := h.factory.Root(p)
	require.True(t, ok)
	assert.Equal(t, "a", root)
}

func TestUndefinedDedup(t *testing.T) {
	h := newHarness(t)
	h.expose(t, "win", "window", `({present: undefined})`)

	h.run(t, `for (var i = 0; i < 7; i++) { win.doesNotExist; }`)
	h.run(t, `win.present`)

	undef := h.log.Undefined(proxylog.Filter{})
	require.Len(t, undef, 1, "present-but-undefined members are not missing")
	assert.Equal(t, "window.doesNotExist", undef[0].Path)
	assert.Len(t, h.log.Access(proxylog.Filter{PathContains: "doesNotExist"}), 7)
}

func TestPassThroughTransparency(t *testing.T) {
	h := newHarness(t)
	h.run(t, `var raw = {a: 1, b: "two", c: {d: [1, 2, 3]}, e: true}`)
	h.expose(t, "wrapped", "obj", `raw`)

	assert.Equal(t,
		h.run(t, `JSON.stringify(raw)`).String(),
		h.run(t, `JSON.stringify(wrapped)`).String())
	assert.Equal(t,
		h.run(t, `Object.keys(raw).join()`).String(),
		h.run(t, `Object.keys(wrapped).join()`).String())
	assert.True(t, h.run(t, `"a" in wrapped && !("zz" in wrapped)`).ToBoolean())
	assert.True(t, h.run(t, `Object.getOwnPropertyDescriptor(wrapped, "a").value === 1`).ToBoolean())
}

func TestCallPreservesThrow(t *testing.T) {
	h := newHarness(t)
	h.expose(t, "obj", "obj", `({ f: function() { throw new Error("x") } })`)

	msg := h.run(t, `var m; try { obj.f(1, "a") } catch (e) { m = e.message + ":" + (e instanceof Error) } m`)
	assert.Equal(t, "x:true", msg.String())

	calls := h.log.Calls(proxylog.Filter{})
	require.Len(t, calls, 1)
	assert.Equal(t, "obj.f", calls[0].Path)
	assert.True(t, calls[0].Error)
	assert.Equal(t, "[Error: x]", calls[0].Result)
	assert.Equal(t, []string{"1", "a"}, calls[0].Args)
	assert.Equal(t, 0, h.chain.Depth(), "frame popped on the failure path")
}

func TestCallWrapsResultAndChains(t *testing.T) {
	h := newHarness(t)
	h.expose(t, "doc", "document", `({
		createElement: function(tag) { return { tagName: tag.toUpperCase(), getContext: function() { return { kind: "2d" } } } }
	})`)

	assert.Equal(t, "2d", h.run(t, `doc.createElement("canvas").getContext().kind`).String())

	access := h.log.Access(proxylog.Filter{PathContains: "tagName"})
	assert.Empty(t, access)
	kind := h.log.Access(proxylog.Filter{PathContains: ".kind"})
	require.Len(t, kind, 1)
	assert.Equal(t, "document.createElement().getContext().kind", kind[0].Path)

	calls := h.log.Calls(proxylog.Filter{})
	require.Len(t, calls, 2)
	assert.Equal(t, "document.createElement", calls[0].Path)
	assert.Equal(t, "[Object: Object]", calls[0].Result)
	assert.Equal(t, "document.createElement().getContext", calls[1].Path)
}

func TestCallChainStampsNestedEntries(t *testing.T) {
	h := newHarness(t)
	h.expose(t, "api", "api", `({
		inner: { value: 42 },
		outer: function(o) { return o.inner.value }
	})`)

	assert.Equal(t, int64(42), h.run(t, `api.outer(api)`).ToInteger())

	reads := h.log.Access(proxylog.Filter{PathContains: "api.inner.value"})
	require.Len(t, reads, 1)
	assert.Equal(t, "api.outer", reads[0].Chain)
}

func TestMocksTakePrecedence(t *testing.T) {
	h := newHarness(t)
	h.expose(t, "nav", "navigator", `({ webdriver: true, plugins: function() { return "real" } })`)

	require.NoError(t, h.mocks.Set(mock.Property, "navigator.webdriver", h.rt.ToValue(false)))
	cond := h.run(t, `({condition: function(x) { return x === 1 }, result: "conditional"})`)
	require.NoError(t, h.mocks.Set(mock.Conditional, "navigator.plugins", cond))
	method := h.run(t, `(function() { return "method" })`)
	require.NoError(t, h.mocks.Set(mock.Method, "navigator.plugins", method))

	assert.False(t, h.run(t, `nav.webdriver`).ToBoolean())
	assert.Equal(t, "conditional", h.run(t, `nav.plugins(1)`).String())
	assert.Equal(t, "method", h.run(t, `nav.plugins(2)`).String())

	calls := h.log.Calls(proxylog.Filter{})
	require.Len(t, calls, 2)
	assert.True(t, calls[0].Mocked)
}

func TestFunctionsLookNative(t *testing.T) {
	h := newHarness(t)
	h.expose(t, "obj", "obj", `({ go: function go(a, b) { return a + b } })`)

	assert.Equal(t, "function", h.run(t, `typeof obj.go`).String())
	assert.Equal(t, "go:2", h.run(t, `obj.go.name + ":" + obj.go.length`).String())
	assert.Contains(t, h.run(t, `Function.prototype.toString.call(obj.go)`).String(), "[native code]")
	assert.True(t, h.run(t, `obj.go === obj.go`).ToBoolean(), "a function is wrapped once")
}

func TestConstructThroughProxy(t *testing.T) {
	h := newHarness(t)
	h.expose(t, "win", "window", `({ Thing: function Thing(n) { this.n = n } })`)

	assert.True(t, h.run(t, `var t = new win.Thing(3); t.n === 3 && t instanceof win.Thing`).ToBoolean())

	calls := h.log.Calls(proxylog.Filter{PathContains: "Thing"})
	require.Len(t, calls, 1)
	assert.Equal(t, "new window.Thing", calls[0].Path)
}

func TestSetLogsOnce(t *testing.T) {
	h := newHarness(t)
	h.expose(t, "doc", "document", `({})`)

	h.run(t, `doc.cookie = "a=1"`)
	assert.Equal(t, "a=1", h.run(t, `doc.cookie`).String())

	sets := h.log.Access(proxylog.Filter{Type: proxylog.Set})
	require.Len(t, sets, 1)
	assert.Equal(t, "document.cookie", sets[0].Path)
	assert.Empty(t, h.log.Access(proxylog.Filter{Type: proxylog.Define}))

	h.run(t, `Object.defineProperty(doc, "x", {value: 1}); delete doc.cookie`)
	assert.Len(t, h.log.Access(proxylog.Filter{Type: proxylog.Define}), 1)
	assert.Len(t, h.log.Access(proxylog.Filter{Type: proxylog.Delete}), 1)
}

func TestFrozenAndBuiltinReceivers(t *testing.T) {
	h := newHarness(t)
	h.expose(t, "obj", "obj", `Object.freeze({ inner: { v: 1 }, bytes: new Uint8Array(4), m: new Map([["k", 2]]) })`)

	assert.Equal(t, int64(1), h.run(t, `obj.inner.v`).ToInteger())
	assert.Equal(t, int64(4), h.run(t, `obj.bytes.length`).ToInteger())
	assert.Equal(t, int64(2), h.run(t, `obj.m.get("k")`).ToInteger())
}

func TestSuspendSilencesLogging(t *testing.T) {
	h := newHarness(t)
	h.expose(t, "obj", "obj", `({ a: 1 })`)

	resume := h.factory.Suspend()
	h.run(t, `obj.a; obj.missing`)
	resume()

	assert.Equal(t, 0, h.log.Stats().AccessCount)
	assert.Equal(t, 0, h.log.Stats().UndefinedCount)
}

func TestAccessErrorBecomesUndefinedEntry(t *testing.T) {
	h := newHarness(t)
	h.expose(t, "obj", "obj", `({ get broken() { throw new Error("nope") } })`)

	assert.True(t, goja.IsUndefined(h.run(t, `obj.broken`)))
	undef := h.log.Undefined(proxylog.Filter{})
	require.Len(t, undef, 1)
	assert.Equal(t, "obj.broken", undef[0].Path)
	assert.Equal(t, "Access error: nope", undef[0].Context)
}

func TestMissingNestedMemberRecordedOnce(t *testing.T) {
	h := newHarness(t)
	h.expose(t, "win", "window", `({ nav: { vendor: "" } })`)

	assert.Equal(t, "undefined",
		h.run(t, `for (var i = 0; i < 5; i++) { win.nav.plugins; } typeof win.nav.plugins`).String())

	undef := h.log.Undefined(proxylog.Filter{})
	require.Len(t, undef, 1)
	assert.Equal(t, "window.nav.plugins", undef[0].Path)
	assert.Len(t, h.log.Access(proxylog.Filter{PathContains: "nav.plugins"}), 6)
	assert.Equal(t, 1, h.log.Stats().UndefinedCount)
}

func TestInstanceOfThroughProxy(t *testing.T) {
	h := newHarness(t)
	h.expose(t, "win", "window", `(function () {
		function Base() {}
		function Derived() {}
		Derived.prototype = Object.create(Base.prototype);
		class Even { static [Symbol.hasInstance](n) { return n % 2 === 0 } }
		return { Base: Base, Derived: Derived, Even: Even, Array: Array, item: new Derived() };
	})()`)

	tests := []struct {
		code string
		want bool
	}{
		{`win.item instanceof win.Derived`, true},
		{`win.item instanceof win.Base`, true},
		{`new win.Base() instanceof win.Derived`, false},
		{`new win.Derived() instanceof win.Derived`, true},
		{`[] instanceof win.Array`, true},
		{`({}) instanceof win.Array`, false},
		{`2 instanceof win.Even`, true},
		{`3 instanceof win.Even`, false},
		{`win.Base[Symbol.hasInstance] === win.Base[Symbol.hasInstance]`, true},
		{`win.Base[Symbol.hasInstance].name === "[Symbol.hasInstance]"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, h.run(t, tt.code).ToBoolean())
		})
	}
	assert.Empty(t, h.log.Calls(proxylog.Filter{PathContains: "hasInstance"}))
}

package mock

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eval(t *testing.T, rt *goja.Runtime, src string) goja.Value {
	t.Helper()
	v, err := rt.RunString(src)
	require.NoError(t, err)
	return v
}

func TestResolvePrecedence(t *testing.T) {
	rt := goja.New()
	r := New(nil)

	require.NoError(t, r.Set(Method, "fetch", eval(t, rt, `(function(url){ return "method:" + url })`)))
	require.NoError(t, r.Set(Conditional, "fetch", eval(t, rt, `({condition: function(url){ return url.indexOf("api") >= 0 }, result: "conditional"})`)))
	require.NoError(t, r.Set(ReturnValue, "fetch:/static", rt.ToValue("keyed")))

	tests := []struct {
		name string
		arg  string
		kind Kind
		want string
	}{
		{"conditional wins over method", "/api/user", Conditional, "conditional"},
		{"argument keyed value", "/static", ReturnValue, "keyed"},
		{"method fallback", "/other", Method, "method:/other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve("fetch", []goja.Value{rt.ToValue(tt.arg)}, goja.Undefined())
			require.NoError(t, err)
			assert.True(t, res.Mocked)
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.want, res.Result.String())
		})
	}
}

func TestResolveSkipsThrowingRules(t *testing.T) {
	rt := goja.New()
	r := New(nil)

	var failures []Kind
	r.OnError(func(kind Kind, path string, err error) { failures = append(failures, kind) })

	require.NoError(t, r.Set(Conditional, "f", eval(t, rt, `({condition: function(){ throw new Error("boom") }, result: 1})`)))
	require.NoError(t, r.Set(Conditional, "f", eval(t, rt, `({condition: function(){ return true }, result: 2})`)))
	res, err := r.Resolve("f", nil, goja.Undefined())
	require.NoError(t, err)
	assert.True(t, res.Mocked)
	assert.Equal(t, int64(2), res.Result.ToInteger())

	require.NoError(t, r.Set(Method, "g", eval(t, rt, `(function(){ throw new Error("bad handler") })`)))
	res, err = r.Resolve("g", nil, goja.Undefined())
	require.NoError(t, err)
	assert.False(t, res.Mocked, "a throwing handler falls through to the real call")

	assert.Equal(t, []Kind{Conditional, Method}, failures)
}

func TestResolveBindsThis(t *testing.T) {
	rt := goja.New()
	r := New(nil)
	require.NoError(t, r.Set(Method, "obj.name", eval(t, rt, `(function(){ return this.id })`)))

	this := eval(t, rt, `({id: "self"})`)
	res, err := r.Resolve("obj.name", nil, this)
	require.NoError(t, err)
	assert.Equal(t, "self", res.Result.String())
}

func TestSetValidation(t *testing.T) {
	rt := goja.New()
	r := New(nil)

	assert.ErrorIs(t, r.Set(Method, "x", rt.ToValue(1)), ErrNotCallable)
	assert.ErrorIs(t, r.Set(Conditional, "x", eval(t, rt, `({result: 1})`)), ErrInvalidConditional)
	assert.ErrorIs(t, r.Set("weird", "x", rt.ToValue(1)), ErrUnknownKind)
	assert.ErrorIs(t, r.Remove("weird", "x"), ErrUnknownKind)

	_, err := ParseKind("returnValue")
	assert.NoError(t, err)
	_, err = ParseKind("nope")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestHasRemoveCounts(t *testing.T) {
	rt := goja.New()
	r := New(nil)

	require.NoError(t, r.Set(Property, "navigator.webdriver", rt.ToValue(false)))
	require.NoError(t, r.Set(ReturnValue, "document.getElementById:app", rt.ToValue("el")))
	require.NoError(t, r.Set(Conditional, "fetch", eval(t, rt, `({condition: function(){ return false }})`)))
	require.NoError(t, r.Set(Conditional, "fetch", eval(t, rt, `({condition: function(){ return false }})`)))

	assert.True(t, r.Has("navigator.webdriver"))
	assert.True(t, r.Has("document.getElementById:app"))
	assert.Equal(t, Counts{Property: 1, ReturnValue: 1, Conditional: 2}, r.Counts())

	v, ok := r.Property("navigator.webdriver")
	require.True(t, ok)
	assert.False(t, v.ToBoolean())

	require.NoError(t, r.Remove(All, "fetch"))
	assert.False(t, r.Has("fetch"))

	r.Clear()
	assert.Equal(t, Counts{}, r.Counts())
}

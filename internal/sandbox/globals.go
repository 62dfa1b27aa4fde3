package sandbox

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"
)

// Names the base shape points at the instrumented global object.
var globalAliases = []string{"window", "self", "globalThis", "global"}

// baseShape installs the minimal browser surface every environment starts
// with. The timer stub module replaces the inert timers.
const baseShape = `(function (g) {
	var lastTimer = 0;
	g.setTimeout = function setTimeout() { return ++lastTimer; };
	g.setInterval = function setInterval() { return ++lastTimer; };
	g.clearTimeout = function clearTimeout() {};
	g.clearInterval = function clearInterval() {};

	function XMLHttpRequest() {
		this.readyState = 0;
		this.status = 0;
		this.statusText = "";
		this.responseText = "";
		this.response = null;
		this.responseType = "";
		this.timeout = 0;
		this.withCredentials = false;
		this.onreadystatechange = null;
		this.onload = null;
		this.onerror = null;
		this._headers = {};
	}
	XMLHttpRequest.UNSENT = 0;
	XMLHttpRequest.OPENED = 1;
	XMLHttpRequest.HEADERS_RECEIVED = 2;
	XMLHttpRequest.LOADING = 3;
	XMLHttpRequest.DONE = 4;
	XMLHttpRequest.prototype.open = function open(method, url) {
		this._method = String(method).toUpperCase();
		this._url = String(url);
		this.readyState = 1;
	};
	XMLHttpRequest.prototype.setRequestHeader = function setRequestHeader(name, value) {
		this._headers[String(name).toLowerCase()] = String(value);
	};
	XMLHttpRequest.prototype.getResponseHeader = function getResponseHeader() { return null; };
	XMLHttpRequest.prototype.getAllResponseHeaders = function getAllResponseHeaders() { return ""; };
	XMLHttpRequest.prototype.overrideMimeType = function overrideMimeType() {};
	XMLHttpRequest.prototype.send = function send() {};
	XMLHttpRequest.prototype.abort = function abort() { this.readyState = 0; };
	g.XMLHttpRequest = XMLHttpRequest;
})(this);
`

func (m *Manager) installGlobals() error {
	g := m.rt.GlobalObject()

	if err := g.Set("console", m.newConsole()); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	if err := g.Set("btoa", m.native("btoa", 1, m.btoa)); err != nil {
		return fmt.Errorf("btoa: %w", err)
	}
	if err := g.Set("atob", m.native("atob", 1, m.atob)); err != nil {
		return fmt.Errorf("atob: %w", err)
	}
	if _, err := m.rt.RunScript("sandbox/base.js", baseShape); err != nil {
		return fmt.Errorf("base shape: %w", err)
	}
	if err := g.DefineDataProperty(bridgeName, m.newBridge(), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		return fmt.Errorf("bridge: %w", err)
	}

	window := m.factory.Wrap(g, "window")
	for _, name := range globalAliases {
		if err := g.Set(name, window); err != nil {
			return fmt.Errorf("alias %s: %w", name, err)
		}
	}
	return nil
}

// native turns fn into a function object whose name and length read like a
// browser built-in rather than a Go symbol.
func (m *Manager) native(name string, length int, fn func(goja.FunctionCall) goja.Value) *goja.Object {
	obj := m.rt.ToValue(fn).(*goja.Object)
	_ = obj.DefineDataProperty("name", m.rt.ToValue(name), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	_ = obj.DefineDataProperty("length", m.rt.ToValue(length), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	return obj
}

// snapshotBuiltins records the engine's own globals. Everything added on
// top of them, the base shape included, is instrumented.
func (m *Manager) snapshotBuiltins() {
	names := m.rt.GlobalObject().GetOwnPropertyNames()
	m.builtins = make(map[string]struct{}, len(names))
	for _, name := range names {
		m.builtins[name] = struct{}{}
	}
}

// wrapGlobals replaces every new object or function global with its proxy,
// rooted at the global's name. Read-only globals are left alone.
func (m *Manager) wrapGlobals() int {
	g := m.rt.GlobalObject()
	n := 0
	for _, name := range g.GetOwnPropertyNames() {
		if _, ok := m.builtins[name]; ok {
			continue
		}
		if !m.writableData(g, name) {
			continue
		}
		obj, ok := g.Get(name).(*goja.Object)
		if !ok || m.factory.IsProxy(obj) {
			continue
		}
		if err := g.Set(name, m.factory.Wrap(obj, name)); err != nil {
			continue
		}
		n++
	}
	return n
}

func (m *Manager) writableData(obj *goja.Object, name string) bool {
	d, err := m.intrinsics.ownDescriptor(goja.Undefined(), obj, m.rt.ToValue(name))
	if err != nil {
		return false
	}
	desc, ok := d.(*goja.Object)
	if !ok {
		return false
	}
	w := desc.Get("writable")
	return w != nil && w.ToBoolean()
}

func (m *Manager) btoa(call goja.FunctionCall) goja.Value {
	s := call.Argument(0).String()
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			panic(m.rt.NewTypeError("Failed to execute 'btoa': The string to be encoded contains characters outside of the Latin1 range."))
		}
		buf = append(buf, byte(r))
	}
	return m.rt.ToValue(base64.StdEncoding.EncodeToString(buf))
}

func (m *Manager) atob(call goja.FunctionCall) goja.Value {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\f', '\r':
			return -1
		}
		return r
	}, call.Argument(0).String())
	s = strings.TrimRight(s, "=")

	raw, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		panic(m.rt.NewTypeError("Failed to execute 'atob': The string to be decoded is not correctly encoded."))
	}
	out := make([]byte, 0, len(raw)*2)
	for _, b := range raw {
		out = utf8.AppendRune(out, rune(b))
	}
	return m.rt.ToValue(string(out))
}

package deepproxy

import (
	"errors"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox/callchain"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/jsvalue"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/mock"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

// ErrNoReflect is returned when the runtime's Reflect global is missing or
// has been tampered with before the factory was created.
var ErrNoReflect = errors.New("runtime has no usable Reflect object")

// Recorder receives what the proxies observe.
type Recorder interface {
	LogAccess(dir proxylog.Direction, path, kind, value string)
	LogCall(path string, args []string, result string, failed, mocked bool)
	LogUndefined(path, context string) bool
}

// Chain tracks in-flight calls.
type Chain interface {
	Push(label string) bool
	Pop() (callchain.Frame, bool)
}

// Mocks supplies overrides.
type Mocks interface {
	Property(path string) (goja.Value, bool)
	Resolve(path string, args []goja.Value, this goja.Value) (mock.Resolution, error)
}

// Options tunes a factory.
type Options struct {
	MaxString int
	Logger    *zap.Logger
}

var passthrough = map[string]struct{}{
	"constructor": {},
	"prototype":   {},
	"__proto__":   {},
	"toJSON":      {},
	"valueOf":     {},
	"toString":    {},
}

type reflectAPI struct {
	get                      goja.Callable
	set                      goja.Callable
	has                      goja.Callable
	defineProperty           goja.Callable
	deleteProperty           goja.Callable
	getOwnPropertyDescriptor goja.Callable
}

// Factory creates and caches proxies for one runtime. It is not safe for
// concurrent use.
type Factory struct {
	rt      *goja.Runtime
	log     Recorder
	chain   Chain
	mocks   Mocks
	reflect reflectAPI
	desc    *jsvalue.Describer
	logger  *zap.Logger

	proxies map[*goja.Object]*goja.Object // target -> proxy
	targets map[*goja.Object]*goja.Object // proxy -> target
	roots   map[*goja.Object]string       // proxy -> root path
	checks  map[*goja.Object]*goja.Object // target -> Symbol.hasInstance

	suspended int
}

// New creates a factory. It captures the runtime's Reflect functions, so it
// must run before any untrusted code.
func New(rt *goja.Runtime, log Recorder, chain Chain, mocks Mocks, opts Options) (*Factory, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Factory{
		rt:      rt,
		log:     log,
		chain:   chain,
		mocks:   mocks,
		logger:  logger,
		proxies: make(map[*goja.Object]*goja.Object),
		targets: make(map[*goja.Object]*goja.Object),
		roots:   make(map[*goja.Object]string),
		checks:  make(map[*goja.Object]*goja.Object),
	}
	f.desc = jsvalue.NewDescriber(rt, opts.MaxString, f.Unwrap)

	reflectObj, ok := rt.GlobalObject().Get("Reflect").(*goja.Object)
	if !ok {
		return nil, ErrNoReflect
	}
	for name, dst := range map[string]*goja.Callable{
		"get":                      &f.reflect.get,
		"set":                      &f.reflect.set,
		"has":                      &f.reflect.has,
		"defineProperty":           &f.reflect.defineProperty,
		"deleteProperty":           &f.reflect.deleteProperty,
		"getOwnPropertyDescriptor": &f.reflect.getOwnPropertyDescriptor,
	} {
		fn, ok := goja.AssertFunction(reflectObj.Get(name))
		if !ok {
			return nil, ErrNoReflect
		}
		*dst = fn
	}
	return f, nil
}

// Wrap returns the proxy for v rooted at root. Primitives, null, undefined
// and values that already are proxies are returned unchanged; a target
// that was wrapped before returns its existing proxy whatever the root.
func (f *Factory) Wrap(v goja.Value, root string) goja.Value {
	return f.wrap(v, root, nil)
}

func (f *Factory) wrap(v goja.Value, root string, home *goja.Object) goja.Value {
	obj, ok := v.(*goja.Object)
	if !ok {
		return v
	}
	if _, isProxy := f.targets[obj]; isProxy {
		return obj
	}
	if p, ok := f.proxies[obj]; ok {
		return p
	}
	return f.newProxy(obj, root, home)
}

// newProxy builds the trap set for target. home is the object the function
// was read from and receives calls made without a receiver.
func (f *Factory) newProxy(target *goja.Object, root string, home *goja.Object) *goja.Object {
	cfg := &goja.ProxyTrapConfig{
		Get: func(t *goja.Object, prop string, receiver goja.Value) goja.Value {
			return f.get(t, root, prop, receiver)
		},
		Set: func(t *goja.Object, prop string, value goja.Value, receiver goja.Value) bool {
			return f.set(t, root, prop, value, receiver)
		},
		DefineProperty: func(t *goja.Object, prop string, desc goja.PropertyDescriptor) bool {
			return f.define(t, root, prop, desc)
		},
		DeleteProperty: func(t *goja.Object, prop string) bool {
			return f.remove(t, root, prop)
		},
	}
	if _, ok := goja.AssertFunction(target); ok {
		cfg.GetSym = func(t *goja.Object, sym *goja.Symbol, receiver goja.Value) goja.Value {
			return f.getSym(t, sym, receiver)
		}
		cfg.Apply = func(t *goja.Object, this goja.Value, args []goja.Value) goja.Value {
			return f.apply(t, root, home, this, args)
		}
		if _, ok := goja.AssertConstructor(target); ok {
			cfg.Construct = func(t *goja.Object, args []goja.Value, newTarget *goja.Object) *goja.Object {
				return f.construct(t, root, args, newTarget)
			}
		}
	}

	proxy := f.rt.ToValue(f.rt.NewProxy(target, cfg)).(*goja.Object)
	f.proxies[target] = proxy
	f.targets[proxy] = target
	f.roots[proxy] = root
	return proxy
}

// IsProxy reports whether v is a proxy created by this factory.
func (f *Factory) IsProxy(v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	_, ok = f.targets[obj]
	return ok
}

// Unwrap maps a proxy back to its target; other objects are returned as is.
func (f *Factory) Unwrap(obj *goja.Object) *goja.Object {
	if t, ok := f.targets[obj]; ok {
		return t
	}
	return obj
}

// Root returns the path a proxy was created with.
func (f *Factory) Root(v goja.Value) (string, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return "", false
	}
	root, ok := f.roots[obj]
	return root, ok
}

// Size returns the number of cached proxies.
func (f *Factory) Size() int { return len(f.proxies) }

// Clear forgets every proxy. Proxies already handed out keep working but
// will no longer be recognized.
func (f *Factory) Clear() {
	f.proxies = make(map[*goja.Object]*goja.Object)
	f.targets = make(map[*goja.Object]*goja.Object)
	f.roots = make(map[*goja.Object]string)
	f.checks = make(map[*goja.Object]*goja.Object)
}

// Suspend turns logging off until the returned func is called. Calls nest.
func (f *Factory) Suspend() (resume func()) {
	f.suspended++
	return func() { f.suspended-- }
}

// Describer renders values with proxies unwrapped.
func (f *Factory) Describer() *jsvalue.Describer { return f.desc }

func (f *Factory) observing() bool { return f.suspended == 0 }

func join(root, prop string) string {
	if root == "" {
		return prop
	}
	return root + "." + prop
}

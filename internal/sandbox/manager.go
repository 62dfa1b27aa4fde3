package sandbox

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/dom"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/callchain"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/deepproxy"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/mock"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

// intrinsics are captured before any stub or user code can replace them.
type intrinsics struct {
	stringify     goja.Callable
	ownDescriptor goja.Callable
}

// Manager owns one sandbox runtime and everything observing it.
type Manager struct {
	cfg       Config
	catalogue Catalogue
	logger    *zap.Logger
	observer  Observer

	state      State
	needsReset bool

	rt         *goja.Runtime
	factory    *deepproxy.Factory
	log        *proxylog.Logger
	chain      *callchain.Tracker
	mocks      *mock.Registry
	timers     *timerQueue
	console    *consoleLog
	doc        *dom.Document
	intrinsics intrinsics
	builtins   map[string]struct{}

	loaded    []string
	loadedSet map[string]struct{}

	executions int
	durations  []float64
}

// New creates an uninitialized manager. catalogue may be nil when no stub
// modules are used; logger may be nil.
func New(cfg Config, catalogue Catalogue, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg.withDefaults(),
		catalogue: catalogue,
		logger:    logger,
		observer:  nopObserver{},
		state:     StateUninitialized,
		loadedSet: make(map[string]struct{}),
	}
}

// Observe registers o for sandbox events, replacing any previous observer.
func (m *Manager) Observe(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	m.observer = o
}

// State returns the lifecycle stage.
func (m *Manager) State() State { return m.state }

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// NeedsReset reports whether an interrupted run left the runtime unusable.
func (m *Manager) NeedsReset() bool { return m.needsReset }

// Init allocates a fresh runtime and installs the base global shape. It is
// a no-op on a ready manager.
func (m *Manager) Init() error {
	switch m.state {
	case StateDisposed:
		return ErrDisposed
	case StateReady, StateExecuting:
		return nil
	}

	doc, err := dom.Parse(m.cfg.SeedHTML)
	if err != nil {
		return fmt.Errorf("seed document: %w", err)
	}

	rt := goja.New()
	rt.SetMaxCallStackSize(m.cfg.MaxCallStack)

	chain := callchain.New(m.cfg.MaxChainDepth)
	log := proxylog.New(m.cfg.MaxLogs, chain)
	mocks := mock.New(m.logger)
	factory, err := deepproxy.New(rt, log, chain, mocks, deepproxy.Options{
		MaxString: m.cfg.MaxString,
		Logger:    m.logger,
	})
	if err != nil {
		return err
	}
	in, err := captureIntrinsics(rt)
	if err != nil {
		return err
	}

	m.rt = rt
	m.chain = chain
	m.log = log
	m.mocks = mocks
	m.factory = factory
	m.intrinsics = in
	m.doc = doc
	m.timers = newTimerQueue()
	m.console = newConsoleLog(m.cfg.MaxLogs)

	mocks.OnError(func(kind mock.Kind, path string, err error) {
		m.console.add("mock", fmt.Sprintf("%s mock for %s failed: %s", kind, path, factory.Describer().Message(err)))
	})
	log.OnUndefined(func(e proxylog.UndefinedEntry) {
		m.observer.UndefinedFound(e)
	})

	m.snapshotBuiltins()
	if err := m.installGlobals(); err != nil {
		m.teardown()
		return fmt.Errorf("install globals: %w", err)
	}
	wrapped := m.wrapGlobals()
	m.state = StateReady

	m.logger.Debug("Sandbox initialized",
		zap.Int("builtins", len(m.builtins)),
		zap.Int("wrapped", wrapped),
	)
	return nil
}

func captureIntrinsics(rt *goja.Runtime) (intrinsics, error) {
	var in intrinsics
	lookup := func(object, method string) (goja.Callable, error) {
		obj, ok := rt.GlobalObject().Get(object).(*goja.Object)
		if !ok {
			return nil, fmt.Errorf("missing intrinsic %s", object)
		}
		fn, ok := goja.AssertFunction(obj.Get(method))
		if !ok {
			return nil, fmt.Errorf("missing intrinsic %s.%s", object, method)
		}
		return fn, nil
	}
	var err error
	if in.stringify, err = lookup("JSON", "stringify"); err != nil {
		return in, err
	}
	if in.ownDescriptor, err = lookup("Object", "getOwnPropertyDescriptor"); err != nil {
		return in, err
	}
	return in, nil
}

// Reset discards the runtime with its logs, proxies, mocks and pending
// timers, then initializes a fresh one. Loaded modules are not replayed.
func (m *Manager) Reset() error {
	if m.state == StateDisposed {
		return ErrDisposed
	}
	m.teardown()
	m.state = StateUninitialized
	if err := m.Init(); err != nil {
		return err
	}
	m.observer.Reset()
	m.logger.Info("Sandbox reset")
	return nil
}

// Dispose releases the runtime. The manager cannot be used afterwards.
func (m *Manager) Dispose() {
	if m.state == StateDisposed {
		return
	}
	m.teardown()
	m.state = StateDisposed
}

func (m *Manager) teardown() {
	if m.factory != nil {
		m.factory.Clear()
	}
	if m.mocks != nil {
		m.mocks.Clear()
	}
	if m.timers != nil {
		m.timers.reset()
	}
	if m.chain != nil {
		m.chain.Reset()
	}
	m.rt = nil
	m.factory = nil
	m.log = nil
	m.chain = nil
	m.mocks = nil
	m.timers = nil
	m.console = nil
	m.doc = nil
	m.builtins = nil
	m.loaded = nil
	m.loadedSet = make(map[string]struct{})
	m.needsReset = false
}

// ensureReady initializes on first use and rejects unusable states.
func (m *Manager) ensureReady() error {
	switch m.state {
	case StateDisposed:
		return ErrDisposed
	case StateExecuting:
		return ErrBusy
	case StateUninitialized:
		if err := m.Init(); err != nil {
			return err
		}
	}
	if m.needsReset {
		return ErrNeedsReset
	}
	return nil
}

func (m *Manager) recordDuration(d time.Duration) {
	const keep = 1000
	m.executions++
	m.durations = append(m.durations, float64(d.Microseconds())/1000)
	if len(m.durations) > keep {
		m.durations = append(m.durations[:0:0], m.durations[len(m.durations)-keep:]...)
	}
}

type nopObserver struct{}

func (nopObserver) UndefinedFound(proxylog.UndefinedEntry)   {}
func (nopObserver) ModuleLoaded(LoadResult, time.Duration) {}
func (nopObserver) Executed(*ExecResult)                    {}
func (nopObserver) Reset()                                  {}

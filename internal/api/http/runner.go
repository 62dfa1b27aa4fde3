package http

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/mockrules"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/snapshot"
)

// RunnerOptions tunes a Runner.
type RunnerOptions struct {
	// AutoReset rebuilds the sandbox after an interrupted execution and
	// replays the modules that were loaded.
	AutoReset bool
	// ApplyRules registers the persisted mock rules after every rebuild.
	ApplyRules bool
}

// Runner serializes access to the shared sandbox. The sandbox itself holds
// no lock; every request goes through Do or one of the helpers here.
type Runner struct {
	mu     sync.Mutex
	sb     *sandbox.Manager
	rules  *mockrules.Store
	opts   RunnerOptions
	logger *zap.Logger
}

// NewRunner wraps sb. rules may be nil.
func NewRunner(sb *sandbox.Manager, rules *mockrules.Store, opts RunnerOptions, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{sb: sb, rules: rules, opts: opts, logger: logger}
}

// Do runs fn with exclusive access to the sandbox, starting it first if
// needed.
func (r *Runner) Do(fn func(sb *sandbox.Manager) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.ensureStarted(); err != nil {
		return err
	}
	return fn(r.sb)
}

// Close disposes the sandbox. Later calls fail with sandbox.ErrDisposed.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sb.Dispose()
}

// Start initializes the sandbox, loads the whole catalogue and applies the
// mock rules. It is a no-op once the sandbox is running.
func (r *Runner) Start() ([]sandbox.LoadResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureStarted()
}

func (r *Runner) ensureStarted() ([]sandbox.LoadResult, error) {
	if r.sb.State() != sandbox.StateUninitialized {
		return []sandbox.LoadResult{}, nil
	}
	if err := r.sb.Init(); err != nil {
		return nil, err
	}
	res, err := r.sb.LoadAllEnvFiles()
	if err != nil {
		return res, err
	}
	r.applyRules()
	return res, nil
}

// Execute runs code. An interrupted run is followed by a rebuild when
// AutoReset is set, and the result reports it.
func (r *Runner) Execute(ctx context.Context, code string, timeout time.Duration) (*sandbox.ExecResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ready(); err != nil {
		return nil, err
	}
	res, err := r.sb.Execute(ctx, code, timeout)
	if err != nil {
		return nil, err
	}
	if res.TimedOut && r.opts.AutoReset && r.sb.NeedsReset() {
		if err := r.rebuild(); err != nil {
			r.logger.Error("Sandbox rebuild after timeout failed", zap.Error(err))
		} else {
			res.Reset = true
		}
	}
	return res, nil
}

// Inject runs code as a top-level script, with the same recovery as
// Execute.
func (r *Runner) Inject(ctx context.Context, code string) (*sandbox.InjectResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ready(); err != nil {
		return nil, err
	}
	res, err := r.sb.Inject(ctx, code)
	if err != nil {
		return nil, err
	}
	if res.TimedOut && r.opts.AutoReset && r.sb.NeedsReset() {
		if err := r.rebuild(); err != nil {
			r.logger.Error("Sandbox rebuild after timeout failed", zap.Error(err))
		}
	}
	return res, nil
}

// Reset discards the sandbox state and loads the whole catalogue again.
func (r *Runner) Reset() ([]sandbox.LoadResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.sb.Reset(); err != nil {
		return nil, err
	}
	res, err := r.sb.LoadAllEnvFiles()
	if err != nil {
		return res, err
	}
	r.applyRules()
	return res, nil
}

// Restore rebuilds the sandbox from snap.
func (r *Runner) Restore(snap snapshot.Snapshot) (snapshot.Restored, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out, err := snapshot.Restore(r.sb, snap)
	if err != nil {
		return out, err
	}
	r.applyRules()
	return out, nil
}

// ReloadPatches re-runs the operator patches.
func (r *Runner) ReloadPatches() ([]sandbox.LoadResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ready(); err != nil {
		return nil, err
	}
	return r.sb.ReloadPatches()
}

// ApplyRules registers the persisted mock rules now.
func (r *Runner) ApplyRules() (mockrules.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rules == nil {
		return mockrules.Report{Failed: []mockrules.Failure{}}, nil
	}
	if _, err := r.ensureStarted(); err != nil {
		return mockrules.Report{}, err
	}
	return r.rules.Apply(r.sb)
}

// ready starts the sandbox and, with AutoReset, recovers it from an earlier
// interrupt.
func (r *Runner) ready() error {
	if _, err := r.ensureStarted(); err != nil {
		return err
	}
	if r.sb.NeedsReset() && r.opts.AutoReset {
		return r.rebuild()
	}
	return nil
}

// rebuild resets the sandbox and replays the modules that were loaded.
func (r *Runner) rebuild() error {
	loaded := r.sb.LoadedEnvFiles()
	if err := r.sb.Reset(); err != nil {
		return err
	}
	if _, err := r.sb.LoadEnvFiles(loaded...); err != nil {
		return err
	}
	r.applyRules()
	r.logger.Info("Sandbox rebuilt", zap.Int("modules", len(loaded)))
	return nil
}

func (r *Runner) applyRules() {
	if r.rules == nil || !r.opts.ApplyRules {
		return
	}
	rep, err := r.rules.Apply(r.sb)
	if err != nil {
		r.logger.Warn("Mock rules unavailable", zap.Error(err))
		return
	}
	for _, f := range rep.Failed {
		r.logger.Warn("Mock rule failed",
			zap.String("id", f.ID),
			zap.String("path", f.Path),
			zap.String("error", f.Error),
		)
	}
	if rep.Applied > 0 {
		r.logger.Info("Mock rules applied", zap.Int("applied", rep.Applied), zap.Int("failed", len(rep.Failed)))
	}
}

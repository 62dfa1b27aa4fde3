package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox/jsvalue"
	"github.com/GriffinCanCode/envsandbox/internal/shared/id"
)

// Execute runs code as the body of an immediately invoked function and
// reports its serialized result. A single expression yields its value;
// statement bodies may return one. Timers deferred by earlier runs fire
// first, inside this run's log window.
//
// Script failures and timeouts are reported in the result. The error is
// non-nil only when the sandbox cannot run code at all.
func (m *Manager) Execute(ctx context.Context, code string, timeout time.Duration) (*ExecResult, error) {
	if err := m.prepare(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = m.cfg.Timeout
	}

	res := &ExecResult{ID: id.NewExecutionID().String()}
	cursor := m.log.Cursor()
	consoleCursor := m.console.cursor()
	m.state = StateExecuting
	start := time.Now()

	out := m.attempt(ctx, timeout, func(rt *goja.Runtime) error {
		if err := m.drainTimers(); err != nil {
			return err
		}
		prg, err := compileBody(code)
		if err != nil {
			return err
		}
		v, err := rt.RunProgram(prg)
		if err != nil {
			return err
		}
		return m.safely(func() { res.Result = m.serialize(v) })
	})

	elapsed := time.Since(start)
	m.state = StateReady
	res.DurationMs = elapsed.Milliseconds()
	res.Success = !out.failed
	res.Error = out.message
	res.Stack = out.stack
	res.TimedOut = out.interrupted
	if out.failed {
		res.Result = ""
	}

	delta := m.log.Since(cursor)
	res.Logs = LogDelta{Access: delta.Access, Calls: delta.Calls, Console: m.console.since(consoleCursor)}
	res.UndefinedPaths = make([]string, 0, len(delta.Undefined))
	for _, e := range delta.Undefined {
		res.UndefinedPaths = append(res.UndefinedPaths, e.Path)
	}
	m.recordDuration(elapsed)

	fields := []zap.Field{
		zap.String("id", res.ID),
		zap.Bool("success", res.Success),
		zap.Duration("duration", elapsed),
		zap.Int("undefined", len(res.UndefinedPaths)),
	}
	if res.TimedOut {
		m.logger.Warn("Sandbox execution interrupted", append(fields, zap.String("error", res.Error))...)
	} else {
		m.logger.Debug("Sandbox execution finished", fields...)
	}
	m.observer.Executed(res)
	return res, nil
}

// Inject runs code as a top-level script and discards its value. Globals
// it declares are instrumented like those of stub modules.
func (m *Manager) Inject(ctx context.Context, code string) (*InjectResult, error) {
	if err := m.prepare(); err != nil {
		return nil, err
	}
	m.state = StateExecuting
	out := m.attempt(ctx, m.cfg.Timeout, func(rt *goja.Runtime) error {
		_, err := rt.RunScript("inject.js", code)
		return err
	})
	m.state = StateReady

	res := &InjectResult{Success: !out.failed, Error: out.message, TimedOut: out.interrupted}
	if out.failed {
		m.logger.Debug("Inject failed", zap.String("error", res.Error))
		return res, nil
	}
	res.Wrapped = m.wrapGlobals()
	return res, nil
}

// prepare initializes on first use and then loads the whole catalogue, so
// that a bare Execute sees the full environment.
func (m *Manager) prepare() error {
	fresh := m.state == StateUninitialized
	if err := m.ensureReady(); err != nil {
		return err
	}
	if fresh && m.catalogue != nil {
		if _, err := m.LoadAllEnvFiles(); err != nil {
			m.logger.Warn("Environment catalogue unavailable", zap.Error(err))
		}
	}
	if m.needsReset {
		return ErrNeedsReset
	}
	return nil
}

type outcome struct {
	failed      bool
	interrupted bool
	message     string
	stack       string
}

// attempt runs fn under the watchdog. A failure is rendered before the
// watchdog is disarmed because reading a thrown value can run script code.
// An interrupt marks the manager as needing a reset.
func (m *Manager) attempt(ctx context.Context, timeout time.Duration, fn func(rt *goja.Runtime) error) outcome {
	var out outcome
	err := m.guarded(ctx, timeout, func(rt *goja.Runtime) error {
		err := fn(rt)
		if err == nil || jsvalue.IsUncatchable(err) {
			return err
		}
		out.failed = true
		return m.safely(func() {
			out.message = m.errorMessage(err, timeout)
			out.stack = m.stackOf(err)
		})
	})
	if err == nil {
		return out
	}

	out.failed = true
	if jsvalue.IsUncatchable(err) {
		out.message = m.errorMessage(err, timeout)
		out.stack = ""
		out.interrupted = m.interrupted(err)
	} else if out.message == "" {
		out.message = "exception while reading the thrown value"
	}
	if out.interrupted {
		m.needsReset = true
	}
	return out
}

// guarded runs fn with a watchdog that interrupts the runtime when timeout
// elapses or ctx is done. The interrupt flag is always cleared on return.
func (m *Manager) guarded(ctx context.Context, timeout time.Duration, fn func(rt *goja.Runtime) error) error {
	rt := m.rt
	done := make(chan struct{})
	exited := make(chan struct{})
	timer := time.NewTimer(timeout)

	go func() {
		defer close(exited)
		defer timer.Stop()
		select {
		case <-timer.C:
			rt.Interrupt(ErrTimeout)
		case <-ctx.Done():
			rt.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	err := fn(rt)
	close(done)
	<-exited
	rt.ClearInterrupt()
	return err
}

// safely runs f as a native call so that script exceptions and interrupts
// raised while f reads script values come back as errors.
func (m *Manager) safely(f func()) error {
	call, _ := goja.AssertFunction(m.rt.ToValue(func(goja.FunctionCall) goja.Value {
		f()
		return goja.Undefined()
	}))
	_, err := call(goja.Undefined())
	return err
}

func compileBody(code string) (*goja.Program, error) {
	prg, err := goja.Compile("sandbox.js", "(function(){ return ("+code+"\n); })()", false)
	if err == nil {
		return prg, nil
	}
	return goja.Compile("sandbox.js", "(function(){ "+code+"\n })()", false)
}

func (m *Manager) drainTimers() error {
	return m.timers.drain(func(t *timer) error {
		_, err := t.fn(goja.Undefined(), t.args...)
		if err == nil {
			return nil
		}
		if jsvalue.IsUncatchable(err) {
			return err
		}
		msg := "exception"
		if uerr := m.safely(func() { msg = m.factory.Describer().Message(err) }); uerr != nil && jsvalue.IsUncatchable(uerr) {
			return uerr
		}
		m.console.add("error", fmt.Sprintf("Uncaught (in timer %d) %s", t.id, msg))
		return nil
	})
}

// serialize renders a completion value with observation suspended. It must
// run inside safely.
func (m *Manager) serialize(v goja.Value) string {
	resume := m.factory.Suspend()
	defer resume()

	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if sym, ok := v.(*goja.Symbol); ok {
		return sym.String()
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	desc := m.factory.Describer()
	if _, ok := goja.AssertFunction(obj); ok {
		return desc.Describe(obj)
	}
	out, err := m.intrinsics.stringify(goja.Undefined(), obj, goja.Null(), m.rt.ToValue(2))
	if err != nil {
		if jsvalue.IsUncatchable(err) {
			panic(err)
		}
		return desc.Describe(obj)
	}
	if out == nil || goja.IsUndefined(out) {
		return desc.Describe(obj)
	}
	return out.String()
}

// errorMessage renders err. Script exceptions are read through the
// runtime, so it must run inside safely for those.
func (m *Manager) errorMessage(err error, timeout time.Duration) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return fmt.Sprintf("Script execution timed out after %dms", timeout.Milliseconds())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Script execution cancelled: " + errors.Unwrap(err).Error()
	}
	var so *goja.StackOverflowError
	if errors.As(err, &so) {
		return "Maximum call stack size exceeded"
	}
	var syn *goja.CompilerSyntaxError
	if errors.As(err, &syn) {
		return "SyntaxError: " + syn.Message
	}
	return m.factory.Describer().Message(err)
}

func (m *Manager) stackOf(err error) string {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return ""
	}
	if obj, ok := ex.Value().(*goja.Object); ok {
		if v := m.factory.Unwrap(obj).Get("stack"); v != nil {
			if s, ok := v.Export().(string); ok && s != "" {
				return s
			}
		}
	}
	return ex.String()
}

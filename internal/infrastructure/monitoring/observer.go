package monitoring

import (
	"time"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

// Outcome labels shared by executions and module loads.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusSkipped = "skipped"
)

// SandboxObserver feeds sandbox events into Metrics. It satisfies
// sandbox.Observer and may forward events to a further observer.
type SandboxObserver struct {
	metrics *Metrics
	next    sandbox.Observer
}

var _ sandbox.Observer = (*SandboxObserver)(nil)

// NewSandboxObserver creates an observer recording into m. next may be nil.
func NewSandboxObserver(m *Metrics, next sandbox.Observer) *SandboxObserver {
	return &SandboxObserver{metrics: m, next: next}
}

// UndefinedFound implements sandbox.Observer.
func (o *SandboxObserver) UndefinedFound(entry proxylog.UndefinedEntry) {
	o.metrics.IncUndefined()
	if o.next != nil {
		o.next.UndefinedFound(entry)
	}
}

// ModuleLoaded implements sandbox.Observer.
func (o *SandboxObserver) ModuleLoaded(res sandbox.LoadResult, duration time.Duration) {
	status := StatusSuccess
	switch {
	case res.Skipped:
		status = StatusSkipped
	case !res.Success:
		status = StatusError
	}
	o.metrics.RecordModuleLoad(status, duration)
	if o.next != nil {
		o.next.ModuleLoaded(res, duration)
	}
}

// Executed implements sandbox.Observer.
func (o *SandboxObserver) Executed(res *sandbox.ExecResult) {
	status := StatusSuccess
	switch {
	case res.TimedOut:
		status = StatusTimeout
	case !res.Success:
		status = StatusError
	}
	mocked := 0
	for _, c := range res.Logs.Calls {
		if c.Mocked {
			mocked++
		}
	}
	o.metrics.RecordExecution(status, time.Duration(res.DurationMs)*time.Millisecond, mocked)
	if o.next != nil {
		o.next.Executed(res)
	}
}

// Reset implements sandbox.Observer.
func (o *SandboxObserver) Reset() {
	o.metrics.IncResets()
	if o.next != nil {
		o.next.Reset()
	}
}

package ws

import (
	"time"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

// ExecutionSummary is the payload of an execution event.
type ExecutionSummary struct {
	ID             string   `json:"id"`
	Success        bool     `json:"success"`
	Error          string   `json:"error,omitempty"`
	TimedOut       bool     `json:"timedOut,omitempty"`
	DurationMs     int64    `json:"durationMs"`
	UndefinedPaths []string `json:"undefinedPaths"`
	Calls          int      `json:"calls"`
	Accesses       int      `json:"accesses"`
}

type observer struct {
	hub *Hub
}

// Observer returns a sandbox.Observer that broadcasts execution, undefined
// and reset events.
func (h *Hub) Observer() sandbox.Observer {
	return observer{hub: h}
}

func (o observer) UndefinedFound(entry proxylog.UndefinedEntry) {
	o.hub.Publish(EventUndefined, entry)
}

func (o observer) ModuleLoaded(sandbox.LoadResult, time.Duration) {}

func (o observer) Executed(res *sandbox.ExecResult) {
	o.hub.Publish(EventExecution, ExecutionSummary{
		ID:             res.ID,
		Success:        res.Success,
		Error:          res.Error,
		TimedOut:       res.TimedOut,
		DurationMs:     res.DurationMs,
		UndefinedPaths: res.UndefinedPaths,
		Calls:          len(res.Logs.Calls),
		Accesses:       len(res.Logs.Access),
	})
}

func (o observer) Reset() {
	o.hub.Publish(EventReset, nil)
}

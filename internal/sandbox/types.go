package sandbox

import (
	"errors"
	"time"

	"github.com/GriffinCanCode/envsandbox/internal/envstubs"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/callchain"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/jsvalue"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/mock"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

var (
	ErrDisposed   = errors.New("sandbox has been disposed")
	ErrNeedsReset = errors.New("sandbox was interrupted and must be reset")
	ErrTimeout    = errors.New("execution timed out")
	ErrNoModule   = errors.New("environment module not found")
	ErrBusy       = errors.New("sandbox is executing")
)

// State is the lifecycle stage of a Manager.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateExecuting     State = "executing"
	StateDisposed      State = "disposed"
)

// Config tunes a Manager.
type Config struct {
	Timeout       time.Duration // Default execution timeout
	MaxLogs       int           // Ring size of each log store
	MaxChainDepth int           // Call-chain cap
	MaxString     int           // Truncation of logged strings
	MaxCallStack  int           // JS call stack limit
	EchoConsole   bool          // Mirror sandboxed console output to the process log
	SeedHTML      []byte        // Document backing the DOM stubs; nil uses a blank page
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		MaxLogs:       proxylog.DefaultMaxEntries,
		MaxChainDepth: callchain.DefaultMaxDepth,
		MaxString:     jsvalue.DefaultMaxString,
		MaxCallStack:  4096,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxLogs <= 0 {
		c.MaxLogs = d.MaxLogs
	}
	if c.MaxChainDepth <= 0 {
		c.MaxChainDepth = d.MaxChainDepth
	}
	if c.MaxString <= 0 {
		c.MaxString = d.MaxString
	}
	if c.MaxCallStack <= 0 {
		c.MaxCallStack = d.MaxCallStack
	}
	return c
}

// Catalogue supplies environment stub modules in load order.
type Catalogue interface {
	Modules() ([]envstubs.Module, error)
	Module(id string) (envstubs.Module, error)
}

// Observer is told about sandbox events. Methods run on the goroutine that
// drives the manager and must not call back into it.
type Observer interface {
	UndefinedFound(entry proxylog.UndefinedEntry)
	ModuleLoaded(res LoadResult, duration time.Duration)
	Executed(res *ExecResult)
	Reset()
}

// ConsoleEntry is one captured console call.
type ConsoleEntry struct {
	Seq     uint64    `json:"seq"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"timestamp"`
}

// LogDelta holds the entries recorded during one run.
type LogDelta struct {
	Access  []proxylog.AccessEntry `json:"access"`
	Calls   []proxylog.CallEntry   `json:"calls"`
	Console []ConsoleEntry         `json:"console"`
}

// ExecResult is the outcome of Execute. Logs and UndefinedPaths are filled
// even when the run failed.
type ExecResult struct {
	ID             string   `json:"id"`
	Success        bool     `json:"success"`
	Result         string   `json:"result,omitempty"`
	Error          string   `json:"error,omitempty"`
	Stack          string   `json:"stack,omitempty"`
	TimedOut       bool     `json:"timedOut,omitempty"`
	Reset          bool     `json:"reset,omitempty"`
	DurationMs     int64    `json:"durationMs"`
	UndefinedPaths []string `json:"undefinedPaths"`
	Logs           LogDelta `json:"logs"`
}

// InjectResult is the outcome of Inject.
type InjectResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timedOut,omitempty"`
	Wrapped  int    `json:"wrapped,omitempty"`
}

// LoadResult reports one environment module.
type LoadResult struct {
	Success bool   `json:"success"`
	File    string `json:"file"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Stats summarizes a manager.
type Stats struct {
	State          State       `json:"state"`
	AccessCount    int         `json:"accessCount"`
	CallCount      int         `json:"callCount"`
	UndefinedCount int         `json:"undefinedCount"`
	UnfixedCount   int         `json:"unfixedCount"`
	MockCount      mock.Counts `json:"mockCount"`
	LoadedEnvFiles []string    `json:"loadedEnvFiles"`
	ProxyCount     int         `json:"proxyCount"`
	PendingTimers  int         `json:"pendingTimers"`
	Executions     int         `json:"executions"`
	DurationMeanMs float64     `json:"durationMeanMs"`
	DurationP50Ms  float64     `json:"durationP50Ms"`
	DurationP95Ms  float64     `json:"durationP95Ms"`
}

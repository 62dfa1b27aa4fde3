package sandbox

import (
	"context"
	"fmt"
	"sort"

	"github.com/dop251/goja"
	"gonum.org/v1/gonum/stat"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox/mock"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

// SetMock registers a mock whose value is a Go value converted into the
// runtime.
func (m *Manager) SetMock(kind mock.Kind, path string, value any) error {
	if err := m.ensureReady(); err != nil {
		return err
	}
	v, ok := value.(goja.Value)
	if !ok {
		v = m.rt.ToValue(value)
	}
	return m.mocks.Set(kind, path, v)
}

// SetMockSource registers a mock whose value is the JavaScript expression
// src, evaluated inside the sandbox with observation suspended.
func (m *Manager) SetMockSource(kind mock.Kind, path, src string) error {
	if err := m.ensureReady(); err != nil {
		return err
	}
	if _, err := mock.ParseKind(string(kind)); err != nil || kind == mock.All {
		return fmt.Errorf("%q: %w", kind, mock.ErrUnknownKind)
	}
	resume := m.factory.Suspend()
	defer resume()

	var value goja.Value
	out := m.attempt(context.Background(), m.cfg.Timeout, func(rt *goja.Runtime) error {
		prg, err := goja.Compile("mock:"+path, "("+src+"\n)", false)
		if err != nil {
			return err
		}
		value, err = rt.RunProgram(prg)
		return err
	})
	if out.failed {
		return fmt.Errorf("evaluate mock %s: %s", path, out.message)
	}
	return m.mocks.Set(kind, path, value)
}

// RemoveMock deletes the rule of kind at path; mock.All removes every kind.
func (m *Manager) RemoveMock(kind mock.Kind, path string) error {
	if m.mocks == nil {
		return nil
	}
	return m.mocks.Remove(kind, path)
}

// HasMock reports whether any rule is registered for path.
func (m *Manager) HasMock(path string) bool {
	return m.mocks != nil && m.mocks.Has(path)
}

// MockCounts returns the number of rules per kind.
func (m *Manager) MockCounts() mock.Counts {
	if m.mocks == nil {
		return mock.Counts{}
	}
	return m.mocks.Counts()
}

// Undefined lists first-seen undefined members.
func (m *Manager) Undefined(f proxylog.Filter) []proxylog.UndefinedEntry {
	if m.log == nil {
		return []proxylog.UndefinedEntry{}
	}
	return m.log.Undefined(f)
}

// MarkFixed flags path as resolved and reports whether it was known.
func (m *Manager) MarkFixed(path string, by proxylog.FixSource) bool {
	return m.log != nil && m.log.MarkFixed(path, by)
}

// RestoreUndefined re-adds captured undefined entries, such as those of a
// snapshot, and returns how many were new.
func (m *Manager) RestoreUndefined(entries []proxylog.UndefinedEntry) int {
	if m.log == nil {
		return 0
	}
	return m.log.Restore(entries)
}

// Access queries the access log.
func (m *Manager) Access(f proxylog.Filter) []proxylog.AccessEntry {
	if m.log == nil {
		return []proxylog.AccessEntry{}
	}
	return m.log.Access(f)
}

// Calls queries the call log.
func (m *Manager) Calls(f proxylog.Filter) []proxylog.CallEntry {
	if m.log == nil {
		return []proxylog.CallEntry{}
	}
	return m.log.Calls(f)
}

// Console returns captured console output recorded after cursor.
func (m *Manager) Console(cursor uint64) []ConsoleEntry {
	if m.console == nil {
		return []ConsoleEntry{}
	}
	return m.console.since(cursor)
}

// ClearLogs empties one log category.
func (m *Manager) ClearLogs(c proxylog.Category) error {
	if m.log == nil {
		_, err := proxylog.ParseCategory(string(c))
		return err
	}
	return m.log.Clear(c)
}

// ExportUndefinedText renders the undefined log as text lines.
func (m *Manager) ExportUndefinedText() string {
	if m.log == nil {
		return ""
	}
	return m.log.ExportUndefinedText()
}

// Stats summarizes the logs, mocks, loaded modules and execution times.
func (m *Manager) Stats() Stats {
	s := Stats{
		State:          m.state,
		MockCount:      m.MockCounts(),
		LoadedEnvFiles: m.LoadedEnvFiles(),
		Executions:     m.executions,
	}
	if m.log != nil {
		ls := m.log.Stats()
		s.AccessCount = ls.AccessCount
		s.CallCount = ls.CallCount
		s.UndefinedCount = ls.UndefinedCount
		s.UnfixedCount = ls.UnfixedCount
	}
	if m.factory != nil {
		s.ProxyCount = m.factory.Size()
	}
	if m.timers != nil {
		s.PendingTimers = m.timers.len()
	}
	if len(m.durations) > 0 {
		sorted := append([]float64{}, m.durations...)
		sort.Float64s(sorted)
		s.DurationMeanMs = stat.Mean(sorted, nil)
		s.DurationP50Ms = stat.Quantile(0.5, stat.Empirical, sorted, nil)
		s.DurationP95Ms = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	}
	return s
}

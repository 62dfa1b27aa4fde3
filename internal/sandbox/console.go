package sandbox

import (
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// consoleLog keeps the most recent console entries.
type consoleLog struct {
	max     int
	seq     uint64
	entries []ConsoleEntry
}

func newConsoleLog(max int) *consoleLog {
	return &consoleLog{max: max}
}

func (c *consoleLog) add(level, msg string) ConsoleEntry {
	c.seq++
	e := ConsoleEntry{Seq: c.seq, Level: level, Message: msg, Time: time.Now()}
	c.entries = append(c.entries, e)
	if over := len(c.entries) - c.max; over > 0 {
		c.entries = append(c.entries[:0:0], c.entries[over:]...)
	}
	return e
}

func (c *consoleLog) cursor() uint64 { return c.seq }

func (c *consoleLog) since(cursor uint64) []ConsoleEntry {
	out := []ConsoleEntry{}
	for _, e := range c.entries {
		if e.Seq > cursor {
			out = append(out, e)
		}
	}
	return out
}

var consoleLevels = map[string]string{
	"log":   "log",
	"info":  "info",
	"warn":  "warn",
	"error": "error",
	"debug": "debug",
	"trace": "trace",
	"dir":   "log",
	"table": "log",
}

func (m *Manager) newConsole() *goja.Object {
	console := m.rt.NewObject()
	for method, level := range consoleLevels {
		_ = console.Set(method, m.native(method, 0, m.consoleFunc(level)))
	}
	return console
}

func (m *Manager) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			if s, ok := arg.Export().(string); ok {
				parts[i] = s
				continue
			}
			parts[i] = m.factory.Describer().Describe(arg)
		}
		e := m.console.add(level, strings.Join(parts, " "))
		if m.cfg.EchoConsole {
			m.logger.Info("Sandbox console",
				zap.String("level", e.Level),
				zap.String("message", e.Message),
			)
		}
		return goja.Undefined()
	}
}

package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.IncResets()
	assert.Contains(t, scrape(t, a), "envsandbox_resets_total 1")
	assert.Contains(t, scrape(t, b), "envsandbox_resets_total 0")
}

func TestSandboxObserver(t *testing.T) {
	m := NewMetrics()
	var o sandbox.Observer = NewSandboxObserver(m, nil)

	o.Executed(&sandbox.ExecResult{Success: true, DurationMs: 3})
	o.Executed(&sandbox.ExecResult{Success: false})
	o.Executed(&sandbox.ExecResult{Success: false, TimedOut: true, Logs: sandbox.LogDelta{
		Calls: []proxylog.CallEntry{{Path: "a", Mocked: true}, {Path: "b"}},
	}})
	o.ModuleLoaded(sandbox.LoadResult{Success: true, File: "bom/screen.js"}, time.Millisecond)
	o.ModuleLoaded(sandbox.LoadResult{Success: true, Skipped: true}, 0)
	o.ModuleLoaded(sandbox.LoadResult{Success: false}, 0)
	o.UndefinedFound(proxylog.UndefinedEntry{Path: "window.chrome"})
	o.Reset()

	body := scrape(t, m)
	for _, want := range []string{
		`envsandbox_executions_total{status="success"} 1`,
		`envsandbox_executions_total{status="error"} 1`,
		`envsandbox_executions_total{status="timeout"} 1`,
		`envsandbox_module_loads_total{status="skipped"} 1`,
		`envsandbox_module_loads_total{status="error"} 1`,
		`envsandbox_mocked_calls_total 1`,
		`envsandbox_undefined_paths_total 1`,
		`envsandbox_resets_total 1`,
	} {
		assert.Contains(t, body, want)
	}

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Executions)
	assert.Equal(t, int64(2), snap.FailedExecutions)
	assert.Equal(t, int64(1), snap.TimedOut)
	assert.Equal(t, int64(1), snap.UndefinedFound)
}

type counting struct{ resets int }

func (c *counting) UndefinedFound(proxylog.UndefinedEntry)           {}
func (c *counting) ModuleLoaded(sandbox.LoadResult, time.Duration) {}
func (c *counting) Executed(*sandbox.ExecResult)                    {}
func (c *counting) Reset()                                          { c.resets++ }

func TestSandboxObserverForwards(t *testing.T) {
	next := &counting{}
	o := NewSandboxObserver(NewMetrics(), next)
	o.Reset()
	o.Reset()
	assert.Equal(t, 2, next.resets)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/api/snapshot/:name", func(c *gin.Context) {
		c.String(http.StatusNotFound, "missing")
	})

	for _, path := range []string{"/api/snapshot/a", "/api/snapshot/b", "/nowhere"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, m)
	assert.Contains(t, body, `envsandbox_http_requests_total{method="GET",path="/api/snapshot/:name",status="404"} 2`)
	assert.Contains(t, body, `envsandbox_http_requests_total{method="GET",path="unmatched",status="404"} 1`)

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(3), snap.TotalErrors)
}

func TestWSConnections(t *testing.T) {
	m := NewMetrics()
	m.IncWSConnections()
	m.IncWSConnections()
	m.DecWSConnections()
	m.RecordWSMessage("in", "ping")

	assert.Equal(t, int64(1), m.Snapshot().ActiveConnections)
	body := scrape(t, m)
	assert.Contains(t, body, "envsandbox_ws_connections 1")
	assert.Contains(t, body, `envsandbox_ws_messages_total{direction="in",type="ping"} 1`)
}

package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/mock"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

// MaxTimeout caps the per-request execution timeout.
const MaxTimeout = 60 * time.Second

// RunRequest is the body of run and isolated.
type RunRequest struct {
	Code    string `json:"code"`
	Timeout int    `json:"timeout"` // milliseconds; 0 uses the configured default
	Reset   bool   `json:"reset"`
}

func (r RunRequest) timeout() time.Duration {
	d := time.Duration(r.Timeout) * time.Millisecond
	if d > MaxTimeout {
		d = MaxTimeout
	}
	return d
}

// runResponse flattens the execution result and adds the sandbox stats.
type runResponse struct {
	*sandbox.ExecResult
	Stats *sandbox.Stats `json:"stats,omitempty"`
}

// span opens a child span of the request and returns its finisher.
func (h *Handlers) span(c *gin.Context, name string) (*tracing.Span, context.Context, func()) {
	span, ctx := h.tracer.StartSpan(c.Request.Context(), name)
	return span, ctx, func() {
		span.Finish()
		h.tracer.Submit(span)
	}
}

func bindCode(c *gin.Context, req *RunRequest) bool {
	if err := c.ShouldBindJSON(req); err != nil || strings.TrimSpace(req.Code) == "" {
		fail(c, http.StatusBadRequest, "Missing code parameter")
		return false
	}
	return true
}

// Run executes code in the shared sandbox
func (h *Handlers) Run(c *gin.Context) {
	var req RunRequest
	if !bindCode(c, &req) {
		return
	}

	if req.Reset {
		if _, err := h.runner.Reset(); err != nil {
			h.failErr(c, err)
			return
		}
	}

	span, ctx, finish := h.span(c, "sandbox.execute")
	defer finish()

	res, err := h.runner.Execute(ctx, req.Code, req.timeout())
	if err != nil {
		span.SetError(err)
		h.failErr(c, err)
		return
	}
	span.SetTag("exec_id", res.ID)
	span.SetTag("success", strconv.FormatBool(res.Success))
	span.SetTag("undefined", strconv.Itoa(len(res.UndefinedPaths)))

	var stats sandbox.Stats
	h.runner.Do(func(sb *sandbox.Manager) error {
		stats = sb.Stats()
		return nil
	})
	c.JSON(http.StatusOK, runResponse{ExecResult: res, Stats: &stats})
}

// RunIsolated executes code in a pooled sandbox that is discarded after
// the run, leaving the shared sandbox untouched
func (h *Handlers) RunIsolated(c *gin.Context) {
	if h.pool == nil {
		h.failErr(c, fmt.Errorf("sandbox pool: %w", errUnavailable))
		return
	}
	var req RunRequest
	if !bindCode(c, &req) {
		return
	}

	span, ctx, finish := h.span(c, "sandbox.isolated")
	defer finish()

	res, err := h.pool.Execute(ctx, req.Code, req.timeout())
	if h.metrics != nil {
		h.metrics.SetPoolInUse(h.pool.Stats().InUse)
	}
	if err != nil {
		span.SetError(err)
		h.failErr(c, err)
		return
	}
	span.SetTag("exec_id", res.ID)
	c.JSON(http.StatusOK, runResponse{ExecResult: res})
}

// Inject runs code as a top-level script without returning its value
func (h *Handlers) Inject(c *gin.Context) {
	var req RunRequest
	if !bindCode(c, &req) {
		return
	}

	_, ctx, finish := h.span(c, "sandbox.inject")
	defer finish()

	res, err := h.runner.Inject(ctx, req.Code)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// LoadEnvRequest selects modules to load. Exactly one selector is used, in
// the order All, Pattern, Files, File.
type LoadEnvRequest struct {
	All     bool     `json:"all"`
	Pattern string   `json:"pattern"`
	Files   []string `json:"files"`
	File    string   `json:"file"`
}

// LoadEnv loads environment modules into the shared sandbox
func (h *Handlers) LoadEnv(c *gin.Context) {
	var req LoadEnvRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	var ids []string
	switch {
	case req.All:
	case req.Pattern != "":
		matched, err := h.catalogue.Match(req.Pattern)
		if err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		ids = matched
	case len(req.Files) > 0:
		ids = req.Files
	case req.File != "":
		ids = []string{req.File}
	default:
		fail(c, http.StatusBadRequest, "Missing file, files, pattern or all")
		return
	}

	span, _, finish := h.span(c, "sandbox.load_env")
	defer finish()

	var results []sandbox.LoadResult
	err := h.runner.Do(func(sb *sandbox.Manager) error {
		var err error
		if req.All {
			results, err = sb.LoadAllEnvFiles()
		} else {
			results, err = sb.LoadEnvFiles(ids...)
		}
		return err
	})
	if err != nil {
		h.failErr(c, err)
		return
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	span.SetTag("modules", strconv.Itoa(len(results)))
	span.SetTag("failed", strconv.Itoa(failed))

	c.JSON(http.StatusOK, gin.H{
		"success": failed == 0,
		"results": results,
		"loaded":  len(results) - failed,
		"failed":  failed,
	})
}

// Reset discards the sandbox state and reloads every module
func (h *Handlers) Reset(c *gin.Context) {
	_, _, finish := h.span(c, "sandbox.reset")
	defer finish()

	results, err := h.runner.Reset()
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Sandbox reset successfully",
		"results": results,
	})
}

// Status reports sandbox statistics
func (h *Handlers) Status(c *gin.Context) {
	var stats sandbox.Stats
	var needsReset bool
	h.runner.Do(func(sb *sandbox.Manager) error {
		stats = sb.Stats()
		needsReset = sb.NeedsReset()
		return nil
	})

	data := gin.H{
		"stats":      stats,
		"needsReset": needsReset,
	}
	if h.pool != nil {
		data["pool"] = h.pool.Stats()
	}
	if h.metrics != nil {
		data["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// Undefined lists undefined members
func (h *Handlers) Undefined(c *gin.Context) {
	f := proxylog.Filter{
		PathContains: c.Query("path"),
		UnfixedOnly:  queryBool(c, "unfixed"),
		Limit:        queryInt(c, "limit", 0),
	}
	var list []proxylog.UndefinedEntry
	h.runner.Do(func(sb *sandbox.Manager) error {
		list = sb.Undefined(f)
		return nil
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list, "total": len(list)})
}

// MarkFixedRequest is the body of MarkFixed.
type MarkFixedRequest struct {
	Path string `json:"path"`
	By   string `json:"by"`
}

// MarkFixed flags an undefined member as resolved
func (h *Handlers) MarkFixed(c *gin.Context) {
	var req MarkFixedRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		fail(c, http.StatusBadRequest, "Missing path parameter")
		return
	}
	by, err := proxylog.ParseFixSource(req.By)
	if err != nil {
		fail(c, http.StatusBadRequest, fmt.Sprintf("unknown fix source %q", req.By))
		return
	}

	var known bool
	h.runner.Do(func(sb *sandbox.Manager) error {
		known = sb.MarkFixed(req.Path, by)
		return nil
	})
	if !known {
		fail(c, http.StatusNotFound, "path not in undefined log")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "path": req.Path, "fixedBy": by})
}

// Logs returns the access, call and console logs
func (h *Handlers) Logs(c *gin.Context) {
	category := c.Query("category")
	limit := queryInt(c, "limit", 100)
	f := proxylog.Filter{
		PathContains: c.Query("path"),
		Limit:        limit,
		Type:         proxylog.Direction(c.Query("type")),
	}

	data := gin.H{}
	h.runner.Do(func(sb *sandbox.Manager) error {
		if category == "" || category == "access" {
			data["access"] = sb.Access(f)
		}
		if category == "" || category == "calls" {
			data["calls"] = sb.Calls(proxylog.Filter{PathContains: f.PathContains, Limit: limit})
		}
		if category == "" || category == "undefined" {
			data["undefined"] = sb.Undefined(proxylog.Filter{PathContains: f.PathContains, Limit: limit})
		}
		if category == "" || category == "console" {
			console := sb.Console(0)
			if limit > 0 && len(console) > limit {
				console = console[len(console)-limit:]
			}
			data["console"] = console
		}
		return nil
	})
	if len(data) == 0 {
		fail(c, http.StatusBadRequest, fmt.Sprintf("unknown log category %q", category))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// ClearLogsRequest is the body of ClearLogs.
type ClearLogsRequest struct {
	Category string `json:"category"`
}

// ClearLogs empties a log category, all of them by default
func (h *Handlers) ClearLogs(c *gin.Context) {
	var req ClearLogsRequest
	_ = c.ShouldBindJSON(&req)
	cat, err := proxylog.ParseCategory(req.Category)
	if err != nil {
		h.failErr(c, err)
		return
	}
	if err := h.runner.Do(func(sb *sandbox.Manager) error { return sb.ClearLogs(cat) }); err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logs cleared", "category": cat})
}

// MockRequest registers or removes a mock. Source is JavaScript evaluated
// inside the sandbox.
type MockRequest struct {
	Kind   string `json:"kind"`
	Path   string `json:"path"`
	Source string `json:"source"`
}

func bindMock(c *gin.Context) (MockRequest, mock.Kind, bool) {
	var req MockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req.Kind = c.Query("kind")
		req.Path = c.Query("path")
	}
	if req.Kind == "" {
		req.Kind = string(mock.Property)
	}
	if strings.TrimSpace(req.Path) == "" {
		fail(c, http.StatusBadRequest, "path is required")
		return req, "", false
	}
	kind, err := mock.ParseKind(req.Kind)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return req, "", false
	}
	return req, kind, true
}

// SetMock registers a mock in the shared sandbox
func (h *Handlers) SetMock(c *gin.Context) {
	req, kind, ok := bindMock(c)
	if !ok {
		return
	}
	if kind == mock.All {
		fail(c, http.StatusBadRequest, "kind all is only valid for removal")
		return
	}
	if req.Source == "" {
		req.Source = "undefined"
	}

	var counts mock.Counts
	err := h.runner.Do(func(sb *sandbox.Manager) error {
		if err := sb.SetMockSource(kind, req.Path, req.Source); err != nil {
			return err
		}
		counts = sb.MockCounts()
		return nil
	})
	if err != nil {
		// A source that fails to evaluate is the caller's mistake.
		h.logger.Debug("Mock rejected", zap.String("path", req.Path), zap.Error(err))
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "kind": kind, "path": req.Path, "mockCount": counts})
}

// RemoveMock removes a mock from the shared sandbox
func (h *Handlers) RemoveMock(c *gin.Context) {
	req, kind, ok := bindMock(c)
	if !ok {
		return
	}

	var counts mock.Counts
	err := h.runner.Do(func(sb *sandbox.Manager) error {
		if err := sb.RemoveMock(kind, req.Path); err != nil {
			return err
		}
		counts = sb.MockCounts()
		return nil
	})
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "kind": kind, "path": req.Path, "mockCount": counts})
}

package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/envstubs"
	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/envsandbox/internal/mockrules"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/mock"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/snapshot"
)

// Version is reported by the root and health endpoints.
const Version = "1.0.0"

// Publisher broadcasts events to stream subscribers.
type Publisher interface {
	Publish(eventType string, data interface{})
}

// Deps are the collaborators of the handlers. Pool, Metrics, Tracer and
// Events may be nil.
type Deps struct {
	Runner    *Runner
	Pool      *sandbox.Pool
	Catalogue *envstubs.Catalogue
	Snapshots *snapshot.Store
	Rules     *mockrules.Store
	Metrics   *monitoring.Metrics
	Tracer    *tracing.Tracer
	Events    Publisher
	Logger    *zap.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	runner    *Runner
	pool      *sandbox.Pool
	catalogue *envstubs.Catalogue
	snapshots *snapshot.Store
	rules     *mockrules.Store
	metrics   *monitoring.Metrics
	tracer    *tracing.Tracer
	events    Publisher
	logger    *zap.Logger
	started   time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Tracer == nil {
		d.Tracer = tracing.New("envsandbox", d.Logger)
	}
	return &Handlers{
		runner:    d.Runner,
		pool:      d.Pool,
		catalogue: d.Catalogue,
		snapshots: d.Snapshots,
		rules:     d.Rules,
		metrics:   d.Metrics,
		tracer:    d.Tracer,
		events:    d.Events,
		logger:    d.Logger,
		started:   time.Now(),
	}
}

// Register mounts every API route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.GET("", h.Index)
	api.GET("/health", h.Health)

	sb := api.Group("/sandbox")
	sb.POST("/run", h.Run)
	sb.POST("/isolated", h.RunIsolated)
	sb.POST("/inject", h.Inject)
	sb.POST("/load-env", h.LoadEnv)
	sb.POST("/reset", h.Reset)
	sb.GET("/status", h.Status)
	sb.GET("/undefined", h.Undefined)
	sb.POST("/undefined/fixed", h.MarkFixed)
	sb.GET("/logs", h.Logs)
	sb.POST("/logs/clear", h.ClearLogs)
	sb.POST("/mocks", h.SetMock)
	sb.DELETE("/mocks", h.RemoveMock)

	env := api.Group("/env")
	env.GET("/list", h.ListEnv)
	env.GET("/file", h.ReadEnvFile)
	env.POST("/file", h.WriteEnvFile)
	env.DELETE("/file", h.DeleteEnvFile)
	env.GET("/patches", h.ListPatches)
	env.POST("/patches", h.WritePatch)
	env.PATCH("/patches/:file", h.TogglePatch)
	env.POST("/patches/reload", h.ReloadPatches)

	snap := api.Group("/snapshot")
	snap.POST("/save", h.SaveSnapshot)
	snap.POST("/load", h.LoadSnapshot)
	snap.GET("/list", h.ListSnapshots)
	snap.GET("/export", h.ExportSnapshots)
	snap.DELETE("/:name", h.DeleteSnapshot)

	logs := api.Group("/log")
	logs.GET("/undefined", h.UndefinedLog)
	logs.GET("/export", h.ExportLogs)

	mk := api.Group("/mock")
	mk.GET("/rules", h.ListRules)
	mk.POST("/rules", h.UpsertRule)
	mk.DELETE("/rules", h.ClearRules)
	mk.PATCH("/rules/:id", h.PatchRule)
	mk.DELETE("/rules/:id", h.DeleteRule)
	mk.GET("/presets", h.ListPresets)
	mk.POST("/presets/:name/apply", h.ApplyPreset)
	mk.POST("/apply", h.ApplyRules)
	mk.GET("/export", h.ExportRules)
	mk.POST("/import", h.ImportRules)
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "envsandbox",
		"version": Version,
	})
}

// Health handles the liveness check
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "ok",
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Seconds(),
	}
	if h.pool != nil {
		resp["pool"] = h.pool.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// Index describes the API
func (h *Handlers) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "envsandbox",
		"version": Version,
		"endpoints": gin.H{
			"sandbox": gin.H{
				"POST /api/sandbox/run":             "Execute code in the shared sandbox",
				"POST /api/sandbox/isolated":        "Execute code in a fresh pooled sandbox",
				"POST /api/sandbox/inject":          "Run code as a top-level script",
				"POST /api/sandbox/load-env":        "Load environment modules",
				"POST /api/sandbox/reset":           "Reset the sandbox and reload every module",
				"GET /api/sandbox/status":           "Sandbox statistics",
				"GET /api/sandbox/undefined":        "Undefined members seen so far",
				"POST /api/sandbox/undefined/fixed": "Mark an undefined member as fixed",
				"GET /api/sandbox/logs":             "Access, call and console logs",
				"POST /api/sandbox/logs/clear":      "Clear a log category",
				"POST /api/sandbox/mocks":           "Register a mock",
				"DELETE /api/sandbox/mocks":         "Remove a mock",
			},
			"env": gin.H{
				"GET /api/env/list":            "List environment modules in load order",
				"GET /api/env/file?path=":      "Read an environment module",
				"POST /api/env/file":           "Write an environment module",
				"DELETE /api/env/file?path=":   "Delete an ai-generated module",
				"GET /api/env/patches":         "Patch manifest",
				"POST /api/env/patches":        "Store a patch and record it",
				"PATCH /api/env/patches/:file": "Enable or disable a patch",
				"POST /api/env/patches/reload": "Re-run the patches",
			},
			"snapshot": gin.H{
				"POST /api/snapshot/save":    "Save the sandbox state",
				"POST /api/snapshot/load":    "Restore a snapshot",
				"GET /api/snapshot/list":     "List snapshots",
				"GET /api/snapshot/export":   "Download every snapshot",
				"DELETE /api/snapshot/:name": "Delete a snapshot",
			},
			"log": gin.H{
				"GET /api/log/undefined": "Undefined members as text",
				"GET /api/log/export":    "Download every log",
			},
			"mock": gin.H{
				"GET /api/mock/rules":               "List mock rules",
				"POST /api/mock/rules":              "Add or replace a mock rule",
				"DELETE /api/mock/rules":            "Remove every mock rule",
				"PATCH /api/mock/rules/:id":         "Update a mock rule",
				"DELETE /api/mock/rules/:id":        "Remove a mock rule",
				"GET /api/mock/presets":             "List presets",
				"POST /api/mock/presets/:name/apply": "Add a preset's rules",
				"POST /api/mock/apply":              "Register the rules in the sandbox",
				"GET /api/mock/export":              "Download the rules file",
				"POST /api/mock/import":             "Import rules",
			},
			"GET /metrics": "Prometheus metrics",
			"GET /stream":  "WebSocket event stream",
		},
	})
}

// publish forwards an event when a publisher is configured.
func (h *Handlers) publish(eventType string, data interface{}) {
	if h.events != nil {
		h.events.Publish(eventType, data)
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// failErr responds with the status matching err.
func (h *Handlers) failErr(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		_ = c.Error(err)
	}
	fail(c, status, err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, envstubs.ErrNotFound),
		errors.Is(err, snapshot.ErrNotFound),
		errors.Is(err, mockrules.ErrNotFound),
		errors.Is(err, mockrules.ErrPresetNotFound):
		return http.StatusNotFound
	case errors.Is(err, envstubs.ErrInvalidID),
		errors.Is(err, envstubs.ErrNotText),
		errors.Is(err, snapshot.ErrInvalidName),
		errors.Is(err, snapshot.ErrCompression),
		errors.Is(err, mock.ErrUnknownKind),
		errors.Is(err, mock.ErrNotCallable),
		errors.Is(err, mock.ErrInvalidConditional),
		errors.Is(err, mockrules.ErrMissingPath),
		errors.Is(err, proxylog.ErrUnknownCategory),
		errors.Is(err, proxylog.ErrUnknownFixer),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, envstubs.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, envstubs.ErrProtected),
		errors.Is(err, envstubs.ErrOutsideDir):
		return http.StatusForbidden
	case errors.Is(err, envstubs.ErrReadOnly),
		errors.Is(err, sandbox.ErrNeedsReset),
		errors.Is(err, sandbox.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, sandbox.ErrDisposed),
		errors.Is(err, sandbox.ErrPoolClosed),
		errors.Is(err, sandbox.ErrAcquireTimeout),
		errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

var (
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("not configured")
)

// queryInt reads a non-negative integer query parameter.
func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}

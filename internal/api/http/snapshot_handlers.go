package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/snapshot"
)

// SnapshotRequest names a snapshot.
type SnapshotRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) snapshotsReady(c *gin.Context) bool {
	if h.snapshots == nil {
		h.failErr(c, fmt.Errorf("snapshot store: %w", errUnavailable))
		return false
	}
	return true
}

// SaveSnapshot records the loaded modules and undefined log under a name
func (h *Handlers) SaveSnapshot(c *gin.Context) {
	if !h.snapshotsReady(c) {
		return
	}
	var req SnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		fail(c, http.StatusBadRequest, "Missing name parameter")
		return
	}
	if err := snapshot.ValidateName(req.Name); err != nil {
		h.failErr(c, err)
		return
	}

	var snap snapshot.Snapshot
	if err := h.runner.Do(func(sb *sandbox.Manager) error {
		snap = snapshot.Capture(req.Name, sb)
		return nil
	}); err != nil {
		h.failErr(c, err)
		return
	}
	saved, err := h.snapshots.Save(snap)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"name":           saved.Name,
		"createdAt":      saved.CreatedAt,
		"envFilesCount":  len(saved.LoadedEnvFiles),
		"undefinedCount": len(saved.UndefinedLogs),
	})
}

// LoadSnapshot rebuilds the shared sandbox from a snapshot
func (h *Handlers) LoadSnapshot(c *gin.Context) {
	if !h.snapshotsReady(c) {
		return
	}
	var req SnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		fail(c, http.StatusBadRequest, "Missing name parameter")
		return
	}
	snap, err := h.snapshots.Load(req.Name)
	if err != nil {
		h.failErr(c, err)
		return
	}

	_, _, finish := h.span(c, "snapshot.restore")
	defer finish()

	out, err := h.runner.Restore(snap)
	if err != nil {
		h.failErr(c, err)
		return
	}
	h.logger.Info("Snapshot restored",
		zap.String("name", snap.Name),
		zap.Int("modules", len(out.Results)),
		zap.Int("undefined", out.Undefined),
	)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": out})
}

// ListSnapshots lists saved snapshots, newest first
func (h *Handlers) ListSnapshots(c *gin.Context) {
	if !h.snapshotsReady(c) {
		return
	}
	list, err := h.snapshots.List()
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list, "total": len(list)})
}

// DeleteSnapshot removes a snapshot
func (h *Handlers) DeleteSnapshot(c *gin.Context) {
	if !h.snapshotsReady(c) {
		return
	}
	name := c.Param("name")
	if err := h.snapshots.Delete(name); err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "name": name})
}

// ExportSnapshots streams every snapshot as one compressed JSON bundle
func (h *Handlers) ExportSnapshots(c *gin.Context) {
	if !h.snapshotsReady(c) {
		return
	}
	comp, err := snapshot.ParseCompression(c.Query("compression"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	name := fmt.Sprintf("snapshots-%s.json.%s", time.Now().UTC().Format("20060102-150405"), extension(comp))
	attachment(c, name, comp)
	if err := h.snapshots.Export(c.Writer, comp); err != nil {
		// Headers are already sent; the truncated body is all we can do.
		h.logger.Error("Snapshot export failed", zap.Error(err))
		_ = c.Error(err)
	}
}

func extension(c snapshot.Compression) string {
	if c == snapshot.Zstd {
		return "zst"
	}
	return "gz"
}

func attachment(c *gin.Context, name string, comp snapshot.Compression) {
	ct := "application/gzip"
	if comp == snapshot.Zstd {
		ct = "application/zstd"
	}
	c.Header("Content-Type", ct)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Status(http.StatusOK)
}

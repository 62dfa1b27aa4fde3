package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/envstubs"
)

// ListEnv lists the environment modules, optionally filtered by a glob
func (h *Handlers) ListEnv(c *gin.Context) {
	entries, err := h.catalogue.List()
	if err != nil {
		h.failErr(c, err)
		return
	}

	if pattern := c.Query("pattern"); pattern != "" {
		ids, err := h.catalogue.Match(pattern)
		if err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		keep := make(map[string]bool, len(ids))
		for _, id := range ids {
			keep[id] = true
		}
		filtered := entries[:0]
		for _, e := range entries {
			if keep[e.ID] {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       entries,
		"total":      len(entries),
		"categories": envstubs.Categories(),
	})
}

// ReadEnvFile returns the source of one module
func (h *Handlers) ReadEnvFile(c *gin.Context) {
	id := c.Query("path")
	if id == "" {
		fail(c, http.StatusBadRequest, "Missing path parameter")
		return
	}
	data, origin, err := h.catalogue.Read(id)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"path":    id,
		"origin":  origin,
		"content": string(data),
	})
}

// WriteEnvRequest is the body of WriteEnvFile.
type WriteEnvRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteEnvFile stores a module in the overlay directory
func (h *Handlers) WriteEnvFile(c *gin.Context) {
	var req WriteEnvRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		fail(c, http.StatusBadRequest, "Missing path parameter")
		return
	}
	if err := h.catalogue.Write(req.Path, []byte(req.Content)); err != nil {
		h.failErr(c, err)
		return
	}
	h.logger.Info("Environment file written",
		zap.String("path", req.Path),
		zap.Int("bytes", len(req.Content)),
	)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"path":    req.Path,
		"size":    len(req.Content),
		"message": "File saved; reload or reset the sandbox to apply it",
	})
}

// DeleteEnvFile removes an operator patch
func (h *Handlers) DeleteEnvFile(c *gin.Context) {
	id := c.Query("path")
	if id == "" {
		fail(c, http.StatusBadRequest, "Missing path parameter")
		return
	}
	if err := h.catalogue.Delete(id); err != nil {
		h.failErr(c, err)
		return
	}
	h.logger.Info("Environment file deleted", zap.String("path", id))
	c.JSON(http.StatusOK, gin.H{"success": true, "path": id})
}

// ListPatches returns the patch manifest
func (h *Handlers) ListPatches(c *gin.Context) {
	m, err := h.catalogue.Manifest()
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": m.Patches, "total": len(m.Patches)})
}

// WritePatchRequest is the body of WritePatch.
type WritePatchRequest struct {
	File     string `json:"file"`
	Property string `json:"property"`
	Platform string `json:"platform"`
	Source   string `json:"source"`
	Disabled bool   `json:"disabled"`
}

// WritePatch stores a patch file, records it in the manifest and, when it
// names a property, loads it into the shared sandbox
func (h *Handlers) WritePatch(c *gin.Context) {
	var req WritePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.File == "" || req.Source == "" {
		fail(c, http.StatusBadRequest, "file and source are required")
		return
	}

	p, err := h.catalogue.WritePatch(envstubs.Patch{
		File:     req.File,
		Property: req.Property,
		Platform: req.Platform,
		Enabled:  !req.Disabled,
	}, []byte(req.Source))
	if err != nil {
		h.failErr(c, err)
		return
	}
	h.logger.Info("Patch written",
		zap.String("file", p.File),
		zap.String("property", p.Property),
	)

	resp := gin.H{"success": true, "patch": p}
	if p.Enabled {
		results, err := h.runner.ReloadPatches()
		if err != nil {
			h.failErr(c, err)
			return
		}
		resp["results"] = results
		h.publish("reload", gin.H{"files": []string{envstubs.CategoryPatches + "/" + p.File}})
	}
	c.JSON(http.StatusCreated, resp)
}

// TogglePatchRequest is the body of TogglePatch.
type TogglePatchRequest struct {
	Enabled *bool `json:"enabled"`
}

// TogglePatch enables or disables a patch without touching its source
func (h *Handlers) TogglePatch(c *gin.Context) {
	var req TogglePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		fail(c, http.StatusBadRequest, "enabled is required")
		return
	}
	file := c.Param("file")
	if err := h.catalogue.SetEnabled(file, *req.Enabled); err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"file":    file,
		"enabled": *req.Enabled,
		"message": fmt.Sprintf("Patch %s updated; reset the sandbox to unload disabled patches", file),
	})
}

// ReloadPatches re-runs every enabled patch in the shared sandbox
func (h *Handlers) ReloadPatches(c *gin.Context) {
	results, err := h.runner.ReloadPatches()
	if err != nil {
		h.failErr(c, err)
		return
	}
	files := make([]string, 0, len(results))
	for _, r := range results {
		files = append(files, r.File)
	}
	h.publish("reload", gin.H{"files": files})
	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}

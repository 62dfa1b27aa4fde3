package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/mockrules"
)

func (h *Handlers) rulesReady(c *gin.Context) bool {
	if h.rules == nil {
		h.failErr(c, fmt.Errorf("mock rule store: %w", errUnavailable))
		return false
	}
	return true
}

// ListRules lists the persisted mock rules
func (h *Handlers) ListRules(c *gin.Context) {
	if !h.rulesReady(c) {
		return
	}
	rules, err := h.rules.List()
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rules, "total": len(rules)})
}

// UpsertRule adds a rule or replaces the one with the same path
func (h *Handlers) UpsertRule(c *gin.Context) {
	if !h.rulesReady(c) {
		return
	}
	var r mockrules.Rule
	if err := c.ShouldBindJSON(&r); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	stored, created, err := h.rules.Upsert(r)
	if err != nil {
		h.failErr(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"success": true, "data": stored, "created": created})
}

// ClearRules removes every rule and keeps the presets
func (h *Handlers) ClearRules(c *gin.Context) {
	if !h.rulesReady(c) {
		return
	}
	if err := h.rules.ClearRules(); err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "All rules cleared"})
}

// PatchRule changes selected fields of a rule
func (h *Handlers) PatchRule(c *gin.Context) {
	if !h.rulesReady(c) {
		return
	}
	var u mockrules.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	r, err := h.rules.Patch(c.Param("id"), u)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": r})
}

// DeleteRule removes one rule
func (h *Handlers) DeleteRule(c *gin.Context) {
	if !h.rulesReady(c) {
		return
	}
	id := c.Param("id")
	if err := h.rules.Delete(id); err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

// ListPresets lists the named rule presets
func (h *Handlers) ListPresets(c *gin.Context) {
	if !h.rulesReady(c) {
		return
	}
	presets, err := h.rules.Presets()
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": presets})
}

// ApplyPreset upserts every rule of a preset
func (h *Handlers) ApplyPreset(c *gin.Context) {
	if !h.rulesReady(c) {
		return
	}
	name := c.Param("name")
	added, updated, err := h.rules.ApplyPreset(name)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"preset":  name,
		"added":   added,
		"updated": updated,
	})
}

// ApplyRules registers the enabled rules in the shared sandbox
func (h *Handlers) ApplyRules(c *gin.Context) {
	if !h.rulesReady(c) {
		return
	}
	rep, err := h.runner.ApplyRules()
	if err != nil {
		h.failErr(c, err)
		return
	}
	if len(rep.Failed) > 0 {
		h.logger.Warn("Some mock rules failed", zap.Int("failed", len(rep.Failed)))
	}
	c.JSON(http.StatusOK, gin.H{"success": len(rep.Failed) == 0, "data": rep})
}

// ExportRules returns the whole rules document
func (h *Handlers) ExportRules(c *gin.Context) {
	if !h.rulesReady(c) {
		return
	}
	f, err := h.rules.Load()
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="mock-rules.json"`)
	c.JSON(http.StatusOK, f)
}

// ImportRequest is the body of ImportRules.
type ImportRequest struct {
	Rules []mockrules.Rule `json:"rules"`
	Merge bool             `json:"merge"`
}

// ImportRules stores rules, merging by path or replacing the list
func (h *Handlers) ImportRules(c *gin.Context) {
	if !h.rulesReady(c) {
		return
	}
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Rules == nil {
		fail(c, http.StatusBadRequest, "rules array is required")
		return
	}
	n, err := h.rules.Import(req.Rules, req.Merge)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "imported": n, "merge": req.Merge})
}

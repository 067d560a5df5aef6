// Package http exposes the registry's REST surface: skill CRUD,
// semantic search, revision history, sync deltas and stats.
package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lanagent/skillhub/internal/hub"
	"github.com/lanagent/skillhub/internal/registry"
	"github.com/lanagent/skillhub/internal/types"
)

// Version is the service version reported by health checks.
const Version = "1.0.0"

// Handlers contains all HTTP handlers.
type Handlers struct {
	coordinator *registry.Coordinator
	hub         *hub.Hub
	startTime   time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(coordinator *registry.Coordinator, h *hub.Hub) *Handlers {
	return &Handlers{
		coordinator: coordinator,
		hub:         h,
		startTime:   time.Now(),
	}
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Skill Registry",
		"version": Version,
	})
}

// Health reports liveness plus coarse registry counters.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, types.HealthCheck{
		Status:          "healthy",
		Version:         Version,
		Timestamp:       time.Now().UTC(),
		UptimeSeconds:   time.Since(h.startTime).Seconds(),
		ConnectedAgents: h.hub.Count(),
		TotalSkills:     len(h.coordinator.List(types.SearchFilters{})),
	})
}

// CreateSkill registers a new skill.
func (h *Handlers) CreateSkill(c *gin.Context) {
	var req types.SkillCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	skill, err := h.coordinator.Create(c.Request.Context(), req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"skill": skill})
}

// GetSkill returns the indexed view of one skill.
func (h *Handlers) GetSkill(c *gin.Context) {
	view, err := h.coordinator.Get(c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"skill": view})
}

// ListSkills returns skills matching the query filters.
func (h *Handlers) ListSkills(c *gin.Context) {
	filters := types.SearchFilters{
		Author: c.Query("author"),
		Status: types.SkillStatus(c.Query("status")),
	}
	if tags := c.Query("tags"); tags != "" {
		filters.Tags = strings.Split(tags, ",")
	}

	skills := h.coordinator.List(filters)
	c.JSON(http.StatusOK, gin.H{
		"skills": skills,
		"total":  len(skills),
	})
}

// UpdateSkill applies a partial update.
func (h *Handlers) UpdateSkill(c *gin.Context) {
	var req types.SkillUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	skill, err := h.coordinator.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"skill": skill})
}

// DeleteSkill removes a skill from the live index. History survives.
func (h *Handlers) DeleteSkill(c *gin.Context) {
	id := c.Param("id")
	deleted := h.coordinator.Delete(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{
		"deleted":  deleted,
		"skill_id": id,
	})
}

// SearchSkills runs a semantic query.
func (h *Handlers) SearchSkills(c *gin.Context) {
	var req types.SkillSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.coordinator.Search(req))
}

// SkillHistory returns the revision history of one skill. Deleted
// skills keep their history; only ids the registry has never seen 404.
func (h *Handlers) SkillHistory(c *gin.Context) {
	id := c.Param("id")
	name, revisions, err := h.coordinator.HistoryByID(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"skill_id":  id,
		"name":      name,
		"revisions": revisions,
		"total":     len(revisions),
	})
}

// IncrementUsage bumps a skill's usage counter.
func (h *Handlers) IncrementUsage(c *gin.Context) {
	id := c.Param("id")
	if err := h.coordinator.IncrementUsage(id); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"skill_id": id})
}

// RateSkill sets a skill's rating.
func (h *Handlers) RateSkill(c *gin.Context) {
	// Pointer binding: "required" on a bare float64 would reject a
	// legal rating of 0 as a missing field.
	var req struct {
		Rating *float64 `json:"rating" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := h.coordinator.Rate(id, *req.Rating); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"skill_id": id,
		"rating":   *req.Rating,
	})
}

// Sync returns the incremental delta for one agent.
func (h *Handlers) Sync(c *gin.Context) {
	var req types.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.coordinator.Sync(req))
}

// Stats aggregates store, index and hub statistics.
func (h *Handlers) Stats(c *gin.Context) {
	storeStats, indexStats := h.coordinator.Stats(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"store": storeStats,
		"index": indexStats,
		"hub":   h.hub.Stats(),
		"sync":  gin.H{"agents": len(h.coordinator.SyncStates())},
	})
}

// renderError maps the error taxonomy onto HTTP statuses.
func (h *Handlers) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch types.KindOf(err) {
	case types.KindValidation:
		status = http.StatusBadRequest
	case types.KindNotFound:
		status = http.StatusNotFound
	case types.KindConflict, types.KindInvalidOperation:
		status = http.StatusConflict
	case types.KindBackendUnavailable, types.KindTransient:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"kind":  string(types.KindOf(err)),
	})
}

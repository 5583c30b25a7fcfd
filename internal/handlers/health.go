package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skrumble/skrumble-go/internal/repositories"
)

type HealthHandler struct {
	platform Platform
	events   repositories.EventRepository
}

// NewHealthHandler builds a HealthHandler. events may be nil when the archive
// is disabled.
func NewHealthHandler(platform Platform, events repositories.EventRepository) *HealthHandler {
	return &HealthHandler{platform: platform, events: events}
}

// Health reports 503 while the platform socket is down.
func (h *HealthHandler) Health(c *gin.Context) {
	if !h.platform.Connected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "disconnected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// EventStats returns archived push event counts per category.
func (h *HealthHandler) EventStats(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event archive disabled"})
		return
	}
	counts, err := h.events.CountByCategory(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": counts})
}

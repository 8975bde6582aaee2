package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chainalerts/internal/dedupe"
)

type HealthHandler struct {
	Dedupe *dedupe.Store
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ready reports degraded (still 200) when the shared dedupe backing is
// unreachable: the service keeps alerting on the in-process fallback.
func (h *HealthHandler) ready(c *gin.Context) {
	if h.Dedupe != nil && !h.Dedupe.Healthy() {
		c.JSON(http.StatusOK, gin.H{"status": "degraded", "dedupe": "memory_fallback"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ridesafe/ridesafe-api/internal/middleware"
	"github.com/ridesafe/ridesafe-api/internal/models"
	"github.com/ridesafe/ridesafe-api/pkg/response"
)

type statsService interface {
	Lookup(ctx context.Context) (*models.AdminStats, bool, error)
}

type metricsSnapshotter interface {
	Snapshot() models.SystemMetrics
}

// StatsHandler serves the admin dashboard aggregates.
type StatsHandler struct {
	stats   statsService
	metrics metricsSnapshotter
}

// NewStatsHandler constructs a stats handler.
func NewStatsHandler(stats statsService, metrics metricsSnapshotter) *StatsHandler {
	return &StatsHandler{stats: stats, metrics: metrics}
}

// Stats godoc
// @Summary Admin dashboard statistics
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/stats [get]
func (h *StatsHandler) Stats(c *gin.Context) {
	stats, hit, err := h.stats.Lookup(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// System godoc
// @Summary Service metrics snapshot
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/system-metrics [get]
func (h *StatsHandler) System(c *gin.Context) {
	if h.metrics == nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}

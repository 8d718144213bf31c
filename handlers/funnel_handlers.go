package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"voiceonboard/api/funnel"
	"voiceonboard/api/models"
	"voiceonboard/api/utils"
)

type FunnelComputer interface {
	ComputeFunnel(ctx context.Context, windowDays int) (*models.FunnelReport, error)
}

type FunnelHandlers struct {
	Funnel  FunnelComputer
	logger  *zap.Logger
	timeout time.Duration
}

func NewFunnelHandlers(f FunnelComputer, logger *zap.Logger, timeout time.Duration) *FunnelHandlers {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FunnelHandlers{Funnel: f, logger: logger, timeout: timeout}
}

// GetFunnel serves GET /stats/funnel?days=N.
func (h *FunnelHandlers) GetFunnel(c *gin.Context) {
	days, err := utils.ParseWindowDays(c.Query("days"), funnel.DefaultWindowDays)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'days' parameter. Must be a positive integer.", "details": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	report, err := h.Funnel.ComputeFunnel(ctx, days)
	if err != nil {
		if errors.Is(err, funnel.ErrInvalidWindow) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("failed to compute funnel", zap.Int("days", days), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute funnel"})
		return
	}
	c.JSON(http.StatusOK, report)
}

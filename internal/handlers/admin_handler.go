package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/campusmart/marketplace-backend/internal/middleware"
	"github.com/campusmart/marketplace-backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// manualSweepTimeout caps an admin-triggered sweep
const manualSweepTimeout = 2 * time.Minute

// SweepControl exposes the background sweeper to operators
type SweepControl interface {
	RunSweepNow(ctx context.Context) services.SweepReport
	LastReport() *services.SweepReport
	GetJobStatus() []services.JobStatus
}

// AdminHandler handles operator-only endpoints
type AdminHandler struct {
	sweeper SweepControl
	logger  *logrus.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(sweeper SweepControl, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		sweeper: sweeper,
		logger:  logger,
	}
}

// RunSweeper handles POST /api/v1/admin/sweeper/run
func (h *AdminHandler) RunSweeper(c *gin.Context) {
	fields := logrus.Fields{}
	if userCtx, ok := middleware.GetUserContext(c); ok {
		fields["admin_id"] = userCtx.UserID
	}
	h.logger.WithFields(fields).Info("Manual expiry sweep requested")

	ctx, cancel := context.WithTimeout(c.Request.Context(), manualSweepTimeout)
	defer cancel()

	report := h.sweeper.RunSweepNow(ctx)
	status := http.StatusOK
	if len(report.Errors) > 0 {
		status = http.StatusAccepted
	}

	c.JSON(status, gin.H{"report": report})
}

// SweeperStatus handles GET /api/v1/admin/sweeper/status
func (h *AdminHandler) SweeperStatus(c *gin.Context) {
	jobs := h.sweeper.GetJobStatus()
	c.JSON(http.StatusOK, gin.H{
		"scheduled":   len(jobs) > 0,
		"jobs":        jobs,
		"last_report": h.sweeper.LastReport(),
	})
}

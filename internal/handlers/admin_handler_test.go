package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/campusmart/marketplace-backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type stubSweep struct {
	report services.SweepReport
	jobs   []services.JobStatus
	runs   int
}

func (s *stubSweep) RunSweepNow(context.Context) services.SweepReport {
	s.runs++
	return s.report
}

func (s *stubSweep) LastReport() *services.SweepReport {
	if s.runs == 0 {
		return nil
	}
	return &s.report
}

func (s *stubSweep) GetJobStatus() []services.JobStatus { return s.jobs }

type stubDB struct{ err error }

func (d stubDB) PingContext(context.Context) error { return d.err }
func (d stubDB) Close() error                      { return nil }

func setupAdminRouter(sweep *stubSweep) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	router := gin.New()
	h := NewAdminHandler(sweep, logger)
	router.POST("/admin/sweeper/run", h.RunSweeper)
	router.GET("/admin/sweeper/status", h.SweeperStatus)
	return router
}

func TestAdminHandler_RunSweeper(t *testing.T) {
	t.Run("clean run", func(t *testing.T) {
		sweep := &stubSweep{report: services.SweepReport{ExpiredListings: 3, CancelledRequests: 5}}
		router := setupAdminRouter(sweep)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/sweeper/run", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, sweep.runs)
		assert.Contains(t, w.Body.String(), `"expired_listings":3`)
		assert.Contains(t, w.Body.String(), `"cancelled_requests":5`)
	})

	t.Run("partial failure", func(t *testing.T) {
		sweep := &stubSweep{report: services.SweepReport{Errors: []string{"expire ride listings: 1 failed"}}}
		router := setupAdminRouter(sweep)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/sweeper/run", nil))

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Contains(t, w.Body.String(), "1 failed")
	})
}

func TestAdminHandler_SweeperStatus(t *testing.T) {
	sweep := &stubSweep{jobs: []services.JobStatus{{ID: 1, NextRun: time.Now().Add(time.Hour)}}}
	router := setupAdminRouter(sweep)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/sweeper/status", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"scheduled":true`)
	assert.Contains(t, w.Body.String(), `"last_report":null`)
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		db   stubDB
		want int
	}{
		{"healthy", stubDB{}, http.StatusOK},
		{"database down", stubDB{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/health", HealthCheck(tt.db, "test"))

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

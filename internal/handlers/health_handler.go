package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/campusmart/marketplace-backend/internal/database"
	"github.com/gin-gonic/gin"
)

// HealthCheck returns a health check endpoint backed by a database ping
func HealthCheck(db database.DB, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}

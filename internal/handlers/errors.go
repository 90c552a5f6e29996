package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/campusmart/marketplace-backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string                    `json:"error"`
	Message string                    `json:"message"`
	Code    string                    `json:"code,omitempty"`
	Fields  services.ValidationErrors `json:"fields,omitempty"`
}

var kindStatus = map[services.ErrorKind]int{
	services.KindNotFound:         http.StatusNotFound,
	services.KindForbidden:        http.StatusForbidden,
	services.KindInvalidOperation: http.StatusUnprocessableEntity,
	services.KindConflict:         http.StatusConflict,
	services.KindValidationFailed: http.StatusBadRequest,
	services.KindUnavailable:      http.StatusServiceUnavailable,
}

// respondError writes a booking failure as JSON. Errors without a kind are
// internal and never leak their text to the client.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var be *services.BookingError
	if !errors.As(err, &be) {
		logger.WithError(err).WithField("path", c.FullPath()).Error("Unclassified booking error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Something went wrong",
			Code:    "INTERNAL_ERROR",
		})
		return
	}

	status, ok := kindStatus[be.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if be.Kind == services.KindUnavailable {
		logger.WithError(be.Err).WithField("path", c.FullPath()).Warn("Store unavailable")
	}

	c.JSON(status, ErrorResponse{
		Error:   string(be.Kind),
		Message: be.Message,
		Code:    strings.ToUpper(string(be.Kind)),
		Fields:  be.Fields,
	})
}

func badRequest(c *gin.Context, errCode, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   errCode,
		Message: message,
		Code:    strings.ToUpper(errCode),
	})
}

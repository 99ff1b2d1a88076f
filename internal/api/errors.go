package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/railzwaylabs/stockflow/internal/domain/deadletter"
	"github.com/railzwaylabs/stockflow/internal/domain/inventory"
)

// statusFor maps domain errors to HTTP status codes. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, inventory.ErrInventoryNotFound),
		errors.Is(err, inventory.ErrReservationNotFound),
		errors.Is(err, deadletter.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, inventory.ErrInvalidReservationState),
		errors.Is(err, inventory.ErrDuplicateInventory),
		errors.Is(err, inventory.ErrDuplicateReservation),
		errors.Is(err, inventory.ErrInventoryInUse):
		return http.StatusConflict
	case errors.Is(err, inventory.ErrInvalidRequest),
		errors.Is(err, deadletter.ErrAlreadyResolved),
		errors.Is(err, deadletter.ErrResolvedByRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		r.logger.Error("request_failed",
			zap.String("route", c.FullPath()),
			zap.String("correlation_id", c.GetString("request_id")),
			zap.Error(err),
		)
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/telemetry"
)

// respondError maps domain errors to status codes. Conflicts and rejected transitions
// carry the current order so the caller can retry against fresh state.
func respondError(c *gin.Context, err error) {
	var (
		validation *models.ValidationError
		conflict   *models.ConflictError
		invalid    *models.InvalidTransitionError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.Is(err, models.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error(), "current": conflict.Current})
	case errors.As(err, &invalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Transition not allowed",
			"reason":  invalid.Reason,
			"current": invalid.Current,
		})
	default:
		telemetry.Logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "detail": err.Error()})
}

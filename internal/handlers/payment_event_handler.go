package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/service"
	"github.com/akylbek/commerce/order-lifecycle/internal/telemetry"
)

type PaymentEventHandler struct {
	reconciler *service.Reconciler
	maxAge     time.Duration
}

func NewPaymentEventHandler(reconciler *service.Reconciler, defaultMaxAge time.Duration) *PaymentEventHandler {
	return &PaymentEventHandler{reconciler: reconciler, maxAge: defaultMaxAge}
}

// ProcessEvent is the webhook path for providers that call us instead of the event topic.
func (h *PaymentEventHandler) ProcessEvent(c *gin.Context) {
	var event models.PaymentEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		telemetry.Logger.Error("Error decoding payment event", zap.Error(err))
		badRequest(c, err)
		return
	}

	res, err := h.reconciler.Apply(c.Request.Context(), event)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == service.OutcomeQueued {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

// Sweep force-applies events stuck behind a sequence gap. ?max_age= overrides the default.
func (h *PaymentEventHandler) Sweep(c *gin.Context) {
	maxAge := h.maxAge
	if v := c.Query("max_age"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			respondError(c, &models.ValidationError{Field: "max_age", Message: "must be a non-negative duration"})
			return
		}
		maxAge = d
	}

	applied, err := h.reconciler.Sweep(c.Request.Context(), maxAge)
	if err != nil {
		telemetry.Logger.Warn("Sweep finished with errors",
			zap.String("actor_id", currentActor(c).ID),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"applied": applied, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

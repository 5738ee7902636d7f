package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/service"
)

type TransitionRequest struct {
	Target          models.Status        `json:"target" binding:"required"`
	PaymentStatus   models.PaymentStatus `json:"payment_status"`
	ProcessType     models.ProcessType   `json:"process_type"`
	Reason          string               `json:"reason"`
	ExpectedVersion int64                `json:"expected_version" binding:"required"`
	Refund          bool                 `json:"refund"`
	RefundAmount    *models.Money        `json:"refund_amount"`
}

type OrderHandler struct {
	machine *service.OrderMachine
}

func NewOrderHandler(machine *service.OrderMachine) *OrderHandler {
	return &OrderHandler{machine: machine}
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	view, err := h.machine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *OrderHandler) Transition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.machine.RequestTransition(c.Request.Context(), models.TransitionRequest{
		OrderID:         c.Param("id"),
		Target:          req.Target,
		Payment:         req.PaymentStatus,
		ProcessType:     req.ProcessType,
		Actor:           currentActor(c),
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
		Refund:          req.Refund,
		RefundAmount:    req.RefundAmount,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":         result.Order,
		"entry":         result.Entry,
		"notifications": result.Notifications,
		"refund":        result.Refund,
	})
}

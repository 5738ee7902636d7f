package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/service"
)

type CheckoutRequest struct {
	CheckoutID      string `json:"checkout_id"`
	Email           string `json:"email" binding:"required,email"`
	AccountID       string `json:"account_id"`
	NewAccount      bool   `json:"new_account"`
	Amount          int64  `json:"amount" binding:"required,gt=0"`
	Currency        string `json:"currency" binding:"required,len=3"`
	BillingCountry  string `json:"billing_country"`
	ShippingCountry string `json:"shipping_country"`
	IPCountry       string `json:"ip_country"`
}

type CheckoutHandler struct {
	checkout *service.Checkout
}

func NewCheckoutHandler(checkout *service.Checkout) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

// Checkout never tells a blocked customer why; the reasons stay in the fraud log.
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cc := &models.CheckoutContext{
		CheckoutID:      req.CheckoutID,
		Email:           req.Email,
		IP:              c.ClientIP(),
		UserAgent:       c.Request.UserAgent(),
		AccountID:       req.AccountID,
		NewAccount:      req.NewAccount,
		Amount:          models.Money{Amount: req.Amount, Currency: req.Currency},
		BillingCountry:  req.BillingCountry,
		ShippingCountry: req.ShippingCountry,
		IPCountry:       req.IPCountry,
	}

	decision, err := h.checkout.EvaluateCheckout(c.Request.Context(), cc)
	if err != nil {
		respondError(c, err)
		return
	}

	switch decision.Recommendation {
	case models.RecommendAllow:
		c.JSON(http.StatusCreated, gin.H{"order_id": decision.OrderID, "status": models.StatusPending})
	case models.RecommendReview:
		c.JSON(http.StatusAccepted, gin.H{"order_id": decision.OrderID, "status": models.StatusOnHold})
	default:
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "We could not process this payment"})
	}
}

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/service"
)

type FraudLogHandler struct {
	log *service.FraudLog
}

func NewFraudLogHandler(log *service.FraudLog) *FraudLogHandler {
	return &FraudLogHandler{log: log}
}

// List supports ?email=&from=&to= (RFC 3339) and ?limit=.
func (h *FraudLogHandler) List(c *gin.Context) {
	q := models.FraudLogQuery{Email: c.Query("email")}

	var err error
	if q.From, err = parseTime(c.Query("from")); err != nil {
		respondError(c, &models.ValidationError{Field: "from", Message: "must be RFC 3339"})
		return
	}
	if q.To, err = parseTime(c.Query("to")); err != nil {
		respondError(c, &models.ValidationError{Field: "to", Message: "must be RFC 3339"})
		return
	}
	if v := c.Query("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			respondError(c, &models.ValidationError{Field: "limit", Message: "must be a number"})
			return
		}
	}

	entries, err := h.log.Query(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []models.FraudLogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

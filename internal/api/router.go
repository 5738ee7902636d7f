package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/akylbek/commerce/order-lifecycle/internal/handlers"
	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/service"
	"github.com/akylbek/commerce/order-lifecycle/internal/telemetry"
)

type Services struct {
	Checkout   *service.Checkout
	Machine    *service.OrderMachine
	FraudLog   *service.FraudLog
	Reconciler *service.Reconciler
}

type Options struct {
	CheckoutRate  rate.Limit
	CheckoutBurst int
	SweepMaxAge   time.Duration
}

func NewRouter(svc Services, opts Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "order-lifecycle"})
	})

	checkoutHandler := handlers.NewCheckoutHandler(svc.Checkout)
	r.POST("/checkout", RateLimit(opts.CheckoutRate, opts.CheckoutBurst), checkoutHandler.Checkout)

	eventHandler := handlers.NewPaymentEventHandler(svc.Reconciler, opts.SweepMaxAge)
	r.POST("/payments/events", eventHandler.ProcessEvent)

	orderHandler := handlers.NewOrderHandler(svc.Machine)
	fraudHandler := handlers.NewFraudLogHandler(svc.FraudLog)

	admin := r.Group("/admin")
	admin.Use(handlers.ActorMiddleware())
	admin.GET("/orders/:id", orderHandler.GetOrder)
	admin.POST("/orders/:id/transitions", orderHandler.Transition)
	admin.GET("/fraud-log", fraudHandler.List)
	admin.POST("/reconciliation/sweep", handlers.RequireRole(models.RoleAdmin), eventHandler.Sweep)

	return r
}

// RateLimit sheds checkout load with one shared token bucket. A zero limit disables it.
func RateLimit(limit rate.Limit, burst int) gin.HandlerFunc {
	if limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many checkout attempts"})
			return
		}
		c.Next()
	}
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/payment-system/payment-verification/internal/auth"
	"github.com/akylbek/payment-system/payment-verification/internal/handlers"
	"github.com/akylbek/payment-system/payment-verification/internal/telemetry"
)

type Handlers struct {
	Payments *handlers.PaymentHandler
	Admin    *handlers.AdminHandler
	Evidence *handlers.EvidenceHandler
}

// ReadyFunc reports whether the service can reach its database.
type ReadyFunc func(ctx context.Context) error

func NewRouter(h Handlers, provider *auth.Provider, allowedOrigins []string, ready ReadyFunc) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.RequestID())
	r.Use(telemetry.TracingMiddleware())
	if len(allowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     allowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "X-Trace-ID", "Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": telemetry.ServiceName})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": telemetry.ServiceName})
	})

	authed := r.Group("/", provider.Middleware())

	payments := authed.Group("/payments")
	payments.POST("", h.Payments.Submit)
	payments.GET("/:ref/status", h.Payments.Status)
	payments.GET("/:ref/receipt.pdf", h.Payments.Receipt)
	payments.POST("/:ref/cancel", h.Payments.Cancel)

	authed.GET("/evidence/:id", h.Evidence.Serve)

	admin := authed.Group("/admin/payments", auth.RequireReviewer())
	admin.GET("/queue", h.Admin.Queue)
	admin.POST("/actions", h.Admin.Action)

	return r
}

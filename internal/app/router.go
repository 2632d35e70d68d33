package app

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"booking/internal/handler"
	"booking/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	SessionHandler  *handler.SessionHandler
	BookingHandler  *handler.BookingHandler
	LocationHandler *handler.LocationHandler
	ResponseStore   middleware.ResponseStore
	NewRelicApp     *newrelic.Application
	Logger          *slog.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Observe(deps.Logger))

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.Use(middleware.Idempotency(deps.ResponseStore, deps.Logger))
	{
		// Booking routes.
		bookings := v1.Group("/bookings")
		{
			bookings.GET("/:id", deps.BookingHandler.GetBooking)
			bookings.POST("/:id/sessions", deps.SessionHandler.Open)
			bookings.POST("/:id/status", deps.BookingHandler.UpdateStatus)
			bookings.POST("/:id/payment/confirm", deps.BookingHandler.ConfirmPayment)
			bookings.GET("/:id/breakdown", deps.BookingHandler.Breakdown)
		}

		// Session routes.
		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:id", deps.SessionHandler.Get)
			sessions.DELETE("/:id", deps.SessionHandler.Close)
			sessions.GET("/:id/events", deps.SessionHandler.Events)
			sessions.POST("/:id/rating", deps.SessionHandler.SubmitRating)
			sessions.POST("/:id/cancel", deps.SessionHandler.Cancel)
		}

		// Worker routes.
		workers := v1.Group("/workers")
		{
			workers.POST("/:id/location", deps.LocationHandler.UpdateLocation)
		}
	}

	return router
}

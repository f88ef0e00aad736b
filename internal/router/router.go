package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"sheetwise/internal/handler/api"
	"sheetwise/internal/middleware"
	"sheetwise/internal/realtime"
	"sheetwise/internal/scheduler"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	jobs *scheduler.Scheduler,
	hub *realtime.Hub,
	logger *zap.Logger,
	apiKey string,
) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())

	jobHandler := api.NewJobHandler(jobs, logger)

	// API group with auth middleware
	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(apiKey))
	apiGroup.POST("/jobs", jobHandler.Create)
	apiGroup.GET("/jobs/:id", jobHandler.Status)
	apiGroup.POST("/jobs/:id/cancel", jobHandler.Cancel)

	// Live connection endpoint; subscriptions are per-topic after upgrade.
	e.GET("/ws", realtime.Handler(hub, logger))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

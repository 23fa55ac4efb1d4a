package http

import (
	"net/http"

	"livecast/internal/core/services"
	"livecast/internal/infrastructure/middleware"
	"livecast/internal/infrastructure/monitoring"
	"livecast/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Config     *config.Config
	Controller BroadcastController
	Auth       services.AuthService
	Health     *monitoring.HealthChecker
	Gatherer   prometheus.Gatherer
	StatusFeed http.Handler
	Logger     *zap.SugaredLogger
}

// NewRouter assembles the control API.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(deps.Logger),
		middleware.TracingMiddleware(),
		middleware.RequestLogger(deps.Logger),
		middleware.ErrorHandlerMiddleware(deps.Logger),
	)

	router.GET("/health", func(c *gin.Context) {
		status := deps.Health.CheckAll(c.Request.Context())
		c.JSON(statusCode(status), status)
	})
	router.GET("/ready", func(c *gin.Context) {
		status := deps.Health.CheckReadiness(c.Request.Context())
		c.JSON(statusCode(status), status)
	})

	if deps.Config.Monitoring.PrometheusEnabled && deps.Gatherer != nil {
		router.GET(deps.Config.Monitoring.MetricsPath, gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	if deps.StatusFeed != nil {
		router.GET("/ws/status", middleware.OptionalAuthMiddleware(deps.Auth), gin.WrapH(deps.StatusFeed))
	}

	limited := router.Group("/", middleware.NewHTTPRateLimitMiddleware(deps.Config))
	NewAuthHandler(deps.Auth).SetupRoutes(limited)

	api := limited.Group("/api/v1", middleware.AuthMiddleware(deps.Auth))
	NewBroadcastHandler(deps.Controller).SetupRoutes(api)

	return router
}

func statusCode(status monitoring.HealthStatus) int {
	if status.Status == "healthy" {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gotrs-io/gotrs-mailverify/internal/middleware"
)

// RouterConfig collects what NewRouter needs.
type RouterConfig struct {
	Handlers *MailVerifyHandlers
	// DB, when set, guards test starts with a connectivity check.
	DB          middleware.Pinger
	Gatherer    prometheus.Gatherer
	MetricsPath string
	Version     string
}

// NewRouter builds the gin engine for the service.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": cfg.Version})
	})

	if cfg.Gatherer != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	var guards []gin.HandlerFunc
	if cfg.DB != nil {
		guards = append(guards, middleware.DatabaseHealthCheck(cfg.DB, nil))
	}
	cfg.Handlers.RegisterRoutes(router.Group("/api/v1"), guards...)

	return router
}

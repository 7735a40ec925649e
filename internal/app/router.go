package app

import (
	"net/http"
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockpulse.io/stockpulse/internal/api/handlers"
	"stockpulse.io/stockpulse/internal/api/middleware"
	"stockpulse.io/stockpulse/internal/config"
)

// defaultOrigins are allowed when server.allowed_origins is empty.
var defaultOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
}

func newRouter(cfg *config.Config, s *handlers.Server, jwtCfg middleware.JWTConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), cors.New(buildCORSConfig(cfg)), middleware.RequestID(), middleware.ErrorHandler())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.GET("/health/live", s.GetLiveness)
	v1.GET("/health/ready", s.GetReadiness)

	authed := v1.Group("", middleware.JWTAuth(jwtCfg))
	authed.POST("/events", middleware.RequirePermission(middleware.PermEventsWrite), s.EnqueueEvents)

	read := authed.Group("", middleware.RequirePermission(middleware.PermPipelineRead))
	read.GET("/queue/stats", s.GetQueueStats)
	read.GET("/queue/backpressure", s.GetBackpressure)
	read.GET("/dead-letters", s.ListDeadLetters)
	read.GET("/dead-letters/stats", s.GetDeadLetterStats)
	read.GET("/dead-letters/:id", s.GetDeadLetter)
	read.GET("/partitions", s.ListPartitions)
	read.GET("/rolling-stats/:product_id/:warehouse_id", s.GetRollingStats)

	admin := authed.Group("", middleware.RequirePermission(middleware.PermPipelineAdmin))
	admin.POST("/dead-letters/reprocess", s.ReprocessDeadLetters)
	admin.POST("/dead-letters/discard", s.DiscardDeadLetters)
	admin.POST("/dead-letters/resolve", s.ResolveDeadLetters)
	admin.POST("/admin/process", s.RunProcessor)
	admin.POST("/admin/retention", s.RunRetention)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "route not found"})
	})
	return router
}

// buildCORSConfig drops "*" from the allowlist unless the unsafe flag is
// set; allowing all origins disables credentials.
func buildCORSConfig(cfg *config.Config) cors.Config {
	c := cors.DefaultConfig()
	c.AllowHeaders = append(c.AllowHeaders, "Authorization", middleware.RequestIDHeader)
	c.ExposeHeaders = []string{middleware.RequestIDHeader}

	if cfg.Server.UnsafeAllowAllOrigins {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
		return c
	}

	origins := slices.DeleteFunc(slices.Clone(cfg.Server.AllowedOrigins), func(o string) bool { return o == "*" })
	if len(origins) == 0 {
		origins = slices.Clone(defaultOrigins)
	}
	c.AllowOrigins = origins
	c.AllowCredentials = cfg.Server.AllowCredentials
	return c
}

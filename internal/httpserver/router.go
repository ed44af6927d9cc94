package httpserver

import (
	"context"
	"time"

	"notification-engine/internal/handler"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Notifications *handler.NotificationHandler
	Templates     *handler.TemplateHandler
	Schedules     *handler.ScheduleHandler
	ABTests       *handler.ABTestHandler
	Settings      *handler.SettingsHandler
}

func NewRouter(h Handlers, logger *zap.Logger, db *pgxpool.Pool) *gin.Engine {
	r := gin.Default()

	r.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/notifications", h.Notifications.List)
	r.POST("/notifications/:id/read", h.Notifications.MarkRead)
	r.POST("/notifications/:id/dismiss", h.Notifications.MarkDismissed)
	r.POST("/notifications/:id/confirm", h.Notifications.Confirm)
	r.GET("/analytics/deliveries", h.Notifications.Analytics)

	r.POST("/templates", h.Templates.Create)
	r.GET("/templates/:id", h.Templates.Get)
	r.PUT("/templates/:id", h.Templates.Update)
	r.GET("/templates/:id/versions", h.Templates.Versions)

	r.POST("/schedules", h.Schedules.Create)
	r.GET("/schedules/:id", h.Schedules.Get)
	r.PUT("/schedules/:id", h.Schedules.Update)
	r.DELETE("/schedules/:id", h.Schedules.Delete)

	r.POST("/abtests", h.ABTests.Create)
	r.POST("/abtests/:id/status", h.ABTests.UpdateStatus)
	r.GET("/abtests/:id/metrics", h.ABTests.Metrics)

	r.GET("/preferences", h.Settings.GetPreference)
	r.PUT("/preferences", h.Settings.UpdatePreference)
	r.PUT("/rate-limits", h.Settings.SetRateLimitPolicy)
	r.PUT("/batching-rules", h.Settings.SetBatchingRule)

	return r
}

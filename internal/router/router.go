package router

import (
	"context"
	"net/http"
	"time"

	"github.com/ccolleatte/dao-services/internal/config"
	"github.com/ccolleatte/dao-services/internal/handler"
	"github.com/ccolleatte/dao-services/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

const requestIDHeader = "X-Request-ID"

// HealthChecker 链连接健康检查，*chain.Manager 满足该接口
type HealthChecker interface {
	GetHealthStatus(ctx context.Context) map[string]interface{}
}

func Setup(db *gorm.DB, status handler.StatusProvider, health HealthChecker, cfg *config.Config) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()

	// 中间件
	r.Use(requestIDMiddleware())
	r.Use(loggerMiddleware())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"service": "dao-services",
		}
		if health != nil {
			body["chain"] = health.GetHealthStatus(c.Request.Context())
		}
		c.JSON(http.StatusOK, body)
	})

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.Handler()))
	}

	// API版本组
	v1 := r.Group("/api/v1")
	{
		missionHandler := handler.NewMissionHandler(db)
		applicationHandler := handler.NewApplicationHandler(db)
		missions := v1.Group("/missions")
		{
			missions.POST("", missionHandler.CreateMission)
			missions.GET("", missionHandler.GetMissions)
			missions.GET("/:id", missionHandler.GetMission)
			missions.POST("/:id/link-tx", missionHandler.LinkCreationTx)
			missions.POST("/:id/cancel", missionHandler.CancelMission)
			missions.POST("/:id/applications", applicationHandler.CreateApplication)
			missions.GET("/:id/applications", applicationHandler.GetApplications)
			missions.GET("/:id/milestones", missionHandler.GetMilestones)
			missions.GET("/:id/payments", missionHandler.GetPayments)
		}

		notificationHandler := handler.NewNotificationHandler(db)
		v1.GET("/notifications", notificationHandler.GetNotifications)

		transactionHandler := handler.NewTransactionHandler(db)
		v1.GET("/transactions", transactionHandler.GetTransactions)

		syncHandler := handler.NewSyncHandler(db, status)
		sync := v1.Group("/sync")
		{
			sync.GET("/status", syncHandler.GetStatus)
			sync.GET("/dead-letters", syncHandler.GetDeadLetters)
		}
	}

	return r
}

// requestIDMiddleware 为每个请求分配ID，已有时沿用
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %s request_id=%s", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start), c.GetString("request_id"))
	}
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

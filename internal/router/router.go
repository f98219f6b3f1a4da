package router

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/postpipe/internal/handler"
	"github.com/postpipe/internal/logging"
	"github.com/postpipe/internal/service"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(sessionSecret string, svc *service.Services, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = logging.Discard()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, MaxAge: 7 * 24 * 3600})
	r.Use(sessions.Sessions("postpipe_session", store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	api := handler.NewAPI(svc, logger)
	group := r.Group("/api")
	group.Use(handler.ActorMiddleware())
	{
		group.GET("/destinations", api.ListDestinations)

		group.GET("/posts", api.ListPosts)
		group.POST("/posts", api.CreatePost)
		group.GET("/posts/:id", api.GetPost)
		group.PUT("/posts/:id/content", api.EditContent)
		group.POST("/posts/:id/transitions", api.RequestTransition)

		group.GET("/posts/:id/qa", api.GetQA)
		group.POST("/posts/:id/qa", api.RunQA)

		group.GET("/posts/:id/versions", api.ListVersions)
		group.POST("/posts/:id/versions/:versionID/restore", api.RestoreVersion)
		group.GET("/posts/:id/diff", api.DiffVersions)

		group.POST("/posts/:id/generate/outline", api.GenerateOutline)
		group.POST("/posts/:id/generate/draft", api.GenerateDraft)

		group.POST("/posts/:id/publish", api.Publish)
		group.POST("/posts/:id/schedule", api.SchedulePublish)
		group.GET("/posts/:id/publish-records", api.ListPublishRecords)

		group.GET("/publish-records/:id/events", api.PublishEvents)
		group.POST("/publish-records/:id/retry", api.RetryPublish)
		group.POST("/publish-records/:id/cancel", api.CancelSchedule)
	}

	return r
}

// requestLogger 为每个请求输出一行结构化日志。
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"actor", c.GetString("actor"),
		)
	}
}

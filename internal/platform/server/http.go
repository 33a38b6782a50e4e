package server

import (
	"net/http"
	"time"

	"chat-relay/internal/message"
	"chat-relay/internal/notification"
	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/health"
	"chat-relay/internal/platform/metrics"
	"chat-relay/internal/platform/middleware"
	"chat-relay/internal/realtime"
	"chat-relay/internal/security/audit"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// Handlers 路由所需的處理器
type Handlers struct {
	Auth          *middleware.Authenticator
	Audit         *audit.AuditService
	Messages      *message.Handler
	Notifications *notification.Handler
	Realtime      *realtime.Handler
	Health        *health.Handler
}

// Router 設定路由並以 CORS 包裝。回傳的 stop 用於關閉背景清理 goroutine。
func Router(cfg *config.Config, h Handlers) (http.Handler, func()) {
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	// 添加請求 ID 中間件（最優先）
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.SecurityHeaders())
	// 提取 IP、User-Agent 供審計使用
	r.Use(middleware.RequestMetadataMiddleware())
	r.Use(middleware.AccessLog())

	if cfg.Limits.Request.MaxMultipartMemory > 0 {
		r.MaxMultipartMemory = cfg.Limits.Request.MaxMultipartMemory
	}

	limits := cfg.Limits.RateLimiting
	cleanup := time.Duration(limits.CleanupInterval) * time.Minute
	defaultLimiter := middleware.NewRateLimiter(limits.DefaultPerMinute, cleanup, h.Audit)
	sendLimiter := middleware.NewRateLimiter(limits.MessagesPerMin, cleanup, h.Audit)
	uploadLimiter := middleware.NewRateLimiter(limits.UploadsPerMin, cleanup, h.Audit)
	stop := func() {
		defaultLimiter.Stop()
		sendLimiter.Stop()
		uploadLimiter.Stop()
	}

	connLimiter := middleware.NewConnectionLimiter(cfg.Realtime.MaxConnectionsPerIP, cfg.Realtime.MaxTotalConnections)

	// 不需認證
	r.GET("/health", h.Health.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", connLimiter.Middleware(), h.Realtime.ServeWS)

	api := r.Group("/api/v1", h.Auth.GinMiddleware())
	var send, upload gin.HandlerFunc
	if limits.Enabled {
		api.Use(defaultLimiter.Middleware("/api/v1"))
		send = sendLimiter.Middleware("send_message")
		upload = uploadLimiter.Middleware("upload")
	}
	api.Use(middleware.RequestSizeLimiter(maxBodySize(cfg)))

	h.Messages.RegisterRoutes(api, send, upload)
	h.Notifications.RegisterRoutes(api)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		MaxAge:           86400,
		AllowCredentials: true,
	})
	return c.Handler(r), stop
}

// maxBodySize 上傳路由需容納最大的檔案
func maxBodySize(cfg *config.Config) int64 {
	size := cfg.Limits.Request.MaxBodySize
	for _, n := range []int64{cfg.Uploads.MaxFileBytes, cfg.Uploads.MaxVoiceBytes} {
		if n+(1<<20) > size {
			size = n + (1 << 20)
		}
	}
	return size
}

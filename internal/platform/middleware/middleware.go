package middleware

import (
	"time"

	"chat-relay/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

// SecurityHeaders 添加安全標頭
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止點擊劫持
		c.Header("X-Frame-Options", "DENY")
		// 防止 MIME 類型嗅探
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), camera=()")
		c.Next()
	}
}

// AccessLog 以結構化格式記錄每個請求
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		req := &logger.HTTPRequest{
			RequestMethod: c.Request.Method,
			RequestURL:    c.Request.URL.Path,
			Status:        status,
			UserAgent:     c.Request.UserAgent(),
			RemoteIP:      GetClientIP(c),
			Latency:       time.Since(start).String(),
		}
		opts := []logger.LogOption{logger.WithHTTPRequest(req)}
		if userID := UserID(c); userID != "" {
			opts = append(opts, logger.WithUserID(userID))
		}

		switch {
		case status >= 500:
			logger.Error(c.Request.Context(), "HTTP 請求失敗", opts...)
		case status >= 400:
			logger.Warning(c.Request.Context(), "HTTP 請求被拒絕", opts...)
		default:
			logger.Debug(c.Request.Context(), "HTTP 請求完成", opts...)
		}
	}
}

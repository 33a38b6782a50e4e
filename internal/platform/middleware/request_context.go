package middleware

import (
	"strings"

	"chat-relay/internal/security/audit"

	"github.com/gin-gonic/gin"
)

// RequestMetadataMiddleware 將客戶端 IP 與 User-Agent 放入 request context 供審計使用
func RequestMetadataMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := audit.WithClient(c.Request.Context(), GetClientIP(c), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetClientIP 獲取客戶端真實 IP
func GetClientIP(c *gin.Context) string {
	// X-Forwarded-For 可能包含多個 IP，取第一個
	if forwarded := c.Request.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if realIP := c.Request.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	return c.ClientIP()
}

package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// ConnectionLimiter 限制 WebSocket 長連線數量
type ConnectionLimiter struct {
	mu          sync.Mutex
	connections map[string]int // IP -> 連接數
	maxPerIP    int
	maxTotal    int
	total       int
}

// NewConnectionLimiter 創建連接限制器
func NewConnectionLimiter(maxPerIP, maxTotal int) *ConnectionLimiter {
	return &ConnectionLimiter{
		connections: make(map[string]int),
		maxPerIP:    maxPerIP,
		maxTotal:    maxTotal,
	}
}

// Middleware 連線期間佔用一個名額，處理器返回（連線結束）後釋放
func (l *ConnectionLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := GetClientIP(c)
		if !l.Acquire(ip) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success":    false,
				"message":    "連接數已達上限，請稍後再試",
				"error_code": "TOO_MANY_CONNECTIONS",
			})
			c.Abort()
			return
		}
		defer l.Release(ip)

		c.Next()
	}
}

// Acquire 嘗試佔用名額
func (l *ConnectionLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxTotal > 0 && l.total >= l.maxTotal {
		return false
	}
	if l.maxPerIP > 0 && l.connections[ip] >= l.maxPerIP {
		return false
	}

	l.connections[ip]++
	l.total++
	return true
}

// Release 釋放名額
func (l *ConnectionLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, exists := l.connections[ip]
	if !exists {
		return
	}
	if count <= 1 {
		delete(l.connections, ip)
	} else {
		l.connections[ip]--
	}
	l.total--
}

// Stats 獲取統計信息
func (l *ConnectionLimiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]interface{}{
		"total_connections": l.total,
		"unique_ips":        len(l.connections),
		"max_total":         l.maxTotal,
		"max_per_ip":        l.maxPerIP,
	}
}

package middleware

import (
	"net/http"
	"sync"
	"time"

	"chat-relay/internal/security/audit"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter 以 token bucket 限制每個用戶（未認證時為 IP）的請求速率
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	audit    *audit.AuditService
	stop     chan struct{}
	once     sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 創建速率限制器，perMinute 為每分鐘允許的請求數
func NewRateLimiter(perMinute int, cleanupInterval time.Duration, auditSvc *audit.AuditService) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
		audit:    auditSvc,
		stop:     make(chan struct{}),
	}

	// 定期清理閒置的訪問者記錄
	go rl.cleanupVisitors(cleanupInterval)

	return rl
}

// Middleware 返回 Gin 中間件，endpoint 用於審計記錄
func (rl *RateLimiter) Middleware(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := UserID(c)
		if key == "" {
			key = GetClientIP(c)
		}

		if !rl.Allow(key) {
			rl.audit.LogRateLimitExceeded(c.Request.Context(), endpoint)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success":    false,
				"message":    "請求過於頻繁，請稍後再試",
				"error_code": "RATE_LIMITED",
				"request_id": GetRequestID(c),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Allow 檢查 key 是否還有額度
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()

	return v.limiter.Allow()
}

// Stop 停止清理 goroutine
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupVisitors(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, v := range rl.visitors {
				// 超過 10 分鐘沒有活動，刪除記錄
				if now.Sub(v.lastSeen) > 10*time.Minute {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

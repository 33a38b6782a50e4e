// Package health 提供 /health 端點
package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"chat-relay/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

const (
	// 健康狀態常數.
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusWarning   = "warning"
	statusDegraded  = "degraded"

	// 記憶體相關常數.
	memoryMB        = 1024 * 1024
	memoryThreshold = 1024 // 1GB

	// 超時常數.
	dbTimeout = 5 * time.Second
)

// Pinger 資料庫連線檢查.
type Pinger func(ctx context.Context) error

// SessionCounter 即時連線數來源.
type SessionCounter interface {
	SessionCount() int
}

// Handler 健康檢查處理器.
type Handler struct {
	ping     Pinger
	sessions SessionCounter
	appName  string
	database string
	debug    bool
}

// NewHealthHandler 創建新的健康檢查處理器，sessions 可為 nil.
func NewHealthHandler(ping Pinger, sessions SessionCounter, appName, database string, debug bool) *Handler {
	return &Handler{ping: ping, sessions: sessions, appName: appName, database: database, debug: debug}
}

// HealthCheck 健康檢查端點.
func (h *Handler) HealthCheck(c *gin.Context) {
	// 檢查資料庫連線.
	dbStatus := statusHealthy
	dbError := ""
	if err := h.checkDatabase(c.Request.Context()); err != nil {
		dbStatus = statusUnhealthy
		dbError = err.Error()
		logger.Errorf(c.Request.Context(), "健康檢查 - 資料庫連線失敗: %v", err)
	}

	// 檢查系統資源.
	systemStatus := h.checkSystemResources()

	// 從環境變數讀取版本，沒有則用預設值
	appVersion := os.Getenv("APP_VERSION")
	if appVersion == "" {
		appVersion = "NO_VERSION_SET"
	}

	sessions := 0
	if h.sessions != nil {
		sessions = h.sessions.SessionCount()
	}

	response := gin.H{
		"status":    statusHealthy,
		"timestamp": time.Now().Unix(),
		"app": gin.H{
			"name":    h.appName,
			"version": appVersion,
			"debug":   h.debug,
		},
		"database": gin.H{
			"status":   dbStatus,
			"error":    dbError,
			"database": h.database,
		},
		"realtime": gin.H{
			"sessions": sessions,
		},
		"system": gin.H{
			"status":  systemStatus.Status,
			"details": systemStatus.Details,
			"uptime":  time.Since(startTime).String(),
		},
	}

	// 資料庫不健康時整體狀態為 degraded，但仍回傳 200 讓監控系統知道服務本身存活.
	if dbStatus == statusUnhealthy {
		response["status"] = statusDegraded
	}

	c.JSON(http.StatusOK, response)
}

// SystemStatus 系統狀態.
type SystemStatus struct {
	Status  string                 `json:"status"`
	Details map[string]interface{} `json:"details"`
}

// checkSystemResources 檢查系統資源.
func (h *Handler) checkSystemResources() SystemStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	details := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc":       fmt.Sprintf("%.2f MB", float64(m.Alloc)/memoryMB),
			"total_alloc": fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/memoryMB),
			"sys":         fmt.Sprintf("%.2f MB", float64(m.Sys)/memoryMB),
			"num_gc":      m.NumGC,
		},
		"cpu": gin.H{
			"num_cpu": runtime.NumCPU(),
		},
	}

	status := statusHealthy
	if m.Sys/memoryMB > memoryThreshold {
		status = statusWarning
		details["memory_warning"] = "Memory usage is high"
	}

	return SystemStatus{
		Status:  status,
		Details: details,
	}
}

// checkDatabase 檢查資料庫連線.
func (h *Handler) checkDatabase(parent context.Context) error {
	if h.ping == nil {
		return fmt.Errorf("database connection not available")
	}
	ctx, cancel := context.WithTimeout(parent, dbTimeout)
	defer cancel()
	return h.ping(ctx)
}

// 記錄服務啟動時間.
var startTime = time.Now()

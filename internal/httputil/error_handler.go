package httputil

import (
	"net/http"

	"chat-relay/internal/chat"
	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// StatusFor 依錯誤分類決定 HTTP 狀態碼與錯誤代碼
func StatusFor(err error) (int, string) {
	switch chat.KindOf(err) {
	case chat.KindValidation:
		return http.StatusBadRequest, ErrorCodeValidation
	case chat.KindAuthentication:
		return http.StatusUnauthorized, ErrorCodeUnauthorized
	case chat.KindAuthorization:
		return http.StatusForbidden, ErrorCodeForbidden
	case chat.KindNotFound:
		return http.StatusNotFound, ErrorCodeNotFound
	case chat.KindTransientStore:
		return http.StatusServiceUnavailable, ErrorCodeStoreUnavailable
	default:
		return http.StatusInternalServerError, ErrorCodeInternal
	}
}

// RespondError 將領域錯誤轉為 JSON 回應。
// 未分類與儲存層錯誤只記錄在日誌，不把內部訊息回給用戶端。
func RespondError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	message := chat.PublicMessage(err)

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error(c.Request.Context(), "API Error: "+err.Error(),
			logger.WithUserID(middleware.UserID(c)),
			logger.WithDetails(map[string]interface{}{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"status": status,
			}))
		if status == http.StatusServiceUnavailable {
			message = "服務暫時無法使用，請稍後再試"
		} else {
			message = "服務器內部錯誤，請稍後再試"
		}
	case status == http.StatusForbidden:
		logger.Warning(c.Request.Context(), "拒絕存取: "+err.Error(), logger.WithUserID(middleware.UserID(c)))
	}

	abort(c, status, code, message)
}

// BadRequest 錯誤的請求
func BadRequest(c *gin.Context, message string) {
	abort(c, http.StatusBadRequest, ErrorCodeValidation, message)
}

// InvalidFile 上傳檔案不符合格式
func InvalidFile(c *gin.Context, message string) {
	abort(c, http.StatusBadRequest, ErrorCodeInvalidFile, message)
}

// PayloadTooLarge 上傳內容超過上限
func PayloadTooLarge(c *gin.Context, message string) {
	abort(c, http.StatusRequestEntityTooLarge, ErrorCodePayloadTooLarge, message)
}

// Unauthorized 未授權
func Unauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "未授權訪問"
	}
	abort(c, http.StatusUnauthorized, ErrorCodeUnauthorized, message)
}

// NotFoundError 資源不存在
func NotFoundError(c *gin.Context, message string) {
	if message == "" {
		message = "資源不存在"
	}
	abort(c, http.StatusNotFound, ErrorCodeNotFound, message)
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":    false,
		"message":    message,
		"error_code": code,
		"request_id": middleware.GetRequestID(c),
	})
}

// Package notification 提供通知與推播訂閱的 HTTP 介面
package notification

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/httputil"
	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/middleware"
	notifstore "chat-relay/internal/storage/database/notification"

	"github.com/gin-gonic/gin"
)

// SubscriptionWriter 推播訂閱寫入
type SubscriptionWriter interface {
	Upsert(ctx context.Context, sub *notifstore.Subscription) error
}

// SubscribeRequest 瀏覽器 PushSubscription.toJSON() 的內容
type SubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
}

// Handler 通知處理器
type Handler struct {
	notifier       *chat.Notifier
	subscriptions  SubscriptionWriter
	vapidPublicKey string
	pageSize       int
	now            func() time.Time
}

// NewHandler 創建通知處理器，subscriptions 為 nil 時不提供推播訂閱
func NewHandler(notifier *chat.Notifier, subscriptions SubscriptionWriter, vapidPublicKey string, pageSize int) *Handler {
	return &Handler{
		notifier:       notifier,
		subscriptions:  subscriptions,
		vapidPublicKey: vapidPublicKey,
		pageSize:       pageSize,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes 註冊路由，rg 需已套用 JWT 中間件
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	n := rg.Group("/notifications")
	n.GET("", h.List)
	n.GET("/unread-count", h.UnreadCount)
	n.PUT("/read-all", h.MarkAllRead)
	n.PUT("/:id/read", h.MarkRead)
	n.DELETE("/:id", h.Delete)

	rg.GET("/push/vapid-public-key", h.VAPIDPublicKey)
	rg.POST("/push/subscribe", h.Subscribe)
}

// List GET /notifications?limit
func (h *Handler) List(c *gin.Context) {
	limit := h.pageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.BadRequest(c, "limit 必須為非負整數")
			return
		}
		if n > 0 && n < limit {
			limit = n
		}
	}

	list, err := h.notifier.List(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	if list == nil {
		list = []*chat.Notification{}
	}
	httputil.OK(c, httputil.DataRetrieved, list)
}

// UnreadCount GET /notifications/unread-count
func (h *Handler) UnreadCount(c *gin.Context) {
	count, err := h.notifier.UnreadCount(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	httputil.OKWithCount(c, httputil.DataRetrieved, count)
}

// MarkAllRead PUT /notifications/read-all
func (h *Handler) MarkAllRead(c *gin.Context) {
	count, err := h.notifier.MarkAllRead(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	httputil.OKWithCount(c, httputil.DataUpdated, count)
}

// MarkRead PUT /notifications/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	id := c.Param("id")
	if err := h.notifier.MarkRead(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		httputil.RespondError(c, err)
		return
	}
	httputil.OK(c, httputil.DataUpdated, gin.H{"id": id})
}

// Delete DELETE /notifications/:id
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.notifier.Delete(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		httputil.RespondError(c, err)
		return
	}
	httputil.OK(c, httputil.DataDeleted, gin.H{"id": id})
}

// VAPIDPublicKey GET /push/vapid-public-key，前端訂閱時需要
func (h *Handler) VAPIDPublicKey(c *gin.Context) {
	if h.vapidPublicKey == "" {
		httputil.NotFoundError(c, "推播未啟用")
		return
	}
	httputil.OK(c, httputil.DataRetrieved, gin.H{"public_key": h.vapidPublicKey})
}

// Subscribe POST /push/subscribe，每個用戶只保留最新一筆訂閱
func (h *Handler) Subscribe(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)
	if userID == "" {
		httputil.Unauthorized(c, "")
		return
	}
	if h.subscriptions == nil {
		httputil.NotFoundError(c, "推播未啟用")
		return
	}

	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的訂閱內容")
		return
	}
	if !validEndpoint(req.Endpoint) {
		httputil.BadRequest(c, "endpoint 必須為 https URL")
		return
	}

	sub := &notifstore.Subscription{
		UserID:   userID,
		Endpoint: req.Endpoint,
		Keys: notifstore.SubscriptionKeys{
			P256dh: req.Keys.P256dh,
			Auth:   req.Keys.Auth,
		},
		UpdatedAt: h.now(),
	}
	if err := h.subscriptions.Upsert(ctx, sub); err != nil {
		httputil.RespondError(c, err)
		return
	}

	logger.Info(ctx, "推播訂閱已更新", logger.WithUserID(userID), logger.WithAction("push_subscribe"))
	httputil.Created(c, httputil.DataCreated, sub)
}

func validEndpoint(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "https"
}

package realtime

import (
	"context"
	"net/http"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/middleware"
	"chat-relay/internal/security/audit"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// TokenVerifier 驗證連線 token 並回傳用戶 ID
type TokenVerifier interface {
	Verify(raw string) (string, error)
}

// Handler WebSocket 入口與事件分派
type Handler struct {
	hub         *Hub
	coordinator *chat.Coordinator
	verifier    TokenVerifier
	directory   chat.Directory
	audit       *audit.AuditService
	upgrader    websocket.Upgrader
	cfg         config.RealtimeConfig
	now         func() time.Time
}

// NewHandler 創建 WebSocket 處理器
func NewHandler(hub *Hub, coordinator *chat.Coordinator, verifier TokenVerifier, directory chat.Directory, auditSvc *audit.AuditService, cfg config.RealtimeConfig) *Handler {
	return &Handler{
		hub:         hub,
		coordinator: coordinator,
		verifier:    verifier,
		directory:   directory,
		audit:       auditSvc,
		upgrader:    newUpgrader(cfg.AllowedOrigins),
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// newUpgrader 未設定允許來源時接受所有來源（本地開發）
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		},
	}
}

// ServeWS GET /ws，token 可放在 ?token= 或 Authorization 標頭。
// 連線存續期間阻塞於讀取迴圈。
func (h *Handler) ServeWS(c *gin.Context) {
	ctx := c.Request.Context()

	token := c.Query("token")
	if token == "" {
		token = middleware.BearerToken(c.GetHeader("Authorization"))
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		h.audit.LogAuthenticationFailure(ctx, "websocket: "+err.Error())
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "認證失敗", "error_code": "UNAUTHORIZED"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warning(ctx, "WebSocket 升級失敗", logger.WithUserID(userID), logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return
	}

	client := newClient(userID, conn, h.cfg.SendBuffer, rate.NewLimiter(rate.Limit(h.cfg.EventsPerSecond), h.cfg.EventBurst))
	h.connect(client)
	go client.writePump(h.writeWait(), h.pingPeriod())

	h.readPump(client)
	h.disconnect(client)
}

// connect 註冊連線並廣播上線
func (h *Handler) connect(client *Client) {
	first := h.hub.Register(client)
	logger.Info(context.Background(), "WebSocket 連線建立",
		logger.WithUserID(client.userID),
		logger.WithSessionID(client.id),
		logger.WithDetails(map[string]interface{}{"first_session": first, "sessions": h.hub.SessionCount()}),
	)
	h.hub.Broadcast(chat.Event{Type: chat.EventUserOnline, Data: chat.PresenceNotice{UserID: client.userID}})
}

// disconnect 移除連線；用戶最後一條連線關閉時記錄最後上線時間並廣播離線
func (h *Handler) disconnect(client *Client) {
	ctx := context.Background()
	last := h.hub.Unregister(client)
	logger.Info(ctx, "WebSocket 連線關閉", logger.WithUserID(client.userID), logger.WithSessionID(client.id))
	if !last {
		return
	}

	seen := h.now()
	if h.directory != nil {
		if err := h.directory.TouchLastActive(ctx, client.userID, seen); err != nil {
			logger.Warningf(ctx, "更新最後上線時間失敗: %v", err)
		}
	}
	h.hub.Broadcast(chat.Event{Type: chat.EventUserOffline, Data: chat.PresenceNotice{UserID: client.userID, LastSeen: &seen}})
}

func (h *Handler) readPump(client *Client) {
	conn := client.conn
	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	pongWait := h.pongWait()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := logger.WithTraceID(context.Background(), client.id)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warning(ctx, "WebSocket 讀取錯誤", logger.WithUserID(client.userID), logger.WithDetails(map[string]interface{}{"error": err.Error()}))
			}
			return
		}
		h.handleFrame(ctx, client, raw)
	}
}

// handleFrame 分派一個用戶端 frame，錯誤只回給該連線
func (h *Handler) handleFrame(ctx context.Context, client *Client, raw []byte) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		h.reply(client, "", chat.NewValidationError("realtime.frame", err.Error()))
		return
	}
	if client.limiter != nil && !client.limiter.Allow() {
		h.audit.LogRateLimitExceeded(ctx, "ws:"+env.Type)
		client.enqueueEvent(chat.Event{Type: chat.EventError, Data: ErrorNotice{Event: env.Type, Code: "rate_limited", Message: "事件過於頻繁，請稍後再試"}})
		return
	}

	switch env.Type {
	case InboundSendMessage:
		var req SendMessageRequest
		if err := decodeData(env, &req); err != nil {
			h.reply(client, env.Type, err)
			return
		}
		if req.carriesUpload() {
			h.reply(client, env.Type, chat.NewValidationError("realtime.send_message", "語音與檔案請透過上傳 API 傳送"))
			return
		}
		_, err = h.coordinator.Send(ctx, client.userID, req.To, chat.Payload{
			Text:         middleware.SanitizeInput(req.Text),
			SharedPostID: req.SharedPostID,
		})

	case InboundSharePost:
		var req SharePostRequest
		if err := decodeData(env, &req); err != nil {
			h.reply(client, env.Type, err)
			return
		}
		_, err = h.coordinator.Send(ctx, client.userID, req.To, chat.Payload{SharedPostID: req.PostID})

	case InboundTyping, InboundStopTyping:
		var req TypingRequest
		if err := decodeData(env, &req); err != nil {
			h.reply(client, env.Type, err)
			return
		}
		err = h.relayTyping(client.userID, req.To, env.Type)

	case InboundSeenChat:
		var req SeenRequest
		if err := decodeData(env, &req); err != nil {
			h.reply(client, env.Type, err)
			return
		}
		_, err = h.coordinator.MarkSeen(ctx, client.userID, req.From)

	default:
		err = chat.NewValidationError("realtime.frame", "不支援的事件類型")
	}

	if err != nil {
		h.reply(client, env.Type, err)
	}
}

// relayTyping 打字狀態不落地，只轉送給對方
func (h *Handler) relayTyping(from, to, eventType string) error {
	if to == "" || to == from {
		return chat.NewValidationError("realtime."+eventType, "無效的接收者")
	}
	outbound := chat.EventTyping
	if eventType == InboundStopTyping {
		outbound = chat.EventStopTyping
	}
	h.hub.Route(to, chat.Event{Type: outbound, Data: chat.TypingNotice{From: from}})
	return nil
}

func (h *Handler) reply(client *Client, eventType string, err error) {
	client.enqueueEvent(chat.Event{Type: chat.EventError, Data: ErrorNotice{
		Event:   eventType,
		Code:    chat.KindOf(err).String(),
		Message: chat.PublicMessage(err),
	}})
}

func (h *Handler) pongWait() time.Duration {
	return time.Duration(h.cfg.PongWaitSeconds) * time.Second
}

func (h *Handler) pingPeriod() time.Duration {
	return h.pongWait() * 9 / 10
}

func (h *Handler) writeWait() time.Duration {
	return time.Duration(h.cfg.WriteWaitSeconds) * time.Second
}

package audit

import (
	"context"
	"time"

	"chat-relay/internal/platform/logger"
)

// AuditService 審計服務
type AuditService struct {
	enabled bool
}

// NewAuditService 創建審計服務
func NewAuditService(enabled bool) *AuditService {
	return &AuditService{enabled: enabled}
}

// AuditEvent 審計事件
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	UserID    string                 `json:"user_id"`
	PeerID    string                 `json:"peer_id,omitempty"`
	MessageID string                 `json:"message_id,omitempty"`
	Action    string                 `json:"action"`
	Result    string                 `json:"result"` // success, failure, denied, blocked
	Details   map[string]interface{} `json:"details,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
}

type clientKey struct{}

type clientInfo struct {
	ip        string
	userAgent string
}

// WithClient 將來源 IP 與 User-Agent 放入 context，供審計事件使用
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, clientInfo{ip: ip, userAgent: userAgent})
}

// LogMessageSent 記錄消息發送
func (a *AuditService) LogMessageSent(ctx context.Context, userID, peerID, messageID, kind string) {
	a.record(ctx, AuditEvent{
		EventType: "message_sent",
		UserID:    userID,
		PeerID:    peerID,
		MessageID: messageID,
		Action:    "send_message",
		Result:    "success",
		Details:   map[string]interface{}{"kind": kind},
	})
}

// LogMessageDeleted 記錄刪除訊息
func (a *AuditService) LogMessageDeleted(ctx context.Context, userID, messageID, scope string) {
	a.record(ctx, AuditEvent{
		EventType: "message_deleted",
		UserID:    userID,
		MessageID: messageID,
		Action:    "delete_message",
		Result:    "success",
		Details:   map[string]interface{}{"scope": scope},
	})
}

// LogConversationCleared 記錄清除對話
func (a *AuditService) LogConversationCleared(ctx context.Context, userID, peerID, scope string, hidden int64, deleted int) {
	a.record(ctx, AuditEvent{
		EventType: "conversation_cleared",
		UserID:    userID,
		PeerID:    peerID,
		Action:    "clear_conversation",
		Result:    "success",
		Details: map[string]interface{}{
			"scope":   scope,
			"hidden":  hidden,
			"deleted": deleted,
		},
	})
}

// LogAuthenticationFailure 記錄認證失敗
func (a *AuditService) LogAuthenticationFailure(ctx context.Context, reason string) {
	a.record(ctx, AuditEvent{
		EventType: "authentication",
		Action:    "authenticate",
		Result:    "failure",
		Details:   map[string]interface{}{"reason": reason},
	})
}

// LogAccessDenied 記錄訪問被拒絕
func (a *AuditService) LogAccessDenied(ctx context.Context, userID, resourceID, reason string) {
	a.record(ctx, AuditEvent{
		EventType: "access_denied",
		UserID:    userID,
		Action:    "access_resource",
		Result:    "denied",
		Details: map[string]interface{}{
			"resource_id": resourceID,
			"reason":      reason,
		},
	})
}

// LogRateLimitExceeded 記錄速率限制超過
func (a *AuditService) LogRateLimitExceeded(ctx context.Context, endpoint string) {
	a.record(ctx, AuditEvent{
		EventType: "rate_limit",
		Action:    "api_request",
		Result:    "blocked",
		Details:   map[string]interface{}{"endpoint": endpoint},
	})
}

// IsEnabled 檢查審計是否啟用
func (a *AuditService) IsEnabled() bool {
	return a != nil && a.enabled
}

func (a *AuditService) record(ctx context.Context, event AuditEvent) {
	if !a.IsEnabled() {
		return
	}
	event.Timestamp = time.Now().UTC()
	if info, ok := ctx.Value(clientKey{}).(clientInfo); ok {
		event.IPAddress = info.ip
		event.UserAgent = info.userAgent
	}

	details := map[string]interface{}{
		"event_type": event.EventType,
		"result":     event.Result,
		"timestamp":  event.Timestamp,
	}
	if event.IPAddress != "" {
		details["ip_address"] = event.IPAddress
	}
	if event.UserAgent != "" {
		details["user_agent"] = event.UserAgent
	}
	for k, v := range event.Details {
		details[k] = v
	}

	logger.Notice(ctx, "[AUDIT] "+event.EventType,
		logger.WithUserID(event.UserID),
		logger.WithPeerID(event.PeerID),
		logger.WithMessageID(event.MessageID),
		logger.WithAction(event.Action),
		logger.WithLabels(map[string]string{"log_type": "audit"}),
		logger.WithDetails(details),
	)
}

package chat

import "time"

// 伺服器推送事件名稱
const (
	EventNewMessage             = "new_message"
	EventMessageDelivered       = "message_delivered"
	EventMessagesSeen           = "messages_seen"
	EventMessageDeleted         = "message_deleted"
	EventChatCleared            = "chat_cleared"
	EventTyping                 = "typing"
	EventStopTyping             = "stop_typing"
	EventNewMessageNotification = "new_message_notification"
	EventNewNotification        = "new_notification"
	EventUserOnline             = "user_online"
	EventUserOffline            = "user_offline"
	EventError                  = "error"
)

// Event 推送給連線的事件
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// DeliveryReceipt message_delivered 內容
type DeliveryReceipt struct {
	MessageID   string    `json:"message_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// DeletionNotice message_deleted 內容
type DeletionNotice struct {
	MessageID string      `json:"message_id"`
	Scope     DeleteScope `json:"scope"`
}

// ClearNotice chat_cleared 內容
type ClearNotice struct {
	By          string      `json:"by"`
	Counterpart string      `json:"counterpart"`
	Scope       DeleteScope `json:"scope"`
}

// TypingNotice typing / stop_typing 內容
type TypingNotice struct {
	From string `json:"from"`
}

// MessageNotificationNotice new_message_notification 內容
type MessageNotificationNotice struct {
	NotificationID string `json:"notification_id"`
	FromUserID     string `json:"from_user_id"`
	SenderName     string `json:"sender_name"`
	Text           string `json:"text"`
}

// PresenceNotice user_online / user_offline 內容
type PresenceNotice struct {
	UserID   string     `json:"user_id"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

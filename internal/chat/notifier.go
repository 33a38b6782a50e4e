package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/metrics"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	defaultMessageNotificationText = "Sent you a message"
	maxSnippetRunes                = 100
)

var defaultNotificationText = map[NotificationKind]string{
	NotificationLike:    "liked your post",
	NotificationComment: "commented on your post",
	NotificationFollow:  "started following you",
	NotificationMessage: defaultMessageNotificationText,
}

// NotificationRef 通知關聯資訊
type NotificationRef struct {
	MessageID string
	PostID    string
	Text      string
}

// Notifier 通知去重器：同一 (來源, 目標) 只保留一筆未讀的訊息通知
type Notifier struct {
	store     NotificationStore
	fanout    Publisher
	directory Directory
	push      PushSender
	now       func() time.Time
	newID     func() string
}

// NewNotifier 創建通知去重器，directory 與 push 可為 nil
func NewNotifier(store NotificationStore, fanout Publisher, directory Directory, push PushSender) *Notifier {
	return &Notifier{
		store:     store,
		fanout:    fanout,
		directory: directory,
		push:      push,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return bson.NewObjectID().Hex() },
	}
}

// SetClock 測試用時間來源
func (n *Notifier) SetClock(now func() time.Time) {
	n.now = now
}

// NotifyIfNeeded 決定是否建立通知。回傳 (通知, 是否新建)。
// 訊息類通知在已有未讀時不建立；其餘類型一律建立。
func (n *Notifier) NotifyIfNeeded(ctx context.Context, kind NotificationKind, source, target string, ref NotificationRef) (*Notification, bool, error) {
	const op = "chat.NotifyIfNeeded"

	if source == "" || target == "" {
		return nil, false, NewValidationError(op, "缺少通知來源或目標")
	}
	if _, err := ParseNotificationKind(op, string(kind)); err != nil {
		return nil, false, err
	}
	if source == target {
		return nil, false, nil
	}

	if kind == NotificationMessage {
		existing, err := n.store.FindUnread(ctx, source, target, kind)
		if err != nil {
			return nil, false, wrapStore(op, err)
		}
		if existing != nil {
			metrics.Notifications.WithLabelValues(string(kind), "suppressed").Inc()
			return existing, false, nil
		}
	}

	notification := &Notification{
		ID:         n.newID(),
		Kind:       kind,
		FromUserID: source,
		ToUserID:   target,
		MessageID:  ref.MessageID,
		PostID:     ref.PostID,
		Text:       snippet(kind, ref.Text),
		CreatedAt:  n.now(),
	}
	if err := n.store.Create(ctx, notification); err != nil {
		if errors.Is(err, ErrDuplicate) {
			metrics.Notifications.WithLabelValues(string(kind), "suppressed").Inc()
			return nil, false, nil
		}
		return nil, false, wrapStore(op, err)
	}
	metrics.Notifications.WithLabelValues(string(kind), "created").Inc()

	n.announce(ctx, notification)
	return notification, true, nil
}

// NotifyMessage 訊息送出後的通知，錯誤只記錄
func (n *Notifier) NotifyMessage(ctx context.Context, m *Message) {
	text := m.Text
	if m.Kind == MessageSharedPost {
		text = ""
	}
	_, _, err := n.NotifyIfNeeded(ctx, NotificationMessage, m.SenderID, m.ReceiverID, NotificationRef{
		MessageID: m.ID,
		PostID:    m.SharedPostID,
		Text:      text,
	})
	if err != nil {
		logger.Warning(ctx, "建立訊息通知失敗",
			logger.WithUserID(m.ReceiverID),
			logger.WithPeerID(m.SenderID),
			logger.WithMessageID(m.ID),
			logger.WithAction("notify_message"),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
	}
}

// MarkRead 標記單則通知已讀
func (n *Notifier) MarkRead(ctx context.Context, id, actor string) error {
	const op = "chat.MarkRead"

	notification, err := n.owned(ctx, op, id, actor)
	if err != nil {
		return err
	}
	if notification.Read {
		return nil
	}
	return wrapStore(op, n.store.MarkRead(ctx, id, n.now()))
}

// MarkAllRead 標記 actor 全部通知已讀
func (n *Notifier) MarkAllRead(ctx context.Context, actor string) (int64, error) {
	const op = "chat.MarkAllRead"

	if actor == "" {
		return 0, NewAuthenticationError(op, "缺少用戶身份")
	}
	count, err := n.store.MarkAllRead(ctx, actor, n.now())
	if err != nil {
		return 0, wrapStore(op, err)
	}
	return count, nil
}

// MarkConversationRead 對話已讀時一併將該來源的未讀訊息通知標為已讀
func (n *Notifier) MarkConversationRead(ctx context.Context, from, to string) {
	if _, err := n.store.MarkReadFrom(ctx, from, to, NotificationMessage, n.now()); err != nil {
		logger.Warning(ctx, "標記訊息通知已讀失敗",
			logger.WithUserID(to),
			logger.WithPeerID(from),
			logger.WithAction("mark_conversation_read"),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
	}
}

// Delete 刪除單則通知
func (n *Notifier) Delete(ctx context.Context, id, actor string) error {
	const op = "chat.DeleteNotification"

	if _, err := n.owned(ctx, op, id, actor); err != nil {
		return err
	}
	return wrapStore(op, n.store.Delete(ctx, id))
}

// List 取得 actor 的通知，由新到舊
func (n *Notifier) List(ctx context.Context, actor string, limit int) ([]*Notification, error) {
	const op = "chat.ListNotifications"

	if actor == "" {
		return nil, NewAuthenticationError(op, "缺少用戶身份")
	}
	if limit <= 0 {
		limit = 50
	}
	list, err := retryRead(ctx, op, func(ctx context.Context) ([]*Notification, error) {
		return n.store.List(ctx, actor, limit)
	})
	return list, wrapStore(op, err)
}

// UnreadCount 未讀通知數
func (n *Notifier) UnreadCount(ctx context.Context, actor string) (int64, error) {
	const op = "chat.UnreadCount"

	if actor == "" {
		return 0, NewAuthenticationError(op, "缺少用戶身份")
	}
	count, err := retryRead(ctx, op, func(ctx context.Context) (int64, error) {
		return n.store.CountUnread(ctx, actor)
	})
	return count, wrapStore(op, err)
}

// PruneRead 刪除 readBefore 之前已讀的通知
func (n *Notifier) PruneRead(ctx context.Context, readBefore time.Time) (int64, error) {
	count, err := n.store.PruneRead(ctx, readBefore)
	return count, wrapStore("chat.PruneRead", err)
}

func (n *Notifier) owned(ctx context.Context, op, id, actor string) (*Notification, error) {
	if actor == "" {
		return nil, NewAuthenticationError(op, "缺少用戶身份")
	}
	if strings.TrimSpace(id) == "" {
		return nil, NewValidationError(op, "缺少通知 ID")
	}
	notification, err := n.store.Get(ctx, id)
	if err != nil {
		return nil, wrapStore(op, err)
	}
	if notification.ToUserID != actor {
		return nil, NewAuthorizationError(op, "無權操作此通知")
	}
	return notification, nil
}

// announce 推送即時事件與離線推播，失敗不影響通知本身
func (n *Notifier) announce(ctx context.Context, notification *Notification) {
	senderName := notification.FromUserID
	if n.directory != nil {
		if name, err := n.directory.DisplayName(ctx, notification.FromUserID); err == nil && name != "" {
			senderName = name
		}
	}

	if n.fanout != nil {
		if notification.Kind == NotificationMessage {
			n.fanout.Route(notification.ToUserID, Event{
				Type: EventNewMessageNotification,
				Data: MessageNotificationNotice{
					NotificationID: notification.ID,
					FromUserID:     notification.FromUserID,
					SenderName:     senderName,
					Text:           notification.Text,
				},
			})
		} else {
			n.fanout.Route(notification.ToUserID, Event{Type: EventNewNotification, Data: notification})
		}
	}

	if n.push == nil {
		return
	}
	payload := PushPayload{
		Title: senderName,
		Body:  notification.Text,
		Tag:   string(notification.Kind) + ":" + notification.FromUserID,
	}
	if notification.Kind == NotificationMessage {
		payload.URL = "/chat/" + notification.FromUserID
	}
	if err := n.push.Send(ctx, notification.ToUserID, payload); err != nil {
		logger.Warning(ctx, "推播發送失敗",
			logger.WithUserID(notification.ToUserID),
			logger.WithNotificationID(notification.ID),
			logger.WithAction("push_notification"),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
	}
}

func snippet(kind NotificationKind, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return defaultNotificationText[kind]
	}
	if utf8.RuneCountInString(text) <= maxSnippetRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxSnippetRunes]) + "…"
}

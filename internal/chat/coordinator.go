package chat

import (
	"context"
	"strings"
	"time"

	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/metrics"
	"chat-relay/internal/security/audit"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Coordinator 訊息生命週期協調器，負責投遞狀態機與刪除／清除
type Coordinator struct {
	messages      MessageStore
	notifier      *Notifier
	fanout        Publisher
	audit         *audit.AuditService
	now           func() time.Time
	newID         func() string
	maxTextLength int
}

// Option 協調器選項
type Option func(*Coordinator)

// WithClock 指定時間來源
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator 指定訊息 ID 產生方式
func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

// WithMaxTextLength 文字訊息最大字元數
func WithMaxTextLength(n int) Option {
	return func(c *Coordinator) { c.maxTextLength = n }
}

// WithAudit 設定審計服務
func WithAudit(a *audit.AuditService) Option {
	return func(c *Coordinator) { c.audit = a }
}

// NewCoordinator 創建協調器
func NewCoordinator(messages MessageStore, notifier *Notifier, fanout Publisher, opts ...Option) *Coordinator {
	c := &Coordinator{
		messages: messages,
		notifier: notifier,
		fanout:   fanout,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return bson.NewObjectID().Hex() },
	}
	for _, opt := range opts {
		opt(c)
	}
	// 儲存層只保留毫秒，時間戳與游標一律截到毫秒
	clock := c.now
	c.now = func() time.Time { return clock().UTC().Truncate(time.Millisecond) }
	return c
}

// ClearResult 清除對話的結果
type ClearResult struct {
	Scope   DeleteScope `json:"scope"`
	Hidden  int64       `json:"hidden"`
	Deleted []string    `json:"deleted,omitempty"`
}

// Send 建立訊息並依序完成 sent → delivered。
// 持久化不受呼叫端取消影響；delivered 轉換失敗不回傳錯誤，之後由 MarkSeen 補上。
func (c *Coordinator) Send(ctx context.Context, senderID, receiverID string, p Payload) (*Message, error) {
	const op = "chat.Send"

	if senderID == "" {
		return nil, NewAuthenticationError(op, "缺少發送者身份")
	}
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return nil, NewValidationError(op, "缺少接收者")
	}
	if receiverID == senderID {
		return nil, NewValidationError(op, "不能傳訊息給自己")
	}
	kind, err := p.kind(op, c.maxTextLength)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)

	m := &Message{
		ID:              c.newID(),
		ConversationKey: ConversationKey(senderID, receiverID),
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Kind:            kind,
		Audio:           p.Audio,
		File:            p.File,
		Status:          StatusSent,
		HiddenFor:       []string{},
		CreatedAt:       c.now(),
	}
	switch kind {
	case MessageText:
		m.Text = p.Text
	case MessageSharedPost:
		m.SharedPostID = strings.TrimSpace(p.SharedPostID)
	}

	if err := c.messages.Create(ctx, m); err != nil {
		logger.Error(ctx, "訊息寫入失敗",
			logger.WithUserID(senderID),
			logger.WithPeerID(receiverID),
			logger.WithAction("send_message"),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
		return nil, wrapStore(op, err)
	}
	metrics.MessagesSent.WithLabelValues(string(kind)).Inc()
	c.audit.LogMessageSent(ctx, senderID, receiverID, m.ID, string(kind))

	c.emitToParticipants(m, Event{Type: EventNewMessage, Data: m.Snapshot()})

	deliveredAt := c.now()
	n, err := c.messages.AdvanceStatus(ctx, []string{m.ID}, StatusSent, StatusDelivered, deliveredAt)
	if err != nil {
		logger.Warning(ctx, "訊息已寫入但 delivered 狀態更新失敗",
			logger.WithUserID(senderID),
			logger.WithMessageID(m.ID),
			logger.WithAction("deliver_message"),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
	} else if n > 0 {
		m.Status = StatusDelivered
		m.DeliveredAt = &deliveredAt
		metrics.StatusTransitions.WithLabelValues(string(StatusDelivered)).Inc()
		c.emitToParticipants(m, Event{
			Type: EventMessageDelivered,
			Data: DeliveryReceipt{MessageID: m.ID, DeliveredAt: deliveredAt},
		})
	}

	if c.notifier != nil {
		c.notifier.NotifyMessage(ctx, m)
	}

	logger.Info(ctx, "訊息已送出",
		logger.WithUserID(senderID),
		logger.WithPeerID(receiverID),
		logger.WithMessageID(m.ID),
		logger.WithAction("send_message"),
		logger.WithDetails(map[string]interface{}{
			"kind":   kind,
			"status": m.Status,
		}),
	)
	return m, nil
}

// MarkSeen 將 counterpart 傳給 viewer 的未讀訊息標為 seen，回傳受影響的訊息 ID。
// 仍停在 sent 的訊息會先轉為 delivered。
func (c *Coordinator) MarkSeen(ctx context.Context, viewer, counterpart string) ([]string, error) {
	const op = "chat.MarkSeen"

	if viewer == "" {
		return nil, NewAuthenticationError(op, "缺少用戶身份")
	}
	if counterpart == "" || counterpart == viewer {
		return nil, NewValidationError(op, "無效的對話對象")
	}

	pending, err := c.messages.PendingSeen(ctx, counterpart, viewer)
	if err != nil {
		return nil, wrapStore(op, err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	var stuck []*Message
	for _, m := range pending {
		ids = append(ids, m.ID)
		if m.Status == StatusSent {
			stuck = append(stuck, m)
		}
	}

	if len(stuck) > 0 {
		deliveredAt := c.now()
		stuckIDs := make([]string, 0, len(stuck))
		for _, m := range stuck {
			stuckIDs = append(stuckIDs, m.ID)
		}
		n, err := c.messages.AdvanceStatus(ctx, stuckIDs, StatusSent, StatusDelivered, deliveredAt)
		if err != nil {
			return nil, wrapStore(op, err)
		}
		advanced := c.advancedIDs(ctx, stuckIDs, n, StatusDelivered, deliveredAt)
		for _, m := range stuck {
			if !advanced[m.ID] {
				continue
			}
			metrics.StatusTransitions.WithLabelValues(string(StatusDelivered)).Inc()
			c.emitToParticipants(m, Event{
				Type: EventMessageDelivered,
				Data: DeliveryReceipt{MessageID: m.ID, DeliveredAt: deliveredAt},
			})
		}
	}

	seenAt := c.now()
	n, err := c.messages.AdvanceStatus(ctx, ids, StatusDelivered, StatusSeen, seenAt)
	if err != nil {
		return nil, wrapStore(op, err)
	}
	metrics.StatusTransitions.WithLabelValues(string(StatusSeen)).Add(float64(n))

	advanced := c.advancedIDs(ctx, ids, n, StatusSeen, seenAt)
	seen := ids[:0]
	for _, id := range ids {
		if advanced[id] {
			seen = append(seen, id)
		}
	}
	ids = seen
	if len(ids) == 0 {
		return nil, nil
	}

	c.fanout.Route(counterpart, Event{Type: EventMessagesSeen, Data: ids})

	if c.notifier != nil {
		c.notifier.MarkConversationRead(ctx, counterpart, viewer)
	}

	logger.Info(ctx, "訊息已讀",
		logger.WithUserID(viewer),
		logger.WithPeerID(counterpart),
		logger.WithAction("seen_chat"),
		logger.WithDetails(map[string]interface{}{"count": len(ids)}),
	)
	return ids, nil
}

// advancedIDs 找出本次 AdvanceStatus 實際推進的訊息。
// n 與 ids 數量相同時全部成立；否則重新讀取，只保留狀態與時間戳都由本次寫入者。
func (c *Coordinator) advancedIDs(ctx context.Context, ids []string, n int64, to Status, at time.Time) map[string]bool {
	out := make(map[string]bool, len(ids))
	if n == int64(len(ids)) {
		for _, id := range ids {
			out[id] = true
		}
		return out
	}
	if n == 0 {
		return out
	}
	for _, id := range ids {
		m, err := c.messages.Get(ctx, id)
		if err != nil {
			if !IsNotFound(err) {
				logger.Warning(ctx, "確認訊息狀態失敗", logger.WithMessageID(id),
					logger.WithDetails(map[string]interface{}{"error": err.Error()}))
			}
			continue
		}
		var stamp *time.Time
		switch to {
		case StatusDelivered:
			stamp = m.DeliveredAt
		case StatusSeen:
			stamp = m.SeenAt
		}
		if m.Status.AtLeast(to) && stamp != nil && stamp.Equal(at) {
			out[id] = true
		}
	}
	return out
}

// DeleteForMe 將訊息對 actor 隱藏，重複呼叫不會失敗
func (c *Coordinator) DeleteForMe(ctx context.Context, actor, messageID string) error {
	const op = "chat.DeleteForMe"

	m, err := c.load(ctx, op, actor, messageID)
	if err != nil {
		return err
	}
	if !m.HasParticipant(actor) {
		c.audit.LogAccessDenied(ctx, actor, messageID, "not a participant")
		return NewNotFoundError(op, "訊息不存在")
	}

	if !m.HiddenForUser(actor) {
		if err := c.messages.Hide(ctx, messageID, actor); err != nil {
			return wrapStore(op, err)
		}
	}

	metrics.MessagesDeleted.WithLabelValues(string(ScopeMe)).Inc()
	c.audit.LogMessageDeleted(ctx, actor, messageID, string(ScopeMe))
	c.fanout.Route(actor, Event{
		Type: EventMessageDeleted,
		Data: DeletionNotice{MessageID: messageID, Scope: ScopeMe},
	})
	return nil
}

// DeleteForEveryone 由發送者全域刪除訊息
func (c *Coordinator) DeleteForEveryone(ctx context.Context, actor, messageID string) error {
	const op = "chat.DeleteForEveryone"

	m, err := c.load(ctx, op, actor, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != actor {
		c.audit.LogAccessDenied(ctx, actor, messageID, "only sender can delete for everyone")
		return NewAuthorizationError(op, "只有發送者可以對所有人刪除訊息")
	}

	if err := c.messages.MarkDeletedForEveryone(ctx, messageID, c.now()); err != nil {
		return wrapStore(op, err)
	}

	metrics.MessagesDeleted.WithLabelValues(string(ScopeEveryone)).Inc()
	c.audit.LogMessageDeleted(ctx, actor, messageID, string(ScopeEveryone))
	c.emitToParticipants(m, Event{
		Type: EventMessageDeleted,
		Data: DeletionNotice{MessageID: messageID, Scope: ScopeEveryone},
	})
	return nil
}

// Delete 依範圍刪除單則訊息
func (c *Coordinator) Delete(ctx context.Context, actor, messageID string, scope DeleteScope) error {
	if scope == ScopeEveryone {
		return c.DeleteForEveryone(ctx, actor, messageID)
	}
	return c.DeleteForMe(ctx, actor, messageID)
}

// ClearConversation 清除 actor 與 counterpart 的對話。
// me: 隱藏 actor 目前可見的全部訊息。
// everyone: 逐則全域刪除 actor 自己發送的訊息，其餘訊息只對 actor 隱藏。
func (c *Coordinator) ClearConversation(ctx context.Context, actor, counterpart string, scope DeleteScope) (*ClearResult, error) {
	const op = "chat.ClearConversation"

	if actor == "" {
		return nil, NewAuthenticationError(op, "缺少用戶身份")
	}
	if counterpart == "" || counterpart == actor {
		return nil, NewValidationError(op, "無效的對話對象")
	}
	if scope != ScopeMe && scope != ScopeEveryone {
		return nil, NewValidationError(op, "mode 必須為 me 或 everyone")
	}

	ctx = context.WithoutCancel(ctx)
	cutoff := c.now()
	result := &ClearResult{Scope: scope}

	if scope == ScopeEveryone {
		ids, err := c.messages.SentIDs(ctx, actor, counterpart, cutoff)
		if err != nil {
			return nil, wrapStore(op, err)
		}
		for _, id := range ids {
			err := c.DeleteForEveryone(ctx, actor, id)
			switch {
			case err == nil:
				result.Deleted = append(result.Deleted, id)
			case IsNotFound(err):
				// 已被其他請求刪除
			default:
				return nil, err
			}
		}
	}

	hidden, err := c.messages.HideConversation(ctx, actor, counterpart, cutoff)
	if err != nil {
		return nil, wrapStore(op, err)
	}
	result.Hidden = hidden

	c.audit.LogConversationCleared(ctx, actor, counterpart, string(scope), hidden, len(result.Deleted))

	notice := Event{Type: EventChatCleared, Data: ClearNotice{By: actor, Counterpart: counterpart, Scope: scope}}
	c.fanout.Route(actor, notice)
	if scope == ScopeEveryone {
		c.fanout.Route(counterpart, notice)
	}

	logger.Info(ctx, "對話已清除",
		logger.WithUserID(actor),
		logger.WithPeerID(counterpart),
		logger.WithAction("clear_conversation"),
		logger.WithDetails(map[string]interface{}{
			"scope":   scope,
			"hidden":  hidden,
			"deleted": len(result.Deleted),
		}),
	)
	return result, nil
}

// load 取得訊息，已全域刪除視為不存在
func (c *Coordinator) load(ctx context.Context, op, actor, messageID string) (*Message, error) {
	if actor == "" {
		return nil, NewAuthenticationError(op, "缺少用戶身份")
	}
	if strings.TrimSpace(messageID) == "" {
		return nil, NewValidationError(op, "缺少訊息 ID")
	}
	m, err := c.messages.Get(ctx, messageID)
	if err != nil {
		return nil, wrapStore(op, err)
	}
	if m.DeletedForEveryone {
		return nil, NewNotFoundError(op, "訊息不存在")
	}
	return m, nil
}

func (c *Coordinator) emitToParticipants(m *Message, ev Event) {
	c.fanout.Route(m.SenderID, ev)
	c.fanout.Route(m.ReceiverID, ev)
}

// Package chattest 提供 chat 套件介面的記憶體實作，供測試使用
package chattest

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat-relay/internal/chat"
)

// MessageStore 記憶體訊息儲存
type MessageStore struct {
	mu       sync.Mutex
	messages map[string]*chat.Message

	// FailNext 設定後，下一次呼叫指定方法會回傳此錯誤
	failNext map[string]error
}

// NewMessageStore 創建記憶體訊息儲存
func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: make(map[string]*chat.Message),
		failNext: make(map[string]error),
	}
}

// FailNext 讓下一次呼叫 method 回傳 err
func (s *MessageStore) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[method] = err
}

func (s *MessageStore) takeFailure(method string) error {
	if err, ok := s.failNext[method]; ok {
		delete(s.failNext, method)
		return err
	}
	return nil
}

// Raw 取得儲存中的原始訊息副本（包含已刪除）
func (s *MessageStore) Raw(id string) (*chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, false
	}
	cp := m.Snapshot()
	return &cp, true
}

// Put 直接寫入訊息，略過協調器
func (s *MessageStore) Put(m *chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := m.Snapshot()
	if cp.ConversationKey == "" {
		cp.ConversationKey = chat.ConversationKey(cp.SenderID, cp.ReceiverID)
	}
	s.messages[cp.ID] = &cp
}

func (s *MessageStore) Create(ctx context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("Create"); err != nil {
		return err
	}
	if _, exists := s.messages[m.ID]; exists {
		return chat.ErrDuplicate
	}
	cp := m.Snapshot()
	s.messages[m.ID] = &cp
	return nil
}

func (s *MessageStore) Get(ctx context.Context, id string) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("Get"); err != nil {
		return nil, err
	}
	m, ok := s.messages[id]
	if !ok {
		return nil, chat.NewNotFoundError("chattest.Get", "訊息不存在")
	}
	cp := m.Snapshot()
	return &cp, nil
}

func (s *MessageStore) AdvanceStatus(ctx context.Context, ids []string, from, to chat.Status, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("AdvanceStatus"); err != nil {
		return 0, err
	}
	if next, ok := from.Next(); !ok || next != to {
		return 0, chat.NewValidationError("chattest.AdvanceStatus", "非法的狀態轉換")
	}
	var n int64
	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok || m.DeletedForEveryone || m.Status != from {
			continue
		}
		m.Status = to
		ts := at
		switch to {
		case chat.StatusDelivered:
			m.DeliveredAt = &ts
		case chat.StatusSeen:
			m.SeenAt = &ts
		}
		n++
	}
	return n, nil
}

func (s *MessageStore) PendingSeen(ctx context.Context, from, to string) ([]*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("PendingSeen"); err != nil {
		return nil, err
	}
	var out []*chat.Message
	for _, m := range s.messages {
		if m.SenderID == from && m.ReceiverID == to && !m.DeletedForEveryone && m.Status != chat.StatusSeen {
			cp := m.Snapshot()
			out = append(out, &cp)
		}
	}
	chat.SortAscending(out)
	return out, nil
}

func (s *MessageStore) Hide(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("Hide"); err != nil {
		return err
	}
	m, ok := s.messages[id]
	if !ok || m.DeletedForEveryone {
		return chat.NewNotFoundError("chattest.Hide", "訊息不存在")
	}
	if !m.HiddenForUser(userID) {
		m.HiddenFor = append(m.HiddenFor, userID)
	}
	return nil
}

func (s *MessageStore) MarkDeletedForEveryone(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("MarkDeletedForEveryone"); err != nil {
		return err
	}
	m, ok := s.messages[id]
	if !ok || m.DeletedForEveryone {
		return chat.NewNotFoundError("chattest.MarkDeletedForEveryone", "訊息不存在")
	}
	ts := at
	m.DeletedForEveryone = true
	m.DeletedAt = &ts
	return nil
}

func (s *MessageStore) Conversation(ctx context.Context, q chat.ConversationQuery) ([]*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("Conversation"); err != nil {
		return nil, err
	}
	key := chat.ConversationKey(q.Viewer, q.Counterpart)
	var out []*chat.Message
	for _, m := range s.messages {
		if m.ConversationKey != key || !chat.IsVisible(m, q.Viewer) {
			continue
		}
		if !q.Before.IsZero() && !chat.OlderThan(m, q.Before, q.BeforeID) {
			continue
		}
		cp := m.Snapshot()
		out = append(out, &cp)
	}
	chat.SortDescending(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MessageStore) LatestPerCounterpart(ctx context.Context, viewer string) ([]*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("LatestPerCounterpart"); err != nil {
		return nil, err
	}
	// 回傳全部可見訊息，交由 chat.Summarize 去重
	var out []*chat.Message
	for _, m := range s.messages {
		if chat.IsVisible(m, viewer) {
			cp := m.Snapshot()
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MessageStore) HideConversation(ctx context.Context, viewer, counterpart string, until time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("HideConversation"); err != nil {
		return 0, err
	}
	key := chat.ConversationKey(viewer, counterpart)
	var n int64
	for _, m := range s.messages {
		if m.ConversationKey != key || !chat.IsVisible(m, viewer) || m.CreatedAt.After(until) {
			continue
		}
		m.HiddenFor = append(m.HiddenFor, viewer)
		n++
	}
	return n, nil
}

func (s *MessageStore) SentIDs(ctx context.Context, sender, receiver string, until time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("SentIDs"); err != nil {
		return nil, err
	}
	var msgs []*chat.Message
	for _, m := range s.messages {
		if m.SenderID == sender && m.ReceiverID == receiver && !m.DeletedForEveryone && !m.CreatedAt.After(until) {
			msgs = append(msgs, m)
		}
	}
	chat.SortAscending(msgs)
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// NotificationStore 記憶體通知儲存，模擬未讀訊息通知的唯一索引
type NotificationStore struct {
	mu            sync.Mutex
	notifications map[string]*chat.Notification
	failNext      map[string]error
}

// NewNotificationStore 創建記憶體通知儲存
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{
		notifications: make(map[string]*chat.Notification),
		failNext:      make(map[string]error),
	}
}

// FailNext 讓下一次呼叫 method 回傳 err
func (s *NotificationStore) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[method] = err
}

func (s *NotificationStore) takeFailure(method string) error {
	if err, ok := s.failNext[method]; ok {
		delete(s.failNext, method)
		return err
	}
	return nil
}

// All 取得所有通知副本
func (s *NotificationStore) All() []*chat.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*chat.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *NotificationStore) Create(ctx context.Context, n *chat.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("Create"); err != nil {
		return err
	}
	if n.Kind == chat.NotificationMessage && !n.Read {
		for _, existing := range s.notifications {
			if existing.Kind == n.Kind && !existing.Read &&
				existing.FromUserID == n.FromUserID && existing.ToUserID == n.ToUserID {
				return chat.ErrDuplicate
			}
		}
	}
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *NotificationStore) Get(ctx context.Context, id string) (*chat.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("Get"); err != nil {
		return nil, err
	}
	n, ok := s.notifications[id]
	if !ok {
		return nil, chat.NewNotFoundError("chattest.Get", "通知不存在")
	}
	cp := *n
	return &cp, nil
}

func (s *NotificationStore) FindUnread(ctx context.Context, from, to string, kind chat.NotificationKind) (*chat.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("FindUnread"); err != nil {
		return nil, err
	}
	for _, n := range s.notifications {
		if n.FromUserID == from && n.ToUserID == to && n.Kind == kind && !n.Read {
			cp := *n
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("MarkRead"); err != nil {
		return err
	}
	n, ok := s.notifications[id]
	if !ok {
		return chat.NewNotFoundError("chattest.MarkRead", "通知不存在")
	}
	ts := at
	n.Read = true
	n.ReadAt = &ts
	return nil
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("MarkAllRead"); err != nil {
		return 0, err
	}
	var count int64
	for _, n := range s.notifications {
		if n.ToUserID == userID && !n.Read {
			ts := at
			n.Read = true
			n.ReadAt = &ts
			count++
		}
	}
	return count, nil
}

func (s *NotificationStore) MarkReadFrom(ctx context.Context, from, to string, kind chat.NotificationKind, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("MarkReadFrom"); err != nil {
		return 0, err
	}
	var count int64
	for _, n := range s.notifications {
		if n.FromUserID == from && n.ToUserID == to && n.Kind == kind && !n.Read {
			ts := at
			n.Read = true
			n.ReadAt = &ts
			count++
		}
	}
	return count, nil
}

func (s *NotificationStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("Delete"); err != nil {
		return err
	}
	if _, ok := s.notifications[id]; !ok {
		return chat.NewNotFoundError("chattest.Delete", "通知不存在")
	}
	delete(s.notifications, id)
	return nil
}

func (s *NotificationStore) List(ctx context.Context, userID string, limit int) ([]*chat.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("List"); err != nil {
		return nil, err
	}
	var out []*chat.Notification
	for _, n := range s.notifications {
		if n.ToUserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *NotificationStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("CountUnread"); err != nil {
		return 0, err
	}
	var count int64
	for _, n := range s.notifications {
		if n.ToUserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *NotificationStore) PruneRead(ctx context.Context, readBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("PruneRead"); err != nil {
		return 0, err
	}
	var count int64
	for id, n := range s.notifications {
		if n.Read && n.ReadAt != nil && n.ReadAt.Before(readBefore) {
			delete(s.notifications, id)
			count++
		}
	}
	return count, nil
}

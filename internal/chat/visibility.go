package chat

import (
	"context"
	"strings"
	"time"
)

// 預覽文字
const (
	PreviewVoice      = "voice message"
	PreviewFile       = "file"
	PreviewSharedPost = "shared post"
)

// IsVisible 訊息對 viewer 是否可見
func IsVisible(m *Message, viewer string) bool {
	return m != nil && !m.DeletedForEveryone && m.HasParticipant(viewer) && !m.HiddenForUser(viewer)
}

// Preview 最近對話列表的預覽文字
func Preview(m *Message) string {
	if strings.TrimSpace(m.Text) != "" {
		return m.Text
	}
	switch {
	case m.Audio != nil || m.Kind == MessageAudio:
		return PreviewVoice
	case m.File != nil || m.Kind == MessageFile:
		return PreviewFile
	default:
		return PreviewSharedPost
	}
}

// PageRequest 歷史分頁參數
type PageRequest struct {
	Limit    int
	Before   time.Time
	BeforeID string
}

// HistoryPage 由舊到新的一頁訊息
type HistoryPage struct {
	Messages     []*Message `json:"messages"`
	HasMore      bool       `json:"has_more"`
	NextBefore   *time.Time `json:"next_before,omitempty"`
	NextBeforeID string     `json:"next_before_id,omitempty"`
}

// ConversationSummary 最近對話列表項目
type ConversationSummary struct {
	CounterpartID   string      `json:"counterpart_id"`
	CounterpartName string      `json:"counterpart_name,omitempty"`
	MessageID       string      `json:"message_id"`
	LastMessage     string      `json:"last_message"`
	Kind            MessageKind `json:"kind"`
	SenderID        string      `json:"sender_id"`
	Status          Status      `json:"status"`
	LastTime        time.Time   `json:"last_time"`
}

// FilterHistory 只保留 viewer 與 counterpart 之間 viewer 可見的訊息，由舊到新排序
func FilterHistory(viewer, counterpart string, msgs []*Message) []*Message {
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		if !IsVisible(m, viewer) || m.Counterpart(viewer) != counterpart {
			continue
		}
		out = append(out, m)
	}
	SortAscending(out)
	return out
}

// Summarize 由新到舊走訪，每個對話對象取第一則可見訊息
func Summarize(viewer string, msgs []*Message) []ConversationSummary {
	sorted := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		if IsVisible(m, viewer) {
			sorted = append(sorted, m)
		}
	}
	SortDescending(sorted)

	seen := make(map[string]struct{}, len(sorted))
	out := make([]ConversationSummary, 0)
	for _, m := range sorted {
		peer := m.Counterpart(viewer)
		if _, ok := seen[peer]; ok {
			continue
		}
		seen[peer] = struct{}{}
		out = append(out, ConversationSummary{
			CounterpartID: peer,
			MessageID:     m.ID,
			LastMessage:   Preview(m),
			Kind:          m.Kind,
			SenderID:      m.SenderID,
			Status:        m.Status,
			LastTime:      m.CreatedAt,
		})
	}
	return out
}

// Visibility 依 viewer 過濾儲存層結果，不產生副作用
type Visibility struct {
	messages  MessageStore
	directory Directory
}

// NewVisibility 創建可見性引擎，directory 可為 nil
func NewVisibility(messages MessageStore, directory Directory) *Visibility {
	return &Visibility{messages: messages, directory: directory}
}

// VisibleHistory 取得 viewer 與 counterpart 的可見歷史，由舊到新
func (v *Visibility) VisibleHistory(ctx context.Context, viewer, counterpart string, page PageRequest) (*HistoryPage, error) {
	const op = "chat.VisibleHistory"

	if viewer == "" {
		return nil, NewAuthenticationError(op, "缺少用戶身份")
	}
	if counterpart == "" {
		return nil, NewValidationError(op, "缺少對話對象")
	}
	if page.Limit < 0 {
		return nil, NewValidationError(op, "limit 不能為負數")
	}

	if page.BeforeID != "" && page.Before.IsZero() {
		return nil, NewValidationError(op, "before_id 需搭配 before")
	}

	q := ConversationQuery{Viewer: viewer, Counterpart: counterpart, Before: page.Before, BeforeID: page.BeforeID}
	if page.Limit > 0 {
		q.Limit = page.Limit + 1
	}

	raw, err := retryRead(ctx, op, func(ctx context.Context) ([]*Message, error) {
		return v.messages.Conversation(ctx, q)
	})
	if err != nil {
		return nil, wrapStore(op, err)
	}

	msgs := FilterHistory(viewer, counterpart, raw)
	result := &HistoryPage{Messages: msgs}
	if page.Limit > 0 && len(msgs) > page.Limit {
		// 多取的一筆是最舊的那筆
		result.Messages = msgs[len(msgs)-page.Limit:]
		result.HasMore = true
		// 同一毫秒可能有多則訊息，游標需帶上 id
		oldest := result.Messages[0]
		at := oldest.CreatedAt
		result.NextBefore = &at
		result.NextBeforeID = oldest.ID
	}
	return result, nil
}

// RecentConversations 每個對話對象一筆最新可見訊息，由新到舊
func (v *Visibility) RecentConversations(ctx context.Context, viewer string) ([]ConversationSummary, error) {
	const op = "chat.RecentConversations"

	if viewer == "" {
		return nil, NewAuthenticationError(op, "缺少用戶身份")
	}

	raw, err := retryRead(ctx, op, func(ctx context.Context) ([]*Message, error) {
		return v.messages.LatestPerCounterpart(ctx, viewer)
	})
	if err != nil {
		return nil, wrapStore(op, err)
	}

	summaries := Summarize(viewer, raw)
	if v.directory != nil {
		for i := range summaries {
			name, err := v.directory.DisplayName(ctx, summaries[i].CounterpartID)
			if err == nil {
				summaries[i].CounterpartName = name
			}
		}
	}
	return summaries, nil
}

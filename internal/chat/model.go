package chat

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// MessageKind 訊息內容類型
type MessageKind string

const (
	MessageText       MessageKind = "text"
	MessageAudio      MessageKind = "audio"
	MessageFile       MessageKind = "file"
	MessageSharedPost MessageKind = "shared_post"
)

// Status 訊息投遞狀態，只能依序前進 sent → delivered → seen
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusSeen:
		return 3
	default:
		return 0
	}
}

// Next 回傳下一個合法狀態；seen 為終態
func (s Status) Next() (Status, bool) {
	switch s {
	case StatusSent:
		return StatusDelivered, true
	case StatusDelivered:
		return StatusSeen, true
	default:
		return "", false
	}
}

// AtLeast 檢查狀態是否已達到 other
func (s Status) AtLeast(other Status) bool {
	return s.rank() >= other.rank()
}

// DeleteScope 刪除／清除範圍
type DeleteScope string

const (
	ScopeMe       DeleteScope = "me"
	ScopeEveryone DeleteScope = "everyone"
)

// ParseScope 解析 mode 參數，空字串視為 me
func ParseScope(op, raw string) (DeleteScope, error) {
	switch DeleteScope(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ScopeMe:
		return ScopeMe, nil
	case ScopeEveryone:
		return ScopeEveryone, nil
	default:
		return "", NewValidationError(op, "mode 必須為 me 或 everyone")
	}
}

// AudioRef 語音檔參照
type AudioRef struct {
	URL      string  `bson:"url" json:"url"`
	Duration float64 `bson:"duration" json:"duration"`
	MimeType string  `bson:"mime_type,omitempty" json:"mime_type,omitempty"`
}

// FileRef 檔案參照
type FileRef struct {
	URL      string `bson:"url" json:"url"`
	Name     string `bson:"name" json:"name"`
	MimeType string `bson:"mime_type" json:"mime_type"`
	Size     int64  `bson:"size,omitempty" json:"size,omitempty"`
}

// Message 一對一訊息
type Message struct {
	ID                 string      `bson:"_id" json:"id"`
	ConversationKey    string      `bson:"conversation_key" json:"-"`
	SenderID           string      `bson:"sender_id" json:"sender_id"`
	ReceiverID         string      `bson:"receiver_id" json:"receiver_id"`
	Kind               MessageKind `bson:"kind" json:"kind"`
	Text               string      `bson:"text,omitempty" json:"text,omitempty"`
	Audio              *AudioRef   `bson:"audio,omitempty" json:"audio,omitempty"`
	File               *FileRef    `bson:"file,omitempty" json:"file,omitempty"`
	SharedPostID       string      `bson:"shared_post_id,omitempty" json:"shared_post_id,omitempty"`
	Status             Status      `bson:"status" json:"status"`
	DeliveredAt        *time.Time  `bson:"delivered_at,omitempty" json:"delivered_at,omitempty"`
	SeenAt             *time.Time  `bson:"seen_at,omitempty" json:"seen_at,omitempty"`
	HiddenFor          []string    `bson:"hidden_for" json:"-"`
	DeletedForEveryone bool        `bson:"deleted_for_everyone" json:"-"`
	DeletedAt          *time.Time  `bson:"deleted_at,omitempty" json:"-"`
	CreatedAt          time.Time   `bson:"created_at" json:"created_at"`
}

// HasParticipant 檢查用戶是否為對話雙方之一
func (m *Message) HasParticipant(userID string) bool {
	return userID != "" && (m.SenderID == userID || m.ReceiverID == userID)
}

// Counterpart 回傳 viewer 在此訊息中的對方
func (m *Message) Counterpart(viewer string) string {
	if m.SenderID == viewer {
		return m.ReceiverID
	}
	return m.SenderID
}

// HiddenForUser 檢查訊息是否已對該用戶隱藏
func (m *Message) HiddenForUser(userID string) bool {
	for _, id := range m.HiddenFor {
		if id == userID {
			return true
		}
	}
	return false
}

// Snapshot 複製一份給事件使用，避免後續狀態變更影響已送出的內容
func (m *Message) Snapshot() Message {
	cp := *m
	cp.HiddenFor = append([]string(nil), m.HiddenFor...)
	return cp
}

// ConversationKey 兩個用戶的對話鍵，與順序無關
func ConversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// Payload 發送內容，四種欄位恰好只能有一種
type Payload struct {
	Text         string
	Audio        *AudioRef
	File         *FileRef
	SharedPostID string
}

// kind 驗證 payload 並推導訊息類型
func (p Payload) kind(op string, maxTextLength int) (MessageKind, error) {
	var kinds []MessageKind
	if strings.TrimSpace(p.Text) != "" {
		kinds = append(kinds, MessageText)
	}
	if p.Audio != nil {
		kinds = append(kinds, MessageAudio)
	}
	if p.File != nil {
		kinds = append(kinds, MessageFile)
	}
	if strings.TrimSpace(p.SharedPostID) != "" {
		kinds = append(kinds, MessageSharedPost)
	}

	switch len(kinds) {
	case 0:
		return "", NewValidationError(op, "訊息內容不能為空")
	case 1:
	default:
		return "", NewValidationError(op, "訊息內容只能包含一種類型")
	}

	switch kinds[0] {
	case MessageText:
		if !utf8.ValidString(p.Text) {
			return "", NewValidationError(op, "訊息內容不是合法的 UTF-8")
		}
		if maxTextLength > 0 && utf8.RuneCountInString(p.Text) > maxTextLength {
			return "", NewValidationError(op, "訊息內容過長")
		}
	case MessageAudio:
		if p.Audio.URL == "" {
			return "", NewValidationError(op, "缺少語音檔")
		}
		if p.Audio.Duration < 0 {
			return "", NewValidationError(op, "語音長度無效")
		}
	case MessageFile:
		if p.File.URL == "" {
			return "", NewValidationError(op, "缺少上傳檔案")
		}
	}
	return kinds[0], nil
}

// NotificationKind 通知類型
type NotificationKind string

const (
	NotificationLike    NotificationKind = "like"
	NotificationComment NotificationKind = "comment"
	NotificationFollow  NotificationKind = "follow"
	NotificationMessage NotificationKind = "message"
)

// ParseNotificationKind 解析通知類型
func ParseNotificationKind(op, raw string) (NotificationKind, error) {
	switch k := NotificationKind(raw); k {
	case NotificationLike, NotificationComment, NotificationFollow, NotificationMessage:
		return k, nil
	default:
		return "", NewValidationError(op, "不支援的通知類型")
	}
}

// Notification 站內通知
type Notification struct {
	ID         string           `bson:"_id" json:"id"`
	Kind       NotificationKind `bson:"kind" json:"kind"`
	FromUserID string           `bson:"from_user_id" json:"from_user_id"`
	ToUserID   string           `bson:"to_user_id" json:"to_user_id"`
	MessageID  string           `bson:"message_id,omitempty" json:"message_id,omitempty"`
	PostID     string           `bson:"post_id,omitempty" json:"post_id,omitempty"`
	Text       string           `bson:"text" json:"text"`
	Read       bool             `bson:"read" json:"read"`
	ReadAt     *time.Time       `bson:"read_at,omitempty" json:"read_at,omitempty"`
	CreatedAt  time.Time        `bson:"created_at" json:"created_at"`
}

// SortAscending 依 (created_at, id) 由舊到新排序
func SortAscending(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return before(msgs[i], msgs[j])
	})
}

// SortDescending 依 (created_at, id) 由新到舊排序
func SortDescending(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return before(msgs[j], msgs[i])
	})
}

// OlderThan m 是否排在游標 (at, id) 之前；id 為空時只比較時間
func OlderThan(m *Message, at time.Time, id string) bool {
	if id != "" && m.CreatedAt.Equal(at) {
		return m.ID < id
	}
	return m.CreatedAt.Before(at)
}

func before(a, b *Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

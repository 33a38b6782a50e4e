package chat

import (
	"context"
	"io"
	"time"
)

// ConversationQuery 對話歷史查詢條件
type ConversationQuery struct {
	Viewer      string
	Counterpart string
	Before      time.Time // 零值表示不限制
	BeforeID    string    // 與 Before 組成 (created_at, id) 游標，同一時間點只取 id 較小者
	Limit       int       // 0 表示全部
}

// MessageStore 訊息儲存介面。
// 找不到或已全域刪除的訊息需回傳 NotFound 錯誤，連線類錯誤回傳 TransientStore 錯誤。
type MessageStore interface {
	Create(ctx context.Context, m *Message) error
	Get(ctx context.Context, id string) (*Message, error)
	// AdvanceStatus 只更新目前狀態為 from 的訊息，回傳實際更新筆數
	AdvanceStatus(ctx context.Context, ids []string, from, to Status, at time.Time) (int64, error)
	// PendingSeen 取得 from 傳給 to 且尚未 seen 的訊息
	PendingSeen(ctx context.Context, from, to string) ([]*Message, error)
	Hide(ctx context.Context, id, userID string) error
	MarkDeletedForEveryone(ctx context.Context, id string, at time.Time) error
	// Conversation 由新到舊回傳 viewer 可見的訊息
	Conversation(ctx context.Context, q ConversationQuery) ([]*Message, error)
	// LatestPerCounterpart 每個對話對象各回傳一筆 viewer 可見的最新訊息
	LatestPerCounterpart(ctx context.Context, viewer string) ([]*Message, error)
	// HideConversation 將 until 之前 viewer 仍可見的訊息加入隱藏集合
	HideConversation(ctx context.Context, viewer, counterpart string, until time.Time) (int64, error)
	// SentIDs 取得 sender 傳給 receiver 且尚未全域刪除的訊息 ID
	SentIDs(ctx context.Context, sender, receiver string, until time.Time) ([]string, error)
}

// NotificationStore 通知儲存介面
type NotificationStore interface {
	// Create 在未讀訊息通知唯一索引衝突時回傳 ErrDuplicate
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	FindUnread(ctx context.Context, from, to string, kind NotificationKind) (*Notification, error)
	MarkRead(ctx context.Context, id string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	MarkReadFrom(ctx context.Context, from, to string, kind NotificationKind, at time.Time) (int64, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, userID string, limit int) ([]*Notification, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	PruneRead(ctx context.Context, readBefore time.Time) (int64, error)
}

// Publisher 即時事件推送，找不到連線時靜默略過
type Publisher interface {
	Route(userID string, event Event)
	Broadcast(event Event)
}

// Directory 用戶資料查詢（外部身份／社交服務）
type Directory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
	TouchLastActive(ctx context.Context, userID string, at time.Time) error
}

// PushPayload 推播內容
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// PushSender 離線推播，失敗只需記錄
type PushSender interface {
	Send(ctx context.Context, userID string, payload PushPayload) error
}

// Upload 待儲存的二進位內容
type Upload struct {
	Name     string
	MimeType string
	Size     int64
	OwnerID  string
	Body     io.Reader
}

// StoredObject 物件儲存回傳的參照
type StoredObject struct {
	ID       string
	URL      string
	Name     string
	MimeType string
	Size     int64
}

// ObjectStore 二進位物件儲存
type ObjectStore interface {
	Put(ctx context.Context, upload Upload) (*StoredObject, error)
	Open(ctx context.Context, id string) (io.ReadCloser, *StoredObject, error)
}

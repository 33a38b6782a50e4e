package chattest

import (
	"context"
	"errors"
	"sync"
	"time"

	"chat-relay/internal/chat"
)

// Delivery 一次 Route / Broadcast 呼叫
type Delivery struct {
	UserID    string // Broadcast 時為空
	Broadcast bool
	Event     chat.Event
}

// Recorder 記錄所有推送事件的 Publisher
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
}

// NewRecorder 創建事件記錄器
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Route(userID string, event chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, Delivery{UserID: userID, Event: event})
}

func (r *Recorder) Broadcast(event chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, Delivery{Broadcast: true, Event: event})
}

// Deliveries 取得所有記錄副本
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// For 取得推送給 userID 的事件類型序列
func (r *Recorder) For(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, d := range r.deliveries {
		if d.UserID == userID {
			out = append(out, d.Event.Type)
		}
	}
	return out
}

// Count 計算某類事件被推送的次數
func (r *Recorder) Count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.deliveries {
		if d.Event.Type == eventType {
			n++
		}
	}
	return n
}

// Reset 清除記錄
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
}

// Directory 固定名單的用戶目錄
type Directory struct {
	mu         sync.Mutex
	names      map[string]string
	lastActive map[string]time.Time
}

// NewDirectory 以 id → 名稱建立用戶目錄
func NewDirectory(names map[string]string) *Directory {
	if names == nil {
		names = map[string]string{}
	}
	return &Directory{names: names, lastActive: make(map[string]time.Time)}
}

func (d *Directory) DisplayName(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.names[userID]
	if !ok {
		return "", chat.NewNotFoundError("chattest.DisplayName", "用戶不存在")
	}
	return name, nil
}

func (d *Directory) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastActive[userID] = at
	return nil
}

// LastActive 取得最後上線時間
func (d *Directory) LastActive(userID string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.lastActive[userID]
	return at, ok
}

// PushRecorder 記錄推播的 PushSender，Fail 為 true 時回傳錯誤
type PushRecorder struct {
	mu   sync.Mutex
	sent []PushCall
	Fail bool
}

// PushCall 一次推播
type PushCall struct {
	UserID  string
	Payload chat.PushPayload
}

func (p *PushRecorder) Send(ctx context.Context, userID string, payload chat.PushPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, PushCall{UserID: userID, Payload: payload})
	if p.Fail {
		return errors.New("push endpoint unavailable")
	}
	return nil
}

// Calls 取得推播記錄
func (p *PushRecorder) Calls() []PushCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PushCall(nil), p.sent...)
}

// Package realtime 管理 WebSocket 連線並將聊天事件推送給在線用戶
package realtime

import (
	"context"
	"sync"

	"chat-relay/internal/chat"
	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/metrics"
)

// Hub 用戶 ID → 連線集合。一個用戶可同時有多個分頁或裝置。
// 實作 chat.Publisher。
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Client]struct{}
	count    int
}

// NewHub 創建連線中心
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[*Client]struct{})}
}

// Register 登記連線，回傳是否為該用戶的第一條連線
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.sessions[c.userID] = set
	}
	if _, dup := set[c]; !dup {
		set[c] = struct{}{}
		h.count++
		metrics.ConnectedSessions.Inc()
	}
	return !ok
}

// Unregister 移除連線並關閉其送出佇列，回傳是否為該用戶最後一條連線。
// 重複呼叫不會有副作用。
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[c.userID]
	if !ok {
		return false
	}
	if _, found := set[c]; !found {
		return false
	}

	delete(set, c)
	h.count--
	metrics.ConnectedSessions.Dec()
	c.close()

	if len(set) == 0 {
		delete(h.sessions, c.userID)
		return true
	}
	return false
}

// Route 推送給用戶所有連線，用戶不在線時靜默略過
func (h *Hub) Route(userID string, event chat.Event) {
	targets := h.snapshot(userID)
	if len(targets) == 0 {
		return
	}

	frame, err := encodeEvent(event)
	if err != nil {
		logger.Errorf(context.Background(), "序列化事件 %s 失敗: %v", event.Type, err)
		return
	}
	for _, c := range targets {
		c.enqueue(frame, event.Type)
	}
}

// Broadcast 推送給所有在線連線
func (h *Hub) Broadcast(event chat.Event) {
	targets := h.snapshot("")
	if len(targets) == 0 {
		return
	}

	frame, err := encodeEvent(event)
	if err != nil {
		logger.Errorf(context.Background(), "序列化事件 %s 失敗: %v", event.Type, err)
		return
	}
	for _, c := range targets {
		c.enqueue(frame, event.Type)
	}
}

// snapshot 複製目標連線後釋放鎖，避免推送期間阻塞註冊
func (h *Hub) snapshot(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*Client
	if userID != "" {
		for c := range h.sessions[userID] {
			out = append(out, c)
		}
		return out
	}

	out = make([]*Client, 0, h.count)
	for _, set := range h.sessions {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}

// Online 用戶是否至少有一條連線
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID]) > 0
}

// SessionCount 目前連線數
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Shutdown 關閉所有連線的送出佇列，writePump 會送出 close frame 後結束
func (h *Hub) Shutdown() {
	for _, c := range h.snapshot("") {
		c.close()
	}
}

package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"chat-relay/internal/chat"
	"chat-relay/internal/chat/chattest"
	"chat-relay/internal/platform/middleware"
	notifstore "chat-relay/internal/storage/database/notification"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memorySubscriptions struct {
	mu   sync.Mutex
	subs map[string]*notifstore.Subscription
	err  error
}

func (m *memorySubscriptions) Upsert(ctx context.Context, sub *notifstore.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.subs[sub.UserID] = sub
	return nil
}

type response struct {
	Success   bool            `json:"success"`
	ErrorCode string          `json:"error_code"`
	Data      json.RawMessage `json:"data"`
	Count     *int64          `json:"count"`
}

type fixture struct {
	router   *gin.Engine
	notifier *chat.Notifier
	events   *chattest.Recorder
	subs     *memorySubscriptions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	events := chattest.NewRecorder()
	notifier := chat.NewNotifier(chattest.NewNotificationStore(), events, nil, nil)
	subs := &memorySubscriptions{subs: make(map[string]*notifstore.Subscription)}

	r := gin.New()
	api := r.Group("/api/v1", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, c.GetHeader("X-User"))
		c.Next()
	})
	NewHandler(notifier, subs, "BPublicKey", 50).RegisterRoutes(api)
	return &fixture{router: r, notifier: notifier, events: events, subs: subs}
}

func (f *fixture) do(t *testing.T, method, path, user, body string) (int, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User", user)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("無效的 JSON 回應: %s", w.Body.String())
	}
	return w.Code, resp
}

func (f *fixture) notify(t *testing.T, kind chat.NotificationKind, from, to string) *chat.Notification {
	t.Helper()
	n, created, err := f.notifier.NotifyIfNeeded(context.Background(), kind, from, to, chat.NotificationRef{PostID: "p1"})
	if err != nil || !created {
		t.Fatalf("NotifyIfNeeded = %v, %v", created, err)
	}
	return n
}

func TestNotificationLifecycle(t *testing.T) {
	f := newFixture(t)
	like := f.notify(t, chat.NotificationLike, "carol", "bob")
	f.notify(t, chat.NotificationFollow, "dave", "bob")

	code, resp := f.do(t, http.MethodGet, "/api/v1/notifications", "bob", "")
	var list []chat.Notification
	_ = json.Unmarshal(resp.Data, &list)
	if code != http.StatusOK || len(list) != 2 {
		t.Fatalf("list = %d %d", code, len(list))
	}

	code, resp = f.do(t, http.MethodGet, "/api/v1/notifications?limit=1", "bob", "")
	_ = json.Unmarshal(resp.Data, &list)
	if code != http.StatusOK || len(list) != 1 {
		t.Errorf("limit=1 list = %d", len(list))
	}

	_, resp = f.do(t, http.MethodGet, "/api/v1/notifications/unread-count", "bob", "")
	if resp.Count == nil || *resp.Count != 2 {
		t.Errorf("unread count = %v", resp.Count)
	}

	code, resp = f.do(t, http.MethodPut, "/api/v1/notifications/"+like.ID+"/read", "alice", "")
	if code != http.StatusForbidden || resp.ErrorCode != "FORBIDDEN" {
		t.Errorf("他人標記已讀 = %d %+v", code, resp)
	}

	code, _ = f.do(t, http.MethodPut, "/api/v1/notifications/"+like.ID+"/read", "bob", "")
	if code != http.StatusOK {
		t.Errorf("mark read = %d", code)
	}
	_, resp = f.do(t, http.MethodGet, "/api/v1/notifications/unread-count", "bob", "")
	if resp.Count == nil || *resp.Count != 1 {
		t.Errorf("unread count after read = %v", resp.Count)
	}

	_, resp = f.do(t, http.MethodPut, "/api/v1/notifications/read-all", "bob", "")
	if resp.Count == nil || *resp.Count != 1 {
		t.Errorf("read-all count = %v", resp.Count)
	}

	code, _ = f.do(t, http.MethodDelete, "/api/v1/notifications/"+like.ID, "bob", "")
	if code != http.StatusOK {
		t.Errorf("delete = %d", code)
	}
	code, resp = f.do(t, http.MethodDelete, "/api/v1/notifications/"+like.ID, "bob", "")
	if code != http.StatusNotFound || resp.ErrorCode != "NOT_FOUND" {
		t.Errorf("delete again = %d %+v", code, resp)
	}
}

func TestNotificationErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		method   string
		path     string
		user     string
		wantCode int
	}{
		{"list unauthenticated", http.MethodGet, "/api/v1/notifications", "", http.StatusUnauthorized},
		{"count unauthenticated", http.MethodGet, "/api/v1/notifications/unread-count", "", http.StatusUnauthorized},
		{"bad limit", http.MethodGet, "/api/v1/notifications?limit=x", "bob", http.StatusBadRequest},
		{"read missing", http.MethodPut, "/api/v1/notifications/nope/read", "bob", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := f.do(t, tt.method, tt.path, tt.user, "")
			if code != tt.wantCode || resp.Success {
				t.Errorf("got %d %+v, want %d", code, resp, tt.wantCode)
			}
		})
	}
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)
	body := `{"endpoint":"https://push.example.com/abc","keys":{"p256dh":"key","auth":"secret"}}`

	code, _ := f.do(t, http.MethodPost, "/api/v1/push/subscribe", "bob", body)
	if code != http.StatusCreated {
		t.Fatalf("subscribe = %d", code)
	}
	code, _ = f.do(t, http.MethodPost, "/api/v1/push/subscribe", "bob", strings.Replace(body, "abc", "def", 1))
	if code != http.StatusCreated {
		t.Fatalf("resubscribe = %d", code)
	}
	if len(f.subs.subs) != 1 || f.subs.subs["bob"].Endpoint != "https://push.example.com/def" {
		t.Errorf("每個用戶應只保留最新訂閱: %+v", f.subs.subs)
	}

	rejects := []struct {
		name string
		user string
		body string
		want int
	}{
		{"unauthenticated", "", body, http.StatusUnauthorized},
		{"missing keys", "bob", `{"endpoint":"https://push.example.com/x"}`, http.StatusBadRequest},
		{"plain http", "bob", strings.Replace(body, "https", "http", 1), http.StatusBadRequest},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := f.do(t, http.MethodPost, "/api/v1/push/subscribe", tt.user, tt.body); code != tt.want {
				t.Errorf("got %d, want %d", code, tt.want)
			}
		})
	}

	f.subs.err = chat.NewTransientStoreError("upsert", errors.New("timeout"))
	if code, resp := f.do(t, http.MethodPost, "/api/v1/push/subscribe", "bob", body); code != http.StatusServiceUnavailable || resp.ErrorCode != "STORE_UNAVAILABLE" {
		t.Errorf("store failure = %d %+v", code, resp)
	}

	code, resp := f.do(t, http.MethodGet, "/api/v1/push/vapid-public-key", "bob", "")
	if code != http.StatusOK || !strings.Contains(string(resp.Data), "BPublicKey") {
		t.Errorf("vapid key = %d %s", code, resp.Data)
	}
}

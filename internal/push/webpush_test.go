package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"chat-relay/internal/chat"
	"chat-relay/internal/platform/config"
	"chat-relay/internal/storage/database/notification"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type memorySubscriptions struct {
	mu      sync.Mutex
	subs    map[string]*notification.Subscription
	deleted []string
}

func (m *memorySubscriptions) Get(ctx context.Context, userID string) (*notification.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[userID]
	if !ok {
		return nil, chat.NewNotFoundError("test", "no subscription")
	}
	return sub, nil
}

func (m *memorySubscriptions) Delete(ctx context.Context, userID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, userID)
	m.deleted = append(m.deleted, userID)
	return nil
}

func browserKeys(t *testing.T) notification.SubscriptionKeys {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatal(err)
	}
	return notification.SubscriptionKeys{
		P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

func newSender(t *testing.T, subs *memorySubscriptions) *Sender {
	t.Helper()
	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatal(err)
	}
	return NewSender(subs, config.PushConfig{
		Enabled:         true,
		VAPIDPublicKey:  public,
		VAPIDPrivateKey: private,
		Subscriber:      "ops@example.com",
		TTLSeconds:      30,
	})
}

func TestSend(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantErr     bool
		wantDeleted bool
	}{
		{name: "accepted", status: http.StatusCreated},
		{name: "gone", status: http.StatusGone, wantDeleted: true},
		{name: "not found", status: http.StatusNotFound, wantDeleted: true},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits++
				if r.Header.Get("Authorization") == "" || r.Header.Get("TTL") != "30" {
					t.Errorf("缺少 VAPID 標頭: %v", r.Header)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			subs := &memorySubscriptions{subs: map[string]*notification.Subscription{
				"bob": {UserID: "bob", Endpoint: srv.URL + "/push/abc", Keys: browserKeys(t)},
			}}
			s := newSender(t, subs)

			err := s.Send(context.Background(), "bob", chat.PushPayload{Title: "Alice", Body: "hi"})
			if (err != nil) != tt.wantErr {
				t.Errorf("Send() error = %v, wantErr %v", err, tt.wantErr)
			}
			if hits != 1 {
				t.Errorf("推播服務收到 %d 次請求", hits)
			}
			if got := len(subs.deleted) == 1; got != tt.wantDeleted {
				t.Errorf("訂閱刪除 = %v, want %v", got, tt.wantDeleted)
			}
		})
	}
}

func TestSendWithoutSubscription(t *testing.T) {
	s := newSender(t, &memorySubscriptions{subs: map[string]*notification.Subscription{}})
	if err := s.Send(context.Background(), "nobody", chat.PushPayload{Title: "x"}); err != nil {
		t.Errorf("沒有訂閱時應略過，實際 %v", err)
	}
	if err := (Disabled{}).Send(context.Background(), "bob", chat.PushPayload{}); err != nil {
		t.Errorf("Disabled.Send = %v", err)
	}
}

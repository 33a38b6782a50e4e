package conversation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/security/encryption"
	"chat-relay/internal/storage/database/mongotest"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *MessageStore {
	t.Helper()
	db := mongotest.Database(t)

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	cipher, err := encryption.NewMessageEncryption(true, base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatal(err)
	}
	if err := CreateIndexes(context.Background(), db); err != nil {
		t.Fatalf("CreateIndexes error = %v", err)
	}
	return NewMessageStore(db, cipher)
}

func put(t *testing.T, s *MessageStore, id, from, to, text string, offset time.Duration) *chat.Message {
	t.Helper()
	m := &chat.Message{
		ID:              id,
		ConversationKey: chat.ConversationKey(from, to),
		SenderID:        from,
		ReceiverID:      to,
		Kind:            chat.MessageText,
		Text:            text,
		Status:          chat.StatusSent,
		CreatedAt:       base.Add(offset),
	}
	if err := s.Create(context.Background(), m); err != nil {
		t.Fatalf("Create(%s) error = %v", id, err)
	}
	return m
}

func TestCreateEncryptsText(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	put(t, s, "m1", "alice", "bob", "secret", 0)

	var raw bson.M
	if err := s.collection.FindOne(ctx, bson.M{"_id": "m1"}).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	if !encryption.IsEncrypted(raw["text"].(string)) {
		t.Errorf("落地文字應為密文，實際 %v", raw["text"])
	}

	got, err := s.Get(ctx, "m1")
	if err != nil || got.Text != "secret" {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	if err := s.Create(ctx, &chat.Message{ID: "m1", ConversationKey: "alice:bob"}); err == nil {
		t.Errorf("重複 ID 應回傳錯誤")
	}
	if _, err := s.Get(ctx, "missing"); !chat.IsNotFound(err) {
		t.Errorf("Get(missing) = %v", err)
	}
}

func TestAdvanceStatusIsConditional(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	put(t, s, "m1", "alice", "bob", "a", 0)
	put(t, s, "m2", "alice", "bob", "b", time.Second)

	n, err := s.AdvanceStatus(ctx, []string{"m1", "m2"}, chat.StatusSent, chat.StatusDelivered, base)
	if err != nil || n != 2 {
		t.Fatalf("AdvanceStatus = %d, %v", n, err)
	}
	n, err = s.AdvanceStatus(ctx, []string{"m1"}, chat.StatusSent, chat.StatusDelivered, base)
	if err != nil || n != 0 {
		t.Errorf("重複推進應更新 0 筆，實際 %d, %v", n, err)
	}
	if _, err := s.AdvanceStatus(ctx, []string{"m1"}, chat.StatusSeen, chat.StatusSent, base); !chat.IsValidation(err) {
		t.Errorf("倒退應回傳 ValidationError，實際 %v", err)
	}

	pending, err := s.PendingSeen(ctx, "alice", "bob")
	if err != nil || len(pending) != 2 || pending[0].ID != "m1" {
		t.Fatalf("PendingSeen = %+v, %v", pending, err)
	}
	if _, err := s.AdvanceStatus(ctx, []string{"m1", "m2"}, chat.StatusDelivered, chat.StatusSeen, base); err != nil {
		t.Fatal(err)
	}
	pending, _ = s.PendingSeen(ctx, "alice", "bob")
	if len(pending) != 0 {
		t.Errorf("全部 seen 後不應有待處理訊息: %+v", pending)
	}
}

func TestVisibilityQueries(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	put(t, s, "m1", "alice", "bob", "one", 0)
	put(t, s, "m2", "bob", "alice", "two", time.Second)
	put(t, s, "m3", "alice", "bob", "three", 2*time.Second)
	put(t, s, "m4", "carol", "alice", "hey", 3*time.Second)

	if err := s.Hide(ctx, "m3", "bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.Hide(ctx, "m3", "bob"); err != nil {
		t.Errorf("重複隱藏應成功: %v", err)
	}
	if err := s.MarkDeletedForEveryone(ctx, "m2", base); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkDeletedForEveryone(ctx, "m2", base); !chat.IsNotFound(err) {
		t.Errorf("重複全域刪除應回傳 NotFound，實際 %v", err)
	}

	bob, err := s.Conversation(ctx, chat.ConversationQuery{Viewer: "bob", Counterpart: "alice"})
	if err != nil || len(bob) != 1 || bob[0].ID != "m1" || bob[0].Text != "one" {
		t.Fatalf("bob 的對話 = %+v, %v", bob, err)
	}
	alice, _ := s.Conversation(ctx, chat.ConversationQuery{Viewer: "alice", Counterpart: "bob", Limit: 1})
	if len(alice) != 1 || alice[0].ID != "m3" {
		t.Errorf("alice 最新一筆 = %+v", alice)
	}
	older, _ := s.Conversation(ctx, chat.ConversationQuery{Viewer: "alice", Counterpart: "bob", Before: base.Add(2 * time.Second)})
	if len(older) != 1 || older[0].ID != "m1" {
		t.Errorf("Before 分頁 = %+v", older)
	}

	latest, err := s.LatestPerCounterpart(ctx, "alice")
	if err != nil || len(latest) != 2 || latest[0].ID != "m4" || latest[1].ID != "m3" {
		t.Fatalf("LatestPerCounterpart = %+v, %v", latest, err)
	}

	hidden, err := s.HideConversation(ctx, "alice", "bob", base.Add(time.Hour))
	if err != nil || hidden != 2 {
		t.Errorf("HideConversation = %d, %v", hidden, err)
	}
	latest, _ = s.LatestPerCounterpart(ctx, "alice")
	if len(latest) != 1 || latest[0].ID != "m4" {
		t.Errorf("清除後最近對話 = %+v", latest)
	}

	ids, err := s.SentIDs(ctx, "alice", "bob", base.Add(time.Hour))
	if err != nil || len(ids) != 2 || ids[0] != "m1" || ids[1] != "m3" {
		t.Errorf("SentIDs = %v, %v", ids, err)
	}
}

func TestConversationCursorSameTimestamp(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	put(t, s, "m1", "alice", "bob", "one", 0)
	put(t, s, "m2a", "alice", "bob", "same-a", time.Second)
	put(t, s, "m2b", "bob", "alice", "same-b", time.Second)
	put(t, s, "m2c", "alice", "bob", "same-c", time.Second)

	page, err := s.Conversation(ctx, chat.ConversationQuery{Viewer: "bob", Counterpart: "alice", Before: base.Add(time.Second), BeforeID: "m2c"})
	if err != nil {
		t.Fatalf("Conversation error = %v", err)
	}
	if len(page) != 3 || page[0].ID != "m2b" || page[1].ID != "m2a" || page[2].ID != "m1" {
		t.Errorf("同一時間點游標分頁 = %+v", page)
	}

	page, _ = s.Conversation(ctx, chat.ConversationQuery{Viewer: "bob", Counterpart: "alice", Before: base.Add(time.Second)})
	if len(page) != 1 || page[0].ID != "m1" {
		t.Errorf("只帶時間的游標 = %+v", page)
	}
}

package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/chat/chattest"
)

type fixture struct {
	messages      *chattest.MessageStore
	notifications *chattest.NotificationStore
	events        *chattest.Recorder
	directory     *chattest.Directory
	push          *chattest.PushRecorder
	notifier      *chat.Notifier
	coordinator   *chat.Coordinator
	visibility    *chat.Visibility
	clock         *stepClock
}

// stepClock 每次呼叫前進一秒
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		messages:      chattest.NewMessageStore(),
		notifications: chattest.NewNotificationStore(),
		events:        chattest.NewRecorder(),
		directory:     chattest.NewDirectory(map[string]string{"alice": "Alice", "bob": "Bob", "carol": "Carol"}),
		push:          &chattest.PushRecorder{},
		clock:         &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	seq := 0
	var mu sync.Mutex
	newID := func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("m%04d", seq)
	}
	f.notifier = chat.NewNotifier(f.notifications, f.events, f.directory, f.push)
	f.notifier.SetClock(f.clock.Now)
	f.coordinator = chat.NewCoordinator(f.messages, f.notifier, f.events,
		chat.WithClock(f.clock.Now),
		chat.WithIDGenerator(newID),
		chat.WithMaxTextLength(20),
	)
	f.visibility = chat.NewVisibility(f.messages, f.directory)
	return f
}

func (f *fixture) send(t *testing.T, from, to, text string) *chat.Message {
	t.Helper()
	m, err := f.coordinator.Send(context.Background(), from, to, chat.Payload{Text: text})
	if err != nil {
		t.Fatalf("Send(%s→%s) error = %v", from, to, err)
	}
	return m
}

func (f *fixture) history(t *testing.T, viewer, counterpart string) []*chat.Message {
	t.Helper()
	page, err := f.visibility.VisibleHistory(context.Background(), viewer, counterpart, chat.PageRequest{})
	if err != nil {
		t.Fatalf("VisibleHistory(%s,%s) error = %v", viewer, counterpart, err)
	}
	return page.Messages
}

func containsID(msgs []*chat.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

func TestSendValidation(t *testing.T) {
	tests := []struct {
		name     string
		sender   string
		receiver string
		payload  chat.Payload
		wantKind chat.ErrorKind
	}{
		{name: "empty payload", sender: "alice", receiver: "bob", wantKind: chat.KindValidation},
		{name: "blank text", sender: "alice", receiver: "bob", payload: chat.Payload{Text: "   "}, wantKind: chat.KindValidation},
		{name: "text too long", sender: "alice", receiver: "bob", payload: chat.Payload{Text: "123456789012345678901"}, wantKind: chat.KindValidation},
		{name: "two payloads", sender: "alice", receiver: "bob", payload: chat.Payload{Text: "hi", SharedPostID: "p1"}, wantKind: chat.KindValidation},
		{name: "file without upload", sender: "alice", receiver: "bob", payload: chat.Payload{File: &chat.FileRef{}}, wantKind: chat.KindValidation},
		{name: "audio without upload", sender: "alice", receiver: "bob", payload: chat.Payload{Audio: &chat.AudioRef{}}, wantKind: chat.KindValidation},
		{name: "empty post id", sender: "alice", receiver: "bob", payload: chat.Payload{SharedPostID: " "}, wantKind: chat.KindValidation},
		{name: "missing receiver", sender: "alice", payload: chat.Payload{Text: "hi"}, wantKind: chat.KindValidation},
		{name: "self message", sender: "alice", receiver: "alice", payload: chat.Payload{Text: "hi"}, wantKind: chat.KindValidation},
		{name: "anonymous sender", receiver: "bob", payload: chat.Payload{Text: "hi"}, wantKind: chat.KindAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.coordinator.Send(context.Background(), tt.sender, tt.receiver, tt.payload)
			if got := chat.KindOf(err); got != tt.wantKind {
				t.Fatalf("KindOf(err) = %v, want %v (err=%v)", got, tt.wantKind, err)
			}
			if n := len(f.events.Deliveries()); n != 0 {
				t.Errorf("驗證失敗不應推送事件，實際 %d 筆", n)
			}
		})
	}
}

func TestSendPersistsThenEmitsInOrder(t *testing.T) {
	f := newFixture(t)

	m := f.send(t, "alice", "bob", "hi")
	if m.Status != chat.StatusDelivered || m.DeliveredAt == nil {
		t.Fatalf("Status = %s, DeliveredAt = %v", m.Status, m.DeliveredAt)
	}

	stored, ok := f.messages.Raw(m.ID)
	if !ok || stored.Status != chat.StatusDelivered {
		t.Fatalf("儲存狀態 = %+v", stored)
	}

	for _, user := range []string{"alice", "bob"} {
		got := f.events.For(user)
		if len(got) < 2 || got[0] != chat.EventNewMessage || got[1] != chat.EventMessageDelivered {
			t.Errorf("%s 收到的事件順序 = %v", user, got)
		}
	}

	first := f.events.Deliveries()[0]
	snap, ok := first.Event.Data.(chat.Message)
	if !ok {
		t.Fatalf("new_message 內容型別 = %T", first.Event.Data)
	}
	if snap.Status != chat.StatusSent {
		t.Errorf("new_message 應攜帶 sent 狀態，實際 %s", snap.Status)
	}
}

func TestSendSurvivesDeliveredFailure(t *testing.T) {
	f := newFixture(t)
	f.messages.FailNext("AdvanceStatus", chat.NewTransientStoreError("test", errors.New("boom")))

	m := f.send(t, "alice", "bob", "hi")
	if m.Status != chat.StatusSent {
		t.Fatalf("Status = %s, want sent", m.Status)
	}
	if f.events.Count(chat.EventMessageDelivered) != 0 {
		t.Errorf("delivered 未持久化前不應推送 message_delivered")
	}

	// 對方讀取時補上 delivered，再轉為 seen
	ids, err := f.coordinator.MarkSeen(context.Background(), "bob", "alice")
	if err != nil {
		t.Fatalf("MarkSeen error = %v", err)
	}
	if len(ids) != 1 || ids[0] != m.ID {
		t.Fatalf("MarkSeen ids = %v", ids)
	}
	if f.events.Count(chat.EventMessageDelivered) != 2 {
		t.Errorf("應補送 message_delivered 給雙方，實際 %d", f.events.Count(chat.EventMessageDelivered))
	}
	stored, _ := f.messages.Raw(m.ID)
	if stored.Status != chat.StatusSeen || stored.DeliveredAt == nil || stored.SeenAt == nil {
		t.Errorf("儲存狀態 = %+v", stored)
	}
}

func TestSendStoreFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.messages.FailNext("Create", chat.NewTransientStoreError("test", errors.New("timeout")))

	_, err := f.coordinator.Send(context.Background(), "alice", "bob", chat.Payload{Text: "hi"})
	if !chat.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if got := f.history(t, "alice", "bob"); len(got) != 0 {
		t.Errorf("寫入失敗不應自動重試，實際有 %d 則訊息", len(got))
	}
}

func TestSendIgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := f.coordinator.Send(ctx, "alice", "bob", chat.Payload{Text: "hi"})
	if err != nil {
		t.Fatalf("Send error = %v", err)
	}
	if m.Status != chat.StatusDelivered {
		t.Errorf("Status = %s", m.Status)
	}
}

func TestMarkSeen(t *testing.T) {
	f := newFixture(t)
	m1 := f.send(t, "alice", "bob", "one")
	m2 := f.send(t, "alice", "bob", "two")
	reply := f.send(t, "bob", "alice", "three")
	f.events.Reset()

	ids, err := f.coordinator.MarkSeen(context.Background(), "bob", "alice")
	if err != nil {
		t.Fatalf("MarkSeen error = %v", err)
	}
	if len(ids) != 2 || ids[0] != m1.ID || ids[1] != m2.ID {
		t.Fatalf("ids = %v", ids)
	}

	if got := f.events.For("alice"); len(got) != 1 || got[0] != chat.EventMessagesSeen {
		t.Errorf("alice 事件 = %v，應只有一個 messages_seen", got)
	}
	if got := f.events.For("bob"); len(got) != 0 {
		t.Errorf("bob 不應收到 seen 事件: %v", got)
	}
	stored, _ := f.messages.Raw(reply.ID)
	if stored.Status != chat.StatusDelivered {
		t.Errorf("反方向訊息不應受影響: %s", stored.Status)
	}

	f.events.Reset()
	again, err := f.coordinator.MarkSeen(context.Background(), "bob", "alice")
	if err != nil || len(again) != 0 {
		t.Fatalf("重複 MarkSeen = %v, %v", again, err)
	}
	if n := len(f.events.Deliveries()); n != 0 {
		t.Errorf("無待處理訊息時不應推送事件，實際 %d", n)
	}
}

// staleSeenStore 讓 PendingSeen 額外回傳已過時的快照，模擬兩個 MarkSeen 同時讀到同一批訊息
type staleSeenStore struct {
	*chattest.MessageStore
	stale []*chat.Message
}

func (s *staleSeenStore) PendingSeen(ctx context.Context, from, to string) ([]*chat.Message, error) {
	pending, err := s.MessageStore.PendingSeen(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return append(pending, s.stale...), nil
}

func TestMarkSeenReportsOnlyAdvanced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	early := f.send(t, "alice", "bob", "early")
	if _, err := f.coordinator.MarkSeen(ctx, "bob", "alice"); err != nil {
		t.Fatalf("MarkSeen error = %v", err)
	}
	fresh := f.send(t, "alice", "bob", "fresh")

	staleDelivered := *early
	staleDelivered.Status = chat.StatusDelivered
	staleSent := *early
	staleSent.Status = chat.StatusSent
	store := &staleSeenStore{MessageStore: f.messages, stale: []*chat.Message{&staleDelivered, &staleSent}}
	coordinator := chat.NewCoordinator(store, f.notifier, f.events, chat.WithClock(f.clock.Now))
	f.events.Reset()

	ids, err := coordinator.MarkSeen(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("MarkSeen error = %v", err)
	}
	if len(ids) != 1 || ids[0] != fresh.ID {
		t.Fatalf("ids = %v, want [%s]", ids, fresh.ID)
	}

	for _, d := range f.events.Deliveries() {
		switch d.Event.Type {
		case chat.EventMessagesSeen:
			seen, _ := d.Event.Data.([]string)
			if len(seen) != 1 || seen[0] != fresh.ID {
				t.Errorf("messages_seen = %v", d.Event.Data)
			}
		case chat.EventMessageDelivered:
			if r, _ := d.Event.Data.(chat.DeliveryReceipt); r.MessageID == early.ID {
				t.Errorf("已讀訊息不應再送出 delivered 回執")
			}
		}
	}
	if n := f.events.Count(chat.EventMessagesSeen); n != 1 {
		t.Errorf("messages_seen 次數 = %d", n)
	}

	stored, _ := f.messages.Raw(early.ID)
	if stored.Status != chat.StatusSeen {
		t.Errorf("Status = %s, want seen", stored.Status)
	}
}

func TestTimestampsTruncatedToMillisecond(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	messages := chattest.NewMessageStore()
	events := chattest.NewRecorder()
	coordinator := chat.NewCoordinator(messages, nil, events,
		chat.WithClock(func() time.Time { return at }),
	)
	ctx := context.Background()

	m, err := coordinator.Send(ctx, "alice", "bob", chat.Payload{Text: "same instant"})
	if err != nil {
		t.Fatalf("Send error = %v", err)
	}
	if want := at.Truncate(time.Millisecond); !m.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", m.CreatedAt, want)
	}

	// 與清除同一毫秒內送出的訊息也需被清除
	res, err := coordinator.ClearConversation(ctx, "alice", "bob", chat.ScopeEveryone)
	if err != nil {
		t.Fatalf("ClearConversation error = %v", err)
	}
	if res.Hidden != 1 || len(res.Deleted) != 1 || res.Deleted[0] != m.ID {
		t.Errorf("result = %+v", res)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	f := newFixture(t)
	m := f.send(t, "alice", "bob", "hi")
	if _, err := f.coordinator.MarkSeen(context.Background(), "bob", "alice"); err != nil {
		t.Fatalf("MarkSeen error = %v", err)
	}

	n, err := f.messages.AdvanceStatus(context.Background(), []string{m.ID}, chat.StatusSent, chat.StatusDelivered, time.Now())
	if err != nil {
		t.Fatalf("AdvanceStatus error = %v", err)
	}
	if n != 0 {
		t.Errorf("seen 訊息不應被改回 delivered")
	}
	stored, _ := f.messages.Raw(m.ID)
	if stored.Status != chat.StatusSeen {
		t.Errorf("Status = %s, want seen", stored.Status)
	}

	if _, err := f.messages.AdvanceStatus(context.Background(), []string{m.ID}, chat.StatusSent, chat.StatusSeen, time.Now()); err == nil {
		t.Errorf("跳過狀態的轉換應被拒絕")
	}
}

func TestDeleteForMe(t *testing.T) {
	f := newFixture(t)
	m := f.send(t, "alice", "bob", "hi")
	keep := f.send(t, "bob", "alice", "hello")

	for i := 0; i < 2; i++ {
		if err := f.coordinator.DeleteForMe(context.Background(), "alice", m.ID); err != nil {
			t.Fatalf("DeleteForMe #%d error = %v", i+1, err)
		}
	}

	aliceView := f.history(t, "alice", "bob")
	if containsID(aliceView, m.ID) {
		t.Errorf("alice 不應看到已刪除的訊息")
	}
	if !containsID(aliceView, keep.ID) {
		t.Errorf("alice 應仍看到其他訊息")
	}
	if !containsID(f.history(t, "bob", "alice"), m.ID) {
		t.Errorf("bob 的檢視不應受影響")
	}

	stored, _ := f.messages.Raw(m.ID)
	if len(stored.HiddenFor) != 1 {
		t.Errorf("HiddenFor = %v，重複刪除不應重複加入", stored.HiddenFor)
	}

	err := f.coordinator.DeleteForMe(context.Background(), "carol", m.ID)
	if !chat.IsNotFound(err) {
		t.Errorf("非參與者刪除應回傳 NotFound，實際 %v", err)
	}
}

func TestDeleteForEveryone(t *testing.T) {
	f := newFixture(t)
	m := f.send(t, "alice", "bob", "oops")
	f.events.Reset()

	err := f.coordinator.DeleteForEveryone(context.Background(), "bob", m.ID)
	if !chat.IsAuthorization(err) {
		t.Fatalf("非發送者應回傳 AuthorizationError，實際 %v", err)
	}

	if err := f.coordinator.DeleteForEveryone(context.Background(), "alice", m.ID); err != nil {
		t.Fatalf("DeleteForEveryone error = %v", err)
	}
	if containsID(f.history(t, "alice", "bob"), m.ID) || containsID(f.history(t, "bob", "alice"), m.ID) {
		t.Errorf("全域刪除後雙方都不應看到訊息")
	}
	for _, user := range []string{"alice", "bob"} {
		if got := f.events.For(user); len(got) != 1 || got[0] != chat.EventMessageDeleted {
			t.Errorf("%s 事件 = %v", user, got)
		}
	}

	checks := map[string]error{
		"delete again":  f.coordinator.DeleteForEveryone(context.Background(), "alice", m.ID),
		"delete for me": f.coordinator.DeleteForMe(context.Background(), "bob", m.ID),
		"non sender":    f.coordinator.DeleteForEveryone(context.Background(), "bob", m.ID),
	}
	for name, err := range checks {
		if !chat.IsNotFound(err) {
			t.Errorf("%s: 全域刪除後應回傳 NotFound，實際 %v", name, err)
		}
	}
}

func TestDeleteUnknownMessage(t *testing.T) {
	f := newFixture(t)
	for _, scope := range []chat.DeleteScope{chat.ScopeMe, chat.ScopeEveryone} {
		err := f.coordinator.Delete(context.Background(), "alice", "missing", scope)
		if !chat.IsNotFound(err) {
			t.Errorf("scope %s: err = %v", scope, err)
		}
	}
}

func TestClearConversationForMe(t *testing.T) {
	f := newFixture(t)
	old1 := f.send(t, "alice", "bob", "one")
	old2 := f.send(t, "bob", "alice", "two")
	other := f.send(t, "alice", "carol", "elsewhere")

	res, err := f.coordinator.ClearConversation(context.Background(), "alice", "bob", chat.ScopeMe)
	if err != nil {
		t.Fatalf("ClearConversation error = %v", err)
	}
	if res.Hidden != 2 || len(res.Deleted) != 0 {
		t.Errorf("result = %+v", res)
	}

	later := f.send(t, "bob", "alice", "after clear")

	aliceView := f.history(t, "alice", "bob")
	if containsID(aliceView, old1.ID) || containsID(aliceView, old2.ID) {
		t.Errorf("清除前的訊息不應再顯示給 alice")
	}
	if !containsID(aliceView, later.ID) {
		t.Errorf("清除後的新訊息應顯示給 alice")
	}
	if bobView := f.history(t, "bob", "alice"); len(bobView) != 3 {
		t.Errorf("bob 的檢視不應改變，實際 %d 則", len(bobView))
	}
	if !containsID(f.history(t, "alice", "carol"), other.ID) {
		t.Errorf("其他對話不應受影響")
	}
	if got := f.events.For("bob"); containsEvent(got, chat.EventChatCleared) {
		t.Errorf("scope me 不應通知對方")
	}
}

func TestClearConversationForEveryoneOnlyDeletesOwnMessages(t *testing.T) {
	f := newFixture(t)
	mine := f.send(t, "alice", "bob", "mine")
	theirs := f.send(t, "bob", "alice", "theirs")

	res, err := f.coordinator.ClearConversation(context.Background(), "alice", "bob", chat.ScopeEveryone)
	if err != nil {
		t.Fatalf("ClearConversation error = %v", err)
	}
	if len(res.Deleted) != 1 || res.Deleted[0] != mine.ID {
		t.Errorf("Deleted = %v", res.Deleted)
	}

	if got := f.history(t, "alice", "bob"); len(got) != 0 {
		t.Errorf("alice 應看不到任何訊息，實際 %d", len(got))
	}
	bobView := f.history(t, "bob", "alice")
	if containsID(bobView, mine.ID) {
		t.Errorf("alice 的訊息應對 bob 全域刪除")
	}
	if !containsID(bobView, theirs.ID) {
		t.Errorf("bob 自己的訊息不應被 alice 抹除")
	}
	if !containsEvent(f.events.For("bob"), chat.EventChatCleared) {
		t.Errorf("scope everyone 應通知對方")
	}
}

func TestClearConversationInvalidInput(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coordinator.ClearConversation(context.Background(), "alice", "bob", "all"); !chat.IsValidation(err) {
		t.Errorf("未知 scope 應回傳 ValidationError，實際 %v", err)
	}
	if _, err := f.coordinator.ClearConversation(context.Background(), "alice", "alice", chat.ScopeMe); !chat.IsValidation(err) {
		t.Errorf("清除與自己的對話應回傳 ValidationError，實際 %v", err)
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		raw     string
		want    chat.DeleteScope
		wantErr bool
	}{
		{raw: "", want: chat.ScopeMe},
		{raw: "me", want: chat.ScopeMe},
		{raw: "Everyone", want: chat.ScopeEveryone},
		{raw: "both", wantErr: true},
	}
	for _, tt := range tests {
		got, err := chat.ParseScope("test", tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseScope(%q) = %q, %v", tt.raw, got, err)
		}
	}
}

func TestRoundTripHistory(t *testing.T) {
	f := newFixture(t)
	m := f.send(t, "alice", "bob", "hi")

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		view := f.history(t, pair[0], pair[1])
		if len(view) != 1 || view[0].ID != m.ID || view[0].Text != "hi" {
			t.Fatalf("%s 的歷史 = %+v", pair[0], view)
		}
		if !view[0].Status.AtLeast(chat.StatusDelivered) {
			t.Errorf("Status = %s，應至少為 delivered", view[0].Status)
		}
	}
}

func containsEvent(events []string, want string) bool {
	for _, e := range events {
		if e == want {
			return true
		}
	}
	return false
}

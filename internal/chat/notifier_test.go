package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chat-relay/internal/chat"
)

func unread(notifications []*chat.Notification, kind chat.NotificationKind, from, to string) int {
	n := 0
	for _, item := range notifications {
		if item.Kind == kind && item.FromUserID == from && item.ToUserID == to && !item.Read {
			n++
		}
	}
	return n
}

func TestMessageNotificationsAreDeduplicated(t *testing.T) {
	f := newFixture(t)
	f.send(t, "alice", "bob", "first")
	f.send(t, "alice", "bob", "second")
	f.send(t, "alice", "bob", "third")

	all := f.notifications.All()
	if got := unread(all, chat.NotificationMessage, "alice", "bob"); got != 1 {
		t.Fatalf("未讀訊息通知數 = %d, want 1", got)
	}
	if all[0].Text != "first" {
		t.Errorf("Text = %q", all[0].Text)
	}
	if got := f.events.Count(chat.EventNewMessageNotification); got != 1 {
		t.Errorf("new_message_notification 次數 = %d, want 1", got)
	}
	if got := len(f.push.Calls()); got != 1 {
		t.Errorf("推播次數 = %d, want 1", got)
	}

	f.send(t, "carol", "bob", "hey")
	if got := unread(f.notifications.All(), chat.NotificationMessage, "carol", "bob"); got != 1 {
		t.Errorf("不同來源應各自建立通知，實際 %d", got)
	}
}

func TestNotificationPayloadUsesDisplayName(t *testing.T) {
	f := newFixture(t)
	f.send(t, "alice", "bob", "hello")

	var notice chat.MessageNotificationNotice
	found := false
	for _, d := range f.events.Deliveries() {
		if d.Event.Type == chat.EventNewMessageNotification {
			if d.UserID != "bob" {
				t.Errorf("通知事件應只推送給接收者，實際 %s", d.UserID)
			}
			notice = d.Event.Data.(chat.MessageNotificationNotice)
			found = true
		}
	}
	if !found {
		t.Fatalf("沒有 new_message_notification 事件")
	}
	if notice.SenderName != "Alice" || notice.Text != "hello" {
		t.Errorf("notice = %+v", notice)
	}
}

func TestNonTextMessageNotificationText(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coordinator.Send(context.Background(), "alice", "bob", chat.Payload{SharedPostID: "post-1"}); err != nil {
		t.Fatalf("Send error = %v", err)
	}
	all := f.notifications.All()
	if len(all) != 1 || all[0].Text != "Sent you a message" || all[0].PostID != "post-1" {
		t.Errorf("notification = %+v", all)
	}
}

func TestMarkSeenReopensNotificationWindow(t *testing.T) {
	f := newFixture(t)
	f.send(t, "alice", "bob", "one")
	if _, err := f.coordinator.MarkSeen(context.Background(), "bob", "alice"); err != nil {
		t.Fatalf("MarkSeen error = %v", err)
	}
	if got := unread(f.notifications.All(), chat.NotificationMessage, "alice", "bob"); got != 0 {
		t.Fatalf("已讀對話後未讀通知數 = %d", got)
	}

	f.send(t, "alice", "bob", "two")
	if got := unread(f.notifications.All(), chat.NotificationMessage, "alice", "bob"); got != 1 {
		t.Errorf("應重新建立一筆未讀通知，實際 %d", got)
	}
}

func TestOtherKindsAlwaysCreate(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, created, err := f.notifier.NotifyIfNeeded(context.Background(), chat.NotificationLike, "alice", "bob", chat.NotificationRef{PostID: "p1"})
		if err != nil || !created {
			t.Fatalf("NotifyIfNeeded #%d = %v, %v", i, created, err)
		}
	}
	if got := unread(f.notifications.All(), chat.NotificationLike, "alice", "bob"); got != 3 {
		t.Errorf("like 通知數 = %d, want 3", got)
	}
	if got := f.events.Count(chat.EventNewNotification); got != 3 {
		t.Errorf("new_notification 次數 = %d", got)
	}
	if f.notifications.All()[0].Text != "liked your post" {
		t.Errorf("預設文字 = %q", f.notifications.All()[0].Text)
	}
}

func TestNotifyIfNeededEdgeCases(t *testing.T) {
	f := newFixture(t)

	n, created, err := f.notifier.NotifyIfNeeded(context.Background(), chat.NotificationFollow, "alice", "alice", chat.NotificationRef{})
	if err != nil || created || n != nil {
		t.Errorf("自己對自己不應建立通知: %v %v %v", n, created, err)
	}
	if _, _, err := f.notifier.NotifyIfNeeded(context.Background(), "poke", "alice", "bob", chat.NotificationRef{}); !chat.IsValidation(err) {
		t.Errorf("未知類型應回傳 ValidationError，實際 %v", err)
	}
	if _, _, err := f.notifier.NotifyIfNeeded(context.Background(), chat.NotificationLike, "", "bob", chat.NotificationRef{}); !chat.IsValidation(err) {
		t.Errorf("缺少來源應回傳 ValidationError，實際 %v", err)
	}

	long := strings.Repeat("字", 150)
	n, _, err = f.notifier.NotifyIfNeeded(context.Background(), chat.NotificationComment, "alice", "bob", chat.NotificationRef{Text: long})
	if err != nil {
		t.Fatalf("NotifyIfNeeded error = %v", err)
	}
	if got := len([]rune(n.Text)); got != 101 {
		t.Errorf("摘要長度 = %d, want 101", got)
	}
}

func TestUniqueIndexBackstopCountsAsSuppressed(t *testing.T) {
	f := newFixture(t)
	// 模擬 check 與 create 之間另一個請求已寫入
	f.notifications.FailNext("Create", chat.ErrDuplicate)

	n, created, err := f.notifier.NotifyIfNeeded(context.Background(), chat.NotificationMessage, "alice", "bob", chat.NotificationRef{Text: "hi"})
	if err != nil || created || n != nil {
		t.Errorf("重複寫入應視為抑制: %v %v %v", n, created, err)
	}
	if f.events.Count(chat.EventNewMessageNotification) != 0 {
		t.Errorf("抑制時不應推送事件")
	}
}

func TestPushFailureIsNotPropagated(t *testing.T) {
	f := newFixture(t)
	f.push.Fail = true

	m := f.send(t, "alice", "bob", "hi")
	if m == nil {
		t.Fatalf("推播失敗不應影響送出")
	}
	if len(f.notifications.All()) != 1 {
		t.Errorf("通知仍應建立")
	}
}

func TestMarkReadAuthorization(t *testing.T) {
	f := newFixture(t)
	n, _, err := f.notifier.NotifyIfNeeded(context.Background(), chat.NotificationMessage, "alice", "bob", chat.NotificationRef{Text: "hi"})
	if err != nil {
		t.Fatalf("NotifyIfNeeded error = %v", err)
	}

	tests := []struct {
		name  string
		id    string
		actor string
		check func(error) bool
	}{
		{name: "missing", id: "nope", actor: "bob", check: chat.IsNotFound},
		{name: "not target", id: n.ID, actor: "alice", check: chat.IsAuthorization},
		{name: "anonymous", id: n.ID, actor: "", check: chat.IsAuthentication},
		{name: "target", id: n.ID, actor: "bob", check: func(err error) bool { return err == nil }},
		{name: "already read", id: n.ID, actor: "bob", check: func(err error) bool { return err == nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.notifier.MarkRead(context.Background(), tt.id, tt.actor); !tt.check(err) {
				t.Errorf("MarkRead() error = %v", err)
			}
		})
	}

	count, err := f.notifier.UnreadCount(context.Background(), "bob")
	if err != nil || count != 0 {
		t.Errorf("UnreadCount = %d, %v", count, err)
	}
}

func TestMarkAllReadAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	updated, err := f.notifier.MarkAllRead(ctx, "bob")
	if err != nil || updated != 0 {
		t.Fatalf("無通知時 MarkAllRead = %d, %v", updated, err)
	}

	f.send(t, "alice", "bob", "hi")
	like, _, _ := f.notifier.NotifyIfNeeded(ctx, chat.NotificationLike, "carol", "bob", chat.NotificationRef{PostID: "p"})

	count, _ := f.notifier.UnreadCount(ctx, "bob")
	if count != 2 {
		t.Fatalf("UnreadCount = %d, want 2", count)
	}

	updated, err = f.notifier.MarkAllRead(ctx, "bob")
	if err != nil || updated != 2 {
		t.Fatalf("MarkAllRead = %d, %v", updated, err)
	}

	if err := f.notifier.Delete(ctx, like.ID, "alice"); !chat.IsAuthorization(err) {
		t.Errorf("非目標用戶刪除應回傳 AuthorizationError，實際 %v", err)
	}
	if err := f.notifier.Delete(ctx, like.ID, "bob"); err != nil {
		t.Fatalf("Delete error = %v", err)
	}
	if err := f.notifier.Delete(ctx, like.ID, "bob"); !chat.IsNotFound(err) {
		t.Errorf("重複刪除應回傳 NotFound，實際 %v", err)
	}

	list, err := f.notifier.List(ctx, "bob", 0)
	if err != nil || len(list) != 1 {
		t.Errorf("List = %v, %v", list, err)
	}
}

func TestListRetriesTransientError(t *testing.T) {
	f := newFixture(t)
	f.send(t, "alice", "bob", "hi")
	f.notifications.FailNext("List", chat.NewTransientStoreError("test", errors.New("timeout")))

	list, err := f.notifier.List(context.Background(), "bob", 10)
	if err != nil || len(list) != 1 {
		t.Errorf("List = %v, %v", list, err)
	}
}

func TestPruneRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, "alice", "bob", "hi")
	if _, err := f.notifier.MarkAllRead(ctx, "bob"); err != nil {
		t.Fatalf("MarkAllRead error = %v", err)
	}

	removed, err := f.notifier.PruneRead(ctx, time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || removed != 1 {
		t.Errorf("PruneRead = %d, %v", removed, err)
	}
}

package media

import (
	"context"
	"io"
	"strings"
	"testing"

	"chat-relay/internal/chat"
	"chat-relay/internal/storage/database/mongotest"
)

func TestPutAndOpen(t *testing.T) {
	db := mongotest.Database(t)
	s := NewGridFSStore(db, "uploads", "/api/v1/files/")
	ctx := context.Background()

	obj, err := s.Put(ctx, chat.Upload{
		Name:     "note.webm",
		MimeType: "audio/webm",
		OwnerID:  "alice",
		Body:     strings.NewReader("voice-bytes"),
	})
	if err != nil {
		t.Fatalf("Put error = %v", err)
	}
	if obj.Size != int64(len("voice-bytes")) || obj.URL != "/api/v1/files/"+obj.ID {
		t.Errorf("StoredObject = %+v", obj)
	}

	rc, meta, err := s.Open(ctx, obj.ID)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "voice-bytes" || meta.MimeType != "audio/webm" || meta.Name != "note.webm" {
		t.Errorf("Open = %q %+v", body, meta)
	}

	if _, _, err := s.Open(ctx, "507f1f77bcf86cd799439011"); !chat.IsNotFound(err) {
		t.Errorf("不存在的檔案應回傳 NotFound，實際 %v", err)
	}
	if _, _, err := s.Open(ctx, "not-an-id"); !chat.IsNotFound(err) {
		t.Errorf("無效 ID 應回傳 NotFound，實際 %v", err)
	}
}

package chattest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"chat-relay/internal/chat"
)

type storedObject struct {
	meta chat.StoredObject
	data []byte
}

// ObjectStore 記憶體物件儲存
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
	seq     int
}

// NewObjectStore 創建記憶體物件儲存
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string]storedObject)}
}

func (s *ObjectStore) Put(ctx context.Context, upload chat.Upload) (*chat.StoredObject, error) {
	data, err := io.ReadAll(upload.Body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("obj%d", s.seq)
	meta := chat.StoredObject{
		ID:       id,
		URL:      "/api/v1/files/" + id,
		Name:     upload.Name,
		MimeType: upload.MimeType,
		Size:     int64(len(data)),
	}
	s.objects[id] = storedObject{meta: meta, data: data}
	return &meta, nil
}

func (s *ObjectStore) Open(ctx context.Context, id string) (io.ReadCloser, *chat.StoredObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil, nil, chat.NewNotFoundError("chattest.Open", "檔案不存在")
	}
	meta := obj.meta
	return io.NopCloser(bytes.NewReader(obj.data)), &meta, nil
}

// Count 已儲存物件數
func (s *ObjectStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

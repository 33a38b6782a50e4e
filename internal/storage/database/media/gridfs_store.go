// Package media 以 GridFS 儲存語音與附件
package media

import (
	"context"
	"io"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/storage/database/mongoutil"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type fileMetadata struct {
	OwnerID    string    `bson:"owner_id"`
	MimeType   string    `bson:"mime_type"`
	UploadedAt time.Time `bson:"uploaded_at"`
}

// GridFSStore 實作 chat.ObjectStore
type GridFSStore struct {
	bucket     *mongo.GridFSBucket
	pathPrefix string
}

// NewGridFSStore 創建 GridFS 物件儲存，pathPrefix 用於組成下載 URL
func NewGridFSStore(db *mongo.Database, bucketName, pathPrefix string) *GridFSStore {
	return &GridFSStore{
		bucket:     db.GridFSBucket(options.GridFSBucket().SetName(bucketName)),
		pathPrefix: pathPrefix,
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Put 上傳檔案
func (s *GridFSStore) Put(ctx context.Context, upload chat.Upload) (*chat.StoredObject, error) {
	meta := fileMetadata{OwnerID: upload.OwnerID, MimeType: upload.MimeType, UploadedAt: time.Now().UTC()}
	body := &countingReader{r: upload.Body}

	id, err := s.bucket.UploadFromStream(ctx, upload.Name, body, options.GridFSUpload().SetMetadata(meta))
	if err != nil {
		return nil, mongoutil.MapError("media.Put", err)
	}

	return &chat.StoredObject{
		ID:       id.Hex(),
		URL:      s.pathPrefix + id.Hex(),
		Name:     upload.Name,
		MimeType: upload.MimeType,
		Size:     body.n,
	}, nil
}

// Open 開啟檔案下載串流，呼叫端負責關閉
func (s *GridFSStore) Open(ctx context.Context, id string) (io.ReadCloser, *chat.StoredObject, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil, chat.NewNotFoundError("media.Open", "檔案不存在")
	}

	stream, err := s.bucket.OpenDownloadStream(ctx, oid)
	if err != nil {
		if err == mongo.ErrFileNotFound {
			return nil, nil, chat.NewNotFoundError("media.Open", "檔案不存在")
		}
		return nil, nil, mongoutil.MapError("media.Open", err)
	}

	file := stream.GetFile()
	var meta fileMetadata
	if len(file.Metadata) > 0 {
		_ = bson.Unmarshal(file.Metadata, &meta)
	}

	return stream, &chat.StoredObject{
		ID:       id,
		URL:      s.pathPrefix + id,
		Name:     file.Name,
		MimeType: meta.MimeType,
		Size:     file.Length,
	}, nil
}

// Package notification 站內通知與推播訂閱的 MongoDB 儲存
package notification

import (
	"context"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/storage/database/mongoutil"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CollectionName 通知集合名稱
const CollectionName = "notifications"

// NotificationStore 實作 chat.NotificationStore
type NotificationStore struct {
	collection *mongo.Collection
}

// NewNotificationStore 創建通知存儲
func NewNotificationStore(db *mongo.Database) *NotificationStore {
	return &NotificationStore{collection: db.Collection(CollectionName)}
}

// Create 寫入通知；未讀訊息通知唯一索引衝突時回傳包裝後的 chat.ErrDuplicate
func (s *NotificationStore) Create(ctx context.Context, n *chat.Notification) error {
	_, err := s.collection.InsertOne(ctx, n)
	return mongoutil.MapError("notification.Create", err)
}

// Get 依 ID 取得通知
func (s *NotificationStore) Get(ctx context.Context, id string) (*chat.Notification, error) {
	var n chat.Notification
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&n); err != nil {
		return nil, mongoutil.MapError("notification.Get", err)
	}
	return &n, nil
}

// FindUnread 找出 from → to 的未讀通知，沒有時回傳 nil, nil
func (s *NotificationStore) FindUnread(ctx context.Context, from, to string, kind chat.NotificationKind) (*chat.Notification, error) {
	var n chat.Notification
	err := s.collection.FindOne(ctx, bson.M{
		"from_user_id": from,
		"to_user_id":   to,
		"kind":         kind,
		"read":         false,
	}).Decode(&n)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, mongoutil.MapError("notification.FindUnread", err)
	}
	return &n, nil
}

// MarkRead 標記單筆已讀，已讀的通知不會更新 read_at
func (s *NotificationStore) MarkRead(ctx context.Context, id string, at time.Time) error {
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.A{
		bson.M{"$set": bson.M{
			"read_at": bson.M{"$cond": bson.A{"$read", "$read_at", at}},
			"read":    true,
		}},
	})
	if err != nil {
		return mongoutil.MapError("notification.MarkRead", err)
	}
	if result.MatchedCount == 0 {
		return chat.NewNotFoundError("notification.MarkRead", "通知不存在")
	}
	return nil
}

// MarkAllRead 標記用戶所有未讀通知為已讀
func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	return s.markRead(ctx, "notification.MarkAllRead", bson.M{"to_user_id": userID, "read": false}, at)
}

// MarkReadFrom 標記 from → to 某類型的未讀通知為已讀
func (s *NotificationStore) MarkReadFrom(ctx context.Context, from, to string, kind chat.NotificationKind, at time.Time) (int64, error) {
	return s.markRead(ctx, "notification.MarkReadFrom", bson.M{
		"from_user_id": from,
		"to_user_id":   to,
		"kind":         kind,
		"read":         false,
	}, at)
}

func (s *NotificationStore) markRead(ctx context.Context, op string, filter bson.M, at time.Time) (int64, error) {
	result, err := s.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"read": true, "read_at": at}})
	if err != nil {
		return 0, mongoutil.MapError(op, err)
	}
	return result.ModifiedCount, nil
}

// Delete 刪除通知
func (s *NotificationStore) Delete(ctx context.Context, id string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mongoutil.MapError("notification.Delete", err)
	}
	if result.DeletedCount == 0 {
		return chat.NewNotFoundError("notification.Delete", "通知不存在")
	}
	return nil
}

// List 由新到舊列出用戶的通知
func (s *NotificationStore) List(ctx context.Context, userID string, limit int) ([]*chat.Notification, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, bson.M{"to_user_id": userID}, opts)
	if err != nil {
		return nil, mongoutil.MapError("notification.List", err)
	}

	var out []*chat.Notification
	if err := cursor.All(ctx, &out); err != nil {
		return nil, mongoutil.MapError("notification.List", err)
	}
	return out, nil
}

// CountUnread 計算未讀通知數
func (s *NotificationStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"to_user_id": userID, "read": false})
	return count, mongoutil.MapError("notification.CountUnread", err)
}

// PruneRead 刪除 readBefore 之前已讀的通知
func (s *NotificationStore) PruneRead(ctx context.Context, readBefore time.Time) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, bson.M{"read": true, "read_at": bson.M{"$lt": readBefore}})
	if err != nil {
		return 0, mongoutil.MapError("notification.PruneRead", err)
	}
	return result.DeletedCount, nil
}

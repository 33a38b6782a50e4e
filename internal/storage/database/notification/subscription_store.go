package notification

import (
	"context"
	"time"

	"chat-relay/internal/storage/database/mongoutil"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// SubscriptionCollection 推播訂閱集合名稱
const SubscriptionCollection = "push_subscriptions"

// SubscriptionKeys Web Push 訂閱金鑰
type SubscriptionKeys struct {
	P256dh string `bson:"p256dh" json:"p256dh"`
	Auth   string `bson:"auth" json:"auth"`
}

// Subscription 用戶的瀏覽器推播訂閱，每個用戶一筆
type Subscription struct {
	UserID    string           `bson:"user_id" json:"user_id"`
	Endpoint  string           `bson:"endpoint" json:"endpoint"`
	Keys      SubscriptionKeys `bson:"keys" json:"keys"`
	UpdatedAt time.Time        `bson:"updated_at" json:"updated_at"`
}

// SubscriptionStore 推播訂閱存儲
type SubscriptionStore struct {
	collection *mongo.Collection
}

// NewSubscriptionStore 創建推播訂閱存儲
func NewSubscriptionStore(db *mongo.Database) *SubscriptionStore {
	return &SubscriptionStore{collection: db.Collection(SubscriptionCollection)}
}

// Upsert 新增或取代用戶的訂閱
func (s *SubscriptionStore) Upsert(ctx context.Context, sub *Subscription) error {
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"user_id": sub.UserID},
		sub,
		options.Replace().SetUpsert(true),
	)
	return mongoutil.MapError("notification.UpsertSubscription", err)
}

// Get 取得用戶的訂閱
func (s *SubscriptionStore) Get(ctx context.Context, userID string) (*Subscription, error) {
	var sub Subscription
	if err := s.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&sub); err != nil {
		return nil, mongoutil.MapError("notification.GetSubscription", err)
	}
	return &sub, nil
}

// Delete 刪除指定 endpoint 的訂閱（推播服務回報已失效時）
func (s *SubscriptionStore) Delete(ctx context.Context, userID, endpoint string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"user_id": userID, "endpoint": endpoint})
	return mongoutil.MapError("notification.DeleteSubscription", err)
}

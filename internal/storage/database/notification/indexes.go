package notification

import (
	"context"

	"chat-relay/internal/chat"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建通知與推播訂閱索引
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	notificationIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "to_user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("to_user_time_idx"),
		},
		{
			Keys:    bson.D{{Key: "to_user_id", Value: 1}, {Key: "read", Value: 1}},
			Options: options.Index().SetName("to_user_read_idx"),
		},
		// 同一對用戶之間最多一筆未讀訊息通知
		{
			Keys: bson.D{{Key: "from_user_id", Value: 1}, {Key: "to_user_id", Value: 1}, {Key: "kind", Value: 1}},
			Options: options.Index().
				SetName("unread_message_unique_idx").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"kind": chat.NotificationMessage, "read": false}),
		},
		{
			Keys:    bson.D{{Key: "read", Value: 1}, {Key: "read_at", Value: 1}},
			Options: options.Index().SetName("read_at_idx"),
		},
	}
	if _, err := db.Collection(CollectionName).Indexes().CreateMany(ctx, notificationIndexes); err != nil {
		return err
	}

	_, err := db.Collection(SubscriptionCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetName("user_idx").SetUnique(true),
	})
	return err
}

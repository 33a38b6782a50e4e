package conversation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建訊息集合索引
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		// 對話歷史分頁
		{
			Keys:    bson.D{{Key: "conversation_key", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
			Options: options.Index().SetName("conversation_time_idx"),
		},
		// 已讀推進與清除對話時的自有訊息查詢
		{
			Keys:    bson.D{{Key: "sender_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("sender_receiver_status_idx"),
		},
		// 最近對話列表
		{
			Keys:    bson.D{{Key: "sender_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("sender_time_idx"),
		},
		{
			Keys:    bson.D{{Key: "receiver_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("receiver_time_idx"),
		},
	}

	_, err := db.Collection(CollectionName).Indexes().CreateMany(ctx, indexes)
	return err
}

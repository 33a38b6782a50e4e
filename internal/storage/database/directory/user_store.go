// Package directory 讀取社交服務的 users 集合，提供顯示名稱與最後上線時間
package directory

import (
	"context"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/storage/database/mongoutil"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CollectionName 用戶集合名稱（由身份服務擁有）
const CollectionName = "users"

// UserStore 實作 chat.Directory
type UserStore struct {
	collection *mongo.Collection
}

// NewUserStore 創建用戶目錄
func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{collection: db.Collection(CollectionName)}
}

// idFilter 身份服務以 ObjectID 為主鍵，舊資料可能是字串
func idFilter(userID string) bson.M {
	if err := mongoutil.ValidateObjectID(userID); err == nil {
		oid, _ := bson.ObjectIDFromHex(userID)
		return bson.M{"_id": bson.M{"$in": bson.A{oid, userID}}}
	}
	return bson.M{"_id": mongoutil.SafeStringValue(userID)}
}

// DisplayName 取得用戶名稱
func (s *UserStore) DisplayName(ctx context.Context, userID string) (string, error) {
	var row struct {
		Username string `bson:"username"`
	}
	opts := options.FindOne().SetProjection(bson.M{"username": 1})
	if err := s.collection.FindOne(ctx, idFilter(userID), opts).Decode(&row); err != nil {
		return "", mongoutil.MapError("directory.DisplayName", err)
	}
	if row.Username == "" {
		return "", chat.NewNotFoundError("directory.DisplayName", "用戶沒有名稱")
	}
	return row.Username, nil
}

// TouchLastActive 更新最後上線時間
func (s *UserStore) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	_, err := s.collection.UpdateOne(ctx, idFilter(userID), bson.M{"$set": bson.M{"last_active": at}})
	return mongoutil.MapError("directory.TouchLastActive", err)
}

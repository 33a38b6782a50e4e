// Package mongotest 提供需要實際 MongoDB 的整合測試輔助
package mongotest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// EnvURL 測試用 MongoDB 連線字串的環境變數
const EnvURL = "MONGO_TEST_URL"

// Database 建立一個測試專用的資料庫，測試結束時刪除。
// 未設定 MONGO_TEST_URL 或無法連線時略過測試。
func Database(t *testing.T) *mongo.Database {
	t.Helper()

	uri := os.Getenv(EnvURL)
	if uri == "" {
		t.Skipf("%s 未設定，略過 MongoDB 整合測試", EnvURL)
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetServerSelectionTimeout(3 * time.Second))
	if err != nil {
		t.Skipf("無法連接 MongoDB: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		t.Skipf("MongoDB ping 失敗: %v", err)
	}

	db := client.Database(fmt.Sprintf("chat_relay_test_%s", bson.NewObjectID().Hex()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return db
}

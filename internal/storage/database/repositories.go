package database

import (
	"context"
	"fmt"

	"chat-relay/internal/platform/config"
	"chat-relay/internal/storage/database/conversation"
	"chat-relay/internal/storage/database/directory"
	"chat-relay/internal/storage/database/media"
	"chat-relay/internal/storage/database/notification"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Repositories 倉儲集合.
type Repositories struct {
	Messages      *conversation.MessageStore
	Notifications *notification.NotificationStore
	Subscriptions *notification.SubscriptionStore
	Users         *directory.UserStore
	Media         *media.GridFSStore
}

// NewRepositories 創建倉儲集合並建立索引.
func NewRepositories(ctx context.Context, db *mongo.Database, cfg *config.Config, cipher conversation.TextCipher) (*Repositories, error) {
	if db == nil {
		return nil, fmt.Errorf("MongoDB 尚未初始化")
	}

	if err := conversation.CreateIndexes(ctx, db); err != nil {
		return nil, fmt.Errorf("創建訊息索引失敗: %w", err)
	}
	if err := notification.CreateIndexes(ctx, db); err != nil {
		return nil, fmt.Errorf("創建通知索引失敗: %w", err)
	}

	return &Repositories{
		Messages:      conversation.NewMessageStore(db, cipher),
		Notifications: notification.NewNotificationStore(db),
		Subscriptions: notification.NewSubscriptionStore(db),
		Users:         directory.NewUserStore(db),
		Media:         media.NewGridFSStore(db, cfg.Uploads.GridFSBucket, cfg.Uploads.PublicPathPrefix),
	}, nil
}

// Package mongoutil MongoDB 存取層共用工具
package mongoutil

import (
	"context"
	"errors"
	"fmt"

	"chat-relay/internal/chat"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MapError 將驅動錯誤轉換為 chat 錯誤分類
func MapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return chat.NewNotFoundError(op, "資料不存在")
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w", op, chat.ErrDuplicate)
	case IsTransient(err):
		return chat.NewTransientStoreError(op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// IsTransient 逾時與網路錯誤可重試
func IsTransient(err error) bool {
	return mongo.IsTimeout(err) ||
		mongo.IsNetworkError(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, mongo.ErrClientDisconnected)
}

package chat

import (
	"context"

	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/metrics"
)

// retryRead 冪等讀取遇到暫時性儲存錯誤時重試一次。寫入操作不可使用。
func retryRead[T any](ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil || !IsTransient(err) || ctx.Err() != nil {
		return v, err
	}

	metrics.StoreRetries.WithLabelValues(op).Inc()
	logger.Warning(ctx, "儲存層暫時不可用，重試讀取",
		logger.WithAction(op),
		logger.WithDetails(map[string]interface{}{"error": err.Error()}),
	)
	return fn(ctx)
}

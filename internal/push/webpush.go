// Package push 透過 Web Push (VAPID) 傳送離線通知
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"chat-relay/internal/chat"
	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/metrics"
	"chat-relay/internal/storage/database/notification"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// SubscriptionSource 推播訂閱來源
type SubscriptionSource interface {
	Get(ctx context.Context, userID string) (*notification.Subscription, error)
	Delete(ctx context.Context, userID, endpoint string) error
}

// Sender 實作 chat.PushSender
type Sender struct {
	subscriptions SubscriptionSource
	options       webpush.Options
}

// NewSender 以 VAPID 設定建立推播傳送器
func NewSender(subscriptions SubscriptionSource, cfg config.PushConfig) *Sender {
	return &Sender{
		subscriptions: subscriptions,
		options: webpush.Options{
			Subscriber:      cfg.Subscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             cfg.TTLSeconds,
			Urgency:         webpush.UrgencyHigh,
		},
	}
}

// Send 推送給用戶目前的訂閱；沒有訂閱時略過
func (s *Sender) Send(ctx context.Context, userID string, payload chat.PushPayload) error {
	sub, err := s.subscriptions.Get(ctx, userID)
	if err != nil {
		if chat.IsNotFound(err) {
			metrics.PushResults.WithLabelValues("no_subscription").Inc()
			return nil
		}
		metrics.PushResults.WithLabelValues("failed").Inc()
		return fmt.Errorf("讀取推播訂閱失敗: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化推播內容失敗: %w", err)
	}

	opts := s.options
	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}, &opts)
	if err != nil {
		metrics.PushResults.WithLabelValues("failed").Inc()
		return fmt.Errorf("推播傳送失敗: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// 訂閱已失效，移除後不再重試
		metrics.PushResults.WithLabelValues("expired").Inc()
		if err := s.subscriptions.Delete(ctx, userID, sub.Endpoint); err != nil {
			logger.Warningf(ctx, "移除失效推播訂閱失敗: %v", err)
		} else {
			logger.Info(ctx, "已移除失效推播訂閱", logger.WithUserID(userID))
		}
		return nil
	case resp.StatusCode >= 300:
		metrics.PushResults.WithLabelValues("failed").Inc()
		return fmt.Errorf("推播服務回應 %d", resp.StatusCode)
	}

	metrics.PushResults.WithLabelValues("sent").Inc()
	return nil
}

// Disabled 未啟用推播時使用
type Disabled struct{}

func (Disabled) Send(ctx context.Context, userID string, payload chat.PushPayload) error {
	return nil
}

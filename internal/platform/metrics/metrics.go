package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_relay"

var (
	// MessagesSent 已持久化的訊息數，依類型分類
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Messages persisted, by kind.",
	}, []string{"kind"})

	// StatusTransitions 投遞狀態轉換次數
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "message_status_transitions_total",
		Help:      "Delivery state transitions, by target status.",
	}, []string{"status"})

	// MessagesDeleted 刪除操作次數，依範圍分類
	MessagesDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_deleted_total",
		Help:      "Message deletions, by scope.",
	}, []string{"scope"})

	// Notifications 通知建立與抑制次數
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification decisions, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// PushResults 推播結果
	PushResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_results_total",
		Help:      "Web push attempts, by result.",
	}, []string{"result"})

	// StoreRetries 讀取重試次數
	StoreRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_read_retries_total",
		Help:      "Idempotent reads retried after a transient store error.",
	}, []string{"op"})

	// ConnectedSessions 目前連線數
	ConnectedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_sessions",
		Help:      "Currently connected realtime sessions.",
	})

	// FramesDropped 因緩衝區已滿而丟棄的事件
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_frames_dropped_total",
		Help:      "Realtime frames dropped because a session buffer was full.",
	}, []string{"event"})

	// RetentionPruned 保留策略刪除的通知數
	RetentionPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_pruned_notifications_total",
		Help:      "Read notifications removed by the retention job.",
	})
)

// Handler 暴露 Prometheus 指標
func Handler() http.Handler {
	return promhttp.Handler()
}

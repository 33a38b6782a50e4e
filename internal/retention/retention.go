// Package retention 依 cron 排程清除過期的已讀通知
package retention

import (
	"context"
	"fmt"
	"time"

	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/metrics"

	"github.com/adhocore/gronx"
)

// Pruner 刪除 readBefore 之前已讀的通知
type Pruner interface {
	PruneRead(ctx context.Context, readBefore time.Time) (int64, error)
}

// Job 通知保留排程
type Job struct {
	pruner  Pruner
	cron    string
	keepFor time.Duration
	now     func() time.Time
}

// NewJob 建立保留排程，cron 需為有效表達式
func NewJob(pruner Pruner, cfg config.RetentionConfig) (*Job, error) {
	if !gronx.IsValid(cfg.Cron) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}
	return &Job{
		pruner:  pruner,
		cron:    cfg.Cron,
		keepFor: time.Duration(cfg.ReadNotificationDays) * 24 * time.Hour,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start 在背景執行排程，回傳停止函式
func (j *Job) Start(ctx context.Context) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	go j.loop(ctx)
	logger.Info(ctx, "通知保留排程已啟動", logger.WithDetails(map[string]interface{}{
		"cron":      j.cron,
		"keep_days": int(j.keepFor.Hours() / 24),
	}))
	return cancel
}

func (j *Job) loop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(j.cron, j.now(), false)
		if err != nil {
			logger.Errorf(ctx, "計算下次保留排程失敗: %v", err)
			next = j.now().Add(time.Hour)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info(context.Background(), "通知保留排程已停止")
			return
		case <-timer.C:
			if _, err := j.RunOnce(ctx); err != nil {
				logger.Errorf(ctx, "通知保留清除失敗: %v", err)
			}
		}
	}
}

// RunOnce 立即執行一次清除
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.keepFor)
	removed, err := j.pruner.PruneRead(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	metrics.RetentionPruned.Add(float64(removed))
	logger.Info(ctx, "已清除過期已讀通知", logger.WithDetails(map[string]interface{}{
		"removed": removed,
		"cutoff":  cutoff.Format(time.RFC3339),
	}))
	return removed, nil
}

// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// sessions テーブルにはBaaSのトークンが保存されるため、
// 有効期限を過ぎた行は猶予期間の後に定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionDeleter は期限切れセッションの削除インターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Recorder は削除件数の計測インターフェース。
type Recorder interface {
	RecordSessionsDeleted(n int64)
}

// DefaultGracePeriod は期限切れから削除までの猶予期間のデフォルト値。
const DefaultGracePeriod = 24 * time.Hour

// CleanupJob は期限切れセッションの削除ジョブ。冪等に実行できる。
type CleanupJob struct {
	sessions    SessionDeleter
	recorder    Recorder
	logger      *slog.Logger
	now         func() time.Time
	GracePeriod time.Duration // 期限切れから削除までの猶予
}

// NewCleanupJob は新しいCleanupJobを生成する。recorder は nil でもよい。
func NewCleanupJob(sessions SessionDeleter, recorder Recorder, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions:    sessions,
		recorder:    recorder,
		logger:      logger,
		now:         time.Now,
		GracePeriod: DefaultGracePeriod,
	}
}

// Run は有効期限が now - GracePeriod 以前のセッションを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	before := j.now().Add(-j.GracePeriod)

	deleted, err := j.sessions.DeleteExpired(ctx, before)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("grace_period", j.GracePeriod),
		)
		return 0, fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsDeleted(deleted)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Time("expired_before", before),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

// Start は起動直後に1回実行し、以降 interval ごとに実行する。
// ctx がキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	// 失敗はRun内でログに記録済み
	_, _ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = j.Run(ctx)
		}
	}
}

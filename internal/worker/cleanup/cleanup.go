// Package cleanup は期限切れ確認トークンの定期破棄ジョブを提供する。
// 確認トークンの有効期限を過ぎても未確認のユーザーについて、
// 保持しているトークンを日次バッチでNULLにする。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTokenTTL は確認トークンの既定の有効期限。
const DefaultTokenTTL = 24 * time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// MetricsRecorder は破棄件数の記録インターフェース。
type MetricsRecorder interface {
	RecordVerificationTokensCleared(count int)
}

// VerificationCleanupJob は期限切れ確認トークンの破棄ジョブ。
// 同じ時刻に何度実行しても結果は変わらない。
type VerificationCleanupJob struct {
	db       Executor
	logger   *slog.Logger
	metrics  MetricsRecorder
	now      func() time.Time
	TokenTTL time.Duration // 確認トークンの有効期限（デフォルト: 24時間）
}

// NewVerificationCleanupJob は新しいVerificationCleanupJobを生成する。
// metricsはnilでもよい。
func NewVerificationCleanupJob(db Executor, logger *slog.Logger, metrics MetricsRecorder) *VerificationCleanupJob {
	return &VerificationCleanupJob{
		db:       db,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		TokenTTL: DefaultTokenTTL,
	}
}

// Run は登録からTokenTTL以上経過した未確認ユーザーの確認トークンを破棄する。
// 対象がない場合もエラーにならない。
func (j *VerificationCleanupJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.Add(-j.TokenTTL)

	query := `UPDATE users
		SET verification_token = NULL
		WHERE email_verified = FALSE
		  AND verification_token IS NOT NULL
		  AND created_at < $1`
	result, err := j.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		j.logger.Error("確認トークンの破棄に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("token_ttl", j.TokenTTL),
		)
		return fmt.Errorf("確認トークン破棄の実行に失敗: %w", err)
	}

	cleared, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("破棄件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("破棄件数の取得に失敗: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordVerificationTokensCleared(int(cleared))
	}

	j.logger.Info("確認トークンの破棄が完了しました",
		slog.Int64("cleared_count", cleared),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)

	return nil
}

// Start はinterval間隔でRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *VerificationCleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("確認トークン破棄ジョブを開始しました",
		slog.Duration("interval", interval),
	)

	j.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("確認トークン破棄ジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

// runLogged はRunのエラーをログに記録して継続する。Run内で既にログ出力済み。
func (j *VerificationCleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("次回の実行で再試行します", slog.String("error", err.Error()))
	}
}

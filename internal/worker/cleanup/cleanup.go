// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// expires_atを超過したセッション行を定期バッチで削除し、
// あわせて期限切れのワンタイムパスワードを無効化する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は期限切れセッションの自動削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:     db,
		logger: logger,
	}
}

// Run は期限切れセッションを削除し、期限切れのワンタイムパスワードを無効化する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := time.Now()

	result, err := j.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	// 期限切れのワンタイムパスワードを無効化
	result, err = j.db.ExecContext(ctx,
		`UPDATE users
		    SET reset_token = '', reset_expires = to_timestamp(0)
		  WHERE reset_token <> '' AND reset_expires < $1`, now)
	if err != nil {
		j.logger.Error("ワンタイムパスワードの無効化に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ワンタイムパスワードの無効化に失敗: %w", err)
	}

	expiredTokens, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("無効化件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", deletedCount),
		slog.Int64("expired_tokens", expiredTokens),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

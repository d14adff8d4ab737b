package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/spotboard/internal/metrics"
	"github.com/hitoshi/spotboard/internal/repository"
)

// Roster は通知メールの差出人アドレスとモデレーター宛先の名簿。
// ユーザーストアの権限タグから定期的に更新され、ディスパッチャーに
// 参照で渡される。更新間隔1回分の古さは許容する。
type Roster struct {
	userRepo repository.UserRepository
	logger   *slog.Logger
	metrics  metrics.MetricsCollector

	// fallback はモデレーターが1人も設定されていない場合の運用者宛先。
	fallback string

	mu         sync.RWMutex
	sender     string
	moderators []string
}

// NewRoster はRosterを生成する。
// fallbackAddressはモデレーター未設定時の宛先（必須）。
func NewRoster(
	userRepo repository.UserRepository,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	fallbackAddress string,
) *Roster {
	return &Roster{
		userRepo: userRepo,
		logger:   logger,
		metrics:  collector,
		fallback: fallbackAddress,
	}
}

// Refresh はユーザーストアから差出人とモデレーター名簿を再取得する。
func (r *Roster) Refresh(ctx context.Context) error {
	sender, err := r.userRepo.FindSenderEmail(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordRosterRefreshFailure()
		}
		return err
	}

	moderators, err := r.userRepo.ListModeratorEmails(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordRosterRefreshFailure()
		}
		return err
	}

	r.mu.Lock()
	r.sender = sender
	r.moderators = moderators
	r.mu.Unlock()

	return nil
}

// Sender は通知メールの差出人アドレスを返す。
// 差出人ユーザーが未設定の場合はフォールバックアドレスを返す。
func (r *Roster) Sender() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.sender == "" {
		return r.fallback
	}
	return r.sender
}

// Moderators はモデレーション通知の宛先リストを返す。
// モデレーターが1人もいない場合はフォールバックアドレスのみを返す
// （サイレントに通知を落とさない）。
func (r *Roster) Moderators() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.moderators) == 0 {
		return []string{r.fallback}
	}

	out := make([]string, len(r.moderators))
	copy(out, r.moderators)
	return out
}

// Start は指定間隔のティッカーで名簿の定期更新を起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Roster) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("名簿更新タスクを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := r.Refresh(ctx); err != nil {
		r.logger.Error("名簿の更新に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("名簿更新タスクを停止しました")
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Error("名簿の更新に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

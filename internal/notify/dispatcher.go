package notify

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/spotboard/internal/metrics"
	"github.com/hitoshi/spotboard/internal/model"
)

// Dispatcher はコメントライフサイクルイベントとパスワードリセットの
// メール通知を組み立て、非同期で送信する。
// 送信はat-most-onceのベストエフォートで、リトライしない。
// 失敗はログとメトリクスに記録されるのみで呼び出し元には伝播しない。
type Dispatcher struct {
	mailer  Mailer
	roster  *Roster
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	// baseURL はメール本文中のリンク生成に使用する。
	baseURL string

	wg sync.WaitGroup
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(
	mailer Mailer,
	roster *Roster,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	baseURL string,
) *Dispatcher {
	return &Dispatcher{
		mailer:  mailer,
		roster:  roster,
		logger:  logger,
		metrics: collector,
		baseURL: baseURL,
	}
}

// NotifyCommentCreated はコメント新規作成のモデレーション通知を送信する。
func (d *Dispatcher) NotifyCommentCreated(comment *model.Comment, author *model.User) {
	subject := fmt.Sprintf("新しいコメント: %s", comment.Title)
	body := fmt.Sprintf(
		"スポット %s に新しいコメントが投稿されました。\n\n"+
			"投稿者: %s\n"+
			"タイトル: %s\n"+
			"本文:\n%s\n\n"+
			"%s/spots/%s\n",
		comment.SpotID, author.DisplayName, comment.Title, comment.Content,
		d.baseURL, comment.SpotID,
	)
	d.dispatch(d.roster.Moderators(), subject, body)
}

// NotifyCommentEdited はコメント編集の通知を変更前後のスナップショット付きで送信する。
func (d *Dispatcher) NotifyCommentEdited(before, after *model.Comment, actor *model.User) {
	subject := fmt.Sprintf("コメントが編集されました: %s", after.Title)
	body := fmt.Sprintf(
		"コメント %s が編集されました。\n\n"+
			"編集者: %s\n\n"+
			"変更前:\n  タイトル: %s\n  本文: %s\n\n"+
			"変更後:\n  タイトル: %s\n  本文: %s\n",
		after.ID, actor.DisplayName,
		before.Title, before.Content,
		after.Title, after.Content,
	)
	d.dispatch(d.roster.Moderators(), subject, body)
}

// NotifyReplyAppended は返信追記の通知を返信本文付きで送信する。
func (d *Dispatcher) NotifyReplyAppended(comment *model.Comment, reply string, actor *model.User) {
	subject := fmt.Sprintf("コメントに返信がありました: %s", comment.Title)
	body := fmt.Sprintf(
		"コメント %s に返信が追加されました。\n\n"+
			"返信者: %s\n"+
			"返信:\n%s\n",
		comment.ID, actor.DisplayName, reply,
	)
	d.dispatch(d.roster.Moderators(), subject, body)
}

// NotifyCommentDeleted はコメント削除の通知を削除前のスナップショット付きで送信する。
func (d *Dispatcher) NotifyCommentDeleted(comment *model.Comment, actor *model.User) {
	subject := fmt.Sprintf("コメントが削除されました: %s", comment.Title)
	body := fmt.Sprintf(
		"コメント %s が削除されました。\n\n"+
			"削除者: %s\n\n"+
			"削除されたコメント:\n  タイトル: %s\n  本文: %s\n",
		comment.ID, actor.DisplayName, comment.Title, comment.Content,
	)
	d.dispatch(d.roster.Moderators(), subject, body)
}

// NotifyPasswordReset はワンタイムパスワードを本人宛に送信する。
func (d *Dispatcher) NotifyPasswordReset(email, token string) {
	subject := "パスワードリセットのご案内"
	body := fmt.Sprintf(
		"パスワードリセットのリクエストを受け付けました。\n\n"+
			"ワンタイムパスワード: %s\n\n"+
			"このワンタイムパスワードの有効期限は1時間です。\n"+
			"心当たりがない場合はこのメールを無視してください。\n",
		token,
	)
	d.dispatch([]string{email}, subject, body)
}

// dispatch はメール送信を非同期で実行する。
// 差出人は名簿の最新値を使用し、結果はログとメトリクスにのみ記録する。
func (d *Dispatcher) dispatch(to []string, subject, body string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := d.mailer.Send(d.roster.Sender(), to, subject, body); err != nil {
			if d.metrics != nil {
				d.metrics.RecordMailFailure()
			}
			d.logger.Error("通知メールの送信に失敗しました",
				slog.String("subject", subject),
				slog.Int("recipients", len(to)),
				slog.String("error", err.Error()),
			)
			return
		}

		if d.metrics != nil {
			d.metrics.RecordMailSent()
		}
		d.logger.Info("通知メールを送信しました",
			slog.String("subject", subject),
			slog.Int("recipients", len(to)),
		)
	}()
}

// Wait は実行中の送信が全て完了するまで待機する。
// グレースフルシャットダウンとテストで使用する。
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

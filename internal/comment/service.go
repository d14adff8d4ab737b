// Package comment はコメントのライフサイクル（投稿・編集・返信・投票・削除）と
// 時間制限付きの編集認可ポリシーを提供する。
package comment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/spotboard/internal/model"
	"github.com/hitoshi/spotboard/internal/repository"
	"github.com/hitoshi/spotboard/internal/security"
)

// Notifier はコメントライフサイクルイベントの通知インターフェース。
// 全メソッドはfire-and-forgetで、通知の失敗は呼び出し元の処理に影響しない。
type Notifier interface {
	NotifyCommentCreated(comment *model.Comment, author *model.User)
	NotifyCommentEdited(before, after *model.Comment, actor *model.User)
	NotifyReplyAppended(comment *model.Comment, reply string, actor *model.User)
	NotifyCommentDeleted(comment *model.Comment, actor *model.User)
}

// ServiceConfig はコメントサービスの設定。
type ServiceConfig struct {
	// EditWindow は投稿者本人が編集・削除できる投稿からの経過時間。
	EditWindow time.Duration
}

// Service はコメントに関するビジネスロジックを提供する。
type Service struct {
	commentRepo repository.CommentRepository
	sanitizer   security.TextSanitizerService
	notifier    Notifier
	config      ServiceConfig
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	commentRepo repository.CommentRepository,
	sanitizer security.TextSanitizerService,
	notifier Notifier,
	config ServiceConfig,
) *Service {
	return &Service{
		commentRepo: commentRepo,
		sanitizer:   sanitizer,
		notifier:    notifier,
		config:      config,
	}
}

// Create はコメントを新規作成する。
// タイトル・本文は切り詰め→サニタイズの順で処理され、
// 処理後に空になった場合はValidationErrorを返す。
// 成功時はモデレーション通知を非同期で発火する。
func (s *Service) Create(ctx context.Context, spotID string, author *model.User, title, content string) (*model.Comment, error) {
	if spotID == "" {
		return nil, model.NewValidationError("スポットIDは必須です")
	}

	title = s.sanitizeText(title, model.MaxTitleLength)
	content = s.sanitizeText(content, model.MaxContentLength)

	if title == "" {
		return nil, model.NewValidationError("タイトルは必須です")
	}
	if content == "" {
		return nil, model.NewValidationError("本文は必須です")
	}

	comment := &model.Comment{
		ID:        uuid.New().String(),
		SpotID:    spotID,
		UserID:    author.ID,
		Title:     title,
		Content:   content,
		Replies:   []string{},
		Voters:    []string{},
		CreatedAt: time.Now(),
	}

	if err := s.commentRepo.Create(ctx, comment); err != nil {
		return nil, fmt.Errorf("コメントの保存に失敗しました: %w", err)
	}

	if s.notifier != nil {
		s.notifier.NotifyCommentCreated(comment, author)
	}

	return comment, nil
}

// Update はコメントのタイトルと本文を更新する。
// 編集認可（CanEdit）を満たさない場合はForbiddenを返す。
// 成功時は変更前後のスナップショット付きで編集通知を発火する。
func (s *Service) Update(ctx context.Context, commentID string, actor *model.User, title, content string) (*model.Comment, error) {
	comment, err := s.commentRepo.FindByID(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	if comment == nil {
		return nil, model.NewCommentNotFoundError(commentID)
	}

	if !s.CanEdit(comment, actor, time.Now()) {
		return nil, model.NewForbiddenError()
	}

	title = s.sanitizeText(title, model.MaxTitleLength)
	content = s.sanitizeText(content, model.MaxContentLength)

	if title == "" {
		return nil, model.NewValidationError("タイトルは必須です")
	}
	if content == "" {
		return nil, model.NewValidationError("本文は必須です")
	}

	before := *comment

	if err := s.commentRepo.UpdateText(ctx, commentID, title, content); err != nil {
		return nil, fmt.Errorf("コメントの更新に失敗しました: %w", err)
	}

	comment.Title = title
	comment.Content = content

	if s.notifier != nil {
		s.notifier.NotifyCommentEdited(&before, comment, actor)
	}

	return comment, nil
}

// AppendReply は返信を返信列の末尾に追記する。
// 所有権チェックはなく、認証済みユーザーなら誰でも追記できる。
// 返信は144文字に切り詰め、サニタイズ後に空なら拒否する。
func (s *Service) AppendReply(ctx context.Context, commentID string, actor *model.User, reply string) (*model.Comment, error) {
	comment, err := s.commentRepo.FindByID(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	if comment == nil {
		return nil, model.NewCommentNotFoundError(commentID)
	}

	sanitized := s.sanitizeText(reply, model.MaxReplyLength)
	if sanitized == "" {
		return nil, model.NewValidationError("返信は必須です")
	}

	if err := s.commentRepo.AppendReply(ctx, commentID, sanitized); err != nil {
		return nil, fmt.Errorf("返信の追記に失敗しました: %w", err)
	}

	comment.Replies = append(comment.Replies, sanitized)

	if s.notifier != nil {
		s.notifier.NotifyReplyAppended(comment, sanitized, actor)
	}

	return comment, nil
}

// DeleteReply は返信IDで指定された返信を1件削除する。
// 返信IDは "コメントID:インデックス" 形式。削除後は後続の返信が1つずつ詰められ、
// 残りの返信の相対順序は保持される。
// モデレーターまたは管理者のみが実行できる。
func (s *Service) DeleteReply(ctx context.Context, replyID string, actor *model.User) (*model.Comment, error) {
	if !actor.HasCapability(model.CapabilityModerator) && !actor.HasCapability(model.CapabilityAdmin) {
		return nil, model.NewForbiddenError()
	}

	commentID, index, err := parseReplyID(replyID)
	if err != nil {
		return nil, model.NewValidationError("返信IDの形式が正しくありません")
	}

	comment, err := s.commentRepo.FindByID(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	if comment == nil {
		return nil, model.NewCommentNotFoundError(commentID)
	}

	if index < 0 || index >= len(comment.Replies) {
		return nil, model.NewReplyIndexOutOfRangeError(commentID, index)
	}

	// スプライス: 指定要素のみ取り除き、残りの順序を保つ
	replies := make([]string, 0, len(comment.Replies)-1)
	replies = append(replies, comment.Replies[:index]...)
	replies = append(replies, comment.Replies[index+1:]...)

	if err := s.commentRepo.ReplaceReplies(ctx, commentID, replies); err != nil {
		return nil, fmt.Errorf("返信の削除に失敗しました: %w", err)
	}

	comment.Replies = replies
	return comment, nil
}

// Delete はコメントを削除する。編集認可（CanEdit）を満たさない場合はForbiddenを返す。
// 成功時は削除前のスナップショット付きで削除通知を発火する。
func (s *Service) Delete(ctx context.Context, commentID string, actor *model.User) error {
	comment, err := s.commentRepo.FindByID(ctx, commentID)
	if err != nil {
		return fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	if comment == nil {
		return model.NewCommentNotFoundError(commentID)
	}

	if !s.CanEdit(comment, actor, time.Now()) {
		return model.NewForbiddenError()
	}

	snapshot := *comment

	if err := s.commentRepo.Delete(ctx, commentID); err != nil {
		return fmt.Errorf("コメントの削除に失敗しました: %w", err)
	}

	if s.notifier != nil {
		s.notifier.NotifyCommentDeleted(&snapshot, actor)
	}

	return nil
}

// Upvote は投票者集合にユーザーを追加し、更新後の投票数を返す。
// 同一ユーザーの再投票は冪等で、エラーにならず現在の投票数を返す。
// 投票の取り消しはサポートしない。
func (s *Service) Upvote(ctx context.Context, commentID, voterID string) (int, error) {
	count, err := s.commentRepo.AddVoter(ctx, commentID, voterID)
	if err != nil {
		return 0, fmt.Errorf("投票の記録に失敗しました: %w", err)
	}
	if count < 0 {
		return 0, model.NewCommentNotFoundError(commentID)
	}
	return count, nil
}

// List はスポットのコメント一覧を新しい順で返す。
func (s *Service) List(ctx context.Context, spotID string) ([]model.CommentWithAuthor, error) {
	comments, err := s.commentRepo.ListBySpotID(ctx, spotID)
	if err != nil {
		return nil, fmt.Errorf("コメント一覧の取得に失敗しました: %w", err)
	}
	return comments, nil
}

// Read はコメントを投稿者情報付きで1件取得する。
func (s *Service) Read(ctx context.Context, commentID string) (*model.CommentWithAuthor, error) {
	comment, err := s.commentRepo.FindByIDWithAuthor(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	if comment == nil {
		return nil, model.NewCommentNotFoundError(commentID)
	}
	return comment, nil
}

// CanEdit はコメントの編集・削除認可を判定する。
// 管理者権限は時間・返信数の制限を無条件にバイパスする。
// それ以外は「投稿者本人」かつ「経過時間が編集ウィンドウ内」かつ「返信ゼロ」の
// 全てを満たす場合のみ許可する。
func (s *Service) CanEdit(comment *model.Comment, actor *model.User, now time.Time) bool {
	if actor == nil {
		return false
	}
	if actor.HasCapability(model.CapabilityAdmin) {
		return true
	}
	return comment.UserID == actor.ID &&
		comment.AgeAt(now) <= s.config.EditWindow &&
		len(comment.Replies) == 0
}

// sanitizeText は切り詰め→サニタイズの順でテキストを処理する。
// 切り詰めは長さ検証より先に適用される。
func (s *Service) sanitizeText(text string, maxLength int) string {
	text = truncate(text, maxLength)
	return s.sanitizer.Sanitize(text)
}

// truncate は文字数（rune数）でテキストを切り詰める。
func truncate(text string, maxLength int) string {
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	return string(runes[:maxLength])
}

// ReplyID は返信を一意に指す "コメントID:インデックス" 形式のIDを生成する。
func ReplyID(commentID string, index int) string {
	return commentID + ":" + strconv.Itoa(index)
}

// parseReplyID は返信IDをコメントIDとインデックスに分解する。
func parseReplyID(replyID string) (string, int, error) {
	i := strings.LastIndex(replyID, ":")
	if i <= 0 || i == len(replyID)-1 {
		return "", 0, fmt.Errorf("invalid reply ID: %s", replyID)
	}
	index, err := strconv.Atoi(replyID[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid reply index: %w", err)
	}
	return replyID[:i], index, nil
}

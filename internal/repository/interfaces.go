// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/spotboard/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はローカル認証ユーザーを作成する。
	// email/usernameの一意制約違反はmodel.APIError（ALREADY_EXISTS）に変換して返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はOAuthユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はプロフィールの可変フィールドのみを更新する。
	// 対象: first_name, last_name, display_name, email, username, updated_at。
	// rolesやパスワード関連フィールドはこのメソッドでは変更できない。
	UpdateProfile(ctx context.Context, user *model.User) error

	// UpdatePassword はパスワードハッシュとソルトを更新する。
	UpdatePassword(ctx context.Context, userID, passwordHash string, salt []byte) error

	// SetResetToken はワンタイムパスワードと有効期限を設定する。
	// 既存のトークンがあれば上書きされ、旧トークンは無効になる。
	SetResetToken(ctx context.Context, userID, token string, expires time.Time) error

	// ConsumeResetToken はワンタイムパスワードを検証し、単一文で消費する。
	// 格納トークンが空でなく、期限内で、完全一致する場合のみ
	// トークンを空文字列・期限をepochにクリアし、ユーザーIDを返す。
	// 条件を満たさない場合は空文字列を返す（行は変更されない）。
	ConsumeResetToken(ctx context.Context, email, token string, now time.Time) (string, error)

	// FindSenderEmail は通知メール差出人に指定されたユーザーのメールアドレスを返す。
	// 未指定の場合は空文字列を返す。
	FindSenderEmail(ctx context.Context) (string, error)

	// ListModeratorEmails はモデレーター権限を持つ全ユーザーのメールアドレスを返す。
	ListModeratorEmails(ctx context.Context) ([]string, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentitiesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// CommentRepository はコメントデータの永続化インターフェース。
// 投票集合と返信列の更新はDBの単一行・単一文の原子性に依存する。
type CommentRepository interface {
	// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Comment, error)

	// FindByIDWithAuthor は指定IDのコメントを投稿者情報付きで取得する。
	// 見つからない場合はnilを返す。
	FindByIDWithAuthor(ctx context.Context, id string) (*model.CommentWithAuthor, error)

	// ListBySpotID はスポットのコメント一覧を投稿者情報付きで返す。
	// created_at降順（新しい順）。
	ListBySpotID(ctx context.Context, spotID string) ([]model.CommentWithAuthor, error)

	// Create はコメントを作成する。
	Create(ctx context.Context, comment *model.Comment) error

	// UpdateText はタイトルと本文のみを更新する。他フィールドは変更しない。
	UpdateText(ctx context.Context, id, title, content string) error

	// AppendReply は返信列の末尾に1件追記する。
	AppendReply(ctx context.Context, id, reply string) error

	// ReplaceReplies は返信列全体を置き換える。
	// インデックス指定削除のスプライス結果の書き戻しに使用する。
	ReplaceReplies(ctx context.Context, id string, replies []string) error

	// AddVoter は投票者集合にユーザーを冪等に追加し、更新後の投票数を返す。
	// 既に投票済みの場合は集合を変更せず現在の投票数を返す。
	// コメントが存在しない場合は-1を返す。
	AddVoter(ctx context.Context, id, userID string) (int, error)

	// Delete は指定IDのコメントを削除する。
	Delete(ctx context.Context, id string) error
}

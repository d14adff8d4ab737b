// Package model はドメインモデルを定義する。
package model

import (
	"slices"
	"time"
)

// Capability はユーザーに付与される権限タグを表す。
// ロール名の文字列照合ではなく、列挙された定数で権限判定を行う。
type Capability string

const (
	// CapabilityUser は一般ユーザーの基本権限。
	CapabilityUser Capability = "user"
	// CapabilityAdmin は管理者権限。コメント編集・削除の制限を無条件にバイパスする。
	CapabilityAdmin Capability = "admin"
	// CapabilityModerator はコメントモデレーター。ライフサイクル通知メールの宛先になる。
	CapabilityModerator Capability = "moderator"
	// CapabilitySender はモデレーション通知メールの差出人に指定されたユーザー。
	CapabilitySender Capability = "sender"
)

// User はサービス利用ユーザーを表す。
// ローカル認証ユーザーはPasswordHash/Saltを持ち、OAuthユーザーは持たない。
type User struct {
	ID          string
	Email       string
	Username    string
	FirstName   string
	LastName    string
	DisplayName string

	// ローカル認証用。PasswordHashはpbkdf2導出値のbase64表現。
	PasswordHash string
	Salt         []byte

	// Provider は認証経路（"local", "google" 等）。
	Provider string

	Roles []Capability

	// ワンタイムパスワード。未発行時はResetTokenが空文字列。
	ResetToken   string
	ResetExpires time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCapability はユーザーが指定の権限タグを持つかを返す。
func (u *User) HasCapability(c Capability) bool {
	return slices.Contains(u.Roles, c)
}

// Identity は外部IdPとの紐付け情報を表す。
// 複数のIdP（Google, GitHub等）に対応可能な構造。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

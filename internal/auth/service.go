// Package auth はパスワード認証、OAuth認証フロー、ワンタイムパスワードによる
// パスワードリセット、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/spotboard/internal/model"
	"github.com/hitoshi/spotboard/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	FirstName      string
	LastName       string
	DisplayName    string
	Provider       string // "google", "github" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ResetNotifier はワンタイムパスワードの通知インターフェース。
// 送信は非同期で行われ、失敗してもリセット要求のレスポンスには影響しない。
type ResetNotifier interface {
	NotifyPasswordReset(email, token string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int           // セッション有効期間（秒）
	ResetTokenTTL time.Duration // ワンタイムパスワードの有効期間
}

// Service は認証に関するビジネスロジックを提供する。
// oauthがnilの場合、OAuth系の操作は利用できない（ルートが公開されない）。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	notifier    ResetNotifier
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	notifier ResetNotifier,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		notifier:    notifier,
		config:      config,
	}
}

// SignUpInput はローカル認証のユーザー登録入力。
type SignUpInput struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
	Password  string
}

// SignUp はローカル認証ユーザーを登録し、セッションを発行する。
// ロールは常に基本権限のみで作成され、登録入力からは指定できない。
func (s *Service) SignUp(ctx context.Context, input SignUpInput) (*model.Session, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	username := strings.TrimSpace(input.Username)

	if email == "" || !strings.Contains(email, "@") {
		return nil, model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	if username == "" {
		return nil, model.NewValidationError("ユーザー名は必須です")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	salt, err := GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Username:     username,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		DisplayName:  displayName(input.FirstName, input.LastName, username),
		PasswordHash: HashPassword(input.Password, salt),
		Salt:         salt,
		Provider:     "local",
		Roles:        []model.Capability{model.CapabilityUser},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	slog.Info("new user signed up",
		slog.String("user_id", user.ID),
		slog.String("provider", "local"),
	)

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// SignInPassword はメールアドレスとパスワードで認証し、セッションを発行する。
// ユーザー不在とパスワード不一致は同一のエラーとして返す。
func (s *Service) SignInPassword(ctx context.Context, email, password string) (*model.Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	// OAuthユーザー（PasswordHashが空）もパスワード認証は拒否する
	if user == nil || user.PasswordHash == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	if !VerifyPassword(password, user.Salt, user.PasswordHash) {
		return nil, model.NewInvalidCredentialsError()
	}

	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("provider", "local"),
	)

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// RequestReset はワンタイムパスワードを発行し、メール送信をディスパッチする。
// アカウントの存在有無に関わらず常に成功を返し、メールアドレスの探索を防ぐ。
// 再リクエスト時は旧トークンが上書きされ無効になる。
func (s *Service) RequestReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		slog.Info("password reset requested for unknown email")
		return nil
	}

	token, err := generateResetToken()
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}

	expires := time.Now().Add(s.config.ResetTokenTTL)
	if err := s.userRepo.SetResetToken(ctx, user.ID, token, expires); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	if s.notifier != nil {
		s.notifier.NotifyPasswordReset(user.Email, token)
	}

	slog.Info("password reset token issued", slog.String("user_id", user.ID))
	return nil
}

// ConsumeReset はワンタイムパスワードを検証・消費し、セッションを発行する。
// トークンは単一文で原子的に消費されるため、二重消費は必ず片方が失敗する。
// パスワードは変更されない。ログイン後にChangePasswordで再設定する運用。
func (s *Service) ConsumeReset(ctx context.Context, email, token string) (*model.Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	userID, err := s.userRepo.ConsumeResetToken(ctx, email, token, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to consume reset token: %w", err)
	}
	if userID == "" {
		return nil, model.NewInvalidTokenError()
	}

	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("one-time sign in completed", slog.String("user_id", userID))
	return session, nil
}

// ChangePassword は現在のパスワードを検証した上で新しいパスワードを設定する。
// 成功時は全セッションを破棄し、新しいセッションを発行して返す。
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, confirmPassword string) (*model.Session, error) {
	if newPassword != confirmPassword {
		return nil, model.NewPasswordMismatchError()
	}
	if err := validatePassword(newPassword); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	if user.PasswordHash == "" || !VerifyPassword(currentPassword, user.Salt, user.PasswordHash) {
		return nil, model.NewInvalidCredentialsError()
	}

	salt, err := GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := s.userRepo.UpdatePassword(ctx, userID, HashPassword(newPassword, salt), salt); err != nil {
		return nil, fmt.Errorf("failed to update password: %w", err)
	}

	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to invalidate sessions: %w", err)
	}

	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("password changed", slog.String("user_id", userID))
	return session, nil
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusersレコードとidentitiesレコードを同時に自動作成する。
// 登録済みユーザーの場合はidentitiesテーブルで既存ユーザーを特定しログインする。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var userID string

	if identity != nil {
		userID = identity.UserID
		slog.Info("existing user logged in",
			slog.String("user_id", userID),
			slog.String("provider", userInfo.Provider),
		)
	} else {
		newUserID := uuid.New().String()
		now := time.Now()

		// ユーザー名はメールアドレスのローカル部から導出する
		username := userInfo.Email
		if at := strings.Index(username, "@"); at > 0 {
			username = username[:at]
		}

		newUser := &model.User{
			ID:          newUserID,
			Email:       strings.ToLower(userInfo.Email),
			Username:    username,
			FirstName:   userInfo.FirstName,
			LastName:    userInfo.LastName,
			DisplayName: displayName(userInfo.FirstName, userInfo.LastName, username),
			Provider:    userInfo.Provider,
			Roles:       []model.Capability{model.CapabilityUser},
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		newIdentity := &model.Identity{
			ID:             uuid.New().String(),
			UserID:         newUserID,
			Provider:       userInfo.Provider,
			ProviderUserID: userInfo.ProviderUserID,
			CreatedAt:      now,
		}

		if err := s.userRepo.CreateWithIdentity(ctx, newUser, newIdentity); err != nil {
			return nil, fmt.Errorf("failed to create user and identity: %w", err)
		}

		userID = newUserID
		slog.Info("new user created",
			slog.String("user_id", userID),
			slog.String("provider", userInfo.Provider),
		)
	}

	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// validatePassword はパスワードの最低要件を検証する。
func validatePassword(password string) error {
	if len(password) < 8 {
		return model.NewValidationError("パスワードは8文字以上で指定してください")
	}
	return nil
}

// displayName は姓名から表示名を組み立てる。両方空の場合はユーザー名を使用する。
func displayName(firstName, lastName, username string) string {
	name := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	if name == "" {
		return username
	}
	return name
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// generateResetToken はURLセーフなワンタイムパスワードを生成する。
func generateResetToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

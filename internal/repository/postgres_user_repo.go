package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/spotboard/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, username, first_name, last_name, display_name,
	 password_hash, salt, provider, roles, reset_token, reset_expires, created_at, updated_at`

// scanUser は1行をmodel.Userに読み込む。
func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	user := &model.User{}
	var roles []string
	err := row.Scan(
		&user.ID, &user.Email, &user.Username, &user.FirstName, &user.LastName,
		&user.DisplayName, &user.PasswordHash, &user.Salt, &user.Provider,
		pq.Array(&roles), &user.ResetToken, &user.ResetExpires,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Roles = make([]model.Capability, len(roles))
	for i, r := range roles {
		user.Roles[i] = model.Capability(r)
	}
	return user, nil
}

// rolesToStrings はCapabilityスライスをtext[]格納用に変換する。
func rolesToStrings(roles []model.Capability) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はローカル認証ユーザーを作成する。
// email/usernameの一意制約違反はALREADY_EXISTSエラーに変換して返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, username, first_name, last_name, display_name,
		  password_hash, salt, provider, roles, reset_token, reset_expires, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		user.ID, user.Email, user.Username, user.FirstName, user.LastName,
		user.DisplayName, user.PasswordHash, user.Salt, user.Provider,
		pq.Array(rolesToStrings(user.Roles)), user.ResetToken, user.ResetExpires,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return model.NewAlreadyExistsError("メールアドレスまたはユーザー名")
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// CreateWithIdentity はOAuthユーザーとidentityを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, username, first_name, last_name, display_name,
		  password_hash, salt, provider, roles, reset_token, reset_expires, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		user.ID, user.Email, user.Username, user.FirstName, user.LastName,
		user.DisplayName, user.PasswordHash, user.Salt, user.Provider,
		pq.Array(rolesToStrings(user.Roles)), user.ResetToken, user.ResetExpires,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return model.NewAlreadyExistsError("メールアドレス")
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateProfile はプロフィールの可変フィールドのみを更新する。
// rolesやパスワード関連フィールドはSQLの列指定から除外されており変更されない。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET email = $2, username = $3, first_name = $4, last_name = $5,
		     display_name = $6, updated_at = $7
		 WHERE id = $1`,
		user.ID, user.Email, user.Username, user.FirstName, user.LastName,
		user.DisplayName, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return model.NewAlreadyExistsError("メールアドレスまたはユーザー名")
		}
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return nil
}

// UpdatePassword はパスワードハッシュとソルトを更新する。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, userID, passwordHash string, salt []byte) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, salt = $3, updated_at = now() WHERE id = $1`,
		userID, passwordHash, salt,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// SetResetToken はワンタイムパスワードと有効期限を設定する。
// 既存トークンは上書きされ、同時に有効なトークンは常に1つ以下になる。
func (r *PostgresUserRepo) SetResetToken(ctx context.Context, userID, token string, expires time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET reset_token = $2, reset_expires = $3 WHERE id = $1`,
		userID, token, expires,
	)
	if err != nil {
		return fmt.Errorf("failed to set reset token: %w", err)
	}
	return nil
}

// ConsumeResetToken はワンタイムパスワードを検証し、単一文で消費する。
// 検証とクリアが1つのUPDATE文で行われるため、同一トークンの二重消費は
// 行の原子性により必ず片方だけが成功する。
func (r *PostgresUserRepo) ConsumeResetToken(ctx context.Context, email, token string, now time.Time) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET reset_token = '', reset_expires = to_timestamp(0)
		 WHERE email = $1
		   AND reset_token <> ''
		   AND reset_token = $2
		   AND reset_expires > $3
		 RETURNING id`,
		email, token, now,
	).Scan(&userID)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume reset token: %w", err)
	}
	return userID, nil
}

// FindSenderEmail は通知メール差出人に指定されたユーザーのメールアドレスを返す。
// 未指定の場合は空文字列を返す。
func (r *PostgresUserRepo) FindSenderEmail(ctx context.Context) (string, error) {
	var email string
	err := r.db.QueryRowContext(ctx,
		`SELECT email FROM users WHERE roles @> ARRAY['sender'] LIMIT 1`,
	).Scan(&email)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find sender email: %w", err)
	}
	return email, nil
}

// ListModeratorEmails はモデレーター権限を持つ全ユーザーのメールアドレスを返す。
func (r *PostgresUserRepo) ListModeratorEmails(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT email FROM users WHERE roles @> ARRAY['moderator'] ORDER BY email`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list moderator emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan moderator email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate moderator emails: %w", err)
	}
	return emails, nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するidentitiesはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)

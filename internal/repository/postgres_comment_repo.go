package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/spotboard/internal/model"
)

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
// repliesとvotersはtext[]列で保持し、更新は単一UPDATE文の原子性に依存する。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
func (r *PostgresCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	comment := &model.Comment{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, spot_id, user_id, title, content, replies, voters, created_at
		 FROM comments
		 WHERE id = $1`,
		id,
	).Scan(
		&comment.ID, &comment.SpotID, &comment.UserID, &comment.Title, &comment.Content,
		pq.Array(&comment.Replies), pq.Array(&comment.Voters), &comment.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find comment by ID: %w", err)
	}
	return comment, nil
}

// FindByIDWithAuthor は指定IDのコメントを投稿者情報付きで取得する。
// 見つからない場合はnilを返す。
func (r *PostgresCommentRepo) FindByIDWithAuthor(ctx context.Context, id string) (*model.CommentWithAuthor, error) {
	c := &model.CommentWithAuthor{}
	err := r.db.QueryRowContext(ctx,
		`SELECT c.id, c.spot_id, c.user_id, c.title, c.content, c.replies, c.voters, c.created_at,
		        u.email, u.display_name
		 FROM comments c
		 JOIN users u ON u.id = c.user_id
		 WHERE c.id = $1`,
		id,
	).Scan(
		&c.ID, &c.SpotID, &c.UserID, &c.Title, &c.Content,
		pq.Array(&c.Replies), pq.Array(&c.Voters), &c.CreatedAt,
		&c.AuthorEmail, &c.AuthorDisplayName,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find comment with author: %w", err)
	}
	return c, nil
}

// ListBySpotID はスポットのコメント一覧を投稿者情報付きで返す。新しい順。
func (r *PostgresCommentRepo) ListBySpotID(ctx context.Context, spotID string) ([]model.CommentWithAuthor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.spot_id, c.user_id, c.title, c.content, c.replies, c.voters, c.created_at,
		        u.email, u.display_name
		 FROM comments c
		 JOIN users u ON u.id = c.user_id
		 WHERE c.spot_id = $1
		 ORDER BY c.created_at DESC`,
		spotID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments by spot ID: %w", err)
	}
	defer rows.Close()

	var comments []model.CommentWithAuthor
	for rows.Next() {
		var c model.CommentWithAuthor
		err := rows.Scan(
			&c.ID, &c.SpotID, &c.UserID, &c.Title, &c.Content,
			pq.Array(&c.Replies), pq.Array(&c.Voters), &c.CreatedAt,
			&c.AuthorEmail, &c.AuthorDisplayName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return comments, nil
}

// Create はコメントを作成する。
func (r *PostgresCommentRepo) Create(ctx context.Context, comment *model.Comment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO comments (id, spot_id, user_id, title, content, replies, voters, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		comment.ID, comment.SpotID, comment.UserID, comment.Title, comment.Content,
		pq.Array(comment.Replies), pq.Array(comment.Voters), comment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

// UpdateText はタイトルと本文のみを更新する。replies/voters/created_atは変更しない。
func (r *PostgresCommentRepo) UpdateText(ctx context.Context, id, title, content string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE comments SET title = $2, content = $3 WHERE id = $1`,
		id, title, content,
	)
	if err != nil {
		return fmt.Errorf("failed to update comment text: %w", err)
	}
	return nil
}

// AppendReply は返信列の末尾に1件追記する。
func (r *PostgresCommentRepo) AppendReply(ctx context.Context, id, reply string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE comments SET replies = array_append(replies, $2) WHERE id = $1`,
		id, reply,
	)
	if err != nil {
		return fmt.Errorf("failed to append reply: %w", err)
	}
	return nil
}

// ReplaceReplies は返信列全体を置き換える。
func (r *PostgresCommentRepo) ReplaceReplies(ctx context.Context, id string, replies []string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE comments SET replies = $2 WHERE id = $1`,
		id, pq.Array(replies),
	)
	if err != nil {
		return fmt.Errorf("failed to replace replies: %w", err)
	}
	return nil
}

// AddVoter は投票者集合にユーザーを冪等に追加し、更新後の投票数を返す。
// 追加済み判定と追記が1つのUPDATE文で行われるため、同一ユーザーの並行投票でも
// 重複エントリは発生しない。コメントが存在しない場合は-1を返す。
func (r *PostgresCommentRepo) AddVoter(ctx context.Context, id, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`UPDATE comments
		 SET voters = CASE
		   WHEN voters @> ARRAY[$2]::text[] THEN voters
		   ELSE array_append(voters, $2)
		 END
		 WHERE id = $1
		 RETURNING cardinality(voters)`,
		id, userID,
	).Scan(&count)

	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to add voter: %w", err)
	}
	return count, nil
}

// Delete は指定IDのコメントを削除する。
func (r *PostgresCommentRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM comments WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CommentRepository = (*PostgresCommentRepo)(nil)

package model

import (
	"slices"
	"time"
)

// 入力テキストの最大長。超過分は検証前に切り詰める。
const (
	MaxTitleLength   = 80
	MaxContentLength = 576
	MaxReplyLength   = 144
)

// Comment はスポット（コメント対象のコンテンツページ）に付くコメントを表す。
// Repliesは挿入順を保持する返信文字列の列、Votersは投票者IDの集合。
type Comment struct {
	ID      string
	SpotID  string
	UserID  string
	Title   string
	Content string

	// Replies は追記専用。個別編集はなく、インデックス指定の削除のみ可能。
	Replies []string

	// Voters は集合として扱う。同一IDの重複追加は冪等（エラーにしない）。
	Voters []string

	CreatedAt time.Time
}

// VoteCount は投票数（投票者集合のサイズ）を返す。
func (c *Comment) VoteCount() int {
	return len(c.Voters)
}

// HasVoted は指定ユーザーが投票済みかを返す。
func (c *Comment) HasVoted(userID string) bool {
	return slices.Contains(c.Voters, userID)
}

// AgeAt は基準時刻におけるコメントの経過時間を返す。
func (c *Comment) AgeAt(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}

// CommentWithAuthor はコメントと投稿者の表示用情報を結合した構造体。
// 一覧・詳細APIのレスポンス生成に使用する。
type CommentWithAuthor struct {
	Comment
	AuthorEmail       string
	AuthorDisplayName string
}

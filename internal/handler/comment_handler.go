// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/spotboard/internal/metrics"
	"github.com/hitoshi/spotboard/internal/middleware"
	"github.com/hitoshi/spotboard/internal/model"
)

// CommentServiceInterface はコメントハンドラーが必要とするサービスインターフェース。
type CommentServiceInterface interface {
	Create(ctx context.Context, spotID string, author *model.User, title, content string) (*model.Comment, error)
	Update(ctx context.Context, commentID string, actor *model.User, title, content string) (*model.Comment, error)
	AppendReply(ctx context.Context, commentID string, actor *model.User, reply string) (*model.Comment, error)
	DeleteReply(ctx context.Context, replyID string, actor *model.User) (*model.Comment, error)
	Delete(ctx context.Context, commentID string, actor *model.User) error
	Upvote(ctx context.Context, commentID, voterID string) (int, error)
	List(ctx context.Context, spotID string) ([]model.CommentWithAuthor, error)
	Read(ctx context.Context, commentID string) (*model.CommentWithAuthor, error)
}

// ActorFinder はコンテキストのユーザーIDから実行ユーザーを解決するための
// インターフェース。repository.UserRepositoryの部分集合として定義する。
type ActorFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// CommentHandler はコメント管理のHTTPハンドラー。
type CommentHandler struct {
	service CommentServiceInterface
	users   ActorFinder
	metrics metrics.MetricsCollector
}

// NewCommentHandler はCommentHandlerを生成する。
// collectorはnil許容（テスト時はメトリクス記録をスキップ）。
func NewCommentHandler(service CommentServiceInterface, users ActorFinder, collector metrics.MetricsCollector) *CommentHandler {
	return &CommentHandler{
		service: service,
		users:   users,
		metrics: collector,
	}
}

// createCommentRequest はコメント作成リクエストのボディ。
type createCommentRequest struct {
	SpotID  string `json:"spot_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// updateCommentRequest はコメント更新リクエストのボディ。
type updateCommentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// appendReplyRequest は返信追記リクエストのボディ。
type appendReplyRequest struct {
	Reply string `json:"reply"`
}

// voteRequest は投票リクエストのボディ。
type voteRequest struct {
	CommentID string `json:"comment_id"`
}

// commentResponse はコメント情報のAPIレスポンス。
// 投稿者情報は表示名のみ公開する（メールアドレスは非公開）。
type commentResponse struct {
	ID                string    `json:"id"`
	SpotID            string    `json:"spot_id"`
	UserID            string    `json:"user_id"`
	Title             string    `json:"title"`
	Content           string    `json:"content"`
	Replies           []string  `json:"replies"`
	Votes             int       `json:"votes"`
	AuthorDisplayName string    `json:"author_display_name,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ListComments はスポットのコメント一覧を返す（新しい順）。
// GET /comments/{spotId}
func (h *CommentHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	spotID := chi.URLParam(r, "spotId")

	comments, err := h.service.List(r.Context(), spotID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]commentResponse, len(comments))
	for i := range comments {
		results[i] = toCommentWithAuthorResponse(&comments[i])
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// GetComment はコメント詳細を返す。
// GET /comment/{commentId}
func (h *CommentHandler) GetComment(w http.ResponseWriter, r *http.Request) {
	commentID := chi.URLParam(r, "commentId")

	comment, err := h.service.Read(r.Context(), commentID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toCommentWithAuthorResponse(comment))
}

// CreateComment はコメント投稿を処理する。
// POST /api/comment
func (h *CommentHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	var req createCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}
	if req.SpotID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("スポットIDが空です"))
		return
	}

	comment, err := h.service.Create(r.Context(), req.SpotID, actor, req.Title, req.Content)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordCommentCreated()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toCommentResponse(comment, actor.DisplayName))
}

// UpdateComment はコメントの編集を処理する。
// PUT /api/comment/{commentId}
func (h *CommentHandler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	commentID := chi.URLParam(r, "commentId")

	var req updateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	comment, err := h.service.Update(r.Context(), commentID, actor, req.Title, req.Content)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toCommentResponse(comment, ""))
}

// DeleteComment はコメントの削除を処理する。
// DELETE /api/comment/{commentId}
func (h *CommentHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	commentID := chi.URLParam(r, "commentId")

	if err := h.service.Delete(r.Context(), commentID, actor); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AppendReply はコメントへの返信追記を処理する。
// POST /api/comment/{commentId}
func (h *CommentHandler) AppendReply(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	commentID := chi.URLParam(r, "commentId")

	var req appendReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	comment, err := h.service.AppendReply(r.Context(), commentID, actor, req.Reply)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toCommentResponse(comment, ""))
}

// DeleteReply は返信の単一インデックス削除を処理する。
// replyIdは "コメントID:インデックス" 形式。
// DELETE /api/comment/reply/{replyId}
func (h *CommentHandler) DeleteReply(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	replyID := chi.URLParam(r, "replyId")

	comment, err := h.service.DeleteReply(r.Context(), replyID, actor)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toCommentResponse(comment, ""))
}

// Vote はコメントへの投票を処理し、新しい投票数を返す。
// 同一ユーザーの再投票は冪等（エラーにならず現在値を返す）。
// POST /api/comment/vote
func (h *CommentHandler) Vote(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}
	if req.CommentID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("コメントIDが空です"))
		return
	}

	votes, err := h.service.Upvote(r.Context(), req.CommentID, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordVote()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"votes": votes})
}

// resolveActor はコンテキストのユーザーIDから実行ユーザーを解決する。
// 解決できない場合は401を書き込みfalseを返す。
func (h *CommentHandler) resolveActor(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return nil, false
	}

	actor, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		slog.Error("failed to resolve acting user", slog.String("error", err.Error()))
		writeInternalServerError(w)
		return nil, false
	}
	if actor == nil {
		writeUnauthorized(w)
		return nil, false
	}

	return actor, true
}

// --- ヘルパー関数 ---

// toCommentResponse はmodel.CommentからAPIレスポンスに変換する。
func toCommentResponse(comment *model.Comment, authorDisplayName string) commentResponse {
	replies := comment.Replies
	if replies == nil {
		replies = []string{}
	}
	return commentResponse{
		ID:                comment.ID,
		SpotID:            comment.SpotID,
		UserID:            comment.UserID,
		Title:             comment.Title,
		Content:           comment.Content,
		Replies:           replies,
		Votes:             comment.VoteCount(),
		AuthorDisplayName: authorDisplayName,
		CreatedAt:         comment.CreatedAt,
	}
}

// toCommentWithAuthorResponse は投稿者情報付きコメントをAPIレスポンスに変換する。
func toCommentWithAuthorResponse(c *model.CommentWithAuthor) commentResponse {
	return toCommentResponse(&c.Comment, c.AuthorDisplayName)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// writeUnauthorized は401の統一エラーレスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}

// writeInvalidRequestBody はリクエストボディ解析失敗の400レスポンスを書き込む。
func writeInvalidRequestBody(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// writeInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func writeInternalServerError(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
// 重複登録（ALREADY_EXISTS）は入力起因のエラーとして400で返す。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation,
		model.ErrCodeAlreadyExists,
		model.ErrCodeInvalidToken,
		model.ErrCodeInvalidCredentials,
		model.ErrCodePasswordMismatch,
		model.ErrCodeReplyIndexRange:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeCommentNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

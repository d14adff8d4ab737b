package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/spotboard/internal/middleware"
	"github.com/hitoshi/spotboard/internal/model"
)

// --- モック定義 ---

// mockCommentService はCommentServiceInterfaceのモック実装。
type mockCommentService struct {
	createFn      func(ctx context.Context, spotID string, author *model.User, title, content string) (*model.Comment, error)
	updateFn      func(ctx context.Context, commentID string, actor *model.User, title, content string) (*model.Comment, error)
	appendReplyFn func(ctx context.Context, commentID string, actor *model.User, reply string) (*model.Comment, error)
	deleteReplyFn func(ctx context.Context, replyID string, actor *model.User) (*model.Comment, error)
	deleteFn      func(ctx context.Context, commentID string, actor *model.User) error
	upvoteFn      func(ctx context.Context, commentID, voterID string) (int, error)
	listFn        func(ctx context.Context, spotID string) ([]model.CommentWithAuthor, error)
	readFn        func(ctx context.Context, commentID string) (*model.CommentWithAuthor, error)
}

func (m *mockCommentService) Create(ctx context.Context, spotID string, author *model.User, title, content string) (*model.Comment, error) {
	if m.createFn != nil {
		return m.createFn(ctx, spotID, author, title, content)
	}
	return &model.Comment{}, nil
}

func (m *mockCommentService) Update(ctx context.Context, commentID string, actor *model.User, title, content string) (*model.Comment, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, commentID, actor, title, content)
	}
	return &model.Comment{}, nil
}

func (m *mockCommentService) AppendReply(ctx context.Context, commentID string, actor *model.User, reply string) (*model.Comment, error) {
	if m.appendReplyFn != nil {
		return m.appendReplyFn(ctx, commentID, actor, reply)
	}
	return &model.Comment{}, nil
}

func (m *mockCommentService) DeleteReply(ctx context.Context, replyID string, actor *model.User) (*model.Comment, error) {
	if m.deleteReplyFn != nil {
		return m.deleteReplyFn(ctx, replyID, actor)
	}
	return &model.Comment{}, nil
}

func (m *mockCommentService) Delete(ctx context.Context, commentID string, actor *model.User) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, commentID, actor)
	}
	return nil
}

func (m *mockCommentService) Upvote(ctx context.Context, commentID, voterID string) (int, error) {
	if m.upvoteFn != nil {
		return m.upvoteFn(ctx, commentID, voterID)
	}
	return 0, nil
}

func (m *mockCommentService) List(ctx context.Context, spotID string) ([]model.CommentWithAuthor, error) {
	if m.listFn != nil {
		return m.listFn(ctx, spotID)
	}
	return nil, nil
}

func (m *mockCommentService) Read(ctx context.Context, commentID string) (*model.CommentWithAuthor, error) {
	if m.readFn != nil {
		return m.readFn(ctx, commentID)
	}
	return nil, model.NewCommentNotFoundError(commentID)
}

// mockActorFinder はActorFinderのモック実装。
type mockActorFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockActorFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return &model.User{ID: id, DisplayName: "テストユーザー", Roles: []model.Capability{model.CapabilityUser}}, nil
}

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

func newTestCommentHandler(svc *mockCommentService) *CommentHandler {
	return NewCommentHandler(svc, &mockActorFinder{}, nil)
}

// --- GET /comments/{spotId} テスト ---

func TestListComments_ReturnsCommentsNewestFirst(t *testing.T) {
	svc := &mockCommentService{
		listFn: func(ctx context.Context, spotID string) ([]model.CommentWithAuthor, error) {
			if spotID != "spot-1" {
				t.Errorf("spotID = %q, want %q", spotID, "spot-1")
			}
			return []model.CommentWithAuthor{
				{Comment: model.Comment{ID: "c2", SpotID: "spot-1", Title: "新しい方"}, AuthorDisplayName: "B"},
				{Comment: model.Comment{ID: "c1", SpotID: "spot-1", Title: "古い方"}, AuthorDisplayName: "A"},
			}, nil
		},
	}
	h := newTestCommentHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/comments/spot-1", nil)
	req = withChiURLParam(req, "spotId", "spot-1")
	w := httptest.NewRecorder()

	h.ListComments(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var body []commentResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body) != 2 || body[0].ID != "c2" {
		t.Errorf("body = %+v, want c2 first", body)
	}
	if body[0].AuthorDisplayName != "B" {
		t.Errorf("author = %q, want %q", body[0].AuthorDisplayName, "B")
	}
}

// --- GET /comment/{commentId} テスト ---

func TestGetComment_Found_ReturnsComment(t *testing.T) {
	svc := &mockCommentService{
		readFn: func(ctx context.Context, commentID string) (*model.CommentWithAuthor, error) {
			return &model.CommentWithAuthor{
				Comment: model.Comment{
					ID:        "c1",
					SpotID:    "spot-1",
					Title:     "タイトル",
					Voters:    []string{"u1", "u2"},
					CreatedAt: time.Now(),
				},
				AuthorDisplayName: "山田",
			}, nil
		},
	}
	h := newTestCommentHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/comment/c1", nil)
	req = withChiURLParam(req, "commentId", "c1")
	w := httptest.NewRecorder()

	h.GetComment(w, req)

	var body commentResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.ID != "c1" || body.Votes != 2 {
		t.Errorf("body = %+v, want c1 with 2 votes", body)
	}
}

func TestGetComment_NotFound_Returns404(t *testing.T) {
	h := newTestCommentHandler(&mockCommentService{})

	req := httptest.NewRequest(http.MethodGet, "/comment/missing", nil)
	req = withChiURLParam(req, "commentId", "missing")
	w := httptest.NewRecorder()

	h.GetComment(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

// --- POST /api/comment テスト ---

func TestCreateComment_Success_Returns201(t *testing.T) {
	svc := &mockCommentService{
		createFn: func(ctx context.Context, spotID string, author *model.User, title, content string) (*model.Comment, error) {
			if author == nil || author.ID != "user-1" {
				t.Errorf("author = %+v, want user-1", author)
			}
			return &model.Comment{ID: "c1", SpotID: spotID, UserID: author.ID, Title: title, Content: content}, nil
		},
	}
	h := newTestCommentHandler(svc)

	body := strings.NewReader(`{"spot_id":"spot-1","title":"タイトル","content":"本文"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/comment", body)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.CreateComment(w, req)

	if w.Result().StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusCreated)
	}
}

func TestCreateComment_NoSession_Returns401(t *testing.T) {
	h := newTestCommentHandler(&mockCommentService{})

	body := strings.NewReader(`{"spot_id":"spot-1","title":"t","content":"c"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/comment", body)
	w := httptest.NewRecorder()

	h.CreateComment(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestCreateComment_EmptySpotID_Returns400(t *testing.T) {
	h := newTestCommentHandler(&mockCommentService{})

	body := strings.NewReader(`{"title":"t","content":"c"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/comment", body)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.CreateComment(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestCreateComment_ValidationError_Returns400(t *testing.T) {
	svc := &mockCommentService{
		createFn: func(ctx context.Context, spotID string, author *model.User, title, content string) (*model.Comment, error) {
			return nil, model.NewValidationError("タイトルが空です")
		},
	}
	h := newTestCommentHandler(svc)

	body := strings.NewReader(`{"spot_id":"spot-1","title":"   ","content":"c"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/comment", body)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.CreateComment(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}

	var errBody apiErrorResponse
	json.NewDecoder(w.Body).Decode(&errBody)
	if errBody.Code != model.ErrCodeValidation {
		t.Errorf("code = %q, want %q", errBody.Code, model.ErrCodeValidation)
	}
}

// --- PUT /api/comment/{commentId} テスト ---

func TestUpdateComment_Forbidden_Returns403(t *testing.T) {
	svc := &mockCommentService{
		updateFn: func(ctx context.Context, commentID string, actor *model.User, title, content string) (*model.Comment, error) {
			return nil, model.NewForbiddenError()
		},
	}
	h := newTestCommentHandler(svc)

	body := strings.NewReader(`{"title":"t","content":"c"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/comment/c1", body)
	req = withUserID(req, "user-2")
	req = withChiURLParam(req, "commentId", "c1")
	w := httptest.NewRecorder()

	h.UpdateComment(w, req)

	if w.Result().StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}
}

func TestUpdateComment_Success_ReturnsUpdatedComment(t *testing.T) {
	svc := &mockCommentService{
		updateFn: func(ctx context.Context, commentID string, actor *model.User, title, content string) (*model.Comment, error) {
			return &model.Comment{ID: commentID, Title: title, Content: content}, nil
		},
	}
	h := newTestCommentHandler(svc)

	body := strings.NewReader(`{"title":"新タイトル","content":"新本文"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/comment/c1", body)
	req = withUserID(req, "user-1")
	req = withChiURLParam(req, "commentId", "c1")
	w := httptest.NewRecorder()

	h.UpdateComment(w, req)

	var resp commentResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Title != "新タイトル" {
		t.Errorf("title = %q, want %q", resp.Title, "新タイトル")
	}
}

// --- DELETE /api/comment/{commentId} テスト ---

func TestDeleteComment_Success_Returns204(t *testing.T) {
	deleted := ""
	svc := &mockCommentService{
		deleteFn: func(ctx context.Context, commentID string, actor *model.User) error {
			deleted = commentID
			return nil
		},
	}
	h := newTestCommentHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/comment/c1", nil)
	req = withUserID(req, "user-1")
	req = withChiURLParam(req, "commentId", "c1")
	w := httptest.NewRecorder()

	h.DeleteComment(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
	if deleted != "c1" {
		t.Errorf("deleted = %q, want %q", deleted, "c1")
	}
}

// --- POST /api/comment/{commentId}（返信） テスト ---

func TestAppendReply_Success_ReturnsComment(t *testing.T) {
	svc := &mockCommentService{
		appendReplyFn: func(ctx context.Context, commentID string, actor *model.User, reply string) (*model.Comment, error) {
			return &model.Comment{ID: commentID, Replies: []string{reply}}, nil
		},
	}
	h := newTestCommentHandler(svc)

	body := strings.NewReader(`{"reply":"返信です"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/comment/c1", body)
	req = withUserID(req, "user-2")
	req = withChiURLParam(req, "commentId", "c1")
	w := httptest.NewRecorder()

	h.AppendReply(w, req)

	var resp commentResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp.Replies) != 1 || resp.Replies[0] != "返信です" {
		t.Errorf("replies = %v", resp.Replies)
	}
}

// --- DELETE /api/comment/reply/{replyId} テスト ---

func TestDeleteReply_OutOfRange_Returns400(t *testing.T) {
	svc := &mockCommentService{
		deleteReplyFn: func(ctx context.Context, replyID string, actor *model.User) (*model.Comment, error) {
			return nil, model.NewReplyIndexOutOfRangeError("c1", 5)
		},
	}
	h := newTestCommentHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/comment/reply/c1:5", nil)
	req = withUserID(req, "mod-1")
	req = withChiURLParam(req, "replyId", "c1:5")
	w := httptest.NewRecorder()

	h.DeleteReply(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestDeleteReply_PassesReplyIDToService(t *testing.T) {
	var receivedReplyID string
	svc := &mockCommentService{
		deleteReplyFn: func(ctx context.Context, replyID string, actor *model.User) (*model.Comment, error) {
			receivedReplyID = replyID
			return &model.Comment{ID: "c1"}, nil
		},
	}
	h := newTestCommentHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/comment/reply/c1:0", nil)
	req = withUserID(req, "mod-1")
	req = withChiURLParam(req, "replyId", "c1:0")
	w := httptest.NewRecorder()

	h.DeleteReply(w, req)

	if receivedReplyID != "c1:0" {
		t.Errorf("replyID = %q, want %q", receivedReplyID, "c1:0")
	}
}

// --- POST /api/comment/vote テスト ---

func TestVote_Success_ReturnsVoteCount(t *testing.T) {
	svc := &mockCommentService{
		upvoteFn: func(ctx context.Context, commentID, voterID string) (int, error) {
			if commentID != "c1" || voterID != "user-1" {
				t.Errorf("upvote(%q, %q), want (c1, user-1)", commentID, voterID)
			}
			return 3, nil
		},
	}
	h := newTestCommentHandler(svc)

	body := strings.NewReader(`{"comment_id":"c1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/comment/vote", body)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.Vote(w, req)

	var resp map[string]int
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp["votes"] != 3 {
		t.Errorf("votes = %d, want 3", resp["votes"])
	}
}

func TestVote_CommentNotFound_Returns404(t *testing.T) {
	svc := &mockCommentService{
		upvoteFn: func(ctx context.Context, commentID, voterID string) (int, error) {
			return 0, model.NewCommentNotFoundError(commentID)
		},
	}
	h := newTestCommentHandler(svc)

	body := strings.NewReader(`{"comment_id":"missing"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/comment/vote", body)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.Vote(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

// --- 実行ユーザー解決のテスト ---

func TestResolveActor_UnknownUser_Returns401(t *testing.T) {
	h := NewCommentHandler(&mockCommentService{}, &mockActorFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, nil
		},
	}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/comment/c1", nil)
	req = withUserID(req, "ghost")
	req = withChiURLParam(req, "commentId", "c1")
	w := httptest.NewRecorder()

	h.DeleteComment(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestResolveActor_RepositoryError_Returns500(t *testing.T) {
	h := NewCommentHandler(&mockCommentService{}, &mockActorFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, errors.New("db down")
		},
	}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/comment/c1", nil)
	req = withUserID(req, "user-1")
	req = withChiURLParam(req, "commentId", "c1")
	w := httptest.NewRecorder()

	h.DeleteComment(w, req)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
}

package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/spotboard/internal/model"
)

// mockMailer は送信内容を記録するテスト用メーラー。
type mockMailer struct {
	mu      sync.Mutex
	sent    []sentMail
	sendErr error
}

type sentMail struct {
	from    string
	to      []string
	subject string
	body    string
}

func (m *mockMailer) Send(from string, to []string, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentMail{from: from, to: to, subject: subject, body: body})
	return nil
}

func (m *mockMailer) sentMails() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMail, len(m.sent))
	copy(out, m.sent)
	return out
}

// compile-time interface check
var _ Mailer = (*mockMailer)(nil)

func newTestDispatcher(mailer Mailer, moderators []string) *Dispatcher {
	userRepo := &mockUserRepo{
		listModeratorEmailsFn: func(ctx context.Context) ([]string, error) {
			return moderators, nil
		},
	}
	roster := NewRoster(userRepo, testLogger(), nil, fallbackAddress)
	_ = roster.Refresh(context.Background())
	return NewDispatcher(mailer, roster, testLogger(), nil, "https://spotboard.example.com")
}

// コメント作成通知がモデレーター宛に送信されることを検証
func TestDispatcher_NotifyCommentCreated_SendsToModerators(t *testing.T) {
	mailer := &mockMailer{}
	d := newTestDispatcher(mailer, []string{"mod@example.com"})

	comment := &model.Comment{ID: "c1", SpotID: "spot-1", Title: "タイトル", Content: "本文"}
	author := &model.User{ID: "u1", DisplayName: "山田太郎"}

	d.NotifyCommentCreated(comment, author)
	d.Wait()

	sent := mailer.sentMails()
	if len(sent) != 1 {
		t.Fatalf("sent mails = %d, want 1", len(sent))
	}
	if sent[0].to[0] != "mod@example.com" {
		t.Errorf("recipient = %v, want moderators", sent[0].to)
	}
	if !strings.Contains(sent[0].body, "山田太郎") || !strings.Contains(sent[0].body, "本文") {
		t.Errorf("body should contain author and content: %q", sent[0].body)
	}
}

// 編集通知に変更前後のスナップショットが含まれることを検証
func TestDispatcher_NotifyCommentEdited_IncludesBeforeAndAfter(t *testing.T) {
	mailer := &mockMailer{}
	d := newTestDispatcher(mailer, []string{"mod@example.com"})

	before := &model.Comment{ID: "c1", Title: "旧タイトル", Content: "旧本文"}
	after := &model.Comment{ID: "c1", Title: "新タイトル", Content: "新本文"}

	d.NotifyCommentEdited(before, after, &model.User{DisplayName: "編集者"})
	d.Wait()

	sent := mailer.sentMails()
	if len(sent) != 1 {
		t.Fatalf("sent mails = %d, want 1", len(sent))
	}
	body := sent[0].body
	for _, want := range []string{"旧タイトル", "旧本文", "新タイトル", "新本文"} {
		if !strings.Contains(body, want) {
			t.Errorf("body should contain %q: %q", want, body)
		}
	}
}

// 返信通知に返信本文が含まれることを検証
func TestDispatcher_NotifyReplyAppended_IncludesReplyText(t *testing.T) {
	mailer := &mockMailer{}
	d := newTestDispatcher(mailer, []string{"mod@example.com"})

	comment := &model.Comment{ID: "c1", Title: "タイトル"}
	d.NotifyReplyAppended(comment, "返信の本文です", &model.User{DisplayName: "返信者"})
	d.Wait()

	sent := mailer.sentMails()
	if len(sent) != 1 {
		t.Fatalf("sent mails = %d, want 1", len(sent))
	}
	if !strings.Contains(sent[0].body, "返信の本文です") {
		t.Errorf("body should contain reply text: %q", sent[0].body)
	}
}

// パスワードリセット通知が本人宛でトークンを含むことを検証
func TestDispatcher_NotifyPasswordReset_SendsTokenToUser(t *testing.T) {
	mailer := &mockMailer{}
	d := newTestDispatcher(mailer, []string{"mod@example.com"})

	d.NotifyPasswordReset("user@example.com", "one-time-token-xyz")
	d.Wait()

	sent := mailer.sentMails()
	if len(sent) != 1 {
		t.Fatalf("sent mails = %d, want 1", len(sent))
	}
	if len(sent[0].to) != 1 || sent[0].to[0] != "user@example.com" {
		t.Errorf("recipient = %v, want the user only", sent[0].to)
	}
	if !strings.Contains(sent[0].body, "one-time-token-xyz") {
		t.Errorf("body should contain the token: %q", sent[0].body)
	}
}

// 通知メールの差出人に名簿の差出人アドレスが使われることを検証
func TestDispatcher_UsesRosterSenderAsFrom(t *testing.T) {
	mailer := &mockMailer{}
	userRepo := &mockUserRepo{
		findSenderEmailFn: func(ctx context.Context) (string, error) {
			return "sender@example.com", nil
		},
		listModeratorEmailsFn: func(ctx context.Context) ([]string, error) {
			return []string{"mod@example.com"}, nil
		},
	}
	roster := NewRoster(userRepo, testLogger(), nil, fallbackAddress)
	if err := roster.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	d := NewDispatcher(mailer, roster, testLogger(), nil, "https://spotboard.example.com")

	comment := &model.Comment{ID: "c1", SpotID: "s1", Title: "t", Content: "c"}
	d.NotifyCommentCreated(comment, &model.User{DisplayName: "x"})
	d.Wait()

	sent := mailer.sentMails()
	if len(sent) != 1 {
		t.Fatalf("sent mails = %d, want 1", len(sent))
	}
	if sent[0].from != "sender@example.com" {
		t.Errorf("from = %q, want roster sender", sent[0].from)
	}
}

// 名簿更新後の送信には更新された差出人が反映されることを検証
func TestDispatcher_RefreshedSender_AppliesToLaterMail(t *testing.T) {
	mailer := &mockMailer{}
	sender := "old@example.com"
	userRepo := &mockUserRepo{
		findSenderEmailFn: func(ctx context.Context) (string, error) {
			return sender, nil
		},
		listModeratorEmailsFn: func(ctx context.Context) ([]string, error) {
			return []string{"mod@example.com"}, nil
		},
	}
	roster := NewRoster(userRepo, testLogger(), nil, fallbackAddress)
	if err := roster.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	d := NewDispatcher(mailer, roster, testLogger(), nil, "https://spotboard.example.com")

	comment := &model.Comment{ID: "c1", SpotID: "s1", Title: "t", Content: "c"}
	d.NotifyCommentCreated(comment, &model.User{DisplayName: "x"})
	d.Wait()

	sender = "new@example.com"
	if err := roster.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	d.NotifyCommentCreated(comment, &model.User{DisplayName: "x"})
	d.Wait()

	sent := mailer.sentMails()
	if len(sent) != 2 {
		t.Fatalf("sent mails = %d, want 2", len(sent))
	}
	if sent[0].from != "old@example.com" || sent[1].from != "new@example.com" {
		t.Errorf("from sequence = [%q, %q], want refreshed sender on second mail",
			sent[0].from, sent[1].from)
	}
}

// 差出人ユーザー未設定時はフォールバックアドレスが差出人になることを検証
func TestDispatcher_NoSender_FallsBackToOperatorAddress(t *testing.T) {
	mailer := &mockMailer{}
	d := newTestDispatcher(mailer, []string{"mod@example.com"})

	comment := &model.Comment{ID: "c1", SpotID: "s1", Title: "t", Content: "c"}
	d.NotifyCommentCreated(comment, &model.User{DisplayName: "x"})
	d.Wait()

	sent := mailer.sentMails()
	if len(sent) != 1 {
		t.Fatalf("sent mails = %d, want 1", len(sent))
	}
	if sent[0].from != fallbackAddress {
		t.Errorf("from = %q, want fallback %q", sent[0].from, fallbackAddress)
	}
}

// 送信失敗がpanicせず呼び出し元に伝播しないことを検証
func TestDispatcher_SendFailure_DoesNotPropagate(t *testing.T) {
	mailer := &mockMailer{sendErr: errors.New("smtp down")}
	d := newTestDispatcher(mailer, []string{"mod@example.com"})

	comment := &model.Comment{ID: "c1", SpotID: "s1", Title: "t", Content: "c"}
	d.NotifyCommentCreated(comment, &model.User{DisplayName: "x"})
	d.Wait()

	if len(mailer.sentMails()) != 0 {
		t.Error("no mail should be recorded as sent")
	}
}

// Package notify はコメントライフサイクルイベントとパスワードリセットの
// メール通知を提供する。送信はベストエフォートで、失敗はログに記録されるのみで
// 呼び出し元のレスポンスには影響しない。
package notify

import (
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Mailer はメール送信のインターフェース。
// fromが空の場合、実装は設定上のデフォルト差出人を使用する。
type Mailer interface {
	Send(from string, to []string, subject, body string) error
}

// SMTPConfig はSMTPメーラーの設定。
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// Timeout は接続確立から送信完了までの上限時間。
	Timeout time.Duration
}

// SMTPMailer はnet/smtpによるメール送信の実装。
// 接続と送信全体にタイムアウトを課し、リソースリークを防ぐ。
type SMTPMailer struct {
	config SMTPConfig
}

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(config SMTPConfig) *SMTPMailer {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &SMTPMailer{config: config}
}

// IsConfigured はSMTPの設定が揃っているかを返す。
func (m *SMTPMailer) IsConfigured() bool {
	return m.config.Host != "" && m.config.Port != "" && m.config.From != ""
}

// Send はプレーンテキストのメールを送信する。
// fromが空の場合は設定上のデフォルト差出人を使用する。
func (m *SMTPMailer) Send(from string, to []string, subject, body string) error {
	if !m.IsConfigured() {
		return fmt.Errorf("smtp is not configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	if from == "" {
		from = m.config.From
	}
	envelopeFrom := from
	headerFrom := from
	if m.config.FromName != "" {
		headerFrom = fmt.Sprintf("%s <%s>", m.config.FromName, from)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		headerFrom,
		subject,
		body,
	))

	addr := m.config.Host + ":" + m.config.Port

	conn, err := net.DialTimeout("tcp", addr, m.config.Timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to smtp server: %w", err)
	}
	// 送信処理全体にデッドラインを課す
	if err := conn.SetDeadline(time.Now().Add(m.config.Timeout)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, m.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create smtp client: %w", err)
	}
	defer client.Close()

	if m.config.Username != "" {
		auth := smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth failed: %w", err)
			}
		}
	}

	if err := client.Mail(envelopeFrom); err != nil {
		return fmt.Errorf("smtp MAIL command failed: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT command failed: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA command failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}

	return client.Quit()
}

// compile-time interface check
var _ Mailer = (*SMTPMailer)(nil)

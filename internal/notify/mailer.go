// Package notify はユーザー宛てのメール送信を提供する。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	verificationSubject = "メールアドレスの確認"
	verifyPath          = "/api/auth/verify"
	defaultFromName     = "insan"
)

// Mailer は確認メールの送信インターフェース。
type Mailer interface {
	SendVerification(ctx context.Context, email, token string) error
}

// sendClient はSendGrid APIクライアントのうち使用するメソッドのみを定義する。
type sendClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridMailer はSendGridを使用したMailerの実装。
type SendGridMailer struct {
	client  sendClient
	from    *mail.Email
	baseURL string
}

// NewSendGridMailer はSendGridMailerを生成する。
func NewSendGridMailer(apiKey, from, baseURL string) *SendGridMailer {
	return newSendGridMailer(sendgrid.NewSendClient(apiKey), from, baseURL)
}

func newSendGridMailer(client sendClient, from, baseURL string) *SendGridMailer {
	return &SendGridMailer{
		client:  client,
		from:    mail.NewEmail(defaultFromName, from),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// SendVerification は確認リンクを含むメールを送信する。
// SendGridが2xx以外を返した場合もエラーとする。
func (m *SendGridMailer) SendVerification(ctx context.Context, email, token string) error {
	link := VerificationLink(m.baseURL, token)
	plain := fmt.Sprintf("以下のリンクからメールアドレスを確認してください。\n%s", link)
	html := fmt.Sprintf(`<p>以下のリンクからメールアドレスを確認してください。</p><p><a href="%s">%s</a></p>`, link, link)

	message := mail.NewSingleEmail(m.from, verificationSubject, mail.NewEmail("", email), plain, html)
	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to send verification email: status %d: %s", resp.StatusCode, resp.Body)
	}

	slog.Info("verification email sent", slog.Int("status", resp.StatusCode))
	return nil
}

// LogMailer はメールを送信せずリンクをログに出力するMailerの実装。
// SendGridのAPIキーが設定されていない環境で使用する。
type LogMailer struct {
	baseURL string
}

// NewLogMailer はLogMailerを生成する。
func NewLogMailer(baseURL string) *LogMailer {
	return &LogMailer{baseURL: strings.TrimRight(baseURL, "/")}
}

// SendVerification は確認リンクをDebugレベルでログに出力する。
func (m *LogMailer) SendVerification(_ context.Context, email, token string) error {
	slog.Debug("verification email skipped",
		slog.String("email", email),
		slog.String("link", VerificationLink(m.baseURL, token)),
	)
	return nil
}

// VerificationLink は確認エンドポイントへのURLを組み立てる。
func VerificationLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + verifyPath + "?token=" + url.QueryEscape(token)
}

// compile-time interface check
var (
	_ Mailer     = (*SendGridMailer)(nil)
	_ Mailer     = (*LogMailer)(nil)
	_ sendClient = (*sendgrid.Client)(nil)
)

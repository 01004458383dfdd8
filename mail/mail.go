// Package mail sends the account emails the login flow triggers:
// activation reminders and forced password resets.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"text/template"

	"go.uber.org/zap"
)

// ErrNoRecipient is returned for a message without a recipient.
var ErrNoRecipient = errors.New("mail: no recipient")

// Message is one plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Addr     string
	From     string
	Username string
	Password string
}

// SMTPMailer sends through an SMTP relay with optional PLAIN auth.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		host := m.cfg.Addr
		if i := strings.LastIndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)
	}

	var raw bytes.Buffer
	fmt.Fprintf(&raw, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&raw, "To: %s\r\n", msg.To)
	fmt.Fprintf(&raw, "Subject: %s\r\n", msg.Subject)
	raw.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	raw.WriteString(msg.Body)

	if err := m.send(m.cfg.Addr, auth, m.cfg.From, []string{msg.To}, raw.Bytes()); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Outbox keeps sent messages in memory.
type Outbox struct {
	mu   sync.Mutex
	msgs []Message
}

func (o *Outbox) Send(_ context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return ErrNoRecipient
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.msgs...)
}

// Reset empties the outbox.
func (o *Outbox) Reset() {
	o.mu.Lock()
	o.msgs = nil
	o.mu.Unlock()
}

// LogMailer logs subjects and recipients instead of delivering. Bodies are
// never logged since they carry secrets. With SquelchRecipient the address
// is reduced to its domain.
type LogMailer struct {
	Logger           *zap.Logger
	SquelchRecipient bool
}

func (m LogMailer) Send(_ context.Context, msg Message) error {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return ErrNoRecipient
	}
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recipient := zap.String("to", to)
	if m.SquelchRecipient {
		recipient = zap.String("to_domain", recipientDomain(to))
	}
	logger.Info("mail suppressed", recipient, zap.String("subject", msg.Subject))
	return nil
}

func recipientDomain(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

var (
	activationTmpl = template.Must(template.New("activation").Parse(
		`Hi {{.Username}},

You're almost there! Use the link below to activate your account on {{.Platform}}:

{{.Link}}

If you didn't create this account, you can ignore this message.
`))

	resetTmpl = template.Must(template.New("reset").Parse(
		`Hi {{.Username}},

Your password on {{.Platform}} no longer meets the current password policy and must be changed before you can sign in again.

Choose a new password here:

{{.Link}}
`))
)

type templateData struct {
	Username string
	Platform string
	Link     string
}

// ActivationMessage builds the activation email for a registration key.
func ActivationMessage(platform, baseURL, username, email, key string) (Message, error) {
	var body bytes.Buffer
	err := activationTmpl.Execute(&body, templateData{
		Username: username,
		Platform: platform,
		Link:     strings.TrimRight(baseURL, "/") + "/activate/" + key,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{To: email, Subject: "Activate your " + platform + " account", Body: body.String()}, nil
}

// PasswordResetMessage builds the forced-reset email carrying token.
func PasswordResetMessage(platform, baseURL, username, email, token string) (Message, error) {
	var body bytes.Buffer
	err := resetTmpl.Execute(&body, templateData{
		Username: username,
		Platform: platform,
		Link:     strings.TrimRight(baseURL, "/") + "/password_reset/confirm?token=" + token,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{To: email, Subject: "Password reset on " + platform, Body: body.String()}, nil
}

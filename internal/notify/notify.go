// Package notify delivers outbound messages such as password reset links.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"hrms.org/internal/obs"
)

// SMTPConfig describes the relay used for outbound mail.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Addr returns host:port of the relay.
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// SMTP sends plain-text mail through a relay. Every Send opens its own
// connection so that a stuck relay cannot block unrelated requests.
type SMTP struct {
	cfg    SMTPConfig
	dialer net.Dialer
}

// NewSMTP validates cfg and returns a sender.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.From = strings.TrimSpace(cfg.From)
	if cfg.Host == "" {
		return nil, errors.New("notify: smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("notify: sender address is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	return &SMTP{cfg: cfg, dialer: net.Dialer{Timeout: 10 * time.Second}}, nil
}

// Send delivers one message. The context deadline bounds the whole SMTP
// conversation.
func (s *SMTP) Send(ctx context.Context, recipient, subject, body string) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" || strings.ContainsAny(recipient, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return errors.New("notify: invalid recipient or subject")
	}
	conn, err := s.dialer.DialContext(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("notify: dial %s: %w", s.cfg.Addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("notify: smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("notify: starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
				return fmt.Errorf("notify: auth: %w", err)
			}
		}
	}
	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("notify: mail from: %w", err)
	}
	if err := c.Rcpt(recipient); err != nil {
		return fmt.Errorf("notify: rcpt to: %w", err)
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("notify: data: %w", err)
	}
	if _, err := wc.Write(message(s.cfg.From, recipient, subject, body)); err != nil {
		_ = wc.Close()
		return fmt.Errorf("notify: write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("notify: finish data: %w", err)
	}
	return c.Quit()
}

func message(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Log writes notifications to the structured log instead of sending them.
// It is meant for local development where no relay is configured.
type Log struct {
	// IncludeBody logs the message body, which may contain live reset links.
	IncludeBody bool
}

// Send implements auth.Notifier.
func (l Log) Send(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields := map[string]any{
		"recipient": recipient,
		"subject":   subject,
	}
	if l.IncludeBody {
		fields["body"] = body
	}
	obs.Log("info", "notify.message", fields)
	return nil
}

package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rowjay/app-backup/internal/config"
)

// Email sends a plain-text message through an SMTP relay.
type Email struct {
	Addr     string
	From     string
	To       []string
	Username string
	Password string
	Timeout  time.Duration

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmail targets the configured relay, or the local MTA on port 25.
func NewEmail(cfg config.SMTPConfig, to string, timeout time.Duration) *Email {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 25
	}
	var recipients []string
	for _, r := range strings.Split(to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	return &Email{
		Addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		From:     cfg.From,
		To:       recipients,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  timeout,
		send:     smtp.SendMail,
	}
}

func (e *Email) Notify(ctx context.Context, event Event) error {
	var auth smtp.Auth
	if e.Username != "" {
		host, _, _ := net.SplitHostPort(e.Addr)
		auth = smtp.PlainAuth("", e.Username, e.Password, host)
	}
	msg := e.message(event)

	// smtp.SendMail has no context; run it aside so a hung relay cannot
	// hold the caller past its deadline.
	done := make(chan error, 1)
	go func() { done <- e.send(e.Addr, auth, e.From, e.To, msg) }()
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("email to %s: %w", strings.Join(e.To, ","), err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("email to %s: timed out after %s", strings.Join(e.To, ","), timeout)
	}
}

func (e *Email) message(event Event) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.To, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", event.Host, event.Title)
	fmt.Fprintf(&b, "Date: %s\r\n", event.Time.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(event.text(), "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

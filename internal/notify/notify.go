// Package notify delivers run summaries to operators.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rowjay/app-backup/internal/config"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Event struct {
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	Host     string    `json:"host"`
	App      string    `json:"app"`
	Command  string    `json:"command"`
	RunID    string    `json:"run_id"`
	Time     time.Time `json:"time"`
}

func (e Event) text() string {
	return fmt.Sprintf("[%s] %s (%s on %s)\n%s", e.Severity, e.Title, e.App, e.Host, e.Message)
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi fans an event out to every target and joins their errors.
type Multi struct {
	Targets []Notifier
}

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, target := range m.Targets {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Empty() bool { return len(m.Targets) == 0 }

// Webhook posts the event as JSON.
type Webhook struct {
	Name    string
	URL     string
	Headers map[string]string
	Client  *http.Client
}

func (w Webhook) Notify(ctx context.Context, event Event) error {
	body, _ := json.Marshal(event)
	return post(ctx, w.Client, "webhook "+w.Name, w.URL, body, w.Headers)
}

// Slack posts to an incoming webhook.
type Slack struct {
	URL    string
	Client *http.Client
}

func (s Slack) Notify(ctx context.Context, event Event) error {
	body, _ := json.Marshal(map[string]string{"text": event.text()})
	return post(ctx, s.Client, "slack", s.URL, body, nil)
}

func post(ctx context.Context, client *http.Client, name, url string, body []byte, headers map[string]string) error {
	if client == nil {
		client = httpClient(0)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %s", name, resp.Status)
	}
	return nil
}

// FromConfig builds a notifier for every configured channel. An empty Multi
// is returned when nothing is configured.
func FromConfig(cfg config.NotificationsConfig) Multi {
	client := httpClient(cfg.Timeout)
	var targets []Notifier
	if cfg.SlackWebhook != "" {
		targets = append(targets, Slack{URL: cfg.SlackWebhook, Client: client})
	}
	for _, w := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: w.Name, URL: w.URL, Headers: w.Headers, Client: client})
	}
	if cfg.AlertEmail != "" {
		targets = append(targets, NewEmail(cfg.SMTP, cfg.AlertEmail, cfg.Timeout))
	}
	return Multi{Targets: targets}
}

func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

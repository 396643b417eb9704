package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"instashim/internal/config"
)

const userAgent = "instashim/0.1.0"

// Event identifies a notification kind.
type Event string

const (
	EventInstallFailed  Event = "install_failed"
	EventCacheActivated Event = "cache_activated"
	EventProcessExited  Event = "process_exited"
	EventTest           Event = "test"
)

// Payload carries event fields. Keys used per event:
//   - install_failed: cacheName, error
//   - cache_activated: cacheName, entries, deleted
//   - process_exited: command, error
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventInstallFailed:
		return message{
			title:    "instashim - Install Failed",
			body:     fmt.Sprintf("Precache install for %s failed: %s\nThe previous cache keeps serving.", text(payload, "cacheName"), text(payload, "error")),
			tags:     []string{"instashim", "install", "warning"},
			priority: "high",
		}, true
	case EventCacheActivated:
		body := fmt.Sprintf("Cache %s is live with %s entries", text(payload, "cacheName"), text(payload, "entries"))
		if deleted := list(payload, "deleted"); len(deleted) > 0 {
			body += "\nDeleted: " + strings.Join(deleted, ", ")
		}
		return message{
			title: "instashim - Cache Activated",
			body:  body,
			tags:  []string{"instashim", "cache"},
		}, true
	case EventProcessExited:
		return message{
			title:    "instashim - Application Exited",
			body:     fmt.Sprintf("%s exited: %s", text(payload, "command"), text(payload, "error")),
			tags:     []string{"instashim", "launch", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "instashim - Test",
			body:     "Notification system test",
			tags:     []string{"instashim", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func text(payload Payload, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return "unknown"
	}
	if err, ok := value.(error); ok {
		return err.Error()
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func list(payload Payload, key string) []string {
	switch v := payload[key].(type) {
	case []string:
		return v
	case nil:
		return nil
	default:
		return []string{fmt.Sprint(v)}
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

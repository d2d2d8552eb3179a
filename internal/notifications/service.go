package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediaflow/internal/config"
)

const userAgent = "Mediaflow-Go/0.1.0"

// Event identifies a notification-worthy milestone.
type Event string

const (
	EventWorkflowCompleted Event = "workflow_completed"
	EventWorkflowFailed    Event = "workflow_failed"
	EventWorkflowCancelled Event = "workflow_cancelled"
	EventError             Event = "error"
	EventTest              Event = "test"
)

// Payload carries the values a notification message is rendered from.
type Payload map[string]any

// Service defines the notification surface exposed to daemon components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		completed: cfg.Notifications.WorkflowCompleted,
		failed:    cfg.Notifications.WorkflowFailed,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	completed bool
	failed    bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) render(event Event, payload Payload) (message, bool) {
	template := payloadString(payload, "template")
	asset := payloadString(payload, "asset")
	subject := asset
	if template != "" {
		subject = fmt.Sprintf("%s (%s)", asset, template)
	}

	switch event {
	case EventWorkflowCompleted:
		if !n.completed {
			return message{}, false
		}
		body := fmt.Sprintf("✅ Workflow complete: %s", subject)
		if d, ok := payload["duration"].(time.Duration); ok && d > 0 {
			body = fmt.Sprintf("%s in %s", body, d.Round(time.Second))
		}
		return message{
			title: "Mediaflow - Complete",
			body:  body,
			tags:  []string{"mediaflow", "workflow", "completed"},
		}, true
	case EventWorkflowFailed:
		if !n.failed {
			return message{}, false
		}
		body := fmt.Sprintf("❌ Workflow failed: %s", subject)
		if reason := payloadString(payload, "reason"); reason != "" {
			body = fmt.Sprintf("%s\nReason: %s", body, reason)
		}
		return message{
			title:    "Mediaflow - Failed",
			body:     body,
			tags:     []string{"mediaflow", "workflow", "failed"},
			priority: "high",
		}, true
	case EventError:
		var b strings.Builder
		b.WriteString("❌ Error")
		if label := payloadString(payload, "context"); label != "" {
			b.WriteString(" with ")
			b.WriteString(label)
		}
		b.WriteString(": ")
		if errText := payloadString(payload, "error"); errText != "" {
			b.WriteString(errText)
		} else {
			b.WriteString("unknown")
		}
		return message{
			title:    "Mediaflow - Error",
			body:     b.String(),
			tags:     []string{"mediaflow", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Mediaflow - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"mediaflow", "test"},
			priority: "low",
		}, true
	default:
		// Cancellations are operator initiated.
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
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

func payloadString(p Payload, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case error:
		return strings.TrimSpace(t.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

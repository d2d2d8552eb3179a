package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/events"
	"mediaflow/internal/logging"
	"mediaflow/internal/notifications"
	"mediaflow/internal/workflow"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventWorkflowFailed, notifications.Payload{"asset": "clip"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "workflow completed",
			event:         notifications.EventWorkflowCompleted,
			payload:       notifications.Payload{"asset": "promo.mov", "template": "social-media", "duration": 95 * time.Second},
			expectTitle:   "Mediaflow - Complete",
			expectMessage: "✅ Workflow complete: promo.mov (social-media) in 1m35s",
			expectTags:    "mediaflow,workflow,completed",
		},
		{
			name:           "workflow failed",
			event:          notifications.EventWorkflowFailed,
			payload:        notifications.Payload{"asset": "feature.mxf", "template": "broadcast-standard", "reason": "step qc failed"},
			expectTitle:    "Mediaflow - Failed",
			expectMessage:  "❌ Workflow failed: feature.mxf (broadcast-standard)\nReason: step qc failed",
			expectTags:     "mediaflow,workflow,failed",
			expectPriority: "high",
		},
		{
			name:           "error",
			event:          notifications.EventError,
			payload:        notifications.Payload{"context": "restore", "error": "database locked"},
			expectTitle:    "Mediaflow - Error",
			expectMessage:  "❌ Error with restore: database locked",
			expectTags:     "mediaflow,error,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "Mediaflow - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "mediaflow,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, _ := io.ReadAll(r.Body)
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonorsToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for suppressed event: %s", r.Header.Get("Title"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.WorkflowCompleted = false
	cfg.Notifications.WorkflowFailed = false

	svc := notifications.NewService(&cfg)
	for _, event := range []notifications.Event{
		notifications.EventWorkflowCompleted,
		notifications.EventWorkflowFailed,
		notifications.EventWorkflowCancelled,
	} {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"asset": "ignored"}); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic blocked", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	if err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

type recordingService struct {
	mu    sync.Mutex
	calls []notifications.Event
	last  notifications.Payload
}

func (r *recordingService) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, event)
	r.last = payload
	return nil
}

func TestSinkForwardsTerminalEventsOnly(t *testing.T) {
	rec := &recordingService{}
	sink := notifications.NewSink(rec, notifications.SinkOptions{}, logging.NewNop())

	sink.Append(events.Event{Type: events.TypeStepStateChanged, WorkflowID: "wf", StepID: "qc", To: string(workflow.StepFailed)})
	sink.Append(events.Event{Type: events.TypeWorkflowStateChanged, WorkflowID: "wf", To: string(workflow.StatePaused)})
	sink.Append(events.Event{
		Type:       events.TypeWorkflowStateChanged,
		WorkflowID: "wf",
		TemplateID: "ott-optimized",
		AssetID:    "ep1.mov",
		From:       string(workflow.StateRunning),
		To:         string(workflow.StateFailed),
		Reason:     "step package failed",
	})
	sink.Close()
	sink.Append(events.Event{Type: events.TypeWorkflowStateChanged, WorkflowID: "late", To: string(workflow.StateCompleted)})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 1 || rec.calls[0] != notifications.EventWorkflowFailed {
		t.Fatalf("unexpected calls %v", rec.calls)
	}
	if rec.last["asset"] != "ep1.mov" || rec.last["reason"] != "step package failed" {
		t.Fatalf("unexpected payload %v", rec.last)
	}
}

type flakyService struct {
	gate chan struct{}

	mu    sync.Mutex
	fails int
	calls int
	sent  []string
}

func (f *flakyService) Publish(_ context.Context, _ notifications.Event, payload notifications.Payload) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("ntfy unavailable")
	}
	f.sent = append(f.sent, payload["workflow"].(string))
	return nil
}

func (f *flakyService) snapshot() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]string(nil), f.sent...)
}

func terminalEvent(id string) events.Event {
	return events.Event{Type: events.TypeWorkflowStateChanged, WorkflowID: id, To: string(workflow.StateCompleted)}
}

func TestSinkRetriesFailedDelivery(t *testing.T) {
	svc := &flakyService{fails: 2}
	sink := notifications.NewSink(svc, notifications.SinkOptions{RetryDelay: time.Millisecond}, logging.NewNop())
	sink.Append(terminalEvent("wf-1"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, sent := svc.snapshot(); len(sent) == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	sink.Close()
	calls, sent := svc.snapshot()
	if calls != 3 || len(sent) != 1 || sent[0] != "wf-1" {
		t.Fatalf("expected delivery on the third try, calls=%d sent=%v", calls, sent)
	}
}

func TestSinkWaitsForQueueSpace(t *testing.T) {
	svc := &flakyService{gate: make(chan struct{})}
	sink := notifications.NewSink(svc, notifications.SinkOptions{Buffer: 1, EnqueueTimeout: 5 * time.Second}, logging.NewNop())

	appended := make(chan struct{})
	go func() {
		defer close(appended)
		for _, id := range []string{"a", "b", "c", "d", "e"} {
			sink.Append(terminalEvent(id))
		}
	}()
	time.Sleep(20 * time.Millisecond)
	close(svc.gate)
	select {
	case <-appended:
	case <-time.After(5 * time.Second):
		t.Fatal("Append did not resume once deliveries drained")
	}
	sink.Close()
	if _, sent := svc.snapshot(); len(sent) != 5 {
		t.Fatalf("expected every notification delivered, got %v", sent)
	}
}

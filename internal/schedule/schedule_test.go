package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/logging"
	"mediaflow/internal/workflow"
)

type fakeStarter struct {
	mu    sync.Mutex
	calls [][2]string
	err   error
}

func (f *fakeStarter) Start(_ context.Context, templateID, assetID string) (workflow.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]string{templateID, assetID})
	if f.err != nil {
		return workflow.Instance{}, f.err
	}
	return workflow.Instance{ID: "wf", TemplateID: templateID, AssetID: assetID}, nil
}

func TestNewRejectsInvalidCron(t *testing.T) {
	_, err := New(context.Background(), []config.Schedule{{Name: "bad", Cron: "every tuesday", Template: "t", Asset: "a"}}, &fakeStarter{}, logging.NewNop())
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestFireStartsTemplateWithExpandedAsset(t *testing.T) {
	starter := &fakeStarter{}
	s, err := New(context.Background(), []config.Schedule{
		{Name: "nightly", Cron: "0 2 * * *", Template: "social-media", Asset: "/inbox/{{date}}.mov"},
	}, starter, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 7, 4, 2, 0, 0, 0, time.UTC) }

	s.fire(config.Schedule{Name: "nightly", Template: "social-media", Asset: "/inbox/{{date}}.mov"})
	if len(starter.calls) != 1 || starter.calls[0] != [2]string{"social-media", "/inbox/2026-07-04.mov"} {
		t.Fatalf("unexpected starts %v", starter.calls)
	}

	starter.err = workflow.ErrTemplateNotFound
	s.fire(config.Schedule{Name: "nightly", Template: "gone", Asset: "x"})
	if len(starter.calls) != 2 {
		t.Fatal("failed start should still be attempted")
	}
	if !errors.Is(starter.err, workflow.ErrTemplateNotFound) {
		t.Fatal("unexpected error value")
	}
}

func TestNextReportsUpcomingRun(t *testing.T) {
	s, err := New(context.Background(), []config.Schedule{
		{Name: "hourly", Cron: "@hourly", Template: "t", Asset: "a"},
	}, &fakeStarter{}, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	defer s.Stop()

	next, ok := s.Next("hourly")
	if !ok || !next.After(time.Now()) || next.Sub(time.Now()) > time.Hour {
		t.Fatalf("unexpected next run %v (%v)", next, ok)
	}
	if _, ok := s.Next("missing"); ok {
		t.Fatal("unknown schedule reported a next run")
	}
}

func TestExpandAsset(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := ExpandAsset("clip-{{datetime}}.mxf", now); got != "clip-20260102-030405.mxf" {
		t.Fatalf("ExpandAsset = %q", got)
	}
	if got := ExpandAsset("plain.mov", now); got != "plain.mov" {
		t.Fatalf("ExpandAsset = %q", got)
	}
}

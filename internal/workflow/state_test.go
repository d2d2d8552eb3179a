package workflow

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestStepTransitionTable(t *testing.T) {
	legal := map[[2]StepState]bool{
		{StepPending, StepReady}:     true,
		{StepReady, StepRunning}:     true,
		{StepRunning, StepCompleted}: true,
		{StepRunning, StepFailed}:    true,
		{StepFailed, StepReady}:      true,
		{StepFailed, StepSkipped}:    true,
		{StepPending, StepSkipped}:   true,
	}
	for _, from := range StepStates() {
		for _, to := range StepStates() {
			want := legal[[2]StepState{from, to}]
			if got := CanTransitionStep(from, to); got != want {
				t.Errorf("CanTransitionStep(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatesAreClosed(t *testing.T) {
	for _, from := range States() {
		if !from.Terminal() {
			continue
		}
		for _, to := range States() {
			if CanTransitionState(from, to) {
				t.Fatalf("terminal state %s must not transition to %s", from, to)
			}
		}
	}
	if !CanTransitionState(StateRunning, StatePaused) || !CanTransitionState(StatePaused, StateRunning) {
		t.Fatal("expected pause and resume to be legal")
	}
	if CanTransitionState(StatePaused, StatePaused) {
		t.Fatal("self transitions are not legal")
	}
}

func TestParseState(t *testing.T) {
	if s, ok := ParseState("cancelled"); !ok || s != StateCancelled {
		t.Fatalf("ParseState(cancelled) = %q, %v", s, ok)
	}
	if _, ok := ParseState("archived"); ok {
		t.Fatal("unexpected state parsed")
	}
}

func TestTransitionErrorUnwraps(t *testing.T) {
	err := &TransitionError{WorkflowID: "wf", StepID: "qc", From: "pending", To: "running"}
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatal("expected errors.Is to match ErrIllegalTransition")
	}
	if got := err.Error(); got != "illegal transition for step qc of workflow wf: pending -> running" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestAggregateProgressWeights(t *testing.T) {
	steps := map[string]StepInstance{
		"a": {ID: "a", Weight: 3, State: StepCompleted},
		"b": {ID: "b", Weight: 1, State: StepRunning, Progress: 0.5},
		"c": {ID: "c", State: StepPending},
	}
	got := AggregateProgress(steps)
	want := (3*1.0 + 1*0.5 + 1*0.0) / 5 * 100
	if got != want {
		t.Fatalf("AggregateProgress = %v, want %v", got, want)
	}
	if AggregateProgress(nil) != 0 {
		t.Fatal("empty step set should report zero progress")
	}
}

func TestInstanceCloneIsDeep(t *testing.T) {
	now := time.Now()
	orig := Instance{
		ID: "wf",
		Steps: map[string]StepInstance{
			"a": {
				ID:        "a",
				DependsOn: []string{"root"},
				StartedAt: &now,
				Payload:   json.RawMessage(`{"k":1}`),
				Error:     &ErrorDetail{Kind: ErrorTransient, Message: "x"},
				Attempts:  []AttemptRecord{{Attempt: 1, FinishedAt: &now}},
			},
		},
		FailedSteps: []string{"a"},
	}
	clone := orig.Clone()
	step := clone.Steps["a"]
	step.DependsOn[0] = "changed"
	step.Payload[2] = 'z'
	step.Error.Message = "changed"
	*step.Attempts[0].FinishedAt = now.Add(time.Hour)
	clone.FailedSteps[0] = "changed"

	src := orig.Steps["a"]
	if src.DependsOn[0] != "root" || string(src.Payload) != `{"k":1}` || src.Error.Message != "x" {
		t.Fatalf("clone shares memory with source: %+v", src)
	}
	if !src.Attempts[0].FinishedAt.Equal(now) || orig.FailedSteps[0] != "a" {
		t.Fatal("clone shares attempt history or failed steps")
	}
}

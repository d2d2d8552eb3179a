package workflow

import (
	"encoding/json"
	"sort"
	"time"
)

// Attempt outcomes recorded in step history.
const (
	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
	OutcomeInterrupted = "interrupted"
	OutcomeDiscarded   = "discarded"
)

// ErrorDetail is the normalized failure recorded on a step.
type ErrorDetail struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// AttemptRecord captures one executor invocation.
type AttemptRecord struct {
	Attempt    int        `json:"attempt"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
	ErrorKind  ErrorKind  `json:"error_kind,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// StepInstance is the runtime state of one step definition within a workflow.
type StepInstance struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	DependsOn   []string        `json:"depends_on,omitempty"`
	Weight      float64         `json:"weight"`
	Skippable   bool            `json:"skippable,omitempty"`
	State       StepState       `json:"state"`
	Attempt     int             `json:"attempt"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       *ErrorDetail    `json:"error,omitempty"`
	Attempts    []AttemptRecord `json:"attempts,omitempty"`
	Progress    float64         `json:"progress"`
	Discarded   bool            `json:"discarded,omitempty"`
}

// Clone returns a deep copy of the step.
func (s StepInstance) Clone() StepInstance {
	out := s
	if s.DependsOn != nil {
		out.DependsOn = append([]string(nil), s.DependsOn...)
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.Payload != nil {
		out.Payload = append(json.RawMessage(nil), s.Payload...)
	}
	if s.Error != nil {
		detail := *s.Error
		out.Error = &detail
	}
	if s.Attempts != nil {
		out.Attempts = make([]AttemptRecord, len(s.Attempts))
		for i, rec := range s.Attempts {
			if rec.FinishedAt != nil {
				t := *rec.FinishedAt
				rec.FinishedAt = &t
			}
			out.Attempts[i] = rec
		}
	}
	return out
}

// Fraction returns the step's contribution to aggregate progress in [0,1].
func (s StepInstance) Fraction() float64 {
	if s.State.Settled() {
		return 1
	}
	switch {
	case s.Progress < 0:
		return 0
	case s.Progress > 1:
		return 1
	default:
		return s.Progress
	}
}

// Instance is an immutable snapshot of a workflow instance. It doubles as the
// storage-agnostic record persisted across restarts.
type Instance struct {
	ID           string                  `json:"id"`
	TemplateID   string                  `json:"template_id"`
	TemplateName string                  `json:"template_name"`
	TemplateHash string                  `json:"template_hash,omitempty"`
	AssetID      string                  `json:"asset_id"`
	State        State                   `json:"state"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
	FinishedAt   *time.Time              `json:"finished_at,omitempty"`
	Steps        map[string]StepInstance `json:"steps"`
	Progress     float64                 `json:"progress"`
	FailedSteps  []string                `json:"failed_steps,omitempty"`
	RetryOf      string                  `json:"retry_of,omitempty"`
	Reason       string                  `json:"reason,omitempty"`
}

// Clone returns a deep copy of the instance.
func (in Instance) Clone() Instance {
	out := in
	if in.FinishedAt != nil {
		t := *in.FinishedAt
		out.FinishedAt = &t
	}
	if in.FailedSteps != nil {
		out.FailedSteps = append([]string(nil), in.FailedSteps...)
	}
	if in.Steps != nil {
		out.Steps = make(map[string]StepInstance, len(in.Steps))
		for id, step := range in.Steps {
			out.Steps[id] = step.Clone()
		}
	}
	return out
}

// StepIDs returns step ids sorted lexically.
func (in Instance) StepIDs() []string {
	ids := make([]string, 0, len(in.Steps))
	for id := range in.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StepStates returns the current state of every step keyed by id.
func (in Instance) StepStates() map[string]StepState {
	states := make(map[string]StepState, len(in.Steps))
	for id, step := range in.Steps {
		states[id] = step.State
	}
	return states
}

// Counts tallies steps per state.
func (in Instance) Counts() map[StepState]int {
	counts := make(map[StepState]int, len(allStepStates))
	for _, step := range in.Steps {
		counts[step.State]++
	}
	return counts
}

// AggregateProgress returns Σ(weight × fraction) / Σ weight scaled to 0–100.
func AggregateProgress(steps map[string]StepInstance) float64 {
	var total, done float64
	for _, step := range steps {
		weight := step.Weight
		if weight <= 0 {
			weight = 1
		}
		total += weight
		done += weight * step.Fraction()
	}
	if total == 0 {
		return 0
	}
	pct := done / total * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Package executor defines the contract between the orchestrator and the
// modules that perform step work, plus the built-in executors.
//
// Executors must be safe for concurrent use across steps and workflows. They
// own no orchestrator state: they receive a Request and return a Result or a
// classified error.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Request carries everything an executor needs for one attempt.
type Request struct {
	WorkflowID string
	StepID     string
	AssetID    string
	Attempt    int
	Config     map[string]string
	// Inputs maps upstream step ids to their result payloads.
	Inputs map[string]json.RawMessage
	// Progress receives fractional completion in [0,1]. May be nil.
	Progress func(float64)
}

// ReportProgress forwards f to the progress callback when one is set.
func (r Request) ReportProgress(f float64) {
	if r.Progress != nil {
		r.Progress(f)
	}
}

// Result is a successful execution outcome.
type Result struct {
	Payload json.RawMessage
}

// Executor performs the work for one step kind.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Execute(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }

// JSONResult marshals v into a Result.
func JSONResult(v any) (Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("encode result: %w", err))
	}
	return Result{Payload: data}, nil
}

// Registry maps step kinds to executors.
type Registry struct {
	mu    sync.RWMutex
	execs map[string]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{execs: make(map[string]Executor)}
}

// Register binds kind to exec, replacing any previous binding.
func (r *Registry) Register(kind string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs[kind] = exec
}

// Get returns the executor for kind.
func (r *Registry) Get(kind string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.execs[kind]
	return exec, ok
}

// Has reports whether kind has an executor.
func (r *Registry) Has(kind string) bool {
	_, ok := r.Get(kind)
	return ok
}

// Kinds lists registered kinds sorted lexically.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.execs))
	for kind := range r.execs {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

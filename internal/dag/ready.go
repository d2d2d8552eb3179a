package dag

import (
	"sort"

	"mediaflow/internal/workflow"
)

// ReadySteps returns every Pending step whose dependencies are all Completed
// or Skipped, sorted by id. Steps missing from states are treated as Pending.
func (g *Graph) ReadySteps(states map[string]workflow.StepState) []string {
	var ready []string
	for _, id := range g.ids {
		if stateOf(states, id) != workflow.StepPending {
			continue
		}
		if g.depsSettled(states, id) {
			ready = append(ready, id)
		}
	}
	return ready
}

// Unreachable returns Pending steps with at least one dependency where every
// dependency is Skipped. Such steps can never observe a Completed input and
// are cascade-skipped.
func (g *Graph) Unreachable(states map[string]workflow.StepState) []string {
	var out []string
	for _, id := range g.ids {
		deps := g.deps[id]
		if len(deps) == 0 || stateOf(states, id) != workflow.StepPending {
			continue
		}
		all := true
		for _, dep := range deps {
			if stateOf(states, dep) != workflow.StepSkipped {
				all = false
				break
			}
		}
		if all {
			out = append(out, id)
		}
	}
	return out
}

func (g *Graph) depsSettled(states map[string]workflow.StepState, id string) bool {
	for _, dep := range g.deps[id] {
		if !stateOf(states, dep).Settled() {
			return false
		}
	}
	return true
}

func stateOf(states map[string]workflow.StepState, id string) workflow.StepState {
	if s, ok := states[id]; ok {
		return s
	}
	return workflow.StepPending
}

// Frontier tracks readiness incrementally with remaining-dependency counters
// so callers do not rescan the graph after every completion. Unblocked steps
// with at least one Completed dependency (or none at all) are queued for Take;
// those whose dependencies were all Skipped are queued for TakeUnreachable.
// It is not safe for concurrent use.
type Frontier struct {
	g           *Graph
	remaining   map[string]int
	completed   map[string]int
	settled     map[string]struct{}
	ready       map[string]struct{}
	unreachable map[string]struct{}
}

// Frontier seeds a frontier from the given states: settled steps are resolved
// and steps with no outstanding dependencies are queued.
func (g *Graph) Frontier(states map[string]workflow.StepState) *Frontier {
	f := &Frontier{
		g:           g,
		remaining:   make(map[string]int, len(g.ids)),
		completed:   make(map[string]int, len(g.ids)),
		settled:     make(map[string]struct{}),
		ready:       make(map[string]struct{}),
		unreachable: make(map[string]struct{}),
	}
	for _, id := range g.ids {
		f.remaining[id] = g.indegree[id]
	}
	for _, id := range g.order {
		switch stateOf(states, id) {
		case workflow.StepCompleted:
			f.Resolve(id)
		case workflow.StepSkipped:
			f.Skip(id)
		}
	}
	clear(f.ready)
	clear(f.unreachable)
	for _, id := range g.Unreachable(states) {
		f.unreachable[id] = struct{}{}
	}
	for _, id := range g.ids {
		if _, done := f.settled[id]; done || f.remaining[id] != 0 {
			continue
		}
		if _, skip := f.unreachable[id]; !skip {
			f.ready[id] = struct{}{}
		}
	}
	return f
}

// Resolve marks id as Completed and returns dependents that became unblocked
// as a result, sorted by id. Resolving a settled step is a no-op.
func (f *Frontier) Resolve(id string) []string {
	return f.settle(id, true)
}

// Skip marks id as Skipped and returns dependents that became unblocked, sorted
// by id. A dependent whose dependencies were all skipped is queued for
// TakeUnreachable instead of Take.
func (f *Frontier) Skip(id string) []string {
	return f.settle(id, false)
}

func (f *Frontier) settle(id string, completed bool) []string {
	if _, done := f.settled[id]; done {
		return nil
	}
	if !f.g.Has(id) {
		return nil
	}
	f.settled[id] = struct{}{}
	delete(f.ready, id)
	delete(f.unreachable, id)

	var unblocked []string
	for _, dep := range f.g.dependents[id] {
		f.remaining[dep]--
		if completed {
			f.completed[dep]++
		}
		if f.remaining[dep] != 0 {
			continue
		}
		if f.completed[dep] == 0 {
			f.unreachable[dep] = struct{}{}
		} else {
			f.ready[dep] = struct{}{}
		}
		unblocked = append(unblocked, dep)
	}
	sort.Strings(unblocked)
	return unblocked
}

// TakeUnreachable drains and returns the queued steps whose dependencies were
// all skipped, sorted by id.
func (f *Frontier) TakeUnreachable() []string {
	return drainSorted(f.unreachable)
}

// Take drains and returns the queued ready steps sorted by id.
func (f *Frontier) Take() []string {
	return drainSorted(f.ready)
}

func drainSorted(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	clear(set)
	return out
}

// Package dag validates step dependency graphs and answers readiness queries.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"mediaflow/internal/workflow"
)

// Node is the graph view of a step definition.
type Node struct {
	ID        string
	DependsOn []string
}

// Graph is an immutable, validated dependency graph.
type Graph struct {
	ids        []string
	deps       map[string][]string
	dependents map[string][]string
	indegree   map[string]int
	order      []string
}

// InvalidTemplateError explains why a set of nodes does not form a usable DAG.
type InvalidTemplateError struct {
	Reason     string
	StepID     string
	Dependency string
	Cycle      []string
}

func (e *InvalidTemplateError) Error() string {
	switch {
	case len(e.Cycle) > 0:
		return fmt.Sprintf("invalid template: dependency cycle %s", strings.Join(append(append([]string{}, e.Cycle...), e.Cycle[0]), " -> "))
	case e.Dependency != "":
		return fmt.Sprintf("invalid template: step %q depends on unknown step %q", e.StepID, e.Dependency)
	case e.StepID != "":
		return fmt.Sprintf("invalid template: step %q: %s", e.StepID, e.Reason)
	default:
		return "invalid template: " + e.Reason
	}
}

func (e *InvalidTemplateError) Unwrap() error { return workflow.ErrInvalidTemplate }

// New validates nodes and builds the graph. It fails with *InvalidTemplateError
// on empty input, blank or duplicate ids, self references, unknown dependencies
// and cycles.
func New(nodes []Node) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, &InvalidTemplateError{Reason: "template has no steps"}
	}

	g := &Graph{
		ids:        make([]string, 0, len(nodes)),
		deps:       make(map[string][]string, len(nodes)),
		dependents: make(map[string][]string, len(nodes)),
		indegree:   make(map[string]int, len(nodes)),
	}
	for _, node := range nodes {
		id := strings.TrimSpace(node.ID)
		if id == "" {
			return nil, &InvalidTemplateError{Reason: "step id must not be empty"}
		}
		if _, dup := g.deps[id]; dup {
			return nil, &InvalidTemplateError{StepID: id, Reason: "duplicate step id"}
		}
		g.ids = append(g.ids, id)
		g.deps[id] = nil
	}
	sort.Strings(g.ids)

	for _, node := range nodes {
		id := strings.TrimSpace(node.ID)
		seen := make(map[string]struct{}, len(node.DependsOn))
		for _, dep := range node.DependsOn {
			dep = strings.TrimSpace(dep)
			if dep == id {
				return nil, &InvalidTemplateError{StepID: id, Reason: "step depends on itself"}
			}
			if _, ok := g.deps[dep]; !ok {
				return nil, &InvalidTemplateError{StepID: id, Dependency: dep}
			}
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			g.deps[id] = append(g.deps[id], dep)
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}
	for _, id := range g.ids {
		sort.Strings(g.deps[id])
		sort.Strings(g.dependents[id])
		g.indegree[id] = len(g.deps[id])
	}

	order, residual := g.kahn()
	if len(residual) > 0 {
		return nil, &InvalidTemplateError{Reason: "dependency cycle", Cycle: g.findCycle(residual)}
	}
	g.order = order
	return g, nil
}

// kahn returns a deterministic topological order and any nodes left with
// unresolved dependencies.
func (g *Graph) kahn() ([]string, map[string]struct{}) {
	remaining := make(map[string]int, len(g.indegree))
	var queue []string
	for _, id := range g.ids {
		remaining[id] = g.indegree[id]
		if remaining[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(g.ids))
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		order = append(order, u)
		var unblocked []string
		for _, v := range g.dependents[u] {
			remaining[v]--
			if remaining[v] == 0 {
				unblocked = append(unblocked, v)
			}
		}
		if len(unblocked) > 0 {
			queue = append(queue, unblocked...)
			sort.Strings(queue)
		}
	}

	residual := make(map[string]struct{})
	for id, n := range remaining {
		if n > 0 {
			residual[id] = struct{}{}
		}
	}
	return order, residual
}

// findCycle walks dependency edges inside the residual set until it revisits
// a node on the current path. Every residual node has a residual dependency,
// so the walk always closes a cycle.
func (g *Graph) findCycle(residual map[string]struct{}) []string {
	starts := make([]string, 0, len(residual))
	for id := range residual {
		starts = append(starts, id)
	}
	sort.Strings(starts)

	const (
		unvisited = iota
		onStack
		done
	)
	mark := make(map[string]int, len(residual))
	var path []string
	var cycle []string

	var visit func(string) bool
	visit = func(id string) bool {
		mark[id] = onStack
		path = append(path, id)
		for _, dep := range g.deps[id] {
			if _, ok := residual[dep]; !ok {
				continue
			}
			switch mark[dep] {
			case onStack:
				for i, p := range path {
					if p == dep {
						cycle = append([]string(nil), path[i:]...)
						return true
					}
				}
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		mark[id] = done
		return false
	}

	for _, id := range starts {
		if mark[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return starts
}

// Len returns the number of steps.
func (g *Graph) Len() int { return len(g.ids) }

// Steps returns all step ids sorted lexically.
func (g *Graph) Steps() []string { return append([]string(nil), g.ids...) }

// Has reports whether id is a step of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.deps[id]
	return ok
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id string) []string { return append([]string(nil), g.deps[id]...) }

// Dependents returns the steps that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Order returns a deterministic topological order with lexical tie-breaks.
func (g *Graph) Order() []string { return append([]string(nil), g.order...) }

// Ancestors returns every step id id transitively depends on, sorted.
func (g *Graph) Ancestors(id string) []string {
	seen := make(map[string]struct{})
	stack := append([]string(nil), g.deps[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		stack = append(stack, g.deps[n]...)
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

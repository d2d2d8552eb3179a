package template

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"mediaflow/internal/dag"
	"mediaflow/internal/workflow"
)

// Defaults supplies values for fields a template leaves unset.
type Defaults struct {
	Retry       RetryPolicy
	StepTimeout time.Duration
}

// Compiled is a validated template with its dependency graph and resolved
// per-step policies. It is immutable and shared between workflow instances.
type Compiled struct {
	Template Template
	Hash     string
	Graph    *dag.Graph

	steps   map[string]*Step
	retry   map[string]RetryPolicy
	timeout map[string]time.Duration
	inputs  map[string][]string
}

var titleCaser = cases.Title(language.English)

// normalize trims identifiers and fills display defaults. Steps are copied so
// the caller's slices are never modified.
func normalize(tpl *Template) {
	tpl.Steps = cloneSteps(tpl.Steps)
	tpl.ID = strings.TrimSpace(tpl.ID)
	tpl.Name = strings.TrimSpace(tpl.Name)
	if tpl.Name == "" {
		tpl.Name = tpl.ID
	}
	tpl.Category = Category(strings.ToLower(strings.TrimSpace(string(tpl.Category))))
	if tpl.Category == "" {
		tpl.Category = CategoryCustom
	}
	for i := range tpl.Steps {
		step := &tpl.Steps[i]
		step.ID = strings.TrimSpace(step.ID)
		step.Kind = strings.ToLower(strings.TrimSpace(step.Kind))
		step.Name = strings.TrimSpace(step.Name)
		if step.Name == "" {
			step.Name = titleCaser.String(strings.ReplaceAll(step.ID, "-", " "))
		}
		for j, dep := range step.DependsOn {
			step.DependsOn[j] = strings.TrimSpace(dep)
		}
		for j, in := range step.Inputs {
			step.Inputs[j] = strings.TrimSpace(in)
		}
	}
}

// Compile validates tpl and resolves retry, timeout and input settings
// against defaults. All failures wrap workflow.ErrInvalidTemplate.
func Compile(tpl Template, defaults Defaults) (*Compiled, error) {
	normalize(&tpl)
	if tpl.ID == "" {
		return nil, invalid("template id must be set")
	}
	if !tpl.Category.valid() {
		return nil, invalid("template %s: unknown category %q", tpl.ID, tpl.Category)
	}
	if err := checkPolicy(tpl.Retry); err != nil {
		return nil, invalid("template %s: retry: %v", tpl.ID, err)
	}
	if tpl.StepTimeout < 0 {
		return nil, invalid("template %s: step_timeout must not be negative", tpl.ID)
	}

	nodes := make([]dag.Node, 0, len(tpl.Steps))
	for _, step := range tpl.Steps {
		nodes = append(nodes, dag.Node{ID: step.ID, DependsOn: step.DependsOn})
	}
	graph, err := dag.New(nodes)
	if err != nil {
		return nil, err
	}

	base := tpl.Retry.merge(defaults.Retry)
	if base.MaxAttempts <= 0 {
		base.MaxAttempts = 1
	}
	if base.Multiplier <= 0 {
		base.Multiplier = 1
	}
	stepTimeout := tpl.StepTimeout.Std()
	if stepTimeout == 0 {
		stepTimeout = defaults.StepTimeout
	}

	c := &Compiled{
		Template: tpl,
		Graph:    graph,
		steps:    make(map[string]*Step, len(tpl.Steps)),
		retry:    make(map[string]RetryPolicy, len(tpl.Steps)),
		timeout:  make(map[string]time.Duration, len(tpl.Steps)),
		inputs:   make(map[string][]string, len(tpl.Steps)),
	}
	for i := range c.Template.Steps {
		step := &c.Template.Steps[i]
		if step.Kind == "" {
			return nil, invalid("step %s: kind must be set", step.ID)
		}
		if step.Weight < 0 {
			return nil, invalid("step %s: weight must not be negative", step.ID)
		}
		if step.Timeout < 0 {
			return nil, invalid("step %s: timeout must not be negative", step.ID)
		}
		policy := base
		if step.Retry != nil {
			if err := checkPolicy(*step.Retry); err != nil {
				return nil, invalid("step %s: retry: %v", step.ID, err)
			}
			policy = step.Retry.merge(base)
		}
		timeout := step.Timeout.Std()
		if timeout == 0 {
			timeout = stepTimeout
		}

		inputs := step.Inputs
		if len(inputs) == 0 {
			inputs = graph.Dependencies(step.ID)
		} else {
			ancestors := graph.Ancestors(step.ID)
			for _, in := range inputs {
				if !slices.Contains(ancestors, in) {
					return nil, invalid("step %s: input %q is not an upstream step", step.ID, in)
				}
			}
		}

		c.steps[step.ID] = step
		c.retry[step.ID] = policy
		c.timeout[step.ID] = timeout
		c.inputs[step.ID] = append([]string(nil), inputs...)
	}

	hash, err := Hash(c.Template)
	if err != nil {
		return nil, err
	}
	c.Hash = hash
	return c, nil
}

func cloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, step := range steps {
		step.DependsOn = append([]string(nil), step.DependsOn...)
		step.Inputs = append([]string(nil), step.Inputs...)
		if step.Retry != nil {
			policy := *step.Retry
			step.Retry = &policy
		}
		if step.Config != nil {
			cfg := make(map[string]string, len(step.Config))
			for k, v := range step.Config {
				cfg[k] = v
			}
			step.Config = cfg
		}
		out[i] = step
	}
	return out
}

func checkPolicy(p RetryPolicy) error {
	switch {
	case p.MaxAttempts < 0:
		return fmt.Errorf("max_attempts must not be negative")
	case p.BaseDelay < 0 || p.MaxDelay < 0:
		return fmt.Errorf("delays must not be negative")
	case p.Multiplier != 0 && p.Multiplier < 1:
		return fmt.Errorf("multiplier must be >= 1")
	case p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay:
		return fmt.Errorf("base_delay exceeds max_delay")
	}
	return nil
}

type invalidError struct{ msg string }

func (e *invalidError) Error() string { return "invalid template: " + e.msg }
func (e *invalidError) Unwrap() error { return workflow.ErrInvalidTemplate }

func invalid(format string, args ...any) error {
	return &invalidError{msg: fmt.Sprintf(format, args...)}
}

// Hash returns the murmur3-128 digest of the template's canonical JSON.
func Hash(tpl Template) (string, error) {
	data, err := json.Marshal(tpl)
	if err != nil {
		return "", fmt.Errorf("encode template: %w", err)
	}
	h := murmur3.New128()
	_, _ = h.Write(data)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Step returns the definition for id.
func (c *Compiled) Step(id string) (Step, bool) {
	step, ok := c.steps[id]
	if !ok {
		return Step{}, false
	}
	return *step, true
}

// Retry returns the resolved retry policy for a step.
func (c *Compiled) Retry(id string) RetryPolicy { return c.retry[id] }

// Timeout returns the resolved execution timeout for a step.
func (c *Compiled) Timeout(id string) time.Duration { return c.timeout[id] }

// Inputs returns the upstream steps whose payloads are handed to a step.
func (c *Compiled) Inputs(id string) []string { return append([]string(nil), c.inputs[id]...) }

// Kinds returns the distinct executor kinds used by the template.
func (c *Compiled) Kinds() []string {
	var kinds []string
	for _, step := range c.Template.Steps {
		if !slices.Contains(kinds, step.Kind) {
			kinds = append(kinds, step.Kind)
		}
	}
	slices.Sort(kinds)
	return kinds
}

package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Category groups templates for listing.
type Category string

const (
	CategoryBroadcast Category = "broadcast"
	CategoryOTT       Category = "ott"
	CategorySocial    Category = "social"
	CategoryCustom    Category = "custom"
)

func (c Category) valid() bool {
	switch c {
	case CategoryBroadcast, CategoryOTT, CategorySocial, CategoryCustom:
		return true
	}
	return false
}

// Duration is a time.Duration that encodes as a Go duration string ("90s").
// Bare JSON numbers are read as seconds.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("duration %s: expected string or seconds", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// RetryPolicy controls how many times a step runs and how long to wait between attempts.
// Zero fields inherit from the enclosing scope.
type RetryPolicy struct {
	MaxAttempts int      `json:"max_attempts,omitempty"`
	BaseDelay   Duration `json:"base_delay,omitempty"`
	Multiplier  float64  `json:"multiplier,omitempty"`
	MaxDelay    Duration `json:"max_delay,omitempty"`
}

// merge fills zero fields of p from fallback.
func (p RetryPolicy) merge(fallback RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = fallback.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = fallback.BaseDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = fallback.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = fallback.MaxDelay
	}
	return p
}

// Backoff returns the delay before the attempt following attempt n (1-based):
// BaseDelay × Multiplier^(n-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(p.BaseDelay)
	limit := float64(p.MaxDelay)
	for i := 1; i < n; i++ {
		delay *= p.Multiplier
		if limit > 0 && delay >= limit {
			return time.Duration(limit)
		}
	}
	if limit > 0 && delay > limit {
		delay = limit
	}
	return time.Duration(delay)
}

// Step is one step definition.
type Step struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Kind             string            `json:"kind"`
	DependsOn        []string          `json:"depends_on,omitempty"`
	Weight           float64           `json:"weight,omitempty"`
	Skippable        bool              `json:"skippable,omitempty"`
	Retry            *RetryPolicy      `json:"retry,omitempty"`
	Timeout          Duration          `json:"timeout,omitempty"`
	TimeoutPermanent bool              `json:"timeout_permanent,omitempty"`
	Inputs           []string          `json:"inputs,omitempty"`
	Config           map[string]string `json:"config,omitempty"`
}

// Template is a reusable, immutable workflow definition.
type Template struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Description      string      `json:"description,omitempty"`
	Category         Category    `json:"category,omitempty"`
	EstimatedMinutes int         `json:"estimated_minutes,omitempty"`
	Retry            RetryPolicy `json:"retry"`
	StepTimeout      Duration    `json:"step_timeout,omitempty"`
	Steps            []Step      `json:"steps"`
}

// Parse decodes a single JSON template. Unknown fields are rejected.
func Parse(data []byte) (Template, error) {
	var tpl Template
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tpl); err != nil {
		return Template{}, fmt.Errorf("decode template: %w", err)
	}
	return tpl, nil
}

package logs

import (
	"strings"

	"github.com/tidwall/gjson"

	"mediaflow/internal/logging"
)

var levelRank = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

// Filter selects JSON log records. Empty fields match everything. Lines that
// are not JSON objects only pass an empty filter.
type Filter struct {
	MinLevel   string
	WorkflowID string
	StepID     string
	Component  string
}

// Empty reports whether the filter matches every line.
func (f Filter) Empty() bool {
	return f == Filter{}
}

// Match reports whether line passes the filter.
func (f Filter) Match(line string) bool {
	if f.Empty() {
		return true
	}
	if !gjson.Valid(line) {
		return false
	}
	fields := gjson.GetMany(line, "level", logging.FieldWorkflowID, logging.FieldStepID, logging.FieldComponent)
	if f.MinLevel != "" {
		want, ok := levelRank[strings.ToUpper(f.MinLevel)]
		got, known := levelRank[strings.ToUpper(fields[0].String())]
		if ok && known && got < want {
			return false
		}
	}
	if f.WorkflowID != "" && !strings.HasPrefix(fields[1].String(), f.WorkflowID) {
		return false
	}
	if f.StepID != "" && fields[2].String() != f.StepID {
		return false
	}
	if f.Component != "" && !strings.HasPrefix(fields[3].String(), f.Component) {
		return false
	}
	return true
}

// Apply returns the lines that pass the filter.
func (f Filter) Apply(lines []string) []string {
	if f.Empty() {
		return lines
	}
	out := lines[:0:0]
	for _, line := range lines {
		if f.Match(line) {
			out = append(out, line)
		}
	}
	return out
}

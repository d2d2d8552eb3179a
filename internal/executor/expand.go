package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Expand substitutes request placeholders in s:
//
//	{{asset}} {{step}} {{workflow}} {{attempt}}
//	{{config:<key>}}
//	{{input:<step>}}          the raw payload of an upstream step
//	{{input:<step>:<path>}}   a gjson path into that payload
//
// Unknown placeholders and missing inputs are permanent errors since no retry
// can change the template.
func Expand(s string, req Request) (string, error) {
	var firstErr error
	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		key := strings.TrimSpace(placeholderPattern.FindStringSubmatch(match)[1])
		value, err := resolvePlaceholder(key, req)
		if err != nil {
			firstErr = err
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func resolvePlaceholder(key string, req Request) (string, error) {
	switch key {
	case "asset":
		return req.AssetID, nil
	case "step":
		return req.StepID, nil
	case "workflow":
		return req.WorkflowID, nil
	case "attempt":
		return strconv.Itoa(req.Attempt), nil
	}

	name, rest, _ := strings.Cut(key, ":")
	switch name {
	case "config":
		value, ok := req.Config[rest]
		if !ok {
			return "", Permanentf("placeholder %q: config key not set", key)
		}
		return value, nil
	case "input":
		stepID, path, hasPath := strings.Cut(rest, ":")
		payload, ok := req.Inputs[stepID]
		if !ok {
			return "", Permanentf("placeholder %q: no input from step %q", key, stepID)
		}
		if !hasPath {
			return string(payload), nil
		}
		result := gjson.GetBytes(payload, path)
		if !result.Exists() {
			return "", Permanentf("placeholder %q: path %q not found in %s payload", key, path, stepID)
		}
		return result.String(), nil
	}
	return "", Permanent(fmt.Errorf("unknown placeholder %q", key))
}

// ExpandAll expands every element of args.
func ExpandAll(args []string, req Request) ([]string, error) {
	out := make([]string, len(args))
	for i, arg := range args {
		expanded, err := Expand(arg, req)
		if err != nil {
			return nil, err
		}
		out[i] = expanded
	}
	return out, nil
}

package preflight

import (
	"context"
	"strings"

	"mediaflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if strings.TrimSpace(cfg.Paths.TemplatesDir) != "" {
		results = append(results, CheckDirectoryAccess("Templates directory", cfg.Paths.TemplatesDir))
	}
	if strings.TrimSpace(cfg.Transcode.OutputDir) != "" {
		results = append(results, CheckDirectoryAccess("Transcode output", cfg.Transcode.OutputDir))
	}
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}
	if strings.TrimSpace(cfg.Events.RedisAddr) != "" {
		results = append(results, CheckRedis(ctx, cfg.Events.RedisAddr, cfg.Events.RedisPassword, cfg.Events.RedisDB))
	}
	for _, status := range CheckSystemDeps(cfg) {
		if status.Available || status.Optional {
			continue
		}
		results = append(results, Result{Name: status.Name, Detail: status.Detail})
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

package preflight

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"mediaflow/internal/config"
)

// Requirement defines an external binary a step executor relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if _, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// CheckSystemDeps lists the binaries implied by the config: FFmpeg for the
// built-in transcode executor and the command behind each configured
// executor kind. The daemon and the CLI status command share this list.
func CheckSystemDeps(cfg *config.Config) []Status {
	requirements := []Requirement{
		{
			Name:        "FFmpeg",
			Command:     "ffmpeg",
			Description: "Used by the transcode executor",
			Optional:    true,
		},
		{
			Name:        "FFprobe",
			Command:     "ffprobe",
			Description: "Used by the transcode executor for media inspection",
			Optional:    true,
		},
	}
	kinds := make([]string, 0, len(cfg.Executors))
	for kind := range cfg.Executors {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		requirements = append(requirements, Requirement{
			Name:        "executor " + kind,
			Command:     cfg.Executors[kind].Command,
			Description: fmt.Sprintf("Runs %q steps", kind),
		})
	}
	return CheckBinaries(requirements)
}

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"mediaflow/internal/logging"
)

var commandContext = exec.CommandContext

const (
	stderrTailLines = 20
	// Output pipes are force-closed this long after the process exits or the
	// context ends, so a descendant holding them open cannot stall the attempt.
	defaultWaitDelay = 5 * time.Second
)

// CommandSpec describes an external program run for each step attempt.
type CommandSpec struct {
	Command            string
	Args               []string
	PermanentExitCodes []int
}

// Command runs an external program per attempt. Arguments may use the
// placeholders accepted by Expand. Step config keys "command" and "args"
// (whitespace separated) override the spec.
//
// Stdout that is valid JSON becomes the result payload, otherwise it is
// wrapped as {"stdout": "..."}. Stderr lines of the form "progress=<value>"
// report progress, where values above 1 are read as percentages.
type Command struct {
	spec      CommandSpec
	waitDelay time.Duration
	logger    *slog.Logger
}

// NewCommand constructs a command executor.
func NewCommand(spec CommandSpec, logger *slog.Logger) *Command {
	return &Command{
		spec:      spec,
		waitDelay: defaultWaitDelay,
		logger:    logging.NewComponentLogger(logger, "executor.command"),
	}
}

func (c *Command) Execute(ctx context.Context, req Request) (Result, error) {
	command := c.spec.Command
	args := c.spec.Args
	if v := strings.TrimSpace(req.Config["command"]); v != "" {
		command = v
	}
	if v, ok := req.Config["args"]; ok {
		args = strings.Fields(v)
	}
	if command == "" {
		return Result{}, Permanentf("step %s: no command configured", req.StepID)
	}

	command, err := Expand(command, req)
	if err != nil {
		return Result{}, err
	}
	expanded, err := ExpandAll(args, req)
	if err != nil {
		return Result{}, err
	}

	cmd := commandContext(ctx, command, expanded...) //nolint:gosec
	var stdout bytes.Buffer
	stderr := &stderrWriter{progress: req.ReportProgress}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = c.waitDelay

	logger := logging.WithContext(ctx, c.logger)
	logger.Debug("starting command",
		logging.String("command", command),
		logging.Int(logging.FieldAttempt, req.Attempt),
	)
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Result{}, Permanent(fmt.Errorf("start %s: %w", command, err))
		}
		return Result{}, fmt.Errorf("start %s: %w", command, err)
	}

	waitErr := cmd.Wait()
	tail := stderr.finish()
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		logger.Warn("command output still open after exit",
			logging.String("command", command),
			logging.String(logging.FieldEventType, "command_output_orphaned"),
			logging.String(logging.FieldErrorHint, "a background process inherited the step's stdout or stderr"),
		)
		waitErr = nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return Result{}, Timeout(fmt.Errorf("%s: %w", command, ctxErr))
		}
		return Result{}, ctxErr
	}
	if waitErr != nil {
		return Result{}, c.classifyExit(command, waitErr, tail)
	}

	req.ReportProgress(1)
	return Result{Payload: stdoutPayload(stdout.Bytes())}, nil
}

func (c *Command) classifyExit(command string, err error, tail []string) error {
	detail := strings.Join(tail, "\n")
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		wrapped := fmt.Errorf("%s exited with code %d: %s", command, code, strings.TrimSpace(detail))
		if slices.Contains(c.spec.PermanentExitCodes, code) {
			return Permanent(wrapped)
		}
		return Transient(wrapped)
	}
	return Transient(fmt.Errorf("%s: %w", command, err))
}

// stderrWriter splits stderr into lines, forwarding "progress=" lines and
// keeping the last lines for error messages. exec.Cmd writes to it from a
// single goroutine and finish runs after Wait returns.
type stderrWriter struct {
	progress func(float64)
	partial  []byte
	tail     []string
}

func (w *stderrWriter) Write(p []byte) (int, error) {
	w.partial = append(w.partial, p...)
	for {
		idx := bytes.IndexByte(w.partial, '\n')
		if idx < 0 {
			break
		}
		w.line(string(w.partial[:idx]))
		w.partial = w.partial[idx+1:]
	}
	if len(w.partial) > 64*1024 {
		w.line(string(w.partial))
		w.partial = nil
	}
	return len(p), nil
}

func (w *stderrWriter) line(raw string) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return
	}
	if value, ok := strings.CutPrefix(line, "progress="); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			if f > 1 {
				f /= 100
			}
			w.progress(f)
			return
		}
	}
	w.tail = append(w.tail, line)
	if len(w.tail) > stderrTailLines {
		w.tail = w.tail[1:]
	}
}

func (w *stderrWriter) finish() []string {
	if len(w.partial) > 0 {
		w.line(string(w.partial))
		w.partial = nil
	}
	return w.tail
}

func stdoutPayload(out []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return append(json.RawMessage(nil), trimmed...)
	}
	data, _ := json.Marshal(map[string]string{"stdout": string(trimmed)})
	return data
}

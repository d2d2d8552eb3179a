package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mediaflow/internal/fileutil"
	"mediaflow/internal/logging"
)

// Copy delivers a file into a destination directory with size and checksum
// verification.
//
// Config keys: "source" (placeholder template, default {{asset}}) and
// "destination" (directory, required). The payload is
// {"source", "output", "bytes", "sha256"}.
type Copy struct {
	logger *slog.Logger
}

// NewCopy constructs a copy executor.
func NewCopy(logger *slog.Logger) *Copy {
	return &Copy{logger: logging.NewComponentLogger(logger, "executor.copy")}
}

func (c *Copy) Execute(ctx context.Context, req Request) (Result, error) {
	sourceTemplate := req.Config["source"]
	if strings.TrimSpace(sourceTemplate) == "" {
		sourceTemplate = "{{asset}}"
	}
	source, err := Expand(sourceTemplate, req)
	if err != nil {
		return Result{}, err
	}
	source = strings.TrimSpace(source)
	if _, err := os.Stat(source); err != nil {
		return Result{}, Permanent(fmt.Errorf("copy source: %w", err))
	}

	destTemplate := strings.TrimSpace(req.Config["destination"])
	if destTemplate == "" {
		return Result{}, Permanentf("copy: destination directory required")
	}
	destDir, err := Expand(destTemplate, req)
	if err != nil {
		return Result{}, err
	}
	output := filepath.Join(strings.TrimSpace(destDir), filepath.Base(source))

	res, err := fileutil.CopyVerified(ctx, source, output, req.ReportProgress)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, Timeout(err)
		}
		return Result{}, err
	}
	logging.WithContext(ctx, c.logger).Info("file delivered",
		logging.String("source", source),
		logging.String("output", output),
		logging.Int64("bytes", res.Bytes),
	)
	return JSONResult(map[string]any{
		"source": source,
		"output": output,
		"bytes":  res.Bytes,
		"sha256": res.SHA256,
	})
}

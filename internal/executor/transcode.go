package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	draptolib "github.com/five82/drapto"

	"mediaflow/internal/logging"
)

const maxFilmGrain = 50

// encodeSettings carries the per-step drapto tuning parsed from step config.
type encodeSettings struct {
	Preset    draptolib.Preset
	CRF       string
	FilmGrain *uint8
}

func parseEncodeSettings(cfg map[string]string) (encodeSettings, error) {
	var s encodeSettings
	if v := strings.TrimSpace(cfg["preset"]); v != "" {
		p, err := draptolib.ParsePreset(v)
		if err != nil {
			return s, Permanent(fmt.Errorf("transcode preset: %w", err))
		}
		s.Preset = p
	}
	if v := strings.TrimSpace(cfg["crf"]); v != "" {
		if _, _, _, err := draptolib.ParseCRF(v); err != nil {
			return s, Permanent(fmt.Errorf("transcode crf: %w", err))
		}
		s.CRF = v
	}
	if v := strings.TrimSpace(cfg["film_grain"]); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil || n > maxFilmGrain {
			return s, Permanentf("transcode film_grain %q: want 0-%d", v, maxFilmGrain)
		}
		grain := uint8(n)
		s.FilmGrain = &grain
	}
	return s, nil
}

func (s encodeSettings) options() []draptolib.Option {
	opts := []draptolib.Option{draptolib.WithResponsive()}
	if s.Preset != "" {
		opts = append(opts, draptolib.WithPreset(s.Preset))
	}
	if s.CRF != "" {
		opts = append(opts, draptolib.WithCRF(s.CRF))
	}
	if s.FilmGrain != nil {
		opts = append(opts, draptolib.WithFilmGrain(*s.FilmGrain))
	}
	return opts
}

type encodeFunc func(ctx context.Context, inputPath, outputDir string, settings encodeSettings, rep draptolib.Reporter) error

func draptoEncode(ctx context.Context, inputPath, outputDir string, settings encodeSettings, rep draptolib.Reporter) error {
	encoder, err := draptolib.New(settings.options()...)
	if err != nil {
		return Permanent(fmt.Errorf("init drapto: %w", err))
	}
	_, err = encoder.EncodeWithReporter(ctx, inputPath, outputDir, rep)
	return err
}

// Transcode encodes the step input with the drapto library.
//
// Config keys: "input" (placeholder template for the source file, default
// {{asset}}), "output_dir" (default from daemon config), "preset" (grain,
// clean or quick), "crf" (one value or an SD,HD,UHD triple, 0-63) and
// "film_grain" (0-50). Invalid tuning values fail the step permanently. The
// payload is {"input": ..., "output": ...}.
type Transcode struct {
	outputDir string
	encode    encodeFunc
	logger    *slog.Logger
}

// NewTranscode constructs a transcode executor writing into outputDir by default.
func NewTranscode(outputDir string, logger *slog.Logger) *Transcode {
	return &Transcode{
		outputDir: outputDir,
		encode:    draptoEncode,
		logger:    logging.NewComponentLogger(logger, "executor.transcode"),
	}
}

func (t *Transcode) Execute(ctx context.Context, req Request) (Result, error) {
	settings, err := parseEncodeSettings(req.Config)
	if err != nil {
		return Result{}, err
	}
	inputTemplate := req.Config["input"]
	if strings.TrimSpace(inputTemplate) == "" {
		inputTemplate = "{{asset}}"
	}
	input, err := Expand(inputTemplate, req)
	if err != nil {
		return Result{}, err
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return Result{}, Permanentf("transcode: input path required")
	}
	info, err := os.Stat(input)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("transcode input: %w", err))
	}
	if info.IsDir() {
		return Result{}, Permanentf("transcode input %s is a directory", input)
	}

	outputDir := strings.TrimSpace(req.Config["output_dir"])
	if outputDir == "" {
		outputDir = t.outputDir
	}
	if outputDir == "" {
		return Result{}, Permanentf("transcode: output directory required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	logger := logging.WithContext(ctx, t.logger)
	rep := newProgressReporter(req.ReportProgress, logger)
	if err := t.encode(ctx, input, outputDir, settings, rep); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, Timeout(err)
		}
		if rep.validationFailed {
			return Result{}, Permanent(fmt.Errorf("transcode validation failed: %w", err))
		}
		return Result{}, err
	}

	output := rep.outputPath
	if output == "" {
		base := filepath.Base(input)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		if stem == "" {
			stem = base
		}
		output = filepath.Join(outputDir, stem+".mkv")
	}
	req.ReportProgress(1)
	return JSONResult(map[string]string{"input": input, "output": output})
}

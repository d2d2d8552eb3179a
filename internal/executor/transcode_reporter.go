package executor

import (
	"log/slog"
	"sync"

	draptolib "github.com/five82/drapto"

	"mediaflow/internal/logging"
)

// progressReporter adapts drapto's Reporter callbacks to step progress and
// structured logs.
type progressReporter struct {
	progress func(float64)
	logger   *slog.Logger

	mu               sync.Mutex
	outputPath       string
	validationFailed bool
}

func newProgressReporter(progress func(float64), logger *slog.Logger) *progressReporter {
	return &progressReporter{progress: progress, logger: logger}
}

func (r *progressReporter) percent(p float64) {
	r.progress(p / 100)
}

func (r *progressReporter) Hardware(s draptolib.HardwareSummary) {
	r.logger.Debug("transcode host", logging.String("hostname", s.Hostname))
}

func (r *progressReporter) Initialization(s draptolib.InitializationSummary) {
	r.logger.Info("transcode initialized",
		logging.String("input_file", s.InputFile),
		logging.String("output_file", s.OutputFile),
		logging.Any("resolution", s.Resolution),
		logging.Any("dynamic_range", s.DynamicRange),
	)
}

func (r *progressReporter) StageProgress(s draptolib.StageProgress) {
	r.logger.Debug("transcode stage", logging.String("stage", s.Stage), logging.String("message", s.Message))
}

func (r *progressReporter) CropResult(s draptolib.CropSummary) {
	r.logger.Debug("transcode crop", logging.Any("crop", s.Crop), logging.Any("required", s.Required))
}

func (r *progressReporter) EncodingConfig(s draptolib.EncodingConfigSummary) {
	r.logger.Debug("transcode encoder",
		logging.String("encoder", s.Encoder),
		logging.Any("preset", s.Preset),
		logging.Any("quality", s.Quality),
	)
}

func (r *progressReporter) EncodingStarted(totalFrames uint64) {
	r.logger.Debug("encoding started", logging.Uint64("total_frames", totalFrames))
}

func (r *progressReporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	r.percent(float64(s.Percent))
}

func (r *progressReporter) ValidationComplete(s draptolib.ValidationSummary) {
	if s.Passed {
		return
	}
	r.mu.Lock()
	r.validationFailed = true
	r.mu.Unlock()
	failed := make([]string, 0, len(s.Steps))
	for _, step := range s.Steps {
		if !step.Passed {
			failed = append(failed, step.Name)
		}
	}
	logging.WarnWithContext(r.logger, "transcode validation failed", "transcode_validation_failed",
		logging.Any("failed_checks", failed),
		logging.String(logging.FieldImpact, "output will not be delivered"),
		logging.String(logging.FieldErrorHint, "inspect the source file and encoder settings"),
	)
}

func (r *progressReporter) EncodingComplete(s draptolib.EncodingOutcome) {
	r.mu.Lock()
	r.outputPath = s.OutputPath
	r.mu.Unlock()
	r.logger.Info("transcode complete",
		logging.String("output", s.OutputPath),
		logging.Uint64("original_size", uint64(s.OriginalSize)),
		logging.Uint64("encoded_size", uint64(s.EncodedSize)),
	)
}

func (r *progressReporter) Warning(message string) {
	r.logger.Warn("transcode warning",
		logging.String("message", message),
		logging.String(logging.FieldEventType, "transcode_warning"),
	)
}

func (r *progressReporter) Error(e draptolib.ReporterError) {
	r.logger.Error("transcode error",
		logging.String("title", e.Title),
		logging.String("message", e.Message),
		logging.String(logging.FieldErrorHint, e.Suggestion),
	)
}

func (r *progressReporter) OperationComplete(message string) {
	r.logger.Debug("transcode operation complete", logging.String("message", message))
}

func (r *progressReporter) BatchStarted(s draptolib.BatchStartInfo) {
	r.logger.Debug("transcode batch started", logging.Any("files", s.TotalFiles))
}

func (r *progressReporter) FileProgress(s draptolib.FileProgressContext) {
	r.logger.Debug("transcode file", logging.Any("current", s.CurrentFile), logging.Any("total", s.TotalFiles))
}

func (r *progressReporter) BatchComplete(s draptolib.BatchSummary) {
	r.logger.Debug("transcode batch complete", logging.Any("successful", s.SuccessfulCount))
}

var _ draptolib.Reporter = (*progressReporter)(nil)

package daemon

import (
	"log/slog"
	"sort"

	"mediaflow/internal/config"
	"mediaflow/internal/executor"
	"mediaflow/internal/logging"
)

// placeholderKinds succeed without automated work until a command executor is
// configured for them.
var placeholderKinds = []string{"noop", "ingest", "qc", "review", "approval", "delivery"}

// buildExecutors registers the built-in executors and then the command
// executors from config, which override built-ins of the same kind.
func buildExecutors(cfg *config.Config, logger *slog.Logger) *executor.Registry {
	reg := executor.NewRegistry()
	for _, kind := range placeholderKinds {
		reg.Register(kind, executor.Noop{})
	}
	reg.Register("transcode", executor.NewTranscode(cfg.Transcode.OutputDir, logger))
	reg.Register("copy", executor.NewCopy(logger))

	kinds := make([]string, 0, len(cfg.Executors))
	for kind := range cfg.Executors {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		spec := cfg.Executors[kind]
		reg.Register(kind, executor.NewCommand(executor.CommandSpec{
			Command:            spec.Command,
			Args:               spec.Args,
			PermanentExitCodes: spec.PermanentExitCodes,
		}, logger))
		logger.Debug("command executor registered",
			logging.String("kind", kind),
			logging.String("command", spec.Command),
		)
	}
	return reg
}

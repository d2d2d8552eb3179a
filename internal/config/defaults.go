package config

const (
	defaultStateDir                = "~/.local/share/mediaflow"
	defaultLogDir                  = "~/.local/share/mediaflow/logs"
	defaultTemplatesDir            = "~/.config/mediaflow/templates"
	defaultTranscodeOutputDir      = "~/.local/share/mediaflow/output"
	defaultAPIBind                 = "127.0.0.1:7488"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultMaxAttempts             = 3
	defaultBaseDelayMillis         = 2000
	defaultBackoffMultiplier       = 2.0
	defaultMaxDelaySeconds         = 300
	defaultStepTimeoutSeconds      = 3600
	defaultMaxConcurrentSteps      = 8
	defaultDispatchBurst           = 4
	defaultEventBuffer             = 1024
	defaultNotifyRequestTimeout    = 10
	defaultRedisChannel            = "mediaflow.events"
	defaultShutdownTimeoutSeconds  = 10
	defaultRestoreOnStart          = true
	defaultBuiltinTemplatesEnabled = true
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:     defaultStateDir,
			LogDir:       defaultLogDir,
			TemplatesDir: defaultTemplatesDir,
			APIBind:      defaultAPIBind,
		},
		Orchestrator: Orchestrator{
			MaxAttempts:            defaultMaxAttempts,
			BaseDelayMillis:        defaultBaseDelayMillis,
			BackoffMultiplier:      defaultBackoffMultiplier,
			MaxDelaySeconds:        defaultMaxDelaySeconds,
			StepTimeoutSeconds:     defaultStepTimeoutSeconds,
			MaxConcurrentSteps:     defaultMaxConcurrentSteps,
			DispatchBurst:          defaultDispatchBurst,
			EventBuffer:            defaultEventBuffer,
			ShutdownTimeoutSeconds: defaultShutdownTimeoutSeconds,
			RestoreOnStart:         defaultRestoreOnStart,
			BuiltinTemplates:       defaultBuiltinTemplatesEnabled,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeout:    defaultNotifyRequestTimeout,
			WorkflowCompleted: true,
			WorkflowFailed:    true,
		},
		Events: Events{
			RedisChannel: defaultRedisChannel,
		},
		Transcode: Transcode{
			OutputDir: defaultTranscodeOutputDir,
		},
	}
}

package config

const (
	defaultBinary               = "~/.local/share/visualia/bin/visualia"
	defaultModelsDir            = "~/.local/share/visualia/models"
	defaultModel                = "base"
	defaultModelFile            = "whisper-base.gguf"
	defaultSourceLanguage       = "auto"
	defaultSettleDelayMS        = 1000
	defaultStopGraceSeconds     = 5
	defaultMaxRestarts          = 5
	defaultStateDir             = "~/.local/share/visualia"
	defaultLogDir               = "~/.local/share/visualia/logs"
	defaultAPIBind              = "127.0.0.1:7491"
	defaultHotplugSubsystem     = "sound"
	defaultTranscriptsRetention = 30
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 14
)

// Default returns a Config populated with repository defaults. Model and
// source language stay empty so environment fallbacks can apply during
// normalization.
func Default() Config {
	return Config{
		Engine: Engine{
			ModelsDir:        defaultModelsDir,
			SettleDelayMS:    defaultSettleDelayMS,
			StopGraceSeconds: defaultStopGraceSeconds,
			MaxRestarts:      defaultMaxRestarts,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Hotplug: Hotplug{
			Subsystem: defaultHotplugSubsystem,
		},
		Transcripts: Transcripts{
			Enabled:       true,
			RetentionDays: defaultTranscriptsRetention,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

package config

const (
	defaultWorkspaceRoot = "~/.local/share/stemd/workspaces"
	defaultOutputDir     = "~/.local/share/stemd/output"
	defaultLogDir        = "~/.local/share/stemd/logs"
	defaultAPIBind       = "127.0.0.1:7719"

	defaultMaxConcurrentSeparationJobs = 1
	defaultMaxQueueLength              = 16
	defaultDownloadSlots               = 4
	defaultPostprocessSlots            = 2
	defaultDownloadTimeout             = 300
	defaultSeparationTimeout           = 1800
	defaultPostprocessTimeout          = 300
	defaultTerminationGracePeriod      = 10
	defaultDownloadRetries             = 3
	defaultDownloadRetryDelay          = 2
	defaultDrainTimeout                = 60
	defaultStaleWorkspaceMaxAgeHours   = 24

	defaultMaxSourceDurationSeconds = 900
	defaultMaxSourceSizeBytes       = 200 << 20

	defaultSeparatorBinary = "demucs"
	defaultSeparatorModel  = "htdemucs"
	defaultMP3Bitrate      = 256

	defaultFFmpegBinary  = "ffmpeg"
	defaultFFprobeBinary = "ffprobe"
	defaultOutputFormat  = "mp3"
	defaultBitrate       = "256k"

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30
)

func defaultAllowedFormats() []string {
	return []string{"mp3", "m4a", "aac", "flac", "ogg", "opus", "wav"}
}

// defaultStems matches a two-stem separation run. The stem set is an external
// engine contract configured rather than assumed; see separator.stems.
func defaultStems() []string {
	return []string{"vocals", "no_vocals"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkspaceRoot: defaultWorkspaceRoot,
			OutputDir:     defaultOutputDir,
			LogDir:        defaultLogDir,
			APIBind:       defaultAPIBind,
		},
		Pipeline: Pipeline{
			MaxConcurrentSeparationJobs: defaultMaxConcurrentSeparationJobs,
			MaxQueueLength:              defaultMaxQueueLength,
			DownloadSlots:               defaultDownloadSlots,
			PostprocessSlots:            defaultPostprocessSlots,
			DownloadTimeout:             defaultDownloadTimeout,
			SeparationTimeout:           defaultSeparationTimeout,
			PostprocessTimeout:          defaultPostprocessTimeout,
			TerminationGracePeriod:      defaultTerminationGracePeriod,
			DownloadRetries:             defaultDownloadRetries,
			DownloadRetryDelay:          defaultDownloadRetryDelay,
			DrainTimeout:                defaultDrainTimeout,
			StaleWorkspaceMaxAgeHours:   defaultStaleWorkspaceMaxAgeHours,
		},
		Source: Source{
			MaxDurationSeconds: defaultMaxSourceDurationSeconds,
			MaxSizeBytes:       defaultMaxSourceSizeBytes,
			AllowedFormats:     defaultAllowedFormats(),
		},
		Separator: Separator{
			Binary:     defaultSeparatorBinary,
			Model:      defaultSeparatorModel,
			TwoStems:   true,
			MP3Bitrate: defaultMP3Bitrate,
			Stems:      defaultStems(),
		},
		Transcode: Transcode{
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			OutputFormat:   defaultOutputFormat,
			Bitrate:        defaultBitrate,
			QuietVocalsMix: true,
			SourceReencode: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

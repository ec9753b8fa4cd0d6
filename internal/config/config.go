package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and API bind configuration.
type Paths struct {
	WorkspaceRoot string `toml:"workspace_root"`
	OutputDir     string `toml:"output_dir"`
	LogDir        string `toml:"log_dir"`
	APIBind       string `toml:"api_bind"`
	APIToken      string `toml:"api_token"`
}

// Pipeline contains scheduling and timeout configuration for the job pipeline.
// All timeouts and intervals are expressed in seconds.
type Pipeline struct {
	MaxConcurrentSeparationJobs int `toml:"max_concurrent_separation_jobs"`
	MaxQueueLength              int `toml:"max_queue_length"`
	DownloadSlots               int `toml:"download_slots"`
	PostprocessSlots            int `toml:"postprocess_slots"`
	DownloadTimeout             int `toml:"download_timeout"`
	SeparationTimeout           int `toml:"separation_timeout"`
	PostprocessTimeout          int `toml:"postprocess_timeout"`
	TerminationGracePeriod      int `toml:"termination_grace_period"`
	DownloadRetries             int `toml:"download_retries"`
	DownloadRetryDelay          int `toml:"download_retry_delay"`
	DrainTimeout                int `toml:"drain_timeout"`
	StaleWorkspaceMaxAgeHours   int `toml:"stale_workspace_max_age_hours"`
}

// Source contains admission limits applied to submitted track references.
type Source struct {
	MaxDurationSeconds int      `toml:"max_duration_seconds"`
	MaxSizeBytes       int64    `toml:"max_size_bytes"`
	AllowedFormats     []string `toml:"allowed_formats"`
}

// Separator contains configuration for the external separation engine.
type Separator struct {
	Binary     string   `toml:"binary"`
	Model      string   `toml:"model"`
	TwoStems   bool     `toml:"two_stems"`
	MP3Bitrate int      `toml:"mp3_bitrate"`
	Stems      []string `toml:"stems"`
}

// Transcode contains configuration for the external transcoding tool.
type Transcode struct {
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	FFprobeBinary  string `toml:"ffprobe_binary"`
	OutputFormat   string `toml:"output_format"`
	Bitrate        string `toml:"bitrate"`
	QuietVocalsMix bool   `toml:"quiet_vocals_mix"`
	SourceReencode bool   `toml:"source_reencode"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for stemd.
//
// Configuration sections by subsystem:
//   - Paths: workspace root, delivery output, log dir, API bind address
//   - Pipeline: pool sizes, queue length, per-stage timeouts, drain behaviour
//   - Source: download admission limits (size, duration, formats)
//   - Separator: separation engine binary, model, and expected stem set
//   - Transcode: ffmpeg/ffprobe binaries and deliverable format settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths     Paths     `toml:"paths"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Source    Source    `toml:"source"`
	Separator Separator `toml:"separator"`
	Transcode Transcode `toml:"transcode"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/stemd/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("stemd.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// OutputDir is created on a best-effort basis so the daemon can run when
// delivery storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkspaceRoot, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.OutputDir) != "" {
		_ = os.MkdirAll(c.Paths.OutputDir, 0o755)
	}
	return nil
}

// LoggingOptions exposes the fields the logging package needs.
func (c *Config) LoggingOptions() (level, format, dir string) {
	return c.Logging.Level, c.Logging.Format, c.Paths.LogDir
}

// DownloadTimeout returns the download stage deadline.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Pipeline.DownloadTimeout) * time.Second
}

// SeparationTimeout returns the separation stage deadline.
func (c *Config) SeparationTimeout() time.Duration {
	return time.Duration(c.Pipeline.SeparationTimeout) * time.Second
}

// PostprocessTimeout returns the postprocessing stage deadline.
func (c *Config) PostprocessTimeout() time.Duration {
	return time.Duration(c.Pipeline.PostprocessTimeout) * time.Second
}

// TerminationGracePeriod returns how long a signalled subprocess may linger
// before it is forcefully killed.
func (c *Config) TerminationGracePeriod() time.Duration {
	return time.Duration(c.Pipeline.TerminationGracePeriod) * time.Second
}

// DownloadRetryDelay returns the fixed backoff between download attempts.
func (c *Config) DownloadRetryDelay() time.Duration {
	return time.Duration(c.Pipeline.DownloadRetryDelay) * time.Second
}

// DrainTimeout returns how long Stop waits for in-flight jobs before
// cancelling them.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Pipeline.DrainTimeout) * time.Second
}

// StaleWorkspaceMaxAge returns the age beyond which leftover workspace
// directories are swept at startup.
func (c *Config) StaleWorkspaceMaxAge() time.Duration {
	return time.Duration(c.Pipeline.StaleWorkspaceMaxAgeHours) * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

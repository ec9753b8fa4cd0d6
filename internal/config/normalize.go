package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSource()
	c.normalizeSeparator()
	c.normalizeTranscode()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkspaceRoot) == "" {
		c.Paths.WorkspaceRoot = defaultWorkspaceRoot
	}
	if c.Paths.WorkspaceRoot, err = expandPath(c.Paths.WorkspaceRoot); err != nil {
		return fmt.Errorf("paths.workspace_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("STEMD_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeSource() {
	formats := make([]string, 0, len(c.Source.AllowedFormats))
	seen := make(map[string]struct{}, len(c.Source.AllowedFormats))
	for _, format := range c.Source.AllowedFormats {
		normalized := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(format, ".")))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		formats = append(formats, normalized)
	}
	if len(formats) == 0 {
		formats = defaultAllowedFormats()
	}
	c.Source.AllowedFormats = formats
}

func (c *Config) normalizeSeparator() {
	c.Separator.Binary = strings.TrimSpace(c.Separator.Binary)
	if c.Separator.Binary == "" {
		c.Separator.Binary = defaultSeparatorBinary
	}
	c.Separator.Model = strings.ToLower(strings.TrimSpace(c.Separator.Model))
	if c.Separator.Model == "" {
		c.Separator.Model = defaultSeparatorModel
	}
	if c.Separator.MP3Bitrate <= 0 {
		c.Separator.MP3Bitrate = defaultMP3Bitrate
	}
	stems := make([]string, 0, len(c.Separator.Stems))
	seen := make(map[string]struct{}, len(c.Separator.Stems))
	for _, stem := range c.Separator.Stems {
		normalized := strings.ToLower(strings.TrimSpace(stem))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		stems = append(stems, normalized)
	}
	if len(stems) == 0 {
		stems = defaultStems()
	}
	c.Separator.Stems = stems
}

func (c *Config) normalizeTranscode() {
	c.Transcode.FFmpegBinary = strings.TrimSpace(c.Transcode.FFmpegBinary)
	if c.Transcode.FFmpegBinary == "" {
		c.Transcode.FFmpegBinary = defaultFFmpegBinary
	}
	c.Transcode.FFprobeBinary = strings.TrimSpace(c.Transcode.FFprobeBinary)
	if c.Transcode.FFprobeBinary == "" {
		c.Transcode.FFprobeBinary = defaultFFprobeBinary
	}
	c.Transcode.OutputFormat = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(c.Transcode.OutputFormat, ".")))
	if c.Transcode.OutputFormat == "" {
		c.Transcode.OutputFormat = defaultOutputFormat
	}
	c.Transcode.Bitrate = strings.TrimSpace(c.Transcode.Bitrate)
	if c.Transcode.Bitrate == "" {
		c.Transcode.Bitrate = defaultBitrate
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = defaultLogRetentionDays
	}
}

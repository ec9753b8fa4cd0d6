package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateSeparator(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WorkspaceRoot) == "" {
		return errors.New("paths.workspace_root must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	if c.Paths.WorkspaceRoot == c.Paths.OutputDir {
		return errors.New("paths.workspace_root and paths.output_dir must differ; workspaces are deleted on job completion")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.max_concurrent_separation_jobs": c.Pipeline.MaxConcurrentSeparationJobs,
		"pipeline.max_queue_length":               c.Pipeline.MaxQueueLength,
		"pipeline.download_slots":                 c.Pipeline.DownloadSlots,
		"pipeline.postprocess_slots":              c.Pipeline.PostprocessSlots,
		"pipeline.download_timeout":               c.Pipeline.DownloadTimeout,
		"pipeline.separation_timeout":             c.Pipeline.SeparationTimeout,
		"pipeline.postprocess_timeout":            c.Pipeline.PostprocessTimeout,
		"pipeline.termination_grace_period":       c.Pipeline.TerminationGracePeriod,
		"pipeline.drain_timeout":                  c.Pipeline.DrainTimeout,
		"pipeline.stale_workspace_max_age_hours":  c.Pipeline.StaleWorkspaceMaxAgeHours,
	}); err != nil {
		return err
	}
	if c.Pipeline.DownloadRetries < 0 {
		return errors.New("pipeline.download_retries must not be negative")
	}
	if c.Pipeline.DownloadRetryDelay < 0 {
		return errors.New("pipeline.download_retry_delay must not be negative")
	}
	if c.Pipeline.MaxQueueLength < c.Pipeline.MaxConcurrentSeparationJobs {
		return errors.New("pipeline.max_queue_length must be at least pipeline.max_concurrent_separation_jobs")
	}
	return nil
}

func (c *Config) validateSource() error {
	if c.Source.MaxDurationSeconds <= 0 {
		return errors.New("source.max_duration_seconds must be positive")
	}
	if c.Source.MaxSizeBytes <= 0 {
		return errors.New("source.max_size_bytes must be positive")
	}
	if len(c.Source.AllowedFormats) == 0 {
		return errors.New("source.allowed_formats must list at least one format")
	}
	return nil
}

func (c *Config) validateSeparator() error {
	if strings.TrimSpace(c.Separator.Binary) == "" {
		return errors.New("separator.binary must be set")
	}
	if len(c.Separator.Stems) < 2 {
		return errors.New("separator.stems must name at least two stems; separation that produces one output is not a split")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

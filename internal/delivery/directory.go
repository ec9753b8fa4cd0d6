package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"stemd/internal/config"
	"stemd/internal/fileutil"
	"stemd/internal/logging"
	"stemd/internal/services"
	"stemd/internal/textutil"
)

// DirectoryDeliverer publishes artifacts into <output_dir>/<job-slug>/.
// Artifacts are moved out of the workspace before it is released; a
// cross-filesystem move degrades to a verified copy.
type DirectoryDeliverer struct {
	outputDir string
	logger    *slog.Logger
}

// NewDirectoryDeliverer constructs the deliverer.
func NewDirectoryDeliverer(cfg *config.Config, logger *slog.Logger) *DirectoryDeliverer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DirectoryDeliverer{
		outputDir: cfg.Paths.OutputDir,
		logger:    logging.NewComponentLogger(logger, "delivery"),
	}
}

// Deliver moves each artifact into the job's output directory and rewrites
// artifact paths to their final location.
func (d *DirectoryDeliverer) Deliver(ctx context.Context, result Result) error {
	destDir, err := d.jobDir(result.Title, result.Token)
	if err != nil {
		return err
	}

	for i := range result.Artifacts {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCancelled, "delivery", "publish", "delivery interrupted", err)
		}
		artifact := &result.Artifacts[i]
		final := filepath.Join(destDir, filepath.Base(artifact.Path))
		if err := fileutil.MoveFile(artifact.Path, final); err != nil {
			return services.Wrap(services.ErrExternalTool, "delivery", "publish",
				fmt.Sprintf("move %s", artifact.Role), err)
		}
		artifact.Path = final
	}

	d.logger.Info("job delivered",
		logging.Int64(logging.FieldJobID, result.JobID),
		logging.String("title", result.Title),
		logging.Int("artifacts", len(result.Artifacts)),
		logging.Duration("elapsed", result.Elapsed),
		logging.String("dest", destDir),
		logging.String(logging.FieldEventType, "delivery_finished"),
	)
	return nil
}

// DeliverError records the terminal failure. The directory deliverer has no
// user to notify, so the record is the structured log entry.
func (d *DirectoryDeliverer) DeliverError(_ context.Context, failure Failure) error {
	d.logger.Error("job failed",
		logging.Int64(logging.FieldJobID, failure.JobID),
		logging.String("title", failure.Title),
		logging.String("error_kind", failure.Kind),
		logging.String("error_message", failure.Message),
		logging.String(logging.FieldEventType, "delivery_failed"),
	)
	return nil
}

// jobDir picks a fresh directory for the job, falling back to a token suffix
// when two jobs share a title slug.
func (d *DirectoryDeliverer) jobDir(title, token string) (string, error) {
	slug := textutil.Slug(title)
	dest := filepath.Join(d.outputDir, slug)
	if _, err := os.Stat(dest); err == nil {
		suffix := token
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
		dest = filepath.Join(d.outputDir, slug+"-"+suffix)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "delivery", "prepare output dir", "", err)
	}
	return dest, nil
}

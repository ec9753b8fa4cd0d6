// Package postprocess turns separated stems into deliverable artifacts:
// per-stem transcodes, the optional quiet-vocals practice mix, and an
// optional re-encode of the original source.
package postprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"stemd/internal/config"
	"stemd/internal/fileutil"
	"stemd/internal/logging"
	"stemd/internal/queue"
	"stemd/internal/services"
	"stemd/internal/services/ffmpeg"
	"stemd/internal/textutil"
)

// Input carries everything the stage needs from the preceding stages.
type Input struct {
	Title      string
	SourcePath string
	StemPaths  map[string]string
	Workspace  string
}

// Postprocessor transcodes separated stems into deliverable artifacts with
// deterministic names derived from the job title.
type Postprocessor struct {
	transcoder     ffmpeg.Transcoder
	format         string
	quietMix       bool
	sourceReencode bool
	timeout        time.Duration
	logger         *slog.Logger
}

// New constructs the stage handler.
func New(cfg *config.Config, transcoder ffmpeg.Transcoder, logger *slog.Logger) *Postprocessor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Postprocessor{
		transcoder:     transcoder,
		format:         cfg.Transcode.OutputFormat,
		quietMix:       cfg.Transcode.QuietVocalsMix,
		sourceReencode: cfg.Transcode.SourceReencode,
		timeout:        cfg.PostprocessTimeout(),
		logger:         logging.NewComponentLogger(logger, "postprocess"),
	}
}

// Run produces the artifact set for a job. Artifacts land under
// <workspace>/deliver and are validated for non-zero size and a recognizable
// container header before they count.
func (p *Postprocessor) Run(ctx context.Context, in Input) ([]queue.Artifact, error) {
	if len(in.StemPaths) == 0 {
		return nil, services.Wrap(services.ErrValidation, "postprocess", "run", "no stems to process", nil)
	}

	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	outDir := filepath.Join(in.Workspace, "deliver")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "postprocess", "prepare output", "", err)
	}

	slug := textutil.Slug(in.Title)
	log := logging.WithContext(ctx, p.logger)

	roles := make([]string, 0, len(in.StemPaths))
	for role := range in.StemPaths {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	var artifacts []queue.Artifact
	for _, role := range roles {
		artifact, err := p.produce(runCtx, ctx, slug, role, outDir, func(target string) error {
			return p.transcoder.Transcode(runCtx, in.StemPaths[role], target)
		})
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}

	if p.quietMix {
		vocals, hasVocals := in.StemPaths["vocals"]
		instrumental, hasInstrumental := in.StemPaths["no_vocals"]
		if hasVocals && hasInstrumental {
			artifact, err := p.produce(runCtx, ctx, slug, "quiet_vocals", outDir, func(target string) error {
				return p.transcoder.MixQuietVocals(runCtx, vocals, instrumental, target)
			})
			if err != nil {
				return nil, err
			}
			artifacts = append(artifacts, artifact)
		} else {
			log.Warn("quiet vocals mix enabled but stems are missing",
				logging.String(logging.FieldEventType, "postprocess_mix_skipped"),
			)
		}
	}

	if p.sourceReencode && in.SourcePath != "" {
		artifact, err := p.produce(runCtx, ctx, slug, "source", outDir, func(target string) error {
			return p.transcoder.Transcode(runCtx, in.SourcePath, target)
		})
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}

	log.Info("postprocess finished",
		logging.Int("artifacts", len(artifacts)),
		logging.String(logging.FieldEventType, "postprocess_finished"),
	)
	return artifacts, nil
}

func (p *Postprocessor) produce(runCtx, parent context.Context, slug, role, outDir string, render func(target string) error) (queue.Artifact, error) {
	target := filepath.Join(outDir, fmt.Sprintf("%s.%s.%s", slug, role, p.format))
	if err := render(target); err != nil {
		return queue.Artifact{}, p.classify(parent, err)
	}
	size, err := validateArtifact(target)
	if err != nil {
		return queue.Artifact{}, err
	}
	return queue.Artifact{
		Role:      role,
		Path:      target,
		Format:    p.format,
		SizeBytes: size,
	}, nil
}

func (p *Postprocessor) classify(parent context.Context, err error) error {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return services.WithKind("cancelled",
			services.Wrap(services.ErrCancelled, "postprocess", "render", "postprocess cancelled", err))
	case errors.Is(err, context.DeadlineExceeded):
		return services.WithKind("timeout",
			services.Wrap(services.ErrTimeout, "postprocess", "render",
				fmt.Sprintf("stage exceeded %s timeout", p.timeout), err))
	default:
		return err
	}
}

// Container headers accepted for delivered audio.
var knownHeaders = [][]byte{
	[]byte("ID3"),
	[]byte("RIFF"),
	[]byte("fLaC"),
	[]byte("OggS"),
}

func validateArtifact(path string) (int64, error) {
	size, err := fileutil.FileSize(path)
	if err != nil || size == 0 {
		return 0, services.WithKind("postprocess_empty_output",
			services.Wrap(services.ErrExternalTool, "postprocess", "validate artifact",
				fmt.Sprintf("artifact %s is missing or empty", filepath.Base(path)), err))
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "postprocess", "validate artifact", "", err)
	}
	defer f.Close()

	header := make([]byte, 4)
	n, _ := f.Read(header)
	header = header[:n]

	if !recognizedHeader(header) {
		return 0, services.WithKind("postprocess_invalid_format",
			services.Wrap(services.ErrExternalTool, "postprocess", "validate artifact",
				fmt.Sprintf("artifact %s does not start with a known container header", filepath.Base(path)), nil))
	}
	return size, nil
}

func recognizedHeader(header []byte) bool {
	for _, known := range knownHeaders {
		if bytes.HasPrefix(header, known) {
			return true
		}
	}
	// Raw MPEG audio frame sync: 11 set bits.
	return len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0
}

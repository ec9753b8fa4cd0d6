// Package separation runs the separation stage: it hands the job's source
// file to the engine and verifies every configured stem came back.
package separation

import (
	"context"
	"log/slog"
	"path/filepath"

	"stemd/internal/config"
	"stemd/internal/logging"
	"stemd/internal/services"
	"stemd/internal/services/demucs"
)

// Handler owns the separation stage for one daemon.
type Handler struct {
	engine demucs.Separator
	stems  []string
	logger *slog.Logger
}

// NewHandler constructs the stage handler.
func NewHandler(cfg *config.Config, engine demucs.Separator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		engine: engine,
		stems:  append([]string(nil), cfg.Separator.Stems...),
		logger: logging.NewComponentLogger(logger, "separation"),
	}
}

// Stems returns the configured stem set.
func (h *Handler) Stems() []string {
	return append([]string(nil), h.stems...)
}

// Run separates sourcePath into the configured stems under the job workspace.
// The returned result carries one path per stem plus the engine log tail.
func (h *Handler) Run(ctx context.Context, sourcePath, workspace string) (*demucs.Result, error) {
	outDir := filepath.Join(workspace, "stems")
	log := logging.WithContext(ctx, h.logger)

	log.Info("separation started",
		logging.String("source", sourcePath),
		logging.String(logging.FieldEventType, "separation_started"),
	)

	result, err := h.engine.Separate(ctx, sourcePath, outDir, h.stems)
	if err != nil {
		log.Error("separation failed",
			logging.Error(err),
			logging.String("error_kind", services.Kind(err)),
			logging.String(logging.FieldEventType, "separation_failed"),
		)
		return result, err
	}

	log.Info("separation finished",
		logging.Int("stems", len(result.StemPaths)),
		logging.Duration("elapsed", result.Elapsed),
		logging.String(logging.FieldEventType, "separation_finished"),
	)
	return result, nil
}

package main

import (
	"fmt"
	"log/slog"

	"stemd/internal/config"
	"stemd/internal/daemon"
	"stemd/internal/delivery"
	"stemd/internal/downloader"
	"stemd/internal/postprocess"
	"stemd/internal/queue"
	"stemd/internal/scheduler"
	"stemd/internal/separation"
	"stemd/internal/services/demucs"
	"stemd/internal/services/ffmpeg"
	"stemd/internal/workspace"
)

func buildDaemon(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	transcoder, err := ffmpeg.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create transcoder: %w", err)
	}
	engine, err := demucs.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create separation engine: %w", err)
	}

	workspaces := workspace.NewManager(cfg.Paths.WorkspaceRoot, logger)
	sched := scheduler.New(
		cfg,
		store,
		workspaces,
		downloader.New(cfg, transcoder, logger),
		separation.NewHandler(cfg, engine, logger),
		postprocess.New(cfg, transcoder, logger),
		delivery.NewDirectoryDeliverer(cfg, logger),
		logger,
	)

	return daemon.New(cfg, store, sched, workspaces, logger)
}

package main

import (
	"testing"

	"stemd/internal/config"
	"stemd/internal/logging"
	"stemd/internal/queue"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.WorkspaceRoot = t.TempDir()
	cfg.Paths.OutputDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	return &cfg
}

func TestBuildDaemonWiresPipeline(t *testing.T) {
	cfg := newTestConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	d, err := buildDaemon(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("buildDaemon: %v", err)
	}
	defer d.Close()
	if d.APIAddr() != "" {
		t.Fatalf("expected no API address before Start, got %q", d.APIAddr())
	}
}

func TestBuildDaemonRejectsMissingEngineBinary(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Separator.Binary = "  "
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if _, err := buildDaemon(cfg, store, logging.NewNop()); err == nil {
		t.Fatal("expected error for blank separation binary")
	}
}

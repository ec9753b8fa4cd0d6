package separation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"stemd/internal/config"
	"stemd/internal/services/demucs"
)

type fakeEngine struct {
	result    *demucs.Result
	err       error
	gotOutDir string
	gotStems  []string
}

func (f *fakeEngine) Separate(_ context.Context, _, outDir string, stems []string) (*demucs.Result, error) {
	f.gotOutDir = outDir
	f.gotStems = stems
	return f.result, f.err
}

func TestRunUsesWorkspaceStemsDir(t *testing.T) {
	engine := &fakeEngine{
		result: &demucs.Result{StemPaths: map[string]string{
			"vocals":    "/ws/stems/vocals.mp3",
			"no_vocals": "/ws/stems/no_vocals.mp3",
		}},
	}
	cfg := config.Default()
	handler := NewHandler(&cfg, engine, nil)

	result, err := handler.Run(context.Background(), "/ws/source.mp3", "/ws")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.StemPaths) != 2 {
		t.Fatalf("expected 2 stems, got %d", len(result.StemPaths))
	}
	if engine.gotOutDir != filepath.Join("/ws", "stems") {
		t.Fatalf("expected stems dir under workspace, got %s", engine.gotOutDir)
	}
	if len(engine.gotStems) != 2 {
		t.Fatalf("expected configured stems forwarded, got %v", engine.gotStems)
	}
}

func TestRunPropagatesEngineFailure(t *testing.T) {
	wantErr := errors.New("engine exploded")
	engine := &fakeEngine{err: wantErr, result: &demucs.Result{LogTail: "boom"}}
	cfg := config.Default()
	handler := NewHandler(&cfg, engine, nil)

	result, err := handler.Run(context.Background(), "/ws/source.mp3", "/ws")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if result == nil || result.LogTail != "boom" {
		t.Fatal("expected log tail preserved on failure")
	}
}

package postprocess

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stemd/internal/config"
	"stemd/internal/services"
	"stemd/internal/services/ffmpeg"
)

type fakeTranscoder struct {
	content     []byte
	transcodeFn func(ctx context.Context, input, output string) error
	mixCalls    int
}

func (f *fakeTranscoder) Transcode(ctx context.Context, input, output string) error {
	if f.transcodeFn != nil {
		return f.transcodeFn(ctx, input, output)
	}
	return os.WriteFile(output, f.content, 0o644)
}

func (f *fakeTranscoder) MixQuietVocals(ctx context.Context, vocals, instrumental, output string) error {
	f.mixCalls++
	return os.WriteFile(output, f.content, 0o644)
}

func (f *fakeTranscoder) Probe(context.Context, string) (ffmpeg.ProbeInfo, error) {
	return ffmpeg.ProbeInfo{}, nil
}

func mp3Bytes() []byte {
	return append([]byte("ID3"), make([]byte, 64)...)
}

func defaultInput(workspace string) Input {
	return Input{
		Title:      "Test Song",
		SourcePath: filepath.Join(workspace, "source.mp3"),
		StemPaths: map[string]string{
			"vocals":    filepath.Join(workspace, "stems", "vocals.mp3"),
			"no_vocals": filepath.Join(workspace, "stems", "no_vocals.mp3"),
		},
		Workspace: workspace,
	}
}

func TestRunProducesDeterministicNames(t *testing.T) {
	workspace := t.TempDir()
	transcoder := &fakeTranscoder{content: mp3Bytes()}
	cfg := config.Default()
	cfg.Transcode.QuietVocalsMix = false
	cfg.Transcode.SourceReencode = false
	p := New(&cfg, transcoder, nil)

	artifacts, err := p.Run(context.Background(), defaultInput(workspace))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(artifacts))
	}

	// Sorted by role.
	if artifacts[0].Role != "no_vocals" || artifacts[1].Role != "vocals" {
		t.Fatalf("unexpected roles: %s, %s", artifacts[0].Role, artifacts[1].Role)
	}
	wantName := "test_song.vocals.mp3"
	if filepath.Base(artifacts[1].Path) != wantName {
		t.Fatalf("expected %s, got %s", wantName, filepath.Base(artifacts[1].Path))
	}
	for _, artifact := range artifacts {
		if artifact.SizeBytes == 0 {
			t.Fatalf("artifact %s has zero size", artifact.Role)
		}
		if artifact.Format != "mp3" {
			t.Fatalf("unexpected format %s", artifact.Format)
		}
	}
}

func TestRunProducesQuietMixAndSourceReencode(t *testing.T) {
	workspace := t.TempDir()
	transcoder := &fakeTranscoder{content: mp3Bytes()}
	cfg := config.Default()
	cfg.Transcode.QuietVocalsMix = true
	cfg.Transcode.SourceReencode = true
	p := New(&cfg, transcoder, nil)

	artifacts, err := p.Run(context.Background(), defaultInput(workspace))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(artifacts) != 4 {
		t.Fatalf("expected 4 artifacts, got %d", len(artifacts))
	}
	if transcoder.mixCalls != 1 {
		t.Fatalf("expected one mix render, got %d", transcoder.mixCalls)
	}

	roles := make(map[string]bool)
	for _, artifact := range artifacts {
		roles[artifact.Role] = true
	}
	for _, want := range []string{"vocals", "no_vocals", "quiet_vocals", "source"} {
		if !roles[want] {
			t.Fatalf("missing artifact role %s", want)
		}
	}
}

func TestRunRejectsUnknownHeader(t *testing.T) {
	workspace := t.TempDir()
	transcoder := &fakeTranscoder{content: []byte("garbage output that is not audio")}
	cfg := config.Default()
	cfg.Transcode.QuietVocalsMix = false
	cfg.Transcode.SourceReencode = false
	p := New(&cfg, transcoder, nil)

	_, err := p.Run(context.Background(), defaultInput(workspace))
	if err == nil {
		t.Fatal("expected error for unrecognizable artifact")
	}
	if kind := services.Kind(err); kind != "postprocess_invalid_format" {
		t.Fatalf("expected postprocess_invalid_format, got %s", kind)
	}
}

func TestRunRejectsEmptyArtifact(t *testing.T) {
	workspace := t.TempDir()
	transcoder := &fakeTranscoder{content: nil}
	cfg := config.Default()
	cfg.Transcode.QuietVocalsMix = false
	cfg.Transcode.SourceReencode = false
	p := New(&cfg, transcoder, nil)

	_, err := p.Run(context.Background(), defaultInput(workspace))
	if err == nil {
		t.Fatal("expected error for empty artifact")
	}
	if kind := services.Kind(err); kind != "postprocess_empty_output" {
		t.Fatalf("expected postprocess_empty_output, got %s", kind)
	}
}

func TestRunAcceptsRawMPEGSync(t *testing.T) {
	workspace := t.TempDir()
	transcoder := &fakeTranscoder{content: append([]byte{0xFF, 0xFB, 0x90}, make([]byte, 32)...)}
	cfg := config.Default()
	cfg.Transcode.QuietVocalsMix = false
	cfg.Transcode.SourceReencode = false
	p := New(&cfg, transcoder, nil)

	if _, err := p.Run(context.Background(), defaultInput(workspace)); err != nil {
		t.Fatalf("expected raw mpeg frame to be accepted: %v", err)
	}
}

func TestRunPropagatesTranscodeFailure(t *testing.T) {
	workspace := t.TempDir()
	toolErr := services.WithKind("postprocess_transcode_failed",
		services.Wrap(services.ErrExternalTool, "postprocess", "transcode", "boom", errors.New("exit status 1")))
	transcoder := &fakeTranscoder{
		transcodeFn: func(context.Context, string, string) error { return toolErr },
	}
	cfg := config.Default()
	cfg.Transcode.QuietVocalsMix = false
	cfg.Transcode.SourceReencode = false
	p := New(&cfg, transcoder, nil)

	_, err := p.Run(context.Background(), defaultInput(workspace))
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := services.Kind(err); kind != "postprocess_transcode_failed" {
		t.Fatalf("expected postprocess_transcode_failed, got %s", kind)
	}
}

func TestRunCancelled(t *testing.T) {
	workspace := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	transcoder := &fakeTranscoder{
		transcodeFn: func(runCtx context.Context, _, _ string) error {
			cancel()
			<-runCtx.Done()
			return runCtx.Err()
		},
	}
	cfg := config.Default()
	p := New(&cfg, transcoder, nil)

	_, err := p.Run(ctx, defaultInput(workspace))
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := services.Kind(err); kind != "cancelled" {
		t.Fatalf("expected cancelled, got %s", kind)
	}
}

func TestSlugHandlesAwkwardTitles(t *testing.T) {
	workspace := t.TempDir()
	transcoder := &fakeTranscoder{content: mp3Bytes()}
	cfg := config.Default()
	cfg.Transcode.QuietVocalsMix = false
	cfg.Transcode.SourceReencode = false
	p := New(&cfg, transcoder, nil)

	in := defaultInput(workspace)
	in.Title = "Beyoncé / Halo?"
	artifacts, err := p.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, artifact := range artifacts {
		base := filepath.Base(artifact.Path)
		if strings.ContainsAny(base, "/?é ") {
			t.Fatalf("artifact name not sanitized: %s", base)
		}
	}
}

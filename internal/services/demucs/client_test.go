package demucs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stemd/internal/config"
	"stemd/internal/services"
)

type fakeExecutor struct {
	run      func(ctx context.Context, spec services.CommandSpec) error
	lastSpec services.CommandSpec
}

func (f *fakeExecutor) Run(ctx context.Context, spec services.CommandSpec) error {
	f.lastSpec = spec
	if f.run != nil {
		return f.run(ctx, spec)
	}
	return nil
}

func newTestClient(t *testing.T, exec services.Executor) *Client {
	t.Helper()
	cfg := config.Default()
	client, err := New(&cfg, WithExecutor(exec))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func writeStems(t *testing.T, outDir string, stems ...string) {
	t.Helper()
	modelDir := filepath.Join(outDir, "htdemucs", "track")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatalf("mkdir model dir: %v", err)
	}
	for _, stem := range stems {
		if err := os.WriteFile(filepath.Join(modelDir, stem+".mp3"), []byte(stem), 0o644); err != nil {
			t.Fatalf("write stem: %v", err)
		}
	}
}

func TestSeparateCollectsStems(t *testing.T) {
	outDir := t.TempDir()
	exec := &fakeExecutor{
		run: func(_ context.Context, spec services.CommandSpec) error {
			writeStems(t, outDir, "vocals", "no_vocals")
			return nil
		},
	}
	client := newTestClient(t, exec)

	result, err := client.Separate(context.Background(), "/tmp/source.mp3", outDir, []string{"vocals", "no_vocals"})
	if err != nil {
		t.Fatalf("separate: %v", err)
	}
	if len(result.StemPaths) != 2 {
		t.Fatalf("expected 2 stems, got %d", len(result.StemPaths))
	}
	for _, stem := range []string{"vocals", "no_vocals"} {
		path, ok := result.StemPaths[stem]
		if !ok {
			t.Fatalf("missing stem %s", stem)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("stem path does not exist: %v", err)
		}
	}
}

func TestSeparateArgs(t *testing.T) {
	outDir := t.TempDir()
	exec := &fakeExecutor{
		run: func(_ context.Context, _ services.CommandSpec) error {
			writeStems(t, outDir, "vocals", "no_vocals")
			return nil
		},
	}
	client := newTestClient(t, exec)

	if _, err := client.Separate(context.Background(), "/tmp/in.mp3", outDir, []string{"vocals", "no_vocals"}); err != nil {
		t.Fatalf("separate: %v", err)
	}

	joined := strings.Join(exec.lastSpec.Args, " ")
	for _, want := range []string{"-n htdemucs", "--two-stems vocals", "--mp3", "--mp3-bitrate 256", "--filename {stem}.{ext}", "/tmp/in.mp3"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected args to contain %q, got %q", want, joined)
		}
	}
}

func TestSeparateMissingStemFails(t *testing.T) {
	outDir := t.TempDir()
	exec := &fakeExecutor{
		run: func(_ context.Context, _ services.CommandSpec) error {
			writeStems(t, outDir, "vocals")
			return nil
		},
	}
	client := newTestClient(t, exec)

	_, err := client.Separate(context.Background(), "/tmp/in.mp3", outDir, []string{"vocals", "no_vocals"})
	if err == nil {
		t.Fatal("expected error for missing stem")
	}
	if kind := services.Kind(err); kind != "separation_no_output" {
		t.Fatalf("expected separation_no_output, got %s", kind)
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatal("expected external tool marker")
	}
}

func TestSeparateTimeoutClassification(t *testing.T) {
	exec := &fakeExecutor{
		run: func(_ context.Context, _ services.CommandSpec) error {
			return context.DeadlineExceeded
		},
	}
	client := newTestClient(t, exec)

	_, err := client.Separate(context.Background(), "/tmp/in.mp3", t.TempDir(), []string{"vocals"})
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := services.Kind(err); kind != "separation_timeout" {
		t.Fatalf("expected separation_timeout, got %s", kind)
	}
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatal("expected timeout marker")
	}
}

func TestSeparateCancelledClassification(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &fakeExecutor{
		run: func(runCtx context.Context, _ services.CommandSpec) error {
			cancel()
			<-runCtx.Done()
			return runCtx.Err()
		},
	}
	client := newTestClient(t, exec)

	_, err := client.Separate(ctx, "/tmp/in.mp3", t.TempDir(), []string{"vocals"})
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := services.Kind(err); kind != "cancelled" {
		t.Fatalf("expected cancelled, got %s", kind)
	}
}

func TestSeparateOOMClassification(t *testing.T) {
	exec := &fakeExecutor{
		run: func(_ context.Context, spec services.CommandSpec) error {
			spec.OnOutput("torch.cuda.OutOfMemoryError: CUDA out of memory")
			return errors.New("exit status 1")
		},
	}
	client := newTestClient(t, exec)

	result, err := client.Separate(context.Background(), "/tmp/in.mp3", t.TempDir(), []string{"vocals"})
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := services.Kind(err); kind != "separation_oom" {
		t.Fatalf("expected separation_oom, got %s", kind)
	}
	if !strings.Contains(result.LogTail, "out of memory") {
		t.Fatalf("expected log tail to capture engine output, got %q", result.LogTail)
	}
}

func TestSeparateCrashKeepsLogTail(t *testing.T) {
	exec := &fakeExecutor{
		run: func(_ context.Context, spec services.CommandSpec) error {
			spec.OnOutput("Traceback (most recent call last):")
			spec.OnOutput("RuntimeError: model weights not found")
			return errors.New("exit status 1")
		},
	}
	client := newTestClient(t, exec)

	result, err := client.Separate(context.Background(), "/tmp/in.mp3", t.TempDir(), []string{"vocals"})
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := services.Kind(err); kind != "separation_engine_crash" {
		t.Fatalf("expected separation_engine_crash, got %s", kind)
	}
	if !strings.Contains(result.LogTail, "RuntimeError") {
		t.Fatalf("expected log tail to retain crash output, got %q", result.LogTail)
	}
}

func TestNewRequiresBinary(t *testing.T) {
	cfg := config.Default()
	cfg.Separator.Binary = "  "
	if _, err := New(&cfg); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

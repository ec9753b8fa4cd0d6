package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireCreatesUniqueDirectory(t *testing.T) {
	root := t.TempDir()
	manager := NewManager(root, nil)

	dir, err := manager.Acquire(7, "aaaabbbb-cccc-dddd-eeee-ffff00001111")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(dir), "job-7-") {
		t.Fatalf("unexpected directory name: %s", dir)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat workspace: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected workspace to be a directory")
	}
}

func TestReleaseRemovesDirectoryIdempotently(t *testing.T) {
	root := t.TempDir()
	manager := NewManager(root, nil)

	dir, err := manager.Acquire(1, "token-one")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "source.mp3"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	manager.Release(1)
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expected workspace to be removed")
	}

	// Second release is a no-op.
	manager.Release(1)
	manager.Release(99)
}

func TestActiveTracksHeldWorkspaces(t *testing.T) {
	root := t.TempDir()
	manager := NewManager(root, nil)

	first, err := manager.Acquire(1, "t1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := manager.Acquire(2, "t2"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if got := manager.Active(); len(got) != 2 {
		t.Fatalf("expected 2 active workspaces, got %d", len(got))
	}

	manager.Release(1)
	got := manager.Active()
	if len(got) != 1 {
		t.Fatalf("expected 1 active workspace, got %d", len(got))
	}
	if got[0] == first {
		t.Fatal("released workspace still reported active")
	}
}

func TestSweepStaleSkipsHeldAndFreshDirectories(t *testing.T) {
	root := t.TempDir()
	manager := NewManager(root, nil)

	held, err := manager.Acquire(1, "held")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	stale := filepath.Join(root, "job-42-deadbeef")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatalf("mkdir stale: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(held, old, old); err != nil {
		t.Fatalf("chtimes held: %v", err)
	}

	fresh := filepath.Join(root, "job-43-cafebabe")
	if err := os.MkdirAll(fresh, 0o755); err != nil {
		t.Fatalf("mkdir fresh: %v", err)
	}

	unrelated := filepath.Join(root, "keepme")
	if err := os.MkdirAll(unrelated, 0o755); err != nil {
		t.Fatalf("mkdir unrelated: %v", err)
	}
	if err := os.Chtimes(unrelated, old, old); err != nil {
		t.Fatalf("chtimes unrelated: %v", err)
	}

	result := manager.SweepStale(context.Background(), 24*time.Hour)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected sweep errors: %+v", result.Errors)
	}
	if len(result.Removed) != 1 || result.Removed[0] != stale {
		t.Fatalf("expected only %s removed, got %v", stale, result.Removed)
	}

	for _, path := range []string{held, fresh, unrelated} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to survive sweep: %v", path, err)
		}
	}
}

func TestReleasePathRefusesOutsideRoot(t *testing.T) {
	root := t.TempDir()
	manager := NewManager(root, nil)

	outside := t.TempDir()
	victim := filepath.Join(outside, "precious")
	if err := os.MkdirAll(victim, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	manager.ReleasePath(victim)
	if _, err := os.Stat(victim); err != nil {
		t.Fatal("expected path outside root to be left alone")
	}

	manager.ReleasePath(root)
	if _, err := os.Stat(root); err != nil {
		t.Fatal("expected root itself to be left alone")
	}

	inside := filepath.Join(root, "job-5-abc")
	if err := os.MkdirAll(inside, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manager.ReleasePath(inside)
	if _, err := os.Stat(inside); !os.IsNotExist(err) {
		t.Fatal("expected path inside root to be removed")
	}
}

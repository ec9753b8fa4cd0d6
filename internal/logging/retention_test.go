package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeAgedFile(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("log line\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCleanupOldLogsRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	old := writeAgedFile(t, dir, "stemd-2026-01.log", 40*24*time.Hour)
	fresh := writeAgedFile(t, dir, "stemd-2026-08.log", 24*time.Hour)

	removed := CleanupOldLogs(NewNop(), dir, "*.log", 30)
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expected expired log to be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh log should survive: %v", err)
	}
}

func TestCleanupOldLogsHonoursExclusions(t *testing.T) {
	dir := t.TempDir()
	active := writeAgedFile(t, dir, "stemd.log", 60*24*time.Hour)

	removed := CleanupOldLogs(NewNop(), dir, "*.log", 30, active)
	if removed != 0 {
		t.Fatalf("expected no removals, got %d", removed)
	}
	if _, err := os.Stat(active); err != nil {
		t.Fatalf("excluded log should survive: %v", err)
	}
}

func TestCleanupOldLogsSkipsNonMatchingAndDisabled(t *testing.T) {
	dir := t.TempDir()
	db := writeAgedFile(t, dir, "queue.db", 90*24*time.Hour)
	old := writeAgedFile(t, dir, "stemd-2025-12.log", 90*24*time.Hour)

	if removed := CleanupOldLogs(NewNop(), dir, "*.log", 0); removed != 0 {
		t.Fatalf("retention 0 must disable pruning, removed %d", removed)
	}

	if removed := CleanupOldLogs(NewNop(), dir, "*.log", 30); removed != 1 {
		t.Fatalf("expected only the log file pruned, removed %d", removed)
	}
	if _, err := os.Stat(db); err != nil {
		t.Fatalf("non-matching file should survive: %v", err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expected expired log to be removed")
	}
}

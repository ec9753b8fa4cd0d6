package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCommandExecutorStreamsOutput(t *testing.T) {
	var mu sync.Mutex
	var lines []string

	err := CommandExecutor{}.Run(context.Background(), CommandSpec{
		Binary: "/bin/sh",
		Args:   []string{"-c", "echo out line; echo err line 1>&2"},
		OnOutput: func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	joined := strings.Join(lines, "\n")
	mu.Unlock()
	if !strings.Contains(joined, "out line") || !strings.Contains(joined, "err line") {
		t.Fatalf("expected both streams captured, got %q", joined)
	}
}

func TestCommandExecutorReportsExitError(t *testing.T) {
	err := CommandExecutor{}.Run(context.Background(), CommandSpec{
		Binary: "/bin/sh",
		Args:   []string{"-c", "exit 3"},
	})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
}

func TestCommandExecutorKillsProcessGroupOnTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var mu sync.Mutex
	var lines []string

	grace := 2 * time.Second
	started := time.Now()
	// The shell forks a child so the run leaves a process group of two, then
	// sleeps well past the context deadline.
	err := CommandExecutor{}.Run(ctx, CommandSpec{
		Binary:      "/bin/sh",
		Args:        []string{"-c", "echo $$; sleep 30 & echo $!; wait"},
		GracePeriod: grace,
		OnOutput: func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	})
	elapsed := time.Since(started)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed > grace+2*time.Second {
		t.Fatalf("run took %s, termination must finish within the grace period", elapsed)
	}

	mu.Lock()
	captured := append([]string(nil), lines...)
	mu.Unlock()
	if len(captured) < 2 {
		t.Fatalf("expected leader and child pids on stdout, got %q", captured)
	}
	for _, raw := range captured[:2] {
		pid, convErr := strconv.Atoi(strings.TrimSpace(raw))
		if convErr != nil {
			t.Fatalf("unexpected pid line %q: %v", raw, convErr)
		}
		waitForProcessGone(t, pid, grace)
	}
}

// waitForProcessGone polls until the pid no longer refers to a running
// process. A zombie counts as gone; it holds the pid but executes nothing.
func waitForProcessGone(t *testing.T, pid int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if processGone(pid) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("process %d still running after %s", pid, timeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func processGone(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return true
	}
	// State is the first field after the parenthesized command name.
	idx := strings.LastIndexByte(string(data), ')')
	if idx < 0 || idx+2 >= len(data) {
		return true
	}
	state := data[idx+2]
	return state == 'Z' || state == 'X'
}

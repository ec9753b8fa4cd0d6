package services

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// CommandSpec describes a single external tool invocation.
type CommandSpec struct {
	Binary string
	Args   []string
	Dir    string
	// OnOutput receives each stdout/stderr line as it arrives.
	OnOutput func(line string)
	// GracePeriod is how long the process gets between SIGTERM and SIGKILL
	// when the context is cancelled. Zero means kill immediately.
	GracePeriod time.Duration
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, spec CommandSpec) error
}

// CommandExecutor runs external tools in their own process group so that
// cancellation reaches the tool's children as well. On context cancellation
// the group receives SIGTERM, then SIGKILL after the grace period.
type CommandExecutor struct{}

func (CommandExecutor) Run(ctx context.Context, spec CommandSpec) error {
	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...) //nolint:gosec
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = spec.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = time.Nanosecond
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}
	pgid := cmd.Process.Pid

	var wg sync.WaitGroup
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if spec.OnOutput != nil {
				spec.OnOutput(scanner.Text())
			}
		}
	}
	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	waitErr := cmd.Wait()
	// Reap any children that survived the tool's own exit.
	_ = syscall.Kill(-pgid, syscall.SIGKILL)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if waitErr != nil {
		return fmt.Errorf("wait command: %w", waitErr)
	}
	return nil
}

package demucs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"stemd/internal/config"
	"stemd/internal/services"
)

// Separator defines the behaviour required by the separation handler.
type Separator interface {
	Separate(ctx context.Context, sourcePath, outDir string, stems []string) (*Result, error)
}

// Result captures the outcome of a separation run.
type Result struct {
	// StemPaths maps stem name to the produced file path.
	StemPaths map[string]string
	// LogTail holds the last lines of engine output.
	LogTail string
	Elapsed time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec services.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps the demucs CLI.
type Client struct {
	binary   string
	model    string
	twoStems bool
	bitrate  int
	timeout  time.Duration
	grace    time.Duration
	exec     services.Executor
}

// New constructs a demucs client from configuration.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	binary := strings.TrimSpace(cfg.Separator.Binary)
	if binary == "" {
		return nil, services.Wrap(services.ErrConfiguration, "separation", "new client", "separator binary required", nil)
	}
	client := &Client{
		binary:   binary,
		model:    strings.TrimSpace(cfg.Separator.Model),
		twoStems: cfg.Separator.TwoStems,
		bitrate:  cfg.Separator.MP3Bitrate,
		timeout:  cfg.SeparationTimeout(),
		grace:    cfg.TerminationGracePeriod(),
		exec:     services.CommandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Separate runs the engine against sourcePath, writing stems under outDir.
// Every requested stem must be produced or the run fails.
func (c *Client) Separate(ctx context.Context, sourcePath, outDir string, stems []string) (*Result, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return nil, services.Wrap(services.ErrValidation, "separation", "separate", "source path required", nil)
	}
	if len(stems) == 0 {
		return nil, services.Wrap(services.ErrValidation, "separation", "separate", "at least one stem required", nil)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "separation", "prepare output", "", err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	tail := services.NewLogTail(40)
	started := time.Now()

	err := c.exec.Run(runCtx, services.CommandSpec{
		Binary:      c.binary,
		Args:        c.buildArgs(sourcePath, outDir),
		OnOutput:    tail.Append,
		GracePeriod: c.grace,
	})
	elapsed := time.Since(started)

	if err != nil {
		return &Result{LogTail: tail.String(), Elapsed: elapsed}, c.classify(ctx, err, tail)
	}

	paths, err := collectStemPaths(outDir, stems)
	if err != nil {
		return &Result{LogTail: tail.String(), Elapsed: elapsed}, err
	}

	return &Result{StemPaths: paths, LogTail: tail.String(), Elapsed: elapsed}, nil
}

func (c *Client) buildArgs(sourcePath, outDir string) []string {
	args := []string{}
	if c.model != "" {
		args = append(args, "-n", c.model)
	}
	if c.twoStems {
		args = append(args, "--two-stems", "vocals")
	}
	args = append(args, "--mp3")
	if c.bitrate > 0 {
		args = append(args, "--mp3-bitrate", strconv.Itoa(c.bitrate))
	}
	args = append(args, "-o", outDir, "--filename", "{stem}.{ext}", sourcePath)
	return args
}

// classify turns a raw run failure into a typed separation error. The parent
// context distinguishes cooperative cancellation from a stage timeout.
func (c *Client) classify(parent context.Context, err error, tail *services.LogTail) error {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return services.WithKind("cancelled",
			services.Wrap(services.ErrCancelled, "separation", "engine", "separation cancelled", err))
	case errors.Is(err, context.DeadlineExceeded):
		return services.WithKind("separation_timeout",
			services.Wrap(services.ErrTimeout, "separation", "engine",
				fmt.Sprintf("engine exceeded %s stage timeout", c.timeout), err))
	case looksLikeOOM(err, tail):
		return services.WithKind("separation_oom",
			services.Wrap(services.ErrExternalTool, "separation", "engine", "engine ran out of memory", err))
	default:
		return services.WithKind("separation_engine_crash",
			services.Wrap(services.ErrExternalTool, "separation", "engine", "engine exited abnormally", err))
	}
}

func looksLikeOOM(err error, tail *services.LogTail) bool {
	if tail.Contains("out of memory") || tail.Contains("MemoryError") {
		return true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.Signaled() && status.Signal() == syscall.SIGKILL
		}
	}
	return false
}

// collectStemPaths locates each requested stem file beneath outDir. The engine
// nests output under a model directory, so the search walks the tree.
func collectStemPaths(outDir string, stems []string) (map[string]string, error) {
	found := make(map[string]string, len(stems))
	wanted := make(map[string]struct{}, len(stems))
	for _, stem := range stems {
		wanted[stem] = struct{}{}
	}

	err := filepath.WalkDir(outDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if _, ok := wanted[stem]; ok {
			found[stem] = path
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "separation", "collect stems", "", err)
	}

	var missing []string
	for stem := range wanted {
		if _, ok := found[stem]; !ok {
			missing = append(missing, stem)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, services.WithKind("separation_no_output",
			services.Wrap(services.ErrExternalTool, "separation", "collect stems",
				fmt.Sprintf("engine produced no output for stems: %s", strings.Join(missing, ", ")), nil))
	}
	return found, nil
}

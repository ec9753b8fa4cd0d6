// Package daemon ties the queue store, scheduler, and workspace manager into
// a single-instance background service with an HTTP control surface.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"stemd/internal/config"
	"stemd/internal/logging"
	"stemd/internal/queue"
	"stemd/internal/scheduler"
	"stemd/internal/workspace"
)

// Daemon coordinates background processing and enforces single-instance
// execution via a file lock.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *queue.Store
	sched      *scheduler.Scheduler
	workspaces *workspace.Manager
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running          bool
	PID              int
	QueueDBPath      string
	LockFilePath     string
	ActiveWorkspaces []string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, sched *scheduler.Scheduler, workspaces *workspace.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || sched == nil || workspaces == nil {
		return nil, errors.New("daemon requires config, store, scheduler, and workspace manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "stemd.lock")
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		sched:      sched,
		workspaces: workspaces,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the instance lock, sweeps stale workspaces, recovers the
// queue, and starts the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another stemd instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	swept := d.workspaces.SweepStale(d.ctx, d.cfg.StaleWorkspaceMaxAge())
	if len(swept.Removed) > 0 {
		d.logger.Info("swept stale workspaces",
			logging.Int("removed", len(swept.Removed)),
			logging.String(logging.FieldEventType, "startup_sweep"),
		)
	}
	d.pruneLogs()

	if err := d.sched.Start(d.ctx); err != nil {
		d.teardownLock()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.teardownLock()
		return err
	}

	go d.sweepLoop(d.ctx)

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop drains the scheduler, shuts down the API server, and releases the
// instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout()+30*time.Second)
	defer cancel()
	d.sched.Stop(stopCtx)

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.teardownLock()
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
	)
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Submit enqueues a track via the scheduler.
func (d *Daemon) Submit(ctx context.Context, req scheduler.Request) (*scheduler.Handle, error) {
	return d.sched.Submit(ctx, req)
}

// Cancel requests cooperative cancellation of a job.
func (d *Daemon) Cancel(id int64) error {
	return d.sched.Cancel(id)
}

// ListJobs returns queue jobs filtered by optional statuses.
func (d *Daemon) ListJobs(ctx context.Context, statuses []queue.Status) ([]*queue.Job, error) {
	return d.store.List(ctx, statuses...)
}

// Job fetches a single job.
func (d *Daemon) Job(ctx context.Context, id int64) (*queue.Job, error) {
	return d.store.GetByID(ctx, id)
}

// QueueHealth returns aggregate queue counts.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}

// APIAddr returns the bound API listen address once started. Useful when
// api_bind requests an ephemeral port.
func (d *Daemon) APIAddr() string {
	return d.api.Addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(context.Context) Status {
	return Status{
		Running:          d.running.Load(),
		PID:              os.Getpid(),
		QueueDBPath:      d.store.Path(),
		LockFilePath:     d.lockPath,
		ActiveWorkspaces: d.workspaces.Active(),
	}
}

// sweepLoop periodically reclaims workspaces abandoned by crashed runs.
func (d *Daemon) sweepLoop(ctx context.Context) {
	interval := d.cfg.StaleWorkspaceMaxAge() / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.workspaces.SweepStale(ctx, d.cfg.StaleWorkspaceMaxAge())
			d.pruneLogs()
		}
	}
}

// pruneLogs removes rotated log files past the configured retention window.
// The active log file is excluded.
func (d *Daemon) pruneLogs() {
	logging.CleanupOldLogs(d.logger, d.cfg.Paths.LogDir, "*.log",
		d.cfg.Logging.RetentionDays,
		filepath.Join(d.cfg.Paths.LogDir, "stemd.log"),
	)
}

func (d *Daemon) teardownLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Package scheduler drives jobs through the pipeline. Each job gets its own
// dispatch loop running the stages strictly in order; per-stage weighted
// semaphores bound how many jobs occupy a stage at once. The loop guarantees
// on every exit path: workspace released, slots returned, terminal state
// persisted, and exactly one delivery callback.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"stemd/internal/config"
	"stemd/internal/delivery"
	"stemd/internal/downloader"
	"stemd/internal/logging"
	"stemd/internal/postprocess"
	"stemd/internal/queue"
	"stemd/internal/separation"
	"stemd/internal/services"
	"stemd/internal/services/demucs"
	"stemd/internal/workspace"
)

// Request describes a track submission.
type Request struct {
	SourceRef string
	Title     string
	// InlineData carries an already-buffered source handed over by an ingest
	// surface. When set, Filename supplies the format hint and SourceRef is
	// only a display label.
	InlineData []byte
	Filename   string
}

// Handle tracks a submitted job until its terminal outcome.
type Handle struct {
	JobID int64
	Token string

	done chan struct{}
	job  *queue.Job
}

// Done is closed once the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Job returns the terminal job record. Valid only after Done is closed.
func (h *Handle) Job() *queue.Job { return h.job }

// Scheduler admits, runs, and cancels jobs.
type Scheduler struct {
	cfg        *config.Config
	store      *queue.Store
	workspaces *workspace.Manager
	fetcher    *downloader.Downloader
	separator  *separation.Handler
	processor  *postprocess.Postprocessor
	deliverer  delivery.Deliverer
	logger     *slog.Logger

	downloadSlots    *semaphore.Weighted
	separationSlots  *semaphore.Weighted
	postprocessSlots *semaphore.Weighted
	maxQueue         int

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	running map[int64]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// New constructs a scheduler. Start must be called before Submit.
func New(
	cfg *config.Config,
	store *queue.Store,
	workspaces *workspace.Manager,
	fetcher *downloader.Downloader,
	separator *separation.Handler,
	processor *postprocess.Postprocessor,
	deliverer delivery.Deliverer,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:              cfg,
		store:            store,
		workspaces:       workspaces,
		fetcher:          fetcher,
		separator:        separator,
		processor:        processor,
		deliverer:        deliverer,
		logger:           logging.NewComponentLogger(logger, "scheduler"),
		downloadSlots:    semaphore.NewWeighted(int64(cfg.Pipeline.DownloadSlots)),
		separationSlots:  semaphore.NewWeighted(int64(cfg.Pipeline.MaxConcurrentSeparationJobs)),
		postprocessSlots: semaphore.NewWeighted(int64(cfg.Pipeline.PostprocessSlots)),
		maxQueue:         cfg.Pipeline.MaxQueueLength,
		baseCtx:          baseCtx,
		baseCancel:       baseCancel,
		running:          make(map[int64]context.CancelFunc),
	}
}

// Start performs crash recovery: jobs abandoned mid-stage by a previous run
// are failed, queued jobs are re-admitted.
func (s *Scheduler) Start(ctx context.Context) error {
	reclaimed, err := s.store.ReclaimAbandoned(ctx)
	if err != nil {
		return fmt.Errorf("reclaim abandoned jobs: %w", err)
	}
	if reclaimed > 0 {
		s.logger.Warn("reclaimed jobs from previous run",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "startup_reclaim"),
		)
	}

	pending, err := s.store.List(ctx, queue.StatusQueued)
	if err != nil {
		return fmt.Errorf("list queued jobs: %w", err)
	}
	for _, job := range pending {
		s.launch(job, Request{SourceRef: job.SourceRef, Title: job.Title})
		s.logger.Info("re-admitted queued job",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldEventType, "startup_readmit"),
		)
	}
	return nil
}

// Submit persists a new queued job and starts its dispatch loop. Admission is
// rejected once in-flight jobs reach max_queue_length.
func (s *Scheduler) Submit(ctx context.Context, req Request) (*Handle, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, services.Wrap(services.ErrQueueFull, "scheduler", "submit", "scheduler is shutting down", nil)
	}

	active, err := s.store.CountActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("count active jobs: %w", err)
	}
	if active >= s.maxQueue {
		return nil, services.Wrap(services.ErrQueueFull, "scheduler", "submit",
			fmt.Sprintf("%d jobs in flight, limit is %d", active, s.maxQueue), nil)
	}

	job, err := s.store.NewJob(ctx, req.SourceRef, req.Title)
	if err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	handle := s.launch(job, req)
	s.logger.Info("job submitted",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("source", req.SourceRef),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	return handle, nil
}

// Cancel requests cooperative cancellation of a job. Safe for any job ID;
// terminal and unknown jobs report an error.
func (s *Scheduler) Cancel(id int64) error {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return services.Wrap(services.ErrNotFound, "scheduler", "cancel",
			fmt.Sprintf("job %d is not running", id), nil)
	}
	cancel()
	return nil
}

// Await blocks until the job is terminal or ctx expires.
func (s *Scheduler) Await(ctx context.Context, handle *Handle) (*queue.Job, error) {
	select {
	case <-handle.Done():
		return handle.Job(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop refuses new submissions and drains in-flight jobs. Jobs still running
// past the drain timeout are cancelled and awaited; subprocess termination is
// bounded by the grace period.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	drain := s.cfg.DrainTimeout()
	var timer <-chan time.Time
	if drain > 0 {
		t := time.NewTimer(drain)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-done:
		return
	case <-timer:
		s.logger.Warn("drain timeout reached, cancelling in-flight jobs",
			logging.String(logging.FieldEventType, "drain_timeout"),
		)
	case <-ctx.Done():
	}

	s.baseCancel()
	<-done
}

func (s *Scheduler) launch(job *queue.Job, req Request) *Handle {
	handle := &Handle{JobID: job.ID, Token: job.Token, done: make(chan struct{})}
	jobCtx, cancel := context.WithCancel(s.baseCtx)

	s.mu.Lock()
	s.running[job.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runJob(jobCtx, cancel, job, req, handle)
	return handle
}

// runJob is the per-job dispatch loop: a single goroutine walking the job
// through its stages in order.
func (s *Scheduler) runJob(ctx context.Context, cancel context.CancelFunc, job *queue.Job, req Request, handle *Handle) {
	ctx = logging.WithJobID(ctx, job.ID)
	log := logging.WithContext(ctx, s.logger)
	started := time.Now()

	var (
		stageErr error
		logTail  string
	)

	defer func() {
		s.finalize(job, stageErr, logTail, started, log)
		s.workspaces.Release(job.ID)
		s.mu.Lock()
		delete(s.running, job.ID)
		s.mu.Unlock()
		cancel()
		handle.job = job
		close(handle.done)
		s.wg.Done()
	}()

	ws, err := s.workspaces.Acquire(job.ID, job.Token)
	if err != nil {
		stageErr = services.Wrap(services.ErrConfiguration, "scheduler", "acquire workspace", "", err)
		return
	}
	job.Workspace = ws
	if err := s.store.Update(ctx, job); err != nil {
		stageErr = err
		return
	}

	// Download.
	source, err := s.runDownload(ctx, job, req, ws)
	if err != nil {
		stageErr = err
		return
	}

	// Separation.
	result, err := s.runSeparation(ctx, job, source.Path, ws)
	if result != nil {
		logTail = result.LogTail
	}
	if err != nil {
		stageErr = err
		return
	}

	// Postprocess.
	artifacts, err := s.runPostprocess(ctx, job, postprocess.Input{
		Title:      job.DisplayTitle(),
		SourcePath: source.Path,
		StemPaths:  result.StemPaths,
		Workspace:  ws,
	})
	if err != nil {
		stageErr = err
		return
	}

	// Delivery.
	if err := s.advance(ctx, job, queue.StatusDelivering, "Delivering", "publishing artifacts"); err != nil {
		stageErr = err
		return
	}
	deliverResult := delivery.Result{
		JobID:     job.ID,
		Token:     job.Token,
		Title:     job.DisplayTitle(),
		Artifacts: artifacts,
		Elapsed:   time.Since(started),
	}
	if err := s.deliverer.Deliver(ctx, deliverResult); err != nil {
		stageErr = err
		return
	}
	if err := job.SetArtifacts(deliverResult.Artifacts); err != nil {
		stageErr = err
		return
	}
}

func (s *Scheduler) runDownload(ctx context.Context, job *queue.Job, req Request, ws string) (downloader.LocalSource, error) {
	if err := s.acquireSlot(ctx, s.downloadSlots, "download"); err != nil {
		return downloader.LocalSource{}, err
	}
	defer s.downloadSlots.Release(1)

	if err := s.advance(ctx, job, queue.StatusDownloading, "Downloading", "fetching source"); err != nil {
		return downloader.LocalSource{}, err
	}

	var (
		source downloader.LocalSource
		err    error
	)
	if len(req.InlineData) > 0 {
		source, err = s.fetcher.FetchBytes(ctx, req.InlineData, req.Filename, ws)
	} else {
		source, err = s.fetcher.Fetch(ctx, job.SourceRef, ws)
	}
	if err != nil {
		return downloader.LocalSource{}, err
	}

	job.SourceFile = source.Path
	if updateErr := s.store.Update(ctx, job); updateErr != nil {
		return downloader.LocalSource{}, updateErr
	}
	return source, nil
}

func (s *Scheduler) runSeparation(ctx context.Context, job *queue.Job, sourcePath, ws string) (*demucs.Result, error) {
	if err := s.acquireSlot(ctx, s.separationSlots, "separation"); err != nil {
		return nil, err
	}
	defer s.separationSlots.Release(1)

	if err := s.advance(ctx, job, queue.StatusSeparating, "Separating", "running separation engine"); err != nil {
		return nil, err
	}

	result, err := s.separator.Run(logging.WithStage(ctx, "separation"), sourcePath, ws)
	if result != nil {
		job.EngineLogTail = result.LogTail
	}
	if err != nil {
		return result, err
	}
	if updateErr := s.store.Update(ctx, job); updateErr != nil {
		return result, updateErr
	}
	return result, nil
}

func (s *Scheduler) runPostprocess(ctx context.Context, job *queue.Job, in postprocess.Input) ([]queue.Artifact, error) {
	if err := s.acquireSlot(ctx, s.postprocessSlots, "postprocess"); err != nil {
		return nil, err
	}
	defer s.postprocessSlots.Release(1)

	if err := s.advance(ctx, job, queue.StatusPostprocessing, "Postprocessing", "transcoding stems"); err != nil {
		return nil, err
	}
	return s.processor.Run(logging.WithStage(ctx, "postprocess"), in)
}

// acquireSlot blocks until a stage slot frees up. Admission is FIFO.
func (s *Scheduler) acquireSlot(ctx context.Context, sem *semaphore.Weighted, stage string) error {
	if err := sem.Acquire(ctx, 1); err != nil {
		return services.Wrap(services.ErrCancelled, "scheduler", stage+" slot", "cancelled while waiting for a slot", err)
	}
	return nil
}

// advance moves the job one state forward and records progress.
func (s *Scheduler) advance(ctx context.Context, job *queue.Job, to queue.Status, stage, message string) error {
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrCancelled, "scheduler", "advance", "job cancelled", err)
	}
	if !queue.CanTransition(job.Status, to) {
		return fmt.Errorf("illegal transition %s -> %s", job.Status, to)
	}
	if job.StartedAt == nil {
		now := time.Now().UTC()
		job.StartedAt = &now
	}
	job.Status = to
	job.SetProgress(stage, message, 0)
	return s.store.Update(ctx, job)
}

// finalize persists the terminal state and fires exactly one delivery
// callback. It must not use the job context, which may already be cancelled.
func (s *Scheduler) finalize(job *queue.Job, stageErr error, logTail string, started time.Time, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if logTail != "" {
		job.EngineLogTail = logTail
	}

	if stageErr == nil {
		job.Status = queue.StatusCompleted
		now := time.Now().UTC()
		job.FinishedAt = &now
		job.SetProgress("Completed", "artifacts delivered", 100)
		if err := s.store.Update(ctx, job); err != nil {
			log.Error("failed to persist completed job", logging.Error(err))
		}
		log.Info("job completed",
			logging.Duration("elapsed", time.Since(started)),
			logging.String(logging.FieldEventType, "job_completed"),
		)
		return
	}

	kind := services.Kind(stageErr)
	if kind == "cancelled" {
		job.SetCancelled(stageErr.Error())
		log.Info("job cancelled",
			logging.String(logging.FieldEventType, "job_cancelled"),
		)
	} else {
		job.SetFailed(kind, stageErr.Error())
		log.Error("job failed",
			logging.Error(stageErr),
			logging.String("error_kind", kind),
			logging.String(logging.FieldEventType, "job_failed"),
		)
	}
	if err := s.store.Update(ctx, job); err != nil {
		log.Error("failed to persist terminal job", logging.Error(err))
	}

	if err := s.deliverer.DeliverError(ctx, delivery.Failure{
		JobID:   job.ID,
		Token:   job.Token,
		Title:   job.DisplayTitle(),
		Kind:    kind,
		Message: stageErr.Error(),
		LogTail: job.EngineLogTail,
	}); err != nil {
		log.Error("failure delivery failed", logging.Error(err))
	}
}

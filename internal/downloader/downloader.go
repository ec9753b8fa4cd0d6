package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"stemd/internal/config"
	"stemd/internal/fileutil"
	"stemd/internal/logging"
	"stemd/internal/services"
	"stemd/internal/services/ffmpeg"
)

// LocalSource describes the source file materialized in a job workspace.
type LocalSource struct {
	Path            string
	Format          string
	SizeBytes       int64
	DurationSeconds float64
}

// Prober verifies duration limits on downloaded sources.
type Prober interface {
	Probe(ctx context.Context, path string) (ffmpeg.ProbeInfo, error)
}

// Downloader materializes a submitted track reference into a workspace. It
// accepts http(s) URLs, local file paths, and already-buffered bytes, and
// enforces size, duration, and format limits before the source is admitted to
// the pipeline.
type Downloader struct {
	httpClient     *http.Client
	prober         Prober
	logger         *slog.Logger
	maxSize        int64
	maxDuration    time.Duration
	allowedFormats map[string]struct{}
	timeout        time.Duration
	retries        int
	retryDelay     time.Duration
}

// Option configures the downloader.
type Option func(*Downloader)

// WithHTTPClient injects a custom HTTP client (primarily for tests).
func WithHTTPClient(client *http.Client) Option {
	return func(d *Downloader) {
		if client != nil {
			d.httpClient = client
		}
	}
}

// New constructs a downloader from configuration.
func New(cfg *config.Config, prober Prober, logger *slog.Logger, opts ...Option) *Downloader {
	if logger == nil {
		logger = logging.NewNop()
	}
	allowed := make(map[string]struct{}, len(cfg.Source.AllowedFormats))
	for _, format := range cfg.Source.AllowedFormats {
		allowed[strings.ToLower(strings.TrimSpace(format))] = struct{}{}
	}
	d := &Downloader{
		httpClient:     &http.Client{},
		prober:         prober,
		logger:         logging.NewComponentLogger(logger, "downloader"),
		maxSize:        cfg.Source.MaxSizeBytes,
		maxDuration:    time.Duration(cfg.Source.MaxDurationSeconds) * time.Second,
		allowedFormats: allowed,
		timeout:        cfg.DownloadTimeout(),
		retries:        cfg.Pipeline.DownloadRetries,
		retryDelay:     cfg.DownloadRetryDelay(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch materializes ref into workspace and returns the admitted source.
// Exactly one file is written. Transient network failures retry with fixed
// backoff; every other failure surfaces immediately with its kind.
func (d *Downloader) Fetch(ctx context.Context, ref, workspace string) (LocalSource, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return LocalSource{}, services.WithKind("download_not_found",
			services.Wrap(services.ErrValidation, "download", "fetch", "empty source reference", nil))
	}

	fetchCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var (
		source LocalSource
		err    error
	)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		source, err = d.fetchURLWithRetry(fetchCtx, ref, workspace)
	} else {
		source, err = d.fetchLocal(fetchCtx, ref, workspace)
	}
	if err != nil {
		return LocalSource{}, d.classify(ctx, err)
	}

	if err := d.verifyDuration(fetchCtx, &source); err != nil {
		_ = os.Remove(source.Path)
		return LocalSource{}, d.classify(ctx, err)
	}
	return source, nil
}

// FetchBytes admits an already-buffered source, as handed over by an ingest
// surface that received the file directly.
func (d *Downloader) FetchBytes(ctx context.Context, data []byte, filename, workspace string) (LocalSource, error) {
	if int64(len(data)) > d.maxSize {
		return LocalSource{}, services.WithKind("download_too_large",
			services.Wrap(services.ErrValidation, "download", "inline source",
				fmt.Sprintf("source is %d bytes, limit is %d", len(data), d.maxSize), nil))
	}
	format, err := d.admitFormat(filename)
	if err != nil {
		return LocalSource{}, err
	}

	dest := filepath.Join(workspace, "source."+format)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return LocalSource{}, services.Wrap(services.ErrExternalTool, "download", "write inline source", "", err)
	}

	source := LocalSource{Path: dest, Format: format, SizeBytes: int64(len(data))}
	if err := d.verifyDuration(ctx, &source); err != nil {
		_ = os.Remove(dest)
		return LocalSource{}, d.classify(ctx, err)
	}
	return source, nil
}

func (d *Downloader) fetchURLWithRetry(ctx context.Context, ref, workspace string) (LocalSource, error) {
	attempts := d.retries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		source, err := d.fetchURL(ctx, ref, workspace)
		if err == nil {
			return source, nil
		}
		lastErr = err
		if !services.IsRetryable(err) || attempt == attempts {
			break
		}
		d.logger.Warn("download attempt failed, retrying",
			logging.String("url", ref),
			logging.Int("attempt", attempt),
			logging.Error(err),
		)
		select {
		case <-time.After(d.retryDelay):
		case <-ctx.Done():
			return LocalSource{}, ctx.Err()
		}
	}
	return LocalSource{}, lastErr
}

func (d *Downloader) fetchURL(ctx context.Context, ref, workspace string) (LocalSource, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return LocalSource{}, services.WithKind("download_not_found",
			services.Wrap(services.ErrValidation, "download", "parse url", ref, err))
	}
	format, err := d.admitFormat(path.Base(parsed.Path))
	if err != nil {
		return LocalSource{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return LocalSource{}, services.Wrap(services.ErrValidation, "download", "build request", "", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return LocalSource{}, ctx.Err()
		}
		return LocalSource{}, services.WithKind("download_network",
			services.Wrap(services.ErrTransient, "download", "http get", "", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return LocalSource{}, services.WithKind("download_not_found",
			services.Wrap(services.ErrNotFound, "download", "http get",
				fmt.Sprintf("server returned %s", resp.Status), nil))
	case resp.StatusCode >= 500:
		return LocalSource{}, services.WithKind("download_network",
			services.Wrap(services.ErrTransient, "download", "http get",
				fmt.Sprintf("server returned %s", resp.Status), nil))
	default:
		return LocalSource{}, services.WithKind("download_network",
			services.Wrap(services.ErrExternalTool, "download", "http get",
				fmt.Sprintf("server returned %s", resp.Status), nil))
	}

	if resp.ContentLength > 0 && resp.ContentLength > d.maxSize {
		return LocalSource{}, services.WithKind("download_too_large",
			services.Wrap(services.ErrValidation, "download", "precheck",
				fmt.Sprintf("source is %d bytes, limit is %d", resp.ContentLength, d.maxSize), nil))
	}

	dest := filepath.Join(workspace, "source."+format)
	out, err := os.Create(dest)
	if err != nil {
		return LocalSource{}, services.Wrap(services.ErrExternalTool, "download", "create destination", "", err)
	}

	// Limit enforced during streaming regardless of the Content-Length header.
	written, copyErr := io.Copy(out, io.LimitReader(resp.Body, d.maxSize+1))
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dest)
		if ctx.Err() != nil {
			return LocalSource{}, ctx.Err()
		}
		return LocalSource{}, services.WithKind("download_network",
			services.Wrap(services.ErrTransient, "download", "stream body", "", copyErr))
	}
	if closeErr != nil {
		_ = os.Remove(dest)
		return LocalSource{}, services.Wrap(services.ErrExternalTool, "download", "close destination", "", closeErr)
	}
	if written > d.maxSize {
		_ = os.Remove(dest)
		return LocalSource{}, services.WithKind("download_too_large",
			services.Wrap(services.ErrValidation, "download", "stream body",
				fmt.Sprintf("source exceeds %d byte limit", d.maxSize), nil))
	}

	return LocalSource{Path: dest, Format: format, SizeBytes: written}, nil
}

func (d *Downloader) fetchLocal(ctx context.Context, ref, workspace string) (LocalSource, error) {
	info, err := os.Stat(ref)
	if err != nil {
		return LocalSource{}, services.WithKind("download_not_found",
			services.Wrap(services.ErrNotFound, "download", "local source", ref, err))
	}
	if info.IsDir() {
		return LocalSource{}, services.WithKind("download_not_found",
			services.Wrap(services.ErrValidation, "download", "local source", "reference is a directory", nil))
	}
	if info.Size() > d.maxSize {
		return LocalSource{}, services.WithKind("download_too_large",
			services.Wrap(services.ErrValidation, "download", "local source",
				fmt.Sprintf("source is %d bytes, limit is %d", info.Size(), d.maxSize), nil))
	}
	format, err := d.admitFormat(filepath.Base(ref))
	if err != nil {
		return LocalSource{}, err
	}

	dest := filepath.Join(workspace, "source."+format)
	if err := fileutil.CopyFileVerified(ref, dest); err != nil {
		return LocalSource{}, services.Wrap(services.ErrExternalTool, "download", "copy local source", "", err)
	}
	return LocalSource{Path: dest, Format: format, SizeBytes: info.Size()}, nil
}

func (d *Downloader) admitFormat(filename string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return "", services.WithKind("download_unsupported_format",
			services.Wrap(services.ErrValidation, "download", "admit format", "source has no file extension", nil))
	}
	if _, ok := d.allowedFormats[ext]; !ok {
		return "", services.WithKind("download_unsupported_format",
			services.Wrap(services.ErrValidation, "download", "admit format",
				fmt.Sprintf("format %q is not allowed", ext), nil))
	}
	return ext, nil
}

func (d *Downloader) verifyDuration(ctx context.Context, source *LocalSource) error {
	if d.prober == nil || d.maxDuration <= 0 {
		return nil
	}
	info, err := d.prober.Probe(ctx, source.Path)
	if err != nil {
		return services.WithKind("download_unsupported_format",
			services.Wrap(services.ErrValidation, "download", "probe source", "source is not a readable audio file", err))
	}
	source.DurationSeconds = info.DurationSeconds
	if info.DurationSeconds > d.maxDuration.Seconds() {
		return services.WithKind("download_too_large",
			services.Wrap(services.ErrValidation, "download", "probe source",
				fmt.Sprintf("source is %.0fs long, limit is %.0fs", info.DurationSeconds, d.maxDuration.Seconds()), nil))
	}
	return nil
}

// classify maps raw failures onto download kinds, distinguishing the stage
// timeout from cooperative cancellation via the parent context.
func (d *Downloader) classify(parent context.Context, err error) error {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return services.WithKind("cancelled",
			services.Wrap(services.ErrCancelled, "download", "fetch", "download cancelled", err))
	case errors.Is(err, context.DeadlineExceeded):
		return services.WithKind("download_timeout",
			services.Wrap(services.ErrTimeout, "download", "fetch",
				fmt.Sprintf("download exceeded %s stage timeout", d.timeout), err))
	default:
		return err
	}
}

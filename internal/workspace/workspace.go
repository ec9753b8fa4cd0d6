package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"stemd/internal/logging"
)

// Manager allocates per-job scratch directories under a single root and
// guarantees they are removed exactly once when a job reaches a terminal
// state.
type Manager struct {
	root   string
	logger *slog.Logger

	mu     sync.Mutex
	active map[int64]string
}

// NewManager returns a manager rooted at workspaceRoot. The root is created
// on first Acquire.
func NewManager(workspaceRoot string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		root:   strings.TrimSpace(workspaceRoot),
		logger: logging.NewComponentLogger(logger, "workspace"),
		active: make(map[int64]string),
	}
}

// Root returns the workspace root directory.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates the scratch directory for a job. The token keeps directory
// names unique across daemon restarts that reuse job IDs after a queue clear.
func (m *Manager) Acquire(jobID int64, token string) (string, error) {
	if m.root == "" {
		return "", fmt.Errorf("workspace root not configured")
	}

	suffix := strings.ReplaceAll(token, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	dir := filepath.Join(m.root, fmt.Sprintf("job-%d-%s", jobID, suffix))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	m.mu.Lock()
	m.active[jobID] = dir
	m.mu.Unlock()

	m.logger.Debug("workspace acquired",
		logging.Int64(logging.FieldJobID, jobID),
		logging.String("path", dir),
	)
	return dir, nil
}

// Release removes a job's scratch directory. Safe to call more than once and
// for jobs that never acquired a workspace.
func (m *Manager) Release(jobID int64) {
	m.mu.Lock()
	dir, ok := m.active[jobID]
	delete(m.active, jobID)
	m.mu.Unlock()

	if !ok || dir == "" {
		return
	}

	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("failed to remove workspace",
			logging.Int64(logging.FieldJobID, jobID),
			logging.String("path", dir),
			logging.Error(err),
			logging.String(logging.FieldEventType, "workspace_release_failed"),
			logging.String(logging.FieldErrorHint, "check workspace_root permissions"),
		)
		return
	}

	m.logger.Debug("workspace released",
		logging.Int64(logging.FieldJobID, jobID),
		logging.String("path", dir),
	)
}

// ReleasePath removes a workspace directory recorded on a persisted job. Used
// during startup recovery when the in-memory active map is empty.
func (m *Manager) ReleasePath(path string) {
	path = strings.TrimSpace(path)
	if path == "" || m.root == "" {
		return
	}
	// Refuse to delete anything outside the workspace root.
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		m.logger.Warn("refusing to remove path outside workspace root",
			logging.String("path", path),
		)
		return
	}
	if err := os.RemoveAll(path); err != nil {
		m.logger.Warn("failed to remove workspace",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "workspace_release_failed"),
		)
	}
}

// Active returns the workspace paths currently held by running jobs.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.active))
	for _, dir := range m.active {
		paths = append(paths, dir)
	}
	sort.Strings(paths)
	return paths
}

// SweepResult contains the outcome of a stale workspace sweep.
type SweepResult struct {
	Removed []string
	Errors  []SweepError
}

// SweepError pairs a directory path with its removal error.
type SweepError struct {
	Path  string
	Error error
}

// SweepStale removes workspace directories older than maxAge that no running
// job holds. Directories from crashed runs accumulate here; the sweep runs at
// daemon startup and on a timer.
func (m *Manager) SweepStale(ctx context.Context, maxAge time.Duration) SweepResult {
	result := SweepResult{}
	if m.root == "" {
		return result
	}

	entries, err := os.ReadDir(m.root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, SweepError{Path: m.root, Error: err})
		}
		return result
	}

	held := make(map[string]struct{})
	m.mu.Lock()
	for _, dir := range m.active {
		held[dir] = struct{}{}
	}
	m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "job-") {
			continue
		}

		dirPath := filepath.Join(m.root, entry.Name())
		if _, ok := held[dirPath]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, SweepError{Path: dirPath, Error: err})
			m.logger.Warn("failed to remove stale workspace",
				logging.String("path", dirPath),
				logging.Error(err),
				logging.String(logging.FieldEventType, "workspace_sweep_failed"),
				logging.String(logging.FieldErrorHint, "check workspace_root permissions"),
			)
			continue
		}

		result.Removed = append(result.Removed, dirPath)
		m.logger.Info("removed stale workspace",
			logging.String("path", dirPath),
			logging.Duration("age", time.Since(info.ModTime())),
			logging.String(logging.FieldEventType, "workspace_sweep"),
		)
	}

	return result
}

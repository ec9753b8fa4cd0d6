package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a pipeline job.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusDownloading    Status = "downloading"
	StatusSeparating     Status = "separating"
	StatusPostprocessing Status = "postprocessing"
	StatusDelivering     Status = "delivering"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// DaemonStopReason is the error message set when jobs are failed due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

// StaleReclaimReason is the error message set when jobs from a crashed run are failed at startup.
const StaleReclaimReason = "Reclaimed after unclean daemon shutdown"

var allStatuses = []Status{
	StatusQueued,
	StatusDownloading,
	StatusSeparating,
	StatusPostprocessing,
	StatusDelivering,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusDownloading:    {},
	StatusSeparating:     {},
	StatusPostprocessing: {},
	StatusDelivering:     {},
}

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// successor is the single legal forward edge of the pipeline. Failed and
// Cancelled are reachable from every non-terminal state and are handled in
// CanTransition directly.
var successor = map[Status]Status{
	StatusQueued:         StatusDownloading,
	StatusDownloading:    StatusSeparating,
	StatusSeparating:     StatusPostprocessing,
	StatusPostprocessing: StatusDelivering,
	StatusDelivering:     StatusCompleted,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminalStatus reports whether a status ends the job lifecycle.
func IsTerminalStatus(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// CanTransition reports whether moving a job from one status to another is
// legal. Forward progress follows the single pipeline edge; failure and
// cancellation are reachable from any non-terminal state; terminal states
// have no exits.
func CanTransition(from, to Status) bool {
	if IsTerminalStatus(from) {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	return successor[from] == to
}

// NextStatus returns the forward successor of a status, if one exists.
func NextStatus(from Status) (Status, bool) {
	next, ok := successor[from]
	return next, ok
}

// Artifact is a named deliverable produced by a completed job.
type Artifact struct {
	Role      string `json:"role"`
	Path      string `json:"path"`
	Format    string `json:"format"`
	SizeBytes int64  `json:"size_bytes"`
}

// Job represents a unit of work persisted in SQLite.
type Job struct {
	ID              int64
	Token           string
	SourceRef       string
	Title           string
	Status          Status
	Workspace       string
	SourceFile      string
	ArtifactsJSON   string
	ErrorKind       string
	ErrorMessage    string
	EngineLogTail   string
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// IsProcessing returns true when the status reflects an in-flight stage.
func (j Job) IsProcessing() bool {
	return IsProcessingStatus(j.Status)
}

// IsTerminal returns true when the job has reached its final state.
func (j Job) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// DisplayTitle returns the title, falling back to the source reference for
// submissions that never supplied one.
func (j Job) DisplayTitle() string {
	if title := strings.TrimSpace(j.Title); title != "" {
		return title
	}
	return j.SourceRef
}

// Artifacts decodes the artifact list from its persisted JSON form.
func (j Job) Artifacts() ([]Artifact, error) {
	trimmed := strings.TrimSpace(j.ArtifactsJSON)
	if trimmed == "" {
		return nil, nil
	}
	var artifacts []Artifact
	if err := json.Unmarshal([]byte(trimmed), &artifacts); err != nil {
		return nil, fmt.Errorf("decode artifacts: %w", err)
	}
	return artifacts, nil
}

// SetArtifacts encodes the artifact list for persistence.
func (j *Job) SetArtifacts(artifacts []Artifact) error {
	if len(artifacts) == 0 {
		j.ArtifactsJSON = ""
		return nil
	}
	raw, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("encode artifacts: %w", err)
	}
	j.ArtifactsJSON = string(raw)
	return nil
}

// SetProgress updates all three progress fields together.
func (j *Job) SetProgress(stage, message string, percent float64) {
	j.ProgressStage = stage
	j.ProgressMessage = message
	j.ProgressPercent = percent
}

// SetFailed marks the job as failed with a taxonomy kind and message.
func (j *Job) SetFailed(kind, message string) {
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.ErrorKind = kind
	j.ErrorMessage = message
	j.ProgressStage = "Failed"
	j.ProgressMessage = message
	j.ProgressPercent = 0
	j.FinishedAt = &now
}

// SetCancelled marks the job as cancelled.
func (j *Job) SetCancelled(message string) {
	now := time.Now().UTC()
	j.Status = StatusCancelled
	j.ErrorKind = "cancelled"
	j.ErrorMessage = message
	j.ProgressStage = "Cancelled"
	j.ProgressMessage = message
	j.ProgressPercent = 0
	j.FinishedAt = &now
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Failed     int
	Completed  int
	Cancelled  int
}

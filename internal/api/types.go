// Package api defines the wire types of the daemon's HTTP interface and a
// client for talking to it.
package api

import (
	"time"

	"stemd/internal/queue"
)

// SubmitRequest enqueues a track for processing.
type SubmitRequest struct {
	SourceRef string `json:"source_ref"`
	Title     string `json:"title,omitempty"`
}

// SubmitResponse returns the persisted job identity.
type SubmitResponse struct {
	Job JobView `json:"job"`
}

// ArtifactView is the wire form of a delivered artifact.
type ArtifactView struct {
	Role      string `json:"role"`
	Path      string `json:"path"`
	Format    string `json:"format"`
	SizeBytes int64  `json:"size_bytes"`
}

// JobView is the wire form of a queue job.
type JobView struct {
	ID              int64          `json:"id"`
	Token           string         `json:"token"`
	SourceRef       string         `json:"source_ref"`
	Title           string         `json:"title,omitempty"`
	Status          string         `json:"status"`
	ProgressStage   string         `json:"progress_stage,omitempty"`
	ProgressMessage string         `json:"progress_message,omitempty"`
	ProgressPercent float64        `json:"progress_percent,omitempty"`
	ErrorKind       string         `json:"error_kind,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Artifacts       []ArtifactView `json:"artifacts,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

// JobListResponse wraps a job listing.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobView `json:"job"`
}

// StatusResponse reports daemon runtime information.
type StatusResponse struct {
	Running          bool     `json:"running"`
	PID              int      `json:"pid"`
	QueueDBPath      string   `json:"queue_db_path"`
	LockFilePath     string   `json:"lock_file_path"`
	ActiveWorkspaces []string `json:"active_workspaces,omitempty"`
	Queue            Health   `json:"queue"`
}

// Health reports aggregate queue counts.
type Health struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// ErrorResponse carries an API error message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromJob converts a queue job to its wire form. Artifact decode failures are
// ignored; the artifact list is advisory in views.
func FromJob(job *queue.Job) JobView {
	view := JobView{
		ID:              job.ID,
		Token:           job.Token,
		SourceRef:       job.SourceRef,
		Title:           job.Title,
		Status:          string(job.Status),
		ProgressStage:   job.ProgressStage,
		ProgressMessage: job.ProgressMessage,
		ProgressPercent: job.ProgressPercent,
		ErrorKind:       job.ErrorKind,
		ErrorMessage:    job.ErrorMessage,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		StartedAt:       job.StartedAt,
		FinishedAt:      job.FinishedAt,
	}
	if artifacts, err := job.Artifacts(); err == nil {
		for _, artifact := range artifacts {
			view.Artifacts = append(view.Artifacts, ArtifactView{
				Role:      artifact.Role,
				Path:      artifact.Path,
				Format:    artifact.Format,
				SizeBytes: artifact.SizeBytes,
			})
		}
	}
	return view
}

// FromHealth converts a queue health summary to its wire form.
func FromHealth(summary queue.HealthSummary) Health {
	return Health{
		Total:      summary.Total,
		Queued:     summary.Queued,
		Processing: summary.Processing,
		Completed:  summary.Completed,
		Failed:     summary.Failed,
		Cancelled:  summary.Cancelled,
	}
}

// Package delivery defines the terminal outcome interface for finished jobs.
// Every job ends in exactly one Deliver or DeliverError call; chat transports
// and other frontends implement the same interface outside this module. The
// provided implementation publishes artifacts into a local output directory.
package delivery

import (
	"context"
	"time"

	"stemd/internal/queue"
)

// Result carries a completed job's artifacts and timing metadata.
type Result struct {
	JobID     int64
	Token     string
	Title     string
	Artifacts []queue.Artifact
	Elapsed   time.Duration
}

// Failure carries a failed or cancelled job's classification.
type Failure struct {
	JobID   int64
	Token   string
	Title   string
	Kind    string
	Message string
	LogTail string
}

// Deliverer receives the single terminal outcome of each job.
type Deliverer interface {
	// Deliver publishes a completed job's artifacts. Implementations may
	// rewrite Artifacts[i].Path to the final location; the updated paths are
	// persisted on the job.
	Deliver(ctx context.Context, result Result) error
	// DeliverError reports a terminal failure or cancellation.
	DeliverError(ctx context.Context, failure Failure) error
}

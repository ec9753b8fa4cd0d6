package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"stemd/internal/api"
)

const displayTimeLayout = "2006-01-02 15:04:05"

func buildJobRows(jobs []api.JobView) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			jobTitle(job),
			job.Status,
			progressSummary(job),
			job.CreatedAt.Local().Format(displayTimeLayout),
		})
	}
	return rows
}

func jobTitle(job api.JobView) string {
	if job.Title != "" {
		return job.Title
	}
	return job.SourceRef
}

func progressSummary(job api.JobView) string {
	if job.ErrorKind != "" {
		return job.ErrorKind
	}
	if job.ProgressStage == "" {
		return ""
	}
	if job.ProgressPercent > 0 {
		return fmt.Sprintf("%s %.0f%%", job.ProgressStage, job.ProgressPercent)
	}
	return job.ProgressStage
}

func renderJobDetail(out io.Writer, job *api.JobView) {
	fmt.Fprintf(out, "Job %d (%s)\n", job.ID, job.Token)
	fmt.Fprintf(out, "  Source: %s\n", job.SourceRef)
	if job.Title != "" {
		fmt.Fprintf(out, "  Title: %s\n", job.Title)
	}
	fmt.Fprintf(out, "  Status: %s\n", job.Status)
	if summary := progressSummary(*job); summary != "" {
		fmt.Fprintf(out, "  Progress: %s\n", summary)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error: %s\n", job.ErrorMessage)
	}
	fmt.Fprintf(out, "  Created: %s\n", job.CreatedAt.Local().Format(displayTimeLayout))
	if job.StartedAt != nil {
		fmt.Fprintf(out, "  Started: %s\n", job.StartedAt.Local().Format(displayTimeLayout))
	}
	if job.FinishedAt != nil {
		fmt.Fprintf(out, "  Finished: %s", job.FinishedAt.Local().Format(displayTimeLayout))
		if job.StartedAt != nil {
			fmt.Fprintf(out, " (%s)", job.FinishedAt.Sub(*job.StartedAt).Round(time.Second))
		}
		fmt.Fprintln(out)
	}
	for _, artifact := range job.Artifacts {
		fmt.Fprintf(out, "  Artifact [%s]: %s (%d bytes)\n", artifact.Role, artifact.Path, artifact.SizeBytes)
	}
}

func renderHealth(out io.Writer, health *api.Health) {
	if health.Total == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return
	}
	rows := [][]string{
		{"queued", strconv.Itoa(health.Queued)},
		{"processing", strconv.Itoa(health.Processing)},
		{"completed", strconv.Itoa(health.Completed)},
		{"failed", strconv.Itoa(health.Failed)},
		{"cancelled", strconv.Itoa(health.Cancelled)},
		{"total", strconv.Itoa(health.Total)},
	}
	fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

package queue

import "testing"

func TestNextStatusWalksPipeline(t *testing.T) {
	order := []Status{
		StatusQueued,
		StatusDownloading,
		StatusSeparating,
		StatusPostprocessing,
		StatusDelivering,
		StatusCompleted,
	}
	for i := 0; i < len(order)-1; i++ {
		next, ok := NextStatus(order[i])
		if !ok {
			t.Fatalf("expected successor for %s", order[i])
		}
		if next != order[i+1] {
			t.Fatalf("expected %s -> %s, got %s", order[i], order[i+1], next)
		}
	}
	if _, ok := NextStatus(StatusCompleted); ok {
		t.Fatal("completed must not have a successor")
	}
}

func TestCanTransitionToTerminalStates(t *testing.T) {
	active := []Status{
		StatusQueued,
		StatusDownloading,
		StatusSeparating,
		StatusPostprocessing,
		StatusDelivering,
	}
	for _, status := range active {
		if !CanTransition(status, StatusFailed) {
			t.Fatalf("expected %s -> failed to be legal", status)
		}
		if !CanTransition(status, StatusCancelled) {
			t.Fatalf("expected %s -> cancelled to be legal", status)
		}
	}
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		for _, to := range AllStatuses() {
			if CanTransition(terminal, to) {
				t.Fatalf("terminal state %s must not transition to %s", terminal, to)
			}
		}
	}
}

func TestCanTransitionRejectsSkips(t *testing.T) {
	if CanTransition(StatusQueued, StatusSeparating) {
		t.Fatal("queued must not skip directly to separating")
	}
	if CanTransition(StatusDelivering, StatusDownloading) {
		t.Fatal("pipeline must not move backwards")
	}
}

func TestParseStatus(t *testing.T) {
	status, ok := ParseStatus("separating")
	if !ok || status != StatusSeparating {
		t.Fatalf("expected separating, got %s (ok=%v)", status, ok)
	}
	if _, ok := ParseStatus("ripping"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}

func TestArtifactsRoundTrip(t *testing.T) {
	job := &Job{}
	artifacts := []Artifact{
		{Role: "vocals", Path: "/out/track/vocals.mp3", Format: "mp3", SizeBytes: 1024},
		{Role: "no_vocals", Path: "/out/track/no_vocals.mp3", Format: "mp3", SizeBytes: 2048},
	}
	if err := job.SetArtifacts(artifacts); err != nil {
		t.Fatalf("set artifacts: %v", err)
	}

	got, err := job.Artifacts()
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(got))
	}
	if got[0].Role != "vocals" || got[1].SizeBytes != 2048 {
		t.Fatalf("artifacts did not round-trip: %+v", got)
	}
}

func TestSetFailedMarksTerminal(t *testing.T) {
	job := &Job{Status: StatusSeparating}
	job.SetFailed("separation_timeout", "engine exceeded stage timeout")

	if job.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", job.Status)
	}
	if job.ErrorKind != "separation_timeout" {
		t.Fatalf("expected error kind to be recorded, got %q", job.ErrorKind)
	}
	if job.FinishedAt == nil {
		t.Fatal("expected finished timestamp")
	}
	if !job.IsTerminal() {
		t.Fatal("failed job must be terminal")
	}
}

func TestSetCancelledMarksTerminal(t *testing.T) {
	job := &Job{Status: StatusDownloading}
	job.SetCancelled("cancelled by operator")

	if job.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", job.Status)
	}
	if job.ErrorKind != "cancelled" {
		t.Fatalf("expected cancelled error kind, got %q", job.ErrorKind)
	}
	if job.FinishedAt == nil {
		t.Fatal("expected finished timestamp")
	}
	if !job.IsTerminal() {
		t.Fatal("cancelled job must be terminal")
	}
}

package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"stemd/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("exit status 2")
	err := services.Wrap(services.ErrExternalTool, "separation", "run engine", "engine exited abnormally", base)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to survive wrapping: %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected cause to survive wrapping: %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "download", "fetch", "", errors.New("boom"))
	if !services.IsRetryable(err) {
		t.Fatalf("expected nil marker to default to transient: %v", err)
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := services.WithKind("download_too_large", errors.New("source is 900MB"))
	err = fmt.Errorf("fetch source: %w", err)
	if got := services.Kind(err); got != "download_too_large" {
		t.Fatalf("Kind = %q, want download_too_large", got)
	}
}

func TestKindFallbacks(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"timeout marker", services.ErrTimeout, "timeout"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"cancel marker", services.ErrCancelled, "cancelled"},
		{"context cancel", context.Canceled, "cancelled"},
		{"queue full", services.ErrQueueFull, "resource_exhausted"},
		{"plain", errors.New("nope"), "internal"},
		{"nil", nil, ""},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("%s: Kind = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestKindPrefersExplicitOverFallback(t *testing.T) {
	err := services.WithKind("separation_timeout", services.Wrap(services.ErrTimeout, "separation", "wait", "engine exceeded deadline", nil))
	if got := services.Kind(err); got != "separation_timeout" {
		t.Fatalf("Kind = %q, want separation_timeout", got)
	}
}

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"stemd/internal/services"
)

func TestParseLevelDefaultsToInfo(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		" DEBUG ": slog.LevelDebug,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestJSONHandlerFieldNames(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, levelVar, false))
	logger.Info("job admitted", String("source", "https://example.com/track"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "source"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in %v", key, entry)
		}
	}
	if entry["level"] != "info" {
		t.Fatalf("level = %v, want info", entry["level"])
	}
}

func TestConsoleHandlerHoistsJobFields(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, levelVar))
	logger.Info("stage started",
		String(FieldComponent, "separation"),
		Int64(FieldJobID, 42),
		String(FieldStage, "separating"),
		String("input", "song.mp3"),
	)

	line := buf.String()
	if !strings.Contains(line, "[separation]") {
		t.Fatalf("expected component header in %q", line)
	}
	if !strings.Contains(line, "(job 42, separating)") {
		t.Fatalf("expected job header in %q", line)
	}
	if !strings.Contains(line, "input=song.mp3") {
		t.Fatalf("expected trailing attr in %q", line)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	base := slog.New(newJSONHandler(&buf, levelVar, false))

	ctx := services.WithJobID(context.Background(), 7)
	ctx = services.WithStage(ctx, "downloading")
	WithContext(ctx, base).Info("fetch started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry[FieldJobID] != float64(7) {
		t.Fatalf("job_id = %v, want 7", entry[FieldJobID])
	}
	if entry[FieldStage] != "downloading" {
		t.Fatalf("stage = %v, want downloading", entry[FieldStage])
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("expected noop logger to be disabled")
	}
}

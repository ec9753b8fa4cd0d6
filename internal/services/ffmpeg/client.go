package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"stemd/internal/config"
	"stemd/internal/services"
)

// Transcoder defines the behaviour required by the postprocess handler.
type Transcoder interface {
	Transcode(ctx context.Context, input, output string) error
	MixQuietVocals(ctx context.Context, vocals, instrumental, output string) error
	Probe(ctx context.Context, path string) (ProbeInfo, error)
}

// ProbeInfo captures the container metadata ffprobe reports.
type ProbeInfo struct {
	DurationSeconds float64
	FormatName      string
	SizeBytes       int64
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec services.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps the ffmpeg and ffprobe CLIs.
type Client struct {
	ffmpeg  string
	ffprobe string
	bitrate string
	grace   time.Duration
	exec    services.Executor
}

// New constructs an ffmpeg client from configuration.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	ffmpegBin := strings.TrimSpace(cfg.Transcode.FFmpegBinary)
	ffprobeBin := strings.TrimSpace(cfg.Transcode.FFprobeBinary)
	if ffmpegBin == "" || ffprobeBin == "" {
		return nil, services.Wrap(services.ErrConfiguration, "postprocess", "new client", "ffmpeg and ffprobe binaries required", nil)
	}
	client := &Client{
		ffmpeg:  ffmpegBin,
		ffprobe: ffprobeBin,
		bitrate: strings.TrimSpace(cfg.Transcode.Bitrate),
		grace:   cfg.TerminationGracePeriod(),
		exec:    services.CommandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Transcode re-encodes input to output. The target format is inferred from
// the output extension; a zero exit and non-empty output are both required.
func (c *Client) Transcode(ctx context.Context, input, output string) error {
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", input, "-vn"}
	if c.bitrate != "" {
		args = append(args, "-b:a", c.bitrate)
	}
	args = append(args, output)
	return c.runFFmpeg(ctx, "transcode", args, output)
}

// MixQuietVocals renders the instrumental with the vocal stem ducked by 20 dB
// mixed back in. A practice aid alongside the plain stems.
func (c *Client) MixQuietVocals(ctx context.Context, vocals, instrumental, output string) error {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", instrumental,
		"-i", vocals,
		"-filter_complex", "[1:a]volume=-20dB[quiet];[0:a][quiet]amix=inputs=2:duration=longest",
	}
	if c.bitrate != "" {
		args = append(args, "-b:a", c.bitrate)
	}
	args = append(args, output)
	return c.runFFmpeg(ctx, "mix quiet vocals", args, output)
}

func (c *Client) runFFmpeg(ctx context.Context, operation string, args []string, output string) error {
	tail := services.NewLogTail(20)
	err := c.exec.Run(ctx, services.CommandSpec{
		Binary:      c.ffmpeg,
		Args:        args,
		OnOutput:    tail.Append,
		GracePeriod: c.grace,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return services.Wrap(services.ErrCancelled, "postprocess", operation, "", ctxErr)
		}
		return services.WithKind("postprocess_transcode_failed",
			services.Wrap(services.ErrExternalTool, "postprocess", operation, tailSummary(tail), err))
	}

	info, statErr := os.Stat(output)
	if statErr != nil {
		return services.WithKind("postprocess_empty_output",
			services.Wrap(services.ErrExternalTool, "postprocess", operation, "tool exited cleanly but produced no output", statErr))
	}
	if info.Size() == 0 {
		return services.WithKind("postprocess_empty_output",
			services.Wrap(services.ErrExternalTool, "postprocess", operation, "tool produced an empty output file", nil))
	}
	return nil
}

// Probe returns duration and format information for an audio file.
func (c *Client) Probe(ctx context.Context, path string) (ProbeInfo, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		path,
	}

	var buf strings.Builder
	err := c.exec.Run(ctx, services.CommandSpec{
		Binary: c.ffprobe,
		Args:   args,
		OnOutput: func(line string) {
			buf.WriteString(line)
			buf.WriteString("\n")
		},
		GracePeriod: c.grace,
	})
	if err != nil {
		return ProbeInfo{}, services.Wrap(services.ErrExternalTool, "probe", "ffprobe", "", err)
	}

	var payload struct {
		Format struct {
			FormatName string `json:"format_name"`
			Duration   string `json:"duration"`
			Size       string `json:"size"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(buf.String()), &payload); err != nil {
		return ProbeInfo{}, services.Wrap(services.ErrExternalTool, "probe", "parse ffprobe output", "", err)
	}

	info := ProbeInfo{FormatName: payload.Format.FormatName}
	if payload.Format.Duration != "" {
		duration, err := strconv.ParseFloat(payload.Format.Duration, 64)
		if err != nil {
			return ProbeInfo{}, services.Wrap(services.ErrExternalTool, "probe", "parse duration", payload.Format.Duration, err)
		}
		info.DurationSeconds = duration
	}
	if payload.Format.Size != "" {
		if size, err := strconv.ParseInt(payload.Format.Size, 10, 64); err == nil {
			info.SizeBytes = size
		}
	}
	return info, nil
}

func tailSummary(tail *services.LogTail) string {
	text := tail.String()
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return ""
	}
	return fmt.Sprintf("last output: %s", last)
}

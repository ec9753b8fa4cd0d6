// Package ffmpeg wraps the ffmpeg and ffprobe CLIs for transcoding stems,
// rendering the quiet-vocals practice mix, and probing source metadata.
package ffmpeg

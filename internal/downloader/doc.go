// Package downloader materializes submitted track references into job
// workspaces. Size and format limits are enforced before a byte is admitted
// to the pipeline; duration limits are verified with ffprobe once the file is
// local. Only transient network failures retry.
package downloader

// Package demucs wraps the demucs separation engine CLI. Runs happen in a
// dedicated process group so cancellation reaches the engine's Python worker
// processes, and the last lines of engine output are retained for failure
// records.
package demucs

// Package workspace manages per-job scratch directories. Every job gets an
// isolated directory under the configured root for its downloaded source,
// engine output, and transcoded stems; the directory is removed exactly once
// when the job completes, fails, or is cancelled, and a periodic sweep
// reclaims directories abandoned by crashed runs.
package workspace

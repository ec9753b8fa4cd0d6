package services

import (
	"strings"
	"sync"
)

// LogTail retains the last N lines of tool output. External engines can be
// extremely chatty; the tail is what gets persisted on the job when the tool
// fails.
type LogTail struct {
	mu    sync.Mutex
	limit int
	lines []string
	start int
	count int
}

// NewLogTail returns a tail bounded to limit lines.
func NewLogTail(limit int) *LogTail {
	if limit <= 0 {
		limit = 40
	}
	return &LogTail{
		limit: limit,
		lines: make([]string, limit),
	}
}

// Append records a line, evicting the oldest when full.
func (t *LogTail) Append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := (t.start + t.count) % t.limit
	if t.count == t.limit {
		t.lines[t.start] = line
		t.start = (t.start + 1) % t.limit
		return
	}
	t.lines[idx] = line
	t.count++
}

// String returns the retained lines joined by newlines, oldest first.
func (t *LogTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, t.count)
	for i := 0; i < t.count; i++ {
		out = append(out, t.lines[(t.start+i)%t.limit])
	}
	return strings.Join(out, "\n")
}

// Contains reports whether any retained line contains substr, ignoring case.
func (t *LogTail) Contains(substr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	needle := strings.ToLower(substr)
	for i := 0; i < t.count; i++ {
		if strings.Contains(strings.ToLower(t.lines[(t.start+i)%t.limit]), needle) {
			return true
		}
	}
	return false
}

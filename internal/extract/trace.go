package extract

import (
	"fmt"
	"sync"
	"time"
)

// LogSink receives human-readable progress lines. It must not block.
type LogSink func(msg string)

// TraceEntry is one line of a Trace.
type TraceEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// String formats the entry as "15:04:05.000 message".
func (e TraceEntry) String() string {
	return fmt.Sprintf("%s %s", e.At.Format("15:04:05.000"), e.Message)
}

// Trace is an append-only, timestamped log safe for concurrent use.
type Trace struct {
	mu      sync.RWMutex
	entries []TraceEntry
	now     func() time.Time
}

// NewTrace creates an empty Trace.
func NewTrace() *Trace {
	return &Trace{now: time.Now}
}

// Append records msg with the current time.
func (t *Trace) Append(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TraceEntry{At: t.now(), Message: msg})
}

// Sink returns a LogSink that appends to t.
func (t *Trace) Sink() LogSink {
	return t.Append
}

// Len returns the number of recorded entries.
func (t *Trace) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Entries returns a copy of all entries.
func (t *Trace) Entries() []TraceEntry {
	return t.Since(0)
}

// Since returns a copy of the entries from index n onwards.
func (t *Trace) Since(n int) []TraceEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n >= len(t.entries) {
		return nil
	}
	out := make([]TraceEntry, len(t.entries)-n)
	copy(out, t.entries[n:])
	return out
}

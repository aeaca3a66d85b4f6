package ui

import (
	"sync"
	"time"
)

// DefaultMaxLines bounds the transcript when no limit is configured
const DefaultMaxLines = 1000

// Line is one rendered transcript entry
type Line struct {
	Text string    `json:"text"`
	Tag  string    `json:"tag"`
	Time time.Time `json:"time"`
}

// History keeps the most recent transcript lines in a fixed-capacity ring so
// late-joining renderers can replay the visible conversation. Safe for
// concurrent use.
type History struct {
	mu       sync.Mutex
	lines    []Line
	capacity int
}

// NewHistory creates a history bounded to capacity lines
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultMaxLines
	}
	return &History{
		capacity: capacity,
	}
}

// Append adds a line, evicting the oldest when full
func (h *History) Append(line Line) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.lines) == h.capacity {
		copy(h.lines, h.lines[1:])
		h.lines[len(h.lines)-1] = line
		return
	}
	h.lines = append(h.lines, line)
}

// ReplaceLast overwrites the most recent line when it is an ephemeral
// partial, so live transcription feedback does not pile up. Anything else
// is appended normally.
func (h *History) ReplaceLast(line Line) {
	h.mu.Lock()
	if n := len(h.lines); n > 0 && h.lines[n-1].Tag == TagPartial {
		h.lines[n-1] = line
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.Append(line)
}

// Lines returns a copy of the transcript, oldest first
func (h *History) Lines() []Line {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Line, len(h.lines))
	copy(out, h.lines)
	return out
}

// Len returns the current number of lines
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lines)
}

package logs

import (
	"strings"
	"sync"
)

// Ring keeps the most recent formatted log lines for the operator view.
// When full the oldest line is overwritten.
type Ring struct {
	mu    sync.RWMutex
	lines []string
	next  int
	full  bool
}

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{lines: make([]string, capacity)}
}

func (r *Ring) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")

	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines[r.next] = msg
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
	return len(p), nil
}

// Lines returns the buffered lines, oldest first.
func (r *Ring) Lines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full {
		out := make([]string, r.next)
		copy(out, r.lines[:r.next])
		return out
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	out = append(out, r.lines[:r.next]...)
	return out
}

func (r *Ring) Cap() int {
	return len(r.lines)
}

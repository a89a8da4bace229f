// SPDX-License-Identifier: MIT

// Package linering keeps the last lines of subprocess stderr for error
// reporting.
package linering

import (
	"strings"
	"sync"
)

// Ring is a thread-safe ring buffer keeping the last N lines of
// subprocess stderr for error reporting.
type Ring struct {
	mu    sync.RWMutex
	lines []string
	head  int
	size  int
}

// NewRing creates a Ring with the specified capacity.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 50
	}
	return &Ring{
		lines: make([]string, capacity),
		size:  capacity,
	}
}

// Write implements io.Writer over line-oriented input.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		r.lines[r.head] = line
		r.head = (r.head + 1) % r.size
	}
	return len(p), nil
}

// LastN returns the last n lines in chronological order.
func (r *Ring) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n > r.size {
		n = r.size
	}
	ordered := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.size
		if r.lines[idx] != "" {
			ordered = append(ordered, r.lines[idx])
		}
	}
	if len(ordered) <= n {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// SPDX-License-Identifier: MIT

package coordinator

import (
	"io"
	"sync"
	"time"
)

// JobState is the lifecycle of one cache job. Fetching and transcoding
// overlap via streaming; the states mark the frontier of the pipeline.
type JobState string

const (
	JobFetching    JobState = "FETCHING"
	JobTranscoding JobState = "TRANSCODING"
	JobUploading   JobState = "UPLOADING"
	JobCompleted   JobState = "COMPLETED"
	JobFailed      JobState = "FAILED"
)

// IsTerminal returns true if the state is a final state.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// job is the ephemeral, process-local unit of work for one content id.
// At most one job exists per content id; the registry enforces it.
// Fields are guarded by the coordinator's registry mutex.
type job struct {
	id         string // correlation id for logs
	contentID  string
	storageKey string
	startedAt  time.Time
	state      JobState
	lastErr    string // retained after failure until observed once
}

// liveStream hands the initiating caller a reader over the live encoded
// stream before the pipeline has produced it. Read blocks until the pipeline
// attaches the fork subscription or fails.
type liveStream struct {
	mu     sync.Mutex
	ready  chan struct{}
	once   sync.Once
	r      io.ReadCloser
	err    error
	closed bool
}

func newLiveStream() *liveStream {
	return &liveStream{ready: make(chan struct{})}
}

func (l *liveStream) signalReady() {
	l.once.Do(func() { close(l.ready) })
}

// attach hands the fork subscription to the waiting reader. If the caller
// already went away the subscription is closed so the fork stops queueing.
func (l *liveStream) attach(r io.ReadCloser) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = r.Close()
		return
	}
	l.r = r
	l.mu.Unlock()
	l.signalReady()
}

// fail resolves the pending reader with a terminal error.
func (l *liveStream) fail(err error) {
	l.mu.Lock()
	if l.r == nil && l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
	l.signalReady()
}

func (l *liveStream) Read(p []byte) (int, error) {
	<-l.ready
	l.mu.Lock()
	r, err, closed := l.r, l.err, l.closed
	l.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	if err != nil {
		return 0, err
	}
	return r.Read(p)
}

func (l *liveStream) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	r := l.r
	l.mu.Unlock()
	// Unblock pending reads when no subscription ever arrived.
	l.signalReady()
	if r != nil {
		return r.Close()
	}
	return nil
}

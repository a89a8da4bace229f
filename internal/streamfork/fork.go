// SPDX-License-Identifier: MIT

// Package streamfork duplicates one byte stream into independent consumers.
// Every subscriber observes the identical byte sequence in source order;
// a slow or closed subscriber never stalls or truncates the others.
package streamfork

import (
	"errors"
	"io"
	"sync"
)

var (
	// ErrClosed is returned from Read after the subscriber closed itself.
	ErrClosed = errors.New("streamfork: subscriber closed")

	// ErrSlowReader is returned when a bounded subscriber exceeded its lag
	// limit and was dropped.
	ErrSlowReader = errors.New("streamfork: subscriber dropped after exceeding lag limit")

	errAlreadyStarted = errors.New("streamfork: subscribe after start")
)

const readChunkSize = 32 * 1024

// Fork reads a source stream once and replays it to all subscribers.
type Fork struct {
	src io.Reader

	// OnDrop is invoked once per subscriber dropped for lagging.
	OnDrop func()

	mu      sync.Mutex
	subs    []*Reader
	started bool
}

// New creates a Fork over src. Subscribers must attach before Run is called.
func New(src io.Reader) *Fork {
	return &Fork{src: src}
}

// Subscribe attaches a new consumer. maxLag bounds the bytes the consumer may
// fall behind the source; 0 means unbounded. A bounded consumer that exceeds
// its limit is dropped with ErrSlowReader.
func (f *Fork) Subscribe(maxLag int) (*Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil, errAlreadyStarted
	}
	r := &Reader{limit: maxLag}
	r.cond = sync.NewCond(&r.mu)
	f.subs = append(f.subs, r)
	return r, nil
}

// Run pumps the source to all subscribers until EOF or a source error and
// returns the source error (nil on clean EOF). It blocks; callers run it in
// its own goroutine.
func (f *Fork) Run() error {
	f.mu.Lock()
	f.started = true
	subs := f.subs
	f.mu.Unlock()

	buf := make([]byte, readChunkSize)
	for {
		n, err := f.src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			for _, s := range subs {
				if dropped := s.push(chunk); dropped && f.OnDrop != nil {
					f.OnDrop()
				}
			}
		}
		if err != nil {
			final := err
			if errors.Is(err, io.EOF) {
				final = io.EOF
			}
			for _, s := range subs {
				s.finish(final)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Reader is one independent consumer of a Fork.
type Reader struct {
	mu   sync.Mutex
	cond *sync.Cond

	chunks [][]byte // queued, oldest first
	offset int      // read offset into chunks[0]
	queued int      // total queued bytes

	limit  int
	closed bool
	err    error // terminal state once the queue drains
}

// push appends a chunk for this subscriber. Reports whether the subscriber
// was dropped for lagging on this push.
func (r *Reader) push(chunk []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.err != nil {
		return false
	}
	r.chunks = append(r.chunks, chunk)
	r.queued += len(chunk)
	if r.limit > 0 && r.queued > r.limit {
		r.chunks = nil
		r.offset = 0
		r.queued = 0
		r.err = ErrSlowReader
		r.cond.Broadcast()
		return true
	}
	r.cond.Broadcast()
	return false
}

// finish records the terminal source state. Buffered bytes remain readable;
// the error surfaces once the queue drains.
func (r *Reader) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.err != nil {
		return
	}
	r.err = err
	r.cond.Broadcast()
}

// Read implements io.Reader. Bytes arrive strictly in source order.
func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if r.closed {
			return 0, ErrClosed
		}
		if len(r.chunks) > 0 {
			head := r.chunks[0]
			n := copy(p, head[r.offset:])
			r.offset += n
			r.queued -= n
			if r.offset == len(head) {
				r.chunks = r.chunks[1:]
				r.offset = 0
			}
			return n, nil
		}
		if r.err != nil {
			return 0, r.err
		}
		r.cond.Wait()
	}
}

// Close detaches the subscriber. The fork stops queueing for it; other
// subscribers are unaffected.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.chunks = nil
	r.offset = 0
	r.queued = 0
	r.cond.Broadcast()
	return nil
}

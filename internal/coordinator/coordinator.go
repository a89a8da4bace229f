// SPDX-License-Identifier: MIT

// Package coordinator decides cache hit vs. miss for a content id and
// collapses concurrent misses for the same id into a single
// fetch/transcode/upload job. The job registry is the only shared mutable
// state; insert-if-absent is one atomic critical section.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/tunecache/internal/cache"
	"github.com/ManuGH/tunecache/internal/log"
	"github.com/ManuGH/tunecache/internal/metrics"
	"github.com/ManuGH/tunecache/internal/origin"
	"github.com/ManuGH/tunecache/internal/store"
	"github.com/ManuGH/tunecache/internal/streamfork"
)

// liveMaxLag bounds how far the live tap may fall behind the cache writer
// before the listener is dropped. The cache write is never throttled by a
// slow client.
const liveMaxLag = 8 << 20

// metadataWait bounds how long job completion waits for the metadata lookup
// before degrading to placeholder metadata.
const metadataWait = 30 * time.Second

// Fetcher supplies the raw audio stream and the metadata lookup.
type Fetcher interface {
	Fetch(ctx context.Context, contentID string) (io.ReadCloser, error)
	Lookup(ctx context.Context, contentID string) (origin.Metadata, error)
}

// Encoder turns the raw stream into the normalized encoded stream.
type Encoder interface {
	Encode(ctx context.Context, raw io.Reader) (io.ReadCloser, error)
}

// Store is the durable side the coordinator talks to.
type Store interface {
	Exists(key string) bool
	Write(ctx context.Context, key string, r io.Reader) (int64, error)
	Locator(key string, ttl time.Duration) (string, error)
	Track(contentID string) (store.TrackRecord, bool)
	PutTrack(rec store.TrackRecord) error
}

// ResolutionKind classifies the outcome of a resolve call.
type ResolutionKind string

const (
	Hit            ResolutionKind = "hit"
	MissStarted    ResolutionKind = "miss_started"
	MissInProgress ResolutionKind = "miss_in_progress"
	MissFailed     ResolutionKind = "miss_failed"
)

// Resolution is the answer to a playback request.
type Resolution struct {
	Kind       ResolutionKind
	ContentID  string
	StorageKey string

	// Hit only.
	Locator string
	Track   store.TrackRecord

	// MissFailed only: the retained job error, observed exactly once.
	Err string

	// MissStarted with ResolveOptions.Attach only: the live encoded
	// stream for this caller. Closing it never affects the cache write.
	Live io.ReadCloser
}

// ResolveOptions modify a single resolve call.
type ResolveOptions struct {
	// Attach requests a live tap on the new job's encoded stream when this
	// call starts one.
	Attach bool
}

// Options configure a Coordinator.
type Options struct {
	LocatorTTL        time.Duration
	Locators          cache.LocatorCache // nil disables locator caching
	CacheTTL          time.Duration      // locator cache entry lifetime; 0 = LocatorTTL
	MaxConcurrentJobs int                // 0 = unlimited
	JobTimeout        time.Duration      // 0 = none
}

// Coordinator owns the job registry and the cache-miss pipeline.
type Coordinator struct {
	fetcher Fetcher
	encoder Encoder
	store   Store

	locators   cache.LocatorCache
	locatorTTL time.Duration
	cacheTTL   time.Duration
	jobTimeout time.Duration
	sem        *semaphore.Weighted // nil = unlimited

	logger zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*job

	wg sync.WaitGroup // running pipelines, for clean shutdown
}

// New creates a Coordinator.
func New(f Fetcher, e Encoder, s Store, opts Options) *Coordinator {
	if opts.LocatorTTL <= 0 {
		opts.LocatorTTL = 15 * time.Minute
	}
	if opts.CacheTTL <= 0 || opts.CacheTTL > opts.LocatorTTL {
		// A cache entry must never outlive the locator it holds.
		opts.CacheTTL = opts.LocatorTTL
	}
	locators := opts.Locators
	if locators == nil {
		locators = cache.NewNoOp()
	}
	var sem *semaphore.Weighted
	if opts.MaxConcurrentJobs > 0 {
		sem = semaphore.NewWeighted(int64(opts.MaxConcurrentJobs))
	}
	return &Coordinator{
		fetcher:    f,
		encoder:    e,
		store:      s,
		locators:   locators,
		locatorTTL: opts.LocatorTTL,
		cacheTTL:   opts.CacheTTL,
		jobTimeout: opts.JobTimeout,
		sem:        sem,
		logger:     log.WithComponent("coordinator"),
		jobs:       make(map[string]*job),
	}
}

// Resolve answers a playback request for contentID. On a miss with no
// running job it registers one and launches the pipeline in the background.
func (c *Coordinator) Resolve(ctx context.Context, contentID string, opts ResolveOptions) Resolution {
	// Step 1: a track record whose object still exists is a hit. The
	// object check guards against records outliving external deletion.
	if rec, ok := c.store.Track(contentID); ok && c.store.Exists(rec.StorageKey) {
		return c.hit(ctx, contentID, rec.StorageKey, rec)
	}

	// Step 2: an object under the canonical key without a record is still
	// a hit (the record write may have been lost).
	defaultKey := store.DefaultKey(contentID)
	if c.store.Exists(defaultKey) {
		rec, _ := c.store.Track(contentID)
		return c.hit(ctx, contentID, defaultKey, rec)
	}

	// Step 3: atomic insert-if-absent on the job registry.
	c.mu.Lock()
	if j, ok := c.jobs[contentID]; ok {
		if j.state == JobFailed {
			// Failure is observed exactly once; the next call starts
			// a fresh job.
			delete(c.jobs, contentID)
			errMsg := j.lastErr
			c.mu.Unlock()
			metrics.ResolveTotal.WithLabelValues(string(MissFailed)).Inc()
			return Resolution{Kind: MissFailed, ContentID: contentID, StorageKey: j.storageKey, Err: errMsg}
		}
		c.mu.Unlock()
		metrics.ResolveTotal.WithLabelValues(string(MissInProgress)).Inc()
		return Resolution{Kind: MissInProgress, ContentID: contentID, StorageKey: j.storageKey}
	}

	j := &job{
		id:         uuid.NewString(),
		contentID:  contentID,
		storageKey: defaultKey,
		startedAt:  time.Now(),
		state:      JobFetching,
	}
	c.jobs[contentID] = j

	var live *liveStream
	if opts.Attach {
		live = newLiveStream()
	}
	c.wg.Add(1)
	go c.runJob(j, live)
	c.mu.Unlock()

	metrics.ResolveTotal.WithLabelValues(string(MissStarted)).Inc()
	res := Resolution{Kind: MissStarted, ContentID: contentID, StorageKey: defaultKey}
	if live != nil {
		res.Live = live
	}
	return res
}

// JobStatus reports the state of a running or failed job, if any.
func (c *Coordinator) JobStatus(contentID string) (JobState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[contentID]
	if !ok {
		return "", false
	}
	return j.state, true
}

// Wait blocks until all running pipelines finished. For shutdown and tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) hit(_ context.Context, contentID, key string, rec store.TrackRecord) Resolution {
	if loc, ok := c.locators.Get(key); ok {
		metrics.ResolveTotal.WithLabelValues(string(Hit)).Inc()
		return Resolution{Kind: Hit, ContentID: contentID, StorageKey: key, Locator: loc.URL, Track: rec}
	}
	loc, err := c.store.Locator(key, c.locatorTTL)
	if err != nil {
		// The object vanished between the existence check and signing.
		// Surface as a transient in-progress miss so the caller retries.
		c.logger.Warn().Err(err).Str("content_id", contentID).Msg("locator issue failed after hit")
		metrics.ResolveTotal.WithLabelValues(string(MissInProgress)).Inc()
		return Resolution{Kind: MissInProgress, ContentID: contentID, StorageKey: key}
	}
	c.locators.Set(key, cache.Locator{URL: loc, ExpiresAt: time.Now().Add(c.locatorTTL)}, c.cacheTTL)
	metrics.ResolveTotal.WithLabelValues(string(Hit)).Inc()
	return Resolution{Kind: Hit, ContentID: contentID, StorageKey: key, Locator: loc, Track: rec}
}

func (c *Coordinator) setState(j *job, state JobState) {
	c.mu.Lock()
	j.state = state
	c.mu.Unlock()
}

// failJob records the error on the registry entry. The entry stays until the
// next resolve call observes it.
func (c *Coordinator) failJob(j *job, live *liveStream, err error) {
	c.mu.Lock()
	j.state = JobFailed
	j.lastErr = err.Error()
	c.mu.Unlock()

	if live != nil {
		live.fail(err)
	}
	metrics.JobTotal.WithLabelValues("failed").Inc()
	logger := log.WithContext(log.ContextWithJobID(context.Background(), j.id), "coordinator")
	logger.Error().Err(err).Str("content_id", j.contentID).Str("state", string(JobFailed)).
		Msg("cache job failed")
}

// runJob executes the fetch → transcode → fork → upload pipeline for j. It
// runs on a context detached from the initiating request: a disconnected
// client never aborts the cache write.
func (c *Coordinator) runJob(j *job, live *liveStream) {
	defer c.wg.Done()

	ctx := log.ContextWithJobID(context.Background(), j.id)
	logger := log.WithContext(ctx, "coordinator")
	if c.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.jobTimeout)
		defer cancel()
	}

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			c.failJob(j, live, fmt.Errorf("acquire job slot: %w", err))
			return
		}
		defer c.sem.Release(1)
	}

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()
	logger.Info().Str("content_id", j.contentID).Str("storage_key", j.storageKey).Msg("cache job started")

	raw, err := c.fetcher.Fetch(ctx, j.contentID)
	if err != nil {
		c.failJob(j, live, fmt.Errorf("origin fetch: %w", err))
		return
	}
	// Closing the raw stream kills a still-running fetch subprocess when
	// the pipeline fails downstream.
	defer func() { _ = raw.Close() }()

	metaCh := make(chan origin.Metadata, 1)
	go func() {
		meta, lookupErr := c.fetcher.Lookup(ctx, j.contentID)
		if lookupErr != nil {
			// Non-fatal: playback proceeds with placeholder metadata.
			logger.Warn().Err(lookupErr).Str("content_id", j.contentID).Msg("metadata lookup failed")
			metaCh <- origin.Metadata{}
			return
		}
		metaCh <- meta
	}()

	c.setState(j, JobTranscoding)
	encoded, err := c.encoder.Encode(ctx, raw)
	if err != nil {
		c.failJob(j, live, fmt.Errorf("transcode: %w", err))
		return
	}
	defer func() { _ = encoded.Close() }()

	fork := streamfork.New(encoded)
	fork.OnDrop = func() {
		metrics.LiveListenerDropTotal.Inc()
		logger.Warn().Str("content_id", j.contentID).Msg("live listener dropped for lagging")
	}
	cacheSub, err := fork.Subscribe(0)
	if err != nil {
		c.failJob(j, live, err)
		return
	}
	if live != nil {
		liveSub, subErr := fork.Subscribe(liveMaxLag)
		if subErr != nil {
			c.failJob(j, live, subErr)
			return
		}
		live.attach(liveSub)
	}

	pumpErr := make(chan error, 1)
	go func() { pumpErr <- fork.Run() }()

	c.setState(j, JobUploading)
	n, writeErr := c.store.Write(ctx, j.storageKey, cacheSub)
	srcErr := <-pumpErr

	if writeErr != nil {
		// The write error carries the root cause when the encoded
		// stream itself failed; srcErr only adds detail.
		if srcErr != nil {
			c.failJob(j, live, fmt.Errorf("pipeline: %w", srcErr))
		} else {
			c.failJob(j, live, fmt.Errorf("upload: %w", writeErr))
		}
		return
	}
	if srcErr != nil {
		// Defensive: a clean upload implies a clean source.
		c.failJob(j, live, fmt.Errorf("pipeline: %w", srcErr))
		return
	}

	metrics.UploadBytesTotal.Add(float64(n))

	meta := c.awaitMetadata(metaCh)
	rec := c.buildRecord(j, meta)
	if err := c.store.PutTrack(rec); err != nil {
		c.failJob(j, live, fmt.Errorf("write track record: %w", err))
		return
	}

	c.mu.Lock()
	j.state = JobCompleted
	delete(c.jobs, j.contentID)
	c.mu.Unlock()

	metrics.JobTotal.WithLabelValues("completed").Inc()
	logger.Info().
		Str("content_id", j.contentID).
		Str("storage_key", j.storageKey).
		Int64("bytes", n).
		Dur("elapsed", time.Since(j.startedAt)).
		Msg("cache job completed")
}

func (c *Coordinator) awaitMetadata(metaCh <-chan origin.Metadata) origin.Metadata {
	select {
	case meta := <-metaCh:
		return meta
	case <-time.After(metadataWait):
		return origin.Metadata{}
	}
}

// buildRecord assembles the track record, degrading to placeholder metadata
// when the lookup failed and preserving richer fields from an existing
// record when re-caching.
func (c *Coordinator) buildRecord(j *job, meta origin.Metadata) store.TrackRecord {
	now := time.Now().UTC()
	rec := store.TrackRecord{
		ContentID:       j.contentID,
		StorageKey:      j.storageKey,
		Title:           meta.Title,
		Author:          meta.Author,
		DurationSeconds: meta.DurationSeconds,
		ThumbnailURL:    meta.ThumbnailURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if prev, ok := c.store.Track(j.contentID); ok {
		rec.CreatedAt = prev.CreatedAt
		if rec.Title == "" {
			rec.Title = prev.Title
		}
		if rec.Author == "" {
			rec.Author = prev.Author
		}
		if rec.ThumbnailURL == "" {
			rec.ThumbnailURL = prev.ThumbnailURL
		}
		if rec.DurationSeconds == 0 {
			rec.DurationSeconds = prev.DurationSeconds
		}
	}
	if rec.Title == "" {
		rec.Title = j.contentID
	}
	if rec.Author == "" {
		rec.Author = "Unknown"
	}
	return rec
}

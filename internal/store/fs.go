// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tunecache/internal/log"
)

const (
	objectsDir = "objects"
	tracksDoc  = "tracks.json"
	groupsDoc  = "groups.json"
)

// FS is a filesystem-backed Store rooted at a data directory. Objects live
// under objects/<key>; the track and group indexes are each one JSON document
// replaced atomically as a whole on every mutation.
type FS struct {
	root   string
	secret []byte
	logger zerolog.Logger

	mu     sync.RWMutex
	tracks map[string]TrackRecord
	groups map[string]Group
}

// NewFS opens (or initialises) the store at root. secret signs access
// locators and must be stable across restarts for issued locators to
// survive them.
func NewFS(root string, secret []byte) (*FS, error) {
	if err := os.MkdirAll(filepath.Join(root, objectsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create object directory: %w", err)
	}

	s := &FS{
		root:   root,
		secret: secret,
		logger: log.WithComponent("store"),
		tracks: make(map[string]TrackRecord),
		groups: make(map[string]Group),
	}
	if err := loadDoc(filepath.Join(root, tracksDoc), &s.tracks); err != nil {
		return nil, fmt.Errorf("load track index: %w", err)
	}
	if err := loadDoc(filepath.Join(root, groupsDoc), &s.groups); err != nil {
		return nil, fmt.Errorf("load group index: %w", err)
	}
	s.logger.Info().Str("root", root).Int("tracks", len(s.tracks)).Int("groups", len(s.groups)).
		Msg("durable store opened")
	return s, nil
}

func loadDoc(path string, into any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path is store-internal
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, into)
}

func (s *FS) objectPath(key string) string {
	return filepath.Join(s.root, objectsDir, sanitizeKey(key))
}

// Exists reports whether a complete object is stored under key.
func (s *FS) Exists(key string) bool {
	fi, err := os.Stat(s.objectPath(key))
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

// Write streams r into the object under key. The bytes go to a pending file
// that is fsynced and renamed into place only after the stream ends cleanly,
// so Exists never reports an in-progress write.
func (s *FS) Write(ctx context.Context, key string, r io.Reader) (int64, error) {
	pending, err := renameio.NewPendingFile(s.objectPath(key))
	if err != nil {
		return 0, fmt.Errorf("create pending object: %w", err)
	}
	defer func() {
		if cleanupErr := pending.Cleanup(); cleanupErr != nil {
			s.logger.Debug().Err(cleanupErr).Str("key", key).Msg("cleanup pending object")
		}
	}()

	n, err := io.Copy(pending, contextReader{ctx: ctx, r: r})
	if err != nil {
		return n, fmt.Errorf("write object %s: %w", key, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return n, fmt.Errorf("publish object %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Int64("bytes", n).Msg("object published")
	return n, nil
}

// Open returns the stored object under key and its modification time.
func (s *FS) Open(key string) (Object, time.Time, error) {
	path := s.objectPath(key)
	fi, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	f, err := os.Open(path) // #nosec G304 -- path is store-internal
	if err != nil {
		return nil, time.Time{}, err
	}
	return f, fi.ModTime(), nil
}

// Delete removes the object under key.
func (s *FS) Delete(key string) error {
	err := os.Remove(s.objectPath(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Track returns the record for contentID, if any.
func (s *FS) Track(contentID string) (TrackRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tracks[contentID]
	return rec, ok
}

// PutTrack inserts or replaces the record and rewrites the index document.
func (s *FS) PutTrack(rec TrackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[rec.ContentID] = rec
	return s.persistTracks()
}

// Tracks returns all records ordered by content id.
func (s *FS) Tracks() []TrackRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TrackRecord, 0, len(s.tracks))
	for _, rec := range s.tracks {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentID < out[j].ContentID })
	return out
}

// DeleteTrack removes the record for contentID and rewrites the index.
func (s *FS) DeleteTrack(contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tracks[contentID]; !ok {
		return nil
	}
	delete(s.tracks, contentID)
	return s.persistTracks()
}

// Groups returns all groups ordered by id.
func (s *FS) Groups() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Group returns the group with the given id, if any.
func (s *FS) Group(id string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	return g, ok
}

// PutGroup inserts or replaces a group and rewrites the group document.
func (s *FS) PutGroup(g Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
	return s.persistGroups()
}

// DeleteGroup removes a group and rewrites the group document.
func (s *FS) DeleteGroup(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return nil
	}
	delete(s.groups, id)
	return s.persistGroups()
}

// persistTracks rewrites the whole track index atomically. Caller holds mu.
func (s *FS) persistTracks() error {
	return writeDoc(filepath.Join(s.root, tracksDoc), s.tracks)
}

// persistGroups rewrites the whole group document atomically. Caller holds mu.
func (s *FS) persistGroups() error {
	return writeDoc(filepath.Join(s.root, groupsDoc), s.groups)
}

func writeDoc(path string, doc any) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending document: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}

// contextReader aborts a long-running copy when ctx is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

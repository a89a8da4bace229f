// SPDX-License-Identifier: MIT

// Package store implements the durable side of the cache: an object store
// for encoded audio plus a JSON-document metadata index. Objects are
// published atomically; a half-written object is never observable.
package store

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// TrackRecord describes one successfully cached content id.
type TrackRecord struct {
	ContentID       string    `json:"contentId"`
	StorageKey      string    `json:"storageKey"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	DurationSeconds int       `json:"durationSeconds,omitempty"`
	ThumbnailURL    string    `json:"thumbnailUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Group is an ordered, named list of content ids.
type Group struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ContentIDs []string  `json:"contentIds"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Object is a readable stored object; ModTime feeds HTTP range serving.
type Object interface {
	io.ReadSeekCloser
}

// Store is the durable collaborator of the cache coordinator.
type Store interface {
	// Exists reports whether a fully written object is stored under key.
	Exists(key string) bool
	// Write streams r into the object under key. Nothing is observable
	// under key until the whole stream flushed; on error no object appears.
	Write(ctx context.Context, key string, r io.Reader) (int64, error)
	// Open returns the stored object and its modification time.
	Open(key string) (Object, time.Time, error)
	// Delete removes the object under key. Missing objects are not an error.
	Delete(key string) error

	// Locator issues a time-limited, signed access path for key.
	Locator(key string, ttl time.Duration) (string, error)
	// VerifyLocator checks a locator's expiry and signature.
	VerifyLocator(key, exp, sig string) error

	Track(contentID string) (TrackRecord, bool)
	PutTrack(rec TrackRecord) error
	Tracks() []TrackRecord
	DeleteTrack(contentID string) error

	Groups() []Group
	Group(id string) (Group, bool)
	PutGroup(g Group) error
	DeleteGroup(id string) error
}

// DefaultKey derives the canonical storage key for a content id. Stable:
// the same id always maps to the same key.
func DefaultKey(contentID string) string {
	return sanitizeKey(contentID) + ".mp3"
}

func sanitizeKey(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "_")
	// Reject traversal rather than trying to repair it.
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		s = "unknown"
	}
	return filepath.Base(s)
}

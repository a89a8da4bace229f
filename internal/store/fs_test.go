// SPDX-License-Identifier: MIT

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	s, err := NewFS(t.TempDir(), []byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestWriteThenExistsAndOpen(t *testing.T) {
	s := newTestFS(t)
	payload := []byte("encoded audio bytes")

	assert.False(t, s.Exists("a.mp3"))

	n, err := s.Write(context.Background(), "a.mp3", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.True(t, s.Exists("a.mp3"))

	obj, modTime, err := s.Open("a.mp3")
	require.NoError(t, err)
	defer obj.Close()
	got, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.WithinDuration(t, time.Now(), modTime, time.Minute)
}

// failingReader streams some bytes and then fails, like a transcode pipe
// whose producer died.
type failingReader struct {
	data []byte
	err  error
	off  int
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.off < len(f.data) {
		n := copy(p, f.data[f.off:])
		f.off += n
		return n, nil
	}
	return 0, f.err
}

func TestFailedWritePublishesNothing(t *testing.T) {
	s := newTestFS(t)
	srcErr := errors.New("pipeline failed")

	_, err := s.Write(context.Background(), "a.mp3", &failingReader{data: []byte("partial"), err: srcErr})
	require.ErrorIs(t, err, srcErr)

	assert.False(t, s.Exists("a.mp3"), "partial object must not be observable")
	_, _, err = s.Open("a.mp3")
	assert.Error(t, err)
}

// blockingReader lets the test observe store state while a write is in
// progress.
type blockingReader struct {
	release chan struct{}
	sent    bool
}

func (b *blockingReader) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, []byte("head")), nil
	}
	<-b.release
	return 0, io.EOF
}

func TestInProgressWriteNotObservable(t *testing.T) {
	s := newTestFS(t)
	br := &blockingReader{release: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		_, err := s.Write(context.Background(), "a.mp3", br)
		done <- err
	}()

	// Give the writer time to stage the head of the stream.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, s.Exists("a.mp3"), "in-progress write must not be observable")

	close(br.release)
	require.NoError(t, <-done)
	assert.True(t, s.Exists("a.mp3"))
}

func TestWriteCancelledContext(t *testing.T) {
	s := newTestFS(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Write(ctx, "a.mp3", strings.NewReader("data"))
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.Exists("a.mp3"))
}

func TestDelete(t *testing.T) {
	s := newTestFS(t)
	_, err := s.Write(context.Background(), "a.mp3", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, s.Delete("a.mp3"))
	assert.False(t, s.Exists("a.mp3"))
	// Deleting a missing object is fine.
	assert.NoError(t, s.Delete("a.mp3"))
}

func TestLocatorRoundTrip(t *testing.T) {
	s := newTestFS(t)
	_, err := s.Write(context.Background(), "a.mp3", strings.NewReader("x"))
	require.NoError(t, err)

	loc, err := s.Locator("a.mp3", time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(loc)
	require.NoError(t, err)
	assert.Equal(t, "/object/a.mp3", u.Path)

	exp := u.Query().Get("exp")
	sig := u.Query().Get("sig")
	assert.NoError(t, s.VerifyLocator("a.mp3", exp, sig))

	// Tampered signature and wrong key are both rejected.
	assert.ErrorIs(t, s.VerifyLocator("a.mp3", exp, sig+"00"), ErrLocatorSignature)
	assert.ErrorIs(t, s.VerifyLocator("b.mp3", exp, sig), ErrLocatorSignature)
}

func TestLocatorExpiry(t *testing.T) {
	s := newTestFS(t)
	_, err := s.Write(context.Background(), "a.mp3", strings.NewReader("x"))
	require.NoError(t, err)

	loc, err := s.Locator("a.mp3", -time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(loc)
	require.NoError(t, err)

	err = s.VerifyLocator("a.mp3", u.Query().Get("exp"), u.Query().Get("sig"))
	assert.ErrorIs(t, err, ErrLocatorExpired)
}

func TestLocatorRequiresObject(t *testing.T) {
	s := newTestFS(t)
	_, err := s.Locator("missing.mp3", time.Minute)
	assert.Error(t, err)
}

func TestTrackIndexPersistence(t *testing.T) {
	root := t.TempDir()
	s, err := NewFS(root, []byte("k"))
	require.NoError(t, err)

	rec := TrackRecord{
		ContentID:  "dQw4w9WgXcQ",
		StorageKey: "dQw4w9WgXcQ.mp3",
		Title:      "Never Gonna Give You Up",
		Author:     "Rick Astley",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.PutTrack(rec))

	got, ok := s.Track("dQw4w9WgXcQ")
	require.True(t, ok)
	assert.Equal(t, rec.Title, got.Title)

	// The index is one JSON document holding every record.
	data, err := os.ReadFile(filepath.Join(root, tracksDoc))
	require.NoError(t, err)
	var doc map[string]TrackRecord
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc, 1)

	// A fresh store instance sees the persisted index.
	s2, err := NewFS(root, []byte("k"))
	require.NoError(t, err)
	got, ok = s2.Track("dQw4w9WgXcQ")
	require.True(t, ok)
	assert.Equal(t, "Rick Astley", got.Author)

	require.NoError(t, s2.DeleteTrack("dQw4w9WgXcQ"))
	_, ok = s2.Track("dQw4w9WgXcQ")
	assert.False(t, ok)
}

func TestGroupCRUD(t *testing.T) {
	s := newTestFS(t)

	g := Group{ID: "g1", Name: "road trip", ContentIDs: []string{"aaaaaaaaaaa", "bbbbbbbbbbb"}}
	require.NoError(t, s.PutGroup(g))

	got, ok := s.Group("g1")
	require.True(t, ok)
	assert.Equal(t, []string{"aaaaaaaaaaa", "bbbbbbbbbbb"}, got.ContentIDs)
	assert.Len(t, s.Groups(), 1)

	g.Name = "renamed"
	require.NoError(t, s.PutGroup(g))
	got, _ = s.Group("g1")
	assert.Equal(t, "renamed", got.Name)

	require.NoError(t, s.DeleteGroup("g1"))
	assert.Empty(t, s.Groups())
}

func TestDefaultKey(t *testing.T) {
	assert.Equal(t, "dQw4w9WgXcQ.mp3", DefaultKey("dQw4w9WgXcQ"))
	// Hostile ids cannot escape the object directory.
	assert.NotContains(t, DefaultKey("../../etc/passwd"), "..")
	assert.NotContains(t, DefaultKey("a/b"), "/")
}

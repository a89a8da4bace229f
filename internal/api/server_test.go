// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tunecache/internal/coordinator"
	"github.com/ManuGH/tunecache/internal/store"
)

type fakeResolver struct {
	fn func(ctx context.Context, contentID string, opts coordinator.ResolveOptions) coordinator.Resolution
}

func (f *fakeResolver) Resolve(ctx context.Context, contentID string, opts coordinator.ResolveOptions) coordinator.Resolution {
	return f.fn(ctx, contentID, opts)
}

func staticResolver(res coordinator.Resolution) *fakeResolver {
	return &fakeResolver{fn: func(_ context.Context, _ string, _ coordinator.ResolveOptions) coordinator.Resolution {
		return res
	}}
}

func newTestStore(t *testing.T) *store.FS {
	t.Helper()
	st, err := store.NewFS(t.TempDir(), []byte("test-secret"))
	require.NoError(t, err)
	return st
}

func putObject(t *testing.T, st *store.FS, key string, data []byte) {
	t.Helper()
	_, err := st.Write(context.Background(), key, bytes.NewReader(data))
	require.NoError(t, err)
}

func doRequest(t *testing.T, router http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = "203.0.113.7:41000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStreamRejectsMalformedID(t *testing.T) {
	srv := New(newTestStore(t), staticResolver(coordinator.Resolution{}), Options{})
	rec := doRequest(t, srv.Router(), http.MethodGet, "/stream/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid content id")
}

func TestStreamHitServesCachedObject(t *testing.T) {
	st := newTestStore(t)
	payload := []byte("cached mp3 bytes")
	key := store.DefaultKey("dQw4w9WgXcQ")
	putObject(t, st, key, payload)

	srv := New(st, staticResolver(coordinator.Resolution{
		Kind:       coordinator.Hit,
		ContentID:  "dQw4w9WgXcQ",
		StorageKey: key,
	}), Options{})
	router := srv.Router()

	rec := doRequest(t, router, http.MethodGet, "/stream/dQw4w9WgXcQ", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))

	// Range requests are honored on the hit path.
	req := httptest.NewRequest(http.MethodGet, "/stream/dQw4w9WgXcQ", nil)
	req.RemoteAddr = "203.0.113.7:41000"
	req.Header.Set("Range", "bytes=0-5")
	rangeRec := httptest.NewRecorder()
	router.ServeHTTP(rangeRec, req)
	require.Equal(t, http.StatusPartialContent, rangeRec.Code)
	assert.Equal(t, payload[:6], rangeRec.Body.Bytes())
}

func TestStreamMissStartedStreamsLive(t *testing.T) {
	payload := []byte("live encoded audio")
	srv := New(newTestStore(t), staticResolver(coordinator.Resolution{
		Kind:       coordinator.MissStarted,
		ContentID:  "dQw4w9WgXcQ",
		StorageKey: store.DefaultKey("dQw4w9WgXcQ"),
		Live:       io.NopCloser(bytes.NewReader(payload)),
	}), Options{})

	rec := doRequest(t, srv.Router(), http.MethodGet, "/stream/dQw4w9WgXcQ", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, payload, rec.Body.Bytes())
}

func TestStreamMissInProgress(t *testing.T) {
	srv := New(newTestStore(t), staticResolver(coordinator.Resolution{
		Kind: coordinator.MissInProgress,
	}), Options{})

	rec := doRequest(t, srv.Router(), http.MethodGet, "/stream/dQw4w9WgXcQ", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["caching"])
}

func TestStreamMissFailed(t *testing.T) {
	srv := New(newTestStore(t), staticResolver(coordinator.Resolution{
		Kind: coordinator.MissFailed,
		Err:  "origin fetch: video unavailable",
	}), Options{})

	rec := doRequest(t, srv.Router(), http.MethodGet, "/stream/dQw4w9WgXcQ", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "video unavailable")
}

func TestObjectSignedLocator(t *testing.T) {
	st := newTestStore(t)
	payload := []byte("object payload")
	key := store.DefaultKey("dQw4w9WgXcQ")
	putObject(t, st, key, payload)

	srv := New(st, staticResolver(coordinator.Resolution{}), Options{})
	router := srv.Router()

	loc, err := st.Locator(key, time.Minute)
	require.NoError(t, err)

	rec := doRequest(t, router, http.MethodGet, loc, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())

	// Tampered signature.
	tampered := strings.Replace(loc, "sig=", "sig=00", 1)
	rec = doRequest(t, router, http.MethodGet, tampered, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Expired locator.
	expired, err := st.Locator(key, -time.Second)
	require.NoError(t, err)
	rec = doRequest(t, router, http.MethodGet, expired, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "locator expired")
}

func TestTrackListAndDelete(t *testing.T) {
	st := newTestStore(t)
	key := store.DefaultKey("dQw4w9WgXcQ")
	putObject(t, st, key, []byte("bytes"))
	require.NoError(t, st.PutTrack(store.TrackRecord{
		ContentID:  "dQw4w9WgXcQ",
		StorageKey: key,
		Title:      "Never Gonna Give You Up",
		Author:     "Rick Astley",
	}))

	srv := New(st, staticResolver(coordinator.Resolution{}), Options{})
	router := srv.Router()

	rec := doRequest(t, router, http.MethodGet, "/tracks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Tracks []store.TrackRecord `json:"tracks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Tracks, 1)
	assert.Equal(t, "Never Gonna Give You Up", listing.Tracks[0].Title)

	rec = doRequest(t, router, http.MethodDelete, "/tracks/dQw4w9WgXcQ", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, st.Exists(key))
	_, ok := st.Track("dQw4w9WgXcQ")
	assert.False(t, ok)

	rec = doRequest(t, router, http.MethodDelete, "/tracks/dQw4w9WgXcQ", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupLifecycle(t *testing.T) {
	st := newTestStore(t)
	srv := New(st, staticResolver(coordinator.Resolution{}), Options{})
	router := srv.Router()

	body := `{"name":"Road Trip","contentIds":["dQw4w9WgXcQ"]}`
	rec := doRequest(t, router, http.MethodPost, "/groups", strings.NewReader(body))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created store.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Road Trip", created.Name)
	assert.Equal(t, []string{"dQw4w9WgXcQ"}, created.ContentIDs)

	rec = doRequest(t, router, http.MethodGet, "/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Groups []store.Group `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Groups, 1)

	update := `{"name":"Road Trip 2","contentIds":[]}`
	rec = doRequest(t, router, http.MethodPut, "/groups/"+created.ID, strings.NewReader(update))
	require.Equal(t, http.StatusOK, rec.Code)
	var updated store.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Road Trip 2", updated.Name)
	assert.Empty(t, updated.ContentIDs)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt) || updated.UpdatedAt.Equal(updated.CreatedAt))

	rec = doRequest(t, router, http.MethodPut, "/groups/missing", strings.NewReader(update))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/groups", strings.NewReader(`{"name":"Bad","contentIds":["nope"]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/groups/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doRequest(t, router, http.MethodDelete, "/groups/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamRateLimit(t *testing.T) {
	srv := New(newTestStore(t), staticResolver(coordinator.Resolution{
		Kind: coordinator.MissInProgress,
	}), Options{RateLimitRPM: 2})
	router := srv.Router()

	for i := 0; i < 2; i++ {
		rec := doRequest(t, router, http.MethodGet, "/stream/dQw4w9WgXcQ", nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := doRequest(t, router, http.MethodGet, "/stream/dQw4w9WgXcQ", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Other routes are not limited.
	rec = doRequest(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	srv := New(newTestStore(t), staticResolver(coordinator.Resolution{}), Options{})
	router := srv.Router()

	rec := doRequest(t, router, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "fixed-id")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := New(newTestStore(t), staticResolver(coordinator.Resolution{}), Options{})
	rec := doRequest(t, srv.Router(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

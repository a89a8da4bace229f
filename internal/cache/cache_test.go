// SPDX-License-Identifier: MIT

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	c := NewMemory(0)

	loc := Locator{URL: "/object/a.mp3?exp=1&sig=x", ExpiresAt: time.Now().Add(time.Minute)}
	c.Set("a.mp3", loc, 5*time.Minute)

	got, ok := c.Get("a.mp3")
	require.True(t, ok)
	assert.Equal(t, loc.URL, got.URL)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestMemoryExpiration(t *testing.T) {
	c := NewMemory(0)
	c.Set("a.mp3", Locator{URL: "/object/a.mp3"}, 30*time.Millisecond)

	_, ok := c.Get("a.mp3")
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get("a.mp3")
	assert.False(t, ok, "expected entry to be expired")
}

func TestMemoryDelete(t *testing.T) {
	c := NewMemory(0)
	c.Set("a.mp3", Locator{URL: "/object/a.mp3"}, time.Minute)
	c.Delete("a.mp3")

	_, ok := c.Get("a.mp3")
	assert.False(t, ok)
}

func TestMemoryJanitor(t *testing.T) {
	c := NewMemory(20 * time.Millisecond)
	mc := c.(*memoryCache)
	defer mc.Stop()

	c.Set("a.mp3", Locator{URL: "/object/a.mp3"}, 10*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	mc.mu.RLock()
	size := len(mc.entries)
	mc.mu.RUnlock()
	assert.Zero(t, size, "janitor should have removed the expired entry")
}

func TestNoOp(t *testing.T) {
	c := NewNoOp()
	c.Set("a.mp3", Locator{URL: "x"}, time.Minute)
	_, ok := c.Get("a.mp3")
	assert.False(t, ok)
	c.Delete("a.mp3")
}

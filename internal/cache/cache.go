// SPDX-License-Identifier: MIT

// Package cache holds short-lived signed locators so repeated hits for the
// same storage key reuse one issued URL instead of re-signing and re-statting
// per request.
package cache

import (
	"sync"
	"time"
)

// Locator is one cached, signed access URL for a storage key.
type Locator struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LocatorCache is a TTL cache from storage key to issued locator.
type LocatorCache interface {
	// Get returns the cached locator. Expired or missing entries miss.
	Get(key string) (Locator, bool)
	// Set stores a locator until ttl elapses.
	Set(key string, loc Locator, ttl time.Duration)
	// Delete removes the locator for key, if any.
	Delete(key string)
}

type entry struct {
	loc        Locator
	expiration time.Time
}

// memoryCache is the in-process LocatorCache.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	janitor *janitor
}

// NewMemory creates an in-memory locator cache. cleanupInterval > 0 starts a
// janitor goroutine removing expired entries.
func NewMemory(cleanupInterval time.Duration) LocatorCache {
	c := &memoryCache{entries: make(map[string]entry)}
	if cleanupInterval > 0 {
		c.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
		}
		go c.janitor.run(c)
	}
	return c
}

func (c *memoryCache) Get(key string) (Locator, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiration) {
		return Locator{}, false
	}
	return e.loc, true
}

func (c *memoryCache) Set(key string, loc Locator, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{loc: loc, expiration: time.Now().Add(ttl)}
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *memoryCache) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.expiration) {
			delete(c.entries, key)
		}
	}
}

// Stop stops the janitor goroutine.
func (c *memoryCache) Stop() {
	if c.janitor != nil {
		close(c.janitor.stop)
	}
}

type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

func (j *janitor) run(c *memoryCache) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			return
		}
	}
}

// NewNoOp creates a cache that never stores anything.
func NewNoOp() LocatorCache { return noOpCache{} }

type noOpCache struct{}

func (noOpCache) Get(string) (Locator, bool)         { return Locator{}, false }
func (noOpCache) Set(string, Locator, time.Duration) {}
func (noOpCache) Delete(string)                      {}

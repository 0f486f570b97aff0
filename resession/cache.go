package resession

import (
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// DefaultCacheTTL is the default time-to-live for cached sessions
const DefaultCacheTTL = 30 * time.Minute

// Cache stores live resettable sessions keyed by caller-chosen names (one
// per upstream, per identity, or whatever granularity the caller wants), so
// TLS handshakes and fingerprint state are reused instead of rebuilt per
// request. Expired sessions are closed and dropped by a background sweep.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	session   *Session
	createdAt time.Time
	lastUsed  time.Time
}

// NewCache creates a session cache with the given TTL and starts its cleanup
// goroutine. CloseAll stops the goroutine and releases every session.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get retrieves a cached session for the given key.
// Returns nil if not found or expired.
func (c *Cache) Get(key string) *Session {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil
	}

	if time.Since(entry.createdAt) > c.ttl {
		c.Delete(key)
		return nil
	}

	c.mu.Lock()
	entry.lastUsed = time.Now()
	c.mu.Unlock()

	return entry.session
}

// Set stores a session in the cache, closing any session it replaces.
func (c *Cache) Set(key string, s *Session) {
	now := time.Now()

	c.mu.Lock()
	old, exists := c.entries[key]
	c.entries[key] = &cacheEntry{
		session:   s,
		createdAt: now,
		lastUsed:  now,
	}
	c.mu.Unlock()

	if exists {
		closeQuietly(key, old.session)
	}
	klog.V(2).Infof("Session cached for key: %s", key)
}

// Delete removes a session from the cache and closes it.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	entry, exists := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if exists {
		closeQuietly(key, entry.session)
	}
	klog.V(2).Infof("Session removed for key: %s", key)
}

// GetOrCreate returns the cached session for key, building one with build if
// none is live. Creation runs under the write lock so concurrent callers for
// the same key end up sharing a single session.
func (c *Cache) GetOrCreate(key string, build func() (*Session, error)) (*Session, error) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if exists && time.Since(entry.createdAt) <= c.ttl {
		klog.V(2).Infof("Using cached session for key: %s", key)
		c.mu.Lock()
		entry.lastUsed = time.Now()
		c.mu.Unlock()
		return entry.session, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Check again in case someone else created it while we were waiting for
	// the lock.
	if entry, exists := c.entries[key]; exists && time.Since(entry.createdAt) <= c.ttl {
		return entry.session, nil
	}

	klog.V(2).Infof("Creating new session for key: %s", key)
	session, err := build()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	old, replaced := c.entries[key]
	c.entries[key] = &cacheEntry{
		session:   session,
		createdAt: now,
		lastUsed:  now,
	}
	if replaced {
		closeQuietly(key, old.session)
	}

	return session, nil
}

// CloseAll stops the cleanup goroutine and closes every cached session. The
// cache is unusable for reads afterwards in the same way a closed Session is.
func (c *Cache) CloseAll() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})

	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	for key, entry := range entries {
		closeQuietly(key, entry.session)
	}
}

// Stats returns cache statistics
func (c *Cache) Stats() (total int, active int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	for _, entry := range c.entries {
		total++
		if now.Sub(entry.createdAt) <= c.ttl {
			active++
		}
	}
	return
}

// cleanupLoop periodically removes expired sessions
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

// cleanup removes and closes all expired sessions
func (c *Cache) cleanup() {
	now := time.Now()
	expired := make(map[string]*Session)

	c.mu.Lock()
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) > c.ttl {
			expired[key] = entry.session
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	for key, session := range expired {
		closeQuietly(key, session)
	}
	if len(expired) > 0 {
		klog.V(2).Infof("Cleaned up %d expired sessions", len(expired))
	}
}

// closeQuietly disposes of a session the cache no longer hands out. Like the
// disposal of a replaced transport during a reset, failures here are logged
// and dropped.
func closeQuietly(key string, s *Session) {
	if err := s.Close(); err != nil {
		klog.V(1).Infof("failed to close evicted session %s: %v", key, err)
	}
}

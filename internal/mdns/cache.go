package mdns

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultCacheTTL is the "recently observed" window. It is deliberately
	// unrelated to any DNS record TTL carried in decoded responses.
	DefaultCacheTTL = 5 * time.Minute

	// cacheSweepInterval paces the background eviction pass.
	cacheSweepInterval = 30 * time.Second
)

// CacheEntry wraps a cached device with its observation timestamps.
type CacheEntry struct {
	Device    *Device
	LastSeen  time.Time
	ExpiresAt time.Time
}

// Cache holds the rolling set of currently-known devices across discovery
// sessions. Entries expire a fixed window after their last sighting; a
// background sweep evicts them and reports each eviction. One coarse lock
// covers the sweep and all public operations - sweeps are infrequent and
// upsert bursts short-lived, so contention stays low.
type Cache struct {
	log     *zap.Logger
	ttl     time.Duration
	expired func(Device)

	mu      sync.Mutex
	entries map[string]*CacheEntry
	closed  bool

	now  func() time.Time
	done chan struct{}
}

// NewCache creates a cache with the given freshness window (DefaultCacheTTL
// when zero) and starts its sweep goroutine. expired, when non-nil, is
// called once per evicted device, outside the cache lock.
func NewCache(ttl time.Duration, log *zap.Logger, expired func(Device)) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cache{
		log:     log,
		ttl:     ttl,
		expired: expired,
		entries: make(map[string]*CacheEntry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Upsert merges the device into an existing entry or inserts a new one, and
// always refreshes last-seen and pushes the expiry window out from now.
func (c *Cache) Upsert(dev *Device) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	entry, ok := c.entries[dev.ID]
	if ok {
		entry.Device.UpdateFrom(dev)
	} else {
		clone := dev.Clone()
		entry = &CacheEntry{Device: &clone}
		c.entries[dev.ID] = entry
	}
	entry.LastSeen = now
	entry.ExpiresAt = now.Add(c.ttl)
	entry.Device.LastSeen = now
}

// ListValid returns clones of every entry whose expiry has not yet passed.
func (c *Cache) ListValid() []Device {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	devices := make([]Device, 0, len(c.entries))
	for _, entry := range c.entries {
		if entry.ExpiresAt.After(now) {
			devices = append(devices, entry.Device.Clone())
		}
	}
	sortDevices(devices)
	return devices
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes every expired entry and raises one expiry notification per
// removal, after releasing the lock.
func (c *Cache) sweep() {
	now := c.now()

	c.mu.Lock()
	var evicted []Device
	for key, entry := range c.entries {
		if !entry.ExpiresAt.After(now) {
			evicted = append(evicted, entry.Device.Clone())
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	for _, dev := range evicted {
		c.log.Debug("cache entry expired",
			zap.String("device", dev.DisplayName()),
			zap.String("addr", dev.IP))
		if c.expired != nil {
			c.expired(dev)
		}
	}
}

// Close stops the sweep goroutine and clears the store. Safe to call more
// than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.entries = make(map[string]*CacheEntry)
}

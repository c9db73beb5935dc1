package cache

import (
	"sync"
	"time"

	"github.com/objfsprojfs/objfsprojfs/pkg/types"
	"github.com/objfsprojfs/objfsprojfs/pkg/vpath"
)

// Config configures the Content Cache.
type Config struct {
	// TTL applies uniformly to the info, listing, and content maps.
	TTL time.Duration

	// ContentSizeThreshold is the largest Content payload the cache
	// will hold; larger reads bypass the cache entirely.
	ContentSizeThreshold int64

	// SweepInterval is how often the background sweep removes expired
	// entries. Zero disables the background sweep.
	SweepInterval time.Duration
}

type infoEntry struct {
	info    types.FileInfo
	stored  time.Time
}

type listingEntry struct {
	listing types.Listing
	stored  time.Time
}

type contentEntry struct {
	content types.Content
	stored  time.Time
}

// Cache is the Content Cache: three independently-keyed, TTL-bounded
// stores (file info, directory listings, file content) guarding the
// async bridge from redundant round trips to the logical filesystem.
type Cache struct {
	mu sync.RWMutex

	cfg Config

	info     map[string]infoEntry
	listing  map[string]listingEntry
	content  map[string]contentEntry

	stats  types.CacheStats
	setOps int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Content Cache and, if cfg.SweepInterval is positive,
// starts its background expiry sweep.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.ContentSizeThreshold <= 0 {
		cfg.ContentSizeThreshold = 1 << 20
	}

	c := &Cache{
		cfg:     cfg,
		info:    make(map[string]infoEntry),
		listing: make(map[string]listingEntry),
		content: make(map[string]contentEntry),
		stopCh:  make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop()
	}

	return c
}

// Close stops the background sweep. Safe to call even if none was
// started.
func (c *Cache) Close() {
	select {
	case <-c.stopCh:
		return
	default:
		close(c.stopCh)
	}
	c.wg.Wait()
}

// GetInfo returns the cached FileInfo for path, if present and unexpired.
func (c *Cache) GetInfo(path string) (types.FileInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.info[path]
	if !ok || c.expired(e.stored) {
		c.stats.InfoMisses++
		if ok {
			delete(c.info, path)
		}
		return types.FileInfo{}, false
	}
	c.stats.InfoHits++
	return e.info, true
}

// sweepEverySetOps is the inline maintenance cadence: every Nth
// info-set triggers an expiry sweep, so a host with no background
// sweep configured still sheds expired entries under write load.
const sweepEverySetOps = 100

// SetInfo caches the FileInfo for path.
func (c *Cache) SetInfo(path string, info types.FileInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info[path] = infoEntry{info: info, stored: time.Now()}

	c.setOps++
	if c.setOps%sweepEverySetOps == 0 {
		c.sweepLocked()
	}
}

// GetListing returns the cached Listing for a directory path, if
// present and unexpired.
func (c *Cache) GetListing(path string) (types.Listing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.listing[path]
	if !ok || c.expired(e.stored) {
		c.stats.ListingMisses++
		if ok {
			delete(c.listing, path)
		}
		return nil, false
	}
	c.stats.ListingHits++
	return e.listing, true
}

// SetListing caches the Listing for a directory path.
func (c *Cache) SetListing(path string, listing types.Listing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listing[path] = listingEntry{listing: listing, stored: time.Now()}
}

// GetContent returns cached Content for path, if present and unexpired.
func (c *Cache) GetContent(path string) (types.Content, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.content[path]
	if !ok || c.expired(e.stored) {
		c.stats.ContentMisses++
		if ok {
			delete(c.content, path)
		}
		return types.Content{}, false
	}
	c.stats.ContentHits++
	return e.content, true
}

// SetContent caches Content for path, unless it exceeds
// ContentSizeThreshold, in which case it is silently not cached.
func (c *Cache) SetContent(path string, content types.Content) {
	if int64(len(content.Data)) > c.cfg.ContentSizeThreshold {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content[path] = contentEntry{content: content, stored: time.Now()}
}

// Invalidate removes path from all three maps, and also drops its
// parent directory's cached listing — a child's info/content going
// stale makes a previously-cached Listing.children entry stale too.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.info, path)
	delete(c.content, path)
	delete(c.listing, path)
	delete(c.listing, vpath.Parent(path))
}

// InvalidateAll clears every cached entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.info = make(map[string]infoEntry)
	c.listing = make(map[string]listingEntry)
	c.content = make(map[string]contentEntry)
}

// SetTTL changes the TTL used by every later expiry check. Existing
// entries keep their original stored time and are judged against the
// new TTL, the same as entries stored from this point on.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.TTL = ttl
}

// Stats returns a snapshot of cache counters, including an estimate of
// the memory held across all three maps.
func (c *Cache) Stats() types.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.InfoEntries = len(c.info)
	stats.ListingEntries = len(c.listing)
	stats.ContentEntries = len(c.content)
	stats.EstimatedMemory = c.estimateMemory()

	hits := stats.InfoHits + stats.ListingHits + stats.ContentHits
	misses := stats.InfoMisses + stats.ListingMisses + stats.ContentMisses
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

func (c *Cache) estimateMemory() int64 {
	var total int64
	for k, e := range c.info {
		total += int64(len(k)) + int64(len(e.info.Name)) + int64(len(e.info.Hash)) + 64
	}
	for k, e := range c.listing {
		total += int64(len(k))
		for _, fi := range e.listing {
			total += int64(len(fi.Name)) + int64(len(fi.Hash)) + 64
		}
	}
	for k, e := range c.content {
		total += int64(len(k)) + int64(len(e.content.Data)) + int64(len(e.content.Hash))
	}
	return total
}

func (c *Cache) expired(stored time.Time) bool {
	if c.cfg.TTL <= 0 {
		return false
	}
	return time.Since(stored) > c.cfg.TTL
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
}

func (c *Cache) sweepLocked() {
	for k, e := range c.info {
		if c.expired(e.stored) {
			delete(c.info, k)
		}
	}
	for k, e := range c.listing {
		if c.expired(e.stored) {
			delete(c.listing, k)
		}
	}
	for k, e := range c.content {
		if c.expired(e.stored) {
			delete(c.content, k)
		}
	}
}

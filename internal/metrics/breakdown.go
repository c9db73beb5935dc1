package metrics

import (
	"sync"
	"time"
)

// Source identifies where a callback's answer came from.
type Source string

const (
	SourceInfoCache    Source = "info_cache"    // file-info map hit
	SourceListingCache Source = "listing_cache" // parent or root listing hit
	SourceContentCache Source = "content_cache" // content map hit
	SourceObjectStore  Source = "object_store"  // direct-disk fast path
	SourceDeferred     Source = "deferred"      // suspended, completed later via the bridge
	SourceNone         Source = "none"          // not found, denied, or nothing served
)

// CallbackStats tracks latency and volume for one callback kind.
type CallbackStats struct {
	Count        int64         `json:"count"`
	Errors       int64         `json:"errors"`
	Bytes        int64         `json:"bytes"`
	TotalLatency time.Duration `json:"total_latency"`
	MinLatency   time.Duration `json:"min_latency"`
	MaxLatency   time.Duration `json:"max_latency"`
	AvgLatency   time.Duration `json:"avg_latency"`
	LastCall     time.Time     `json:"last_call"`
}

// PathStats tracks per-virtual-path access counts, kept for the
// hottest paths only (bounded by Breakdown's maxTracked).
type PathStats struct {
	Path       string    `json:"path"`
	Accesses   int64     `json:"accesses"`
	Errors     int64     `json:"errors"`
	Bytes      int64     `json:"bytes"`
	LastAccess time.Time `json:"last_access"`
}

// BreakdownSummary is a point-in-time copy of everything the Breakdown
// tracks.
type BreakdownSummary struct {
	Uptime    time.Duration               `json:"uptime"`
	Callbacks map[Callback]*CallbackStats `json:"callbacks"`
	BySource  map[Source]int64            `json:"by_source"`
	Total     int64                       `json:"total"`
	Errors    int64                       `json:"errors"`
}

// Breakdown is the in-process per-callback latency tracker behind the
// /debug/callbacks and /debug/paths endpoints. It answers the
// questions the Prometheus histograms can't without a scrape: which
// callback is slow right now, and which virtual paths are hot.
type Breakdown struct {
	mu sync.RWMutex

	callbacks  map[Callback]*CallbackStats
	bySource   map[Source]int64
	paths      map[string]*PathStats
	maxTracked int
	total      int64
	errors     int64
	start      time.Time
}

// NewBreakdown creates a Breakdown tracking at most maxTrackedPaths
// distinct virtual paths.
func NewBreakdown(maxTrackedPaths int) *Breakdown {
	return &Breakdown{
		callbacks:  make(map[Callback]*CallbackStats),
		bySource:   make(map[Source]int64),
		paths:      make(map[string]*PathStats),
		maxTracked: maxTrackedPaths,
		start:      time.Now(),
	}
}

// Record adds one callback sample.
func (b *Breakdown) Record(cb Callback, path string, source Source, bytes int64, latency time.Duration, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.total++
	if err != nil {
		b.errors++
	}
	b.bySource[source]++

	cs := b.callbacks[cb]
	if cs == nil {
		cs = &CallbackStats{MinLatency: latency}
		b.callbacks[cb] = cs
	}
	cs.Count++
	cs.Bytes += bytes
	cs.TotalLatency += latency
	cs.LastCall = now
	if err != nil {
		cs.Errors++
	}
	if latency < cs.MinLatency {
		cs.MinLatency = latency
	}
	if latency > cs.MaxLatency {
		cs.MaxLatency = latency
	}
	cs.AvgLatency = time.Duration(int64(cs.TotalLatency) / cs.Count)

	if path == "" {
		return
	}
	ps := b.paths[path]
	if ps == nil {
		if len(b.paths) >= b.maxTracked {
			// Table full; new paths go untracked rather than evicting
			// an established hot one.
			return
		}
		ps = &PathStats{Path: path}
		b.paths[path] = ps
	}
	ps.Accesses++
	ps.Bytes += bytes
	ps.LastAccess = now
	if err != nil {
		ps.Errors++
	}
}

// Callback returns a copy of the stats for one callback kind, or nil
// if it has never been recorded.
func (b *Breakdown) Callback(cb Callback) *CallbackStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cs, ok := b.callbacks[cb]
	if !ok {
		return nil
	}
	out := *cs
	return &out
}

// HotPaths returns the n most-accessed tracked paths, most first.
func (b *Breakdown) HotPaths(n int) []PathStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]PathStats, 0, len(b.paths))
	for _, ps := range b.paths {
		out = append(out, *ps)
	}
	// Insertion sort; the table is bounded by maxTracked.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Accesses > out[j-1].Accesses; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// Summary returns a copy of all tracked stats.
func (b *Breakdown) Summary() BreakdownSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()

	callbacks := make(map[Callback]*CallbackStats, len(b.callbacks))
	for k, v := range b.callbacks {
		cp := *v
		callbacks[k] = &cp
	}
	bySource := make(map[Source]int64, len(b.bySource))
	for k, v := range b.bySource {
		bySource[k] = v
	}
	return BreakdownSummary{
		Uptime:    time.Since(b.start),
		Callbacks: callbacks,
		BySource:  bySource,
		Total:     b.total,
		Errors:    b.errors,
	}
}

// Reset clears all tracked stats.
func (b *Breakdown) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.callbacks = make(map[Callback]*CallbackStats)
	b.bySource = make(map[Source]int64)
	b.paths = make(map[string]*PathStats)
	b.total = 0
	b.errors = 0
	b.start = time.Now()
}

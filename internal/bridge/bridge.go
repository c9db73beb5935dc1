// Package bridge implements the Async Bridge: the sole
// boundary between ProjFS's multi-threaded kernel callbacks and the
// host language's single-threaded logical filesystem.
package bridge

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/objfsprojfs/objfsprojfs/internal/cache"
	"github.com/objfsprojfs/objfsprojfs/internal/circuit"
	"github.com/objfsprojfs/objfsprojfs/pkg/errors"
	"github.com/objfsprojfs/objfsprojfs/pkg/memmon"
	"github.com/objfsprojfs/objfsprojfs/pkg/retry"
	"github.com/objfsprojfs/objfsprojfs/pkg/types"
)

// trackedInflightJobs is the pkg/memmon object name used to flag a
// bridge whose in-flight job count keeps climbing instead of draining,
// the signature of a wedged logical filesystem rather than an ordinary
// traffic spike.
const trackedInflightJobs = "bridge_inflight_jobs"

// Config configures a Bridge.
type Config struct {
	Retry          retry.Config
	CircuitBreaker circuit.Config
	QueueSize      int
}

// Bridge schedules fetch_info/fetch_listing/fetch_content requests onto
// a single cooperative worker goroutine standing in for the host's
// single-threaded event loop, and republishes their results into the
// Content Cache.
type Bridge struct {
	fs     types.LogicalFS
	cache  *cache.Cache
	logger *slog.Logger

	retryer *retry.Retryer
	breaker *circuit.CircuitBreaker
	memMon  *memmon.MemoryMonitor

	onListingUpdated func(path string)
	onContentReady   func(path string)
	onFetchResult    func(err error)

	jobs chan job

	mu       sync.Mutex
	inflight map[string]struct{}
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type jobKind int

const (
	jobInfo jobKind = iota
	jobListing
	jobContent
)

type job struct {
	kind jobKind
	path string
}

// New creates a Bridge over fs, publishing results into c.
func New(fs types.LogicalFS, c *cache.Cache, cfg Config, logger *slog.Logger) *Bridge {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		fs:       fs,
		cache:    c,
		logger:   logger,
		retryer:  retry.New(cfg.Retry),
		breaker:  circuit.NewCircuitBreaker("bridge", cfg.CircuitBreaker),
		jobs:     make(chan job, cfg.QueueSize),
		inflight: make(map[string]struct{}),
	}
}

// OnListingUpdated registers the callback invoked after a listing fetch
// populates the cache (wired to internal/enum).
func (b *Bridge) OnListingUpdated(fn func(path string)) {
	b.onListingUpdated = fn
}

// OnContentReady registers the callback invoked after a content fetch
// populates the cache (wired to internal/delivery's complete_pending).
func (b *Bridge) OnContentReady(fn func(path string)) {
	b.onContentReady = fn
}

// OnFetchResult registers a callback invoked after every fetch with the
// outcome of the call into the logical filesystem (nil on success),
// wired to pkg/health so internal/host can track the bridge's
// component health independently of the breaker's own trip state.
func (b *Bridge) OnFetchResult(fn func(err error)) {
	b.onFetchResult = fn
}

// Start launches the cooperative worker loop. Must be called before any
// fetch_* method.
func (b *Bridge) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.mu.Unlock()

	b.wg.Add(1)
	go b.loop()
}

// Stop stops accepting new fetches and drops queued jobs without running
// them. A job the worker is already running finishes first and still
// publishes its result to the cache and the registered callbacks.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	b.wg.Wait()
}

// SetMemoryMonitor attaches an optional monitor that tracks the bridge's
// in-flight job count as a leak-detection signal. A nil monitor (the
// monitor failed to start, or the host was built without one) disables
// tracking; callers don't need to check before calling it.
func (b *Bridge) SetMemoryMonitor(m *memmon.MemoryMonitor) {
	b.memMon = m
	if m != nil {
		m.TrackObject(trackedInflightJobs, int64(cap(b.jobs)))
	}
}

// State reports whether calls into the logical filesystem are
// currently flowing, tripped, or being probed, for host diagnostics.
func (b *Bridge) State() circuit.State {
	return b.breaker.GetState()
}

// FetchInfo schedules a stat() call for path. Non-blocking.
func (b *Bridge) FetchInfo(path string) {
	b.schedule(job{kind: jobInfo, path: path})
}

// FetchListing schedules a read_dir() call for path. Non-blocking.
func (b *Bridge) FetchListing(path string) {
	b.schedule(job{kind: jobListing, path: path})
}

// FetchContent schedules a read_file() call for path. Non-blocking.
func (b *Bridge) FetchContent(path string) {
	b.schedule(job{kind: jobContent, path: path})
}

func (b *Bridge) schedule(j job) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	key := dedupeKey(j)
	if _, busy := b.inflight[key]; busy {
		b.mu.Unlock()
		return
	}
	b.inflight[key] = struct{}{}
	b.mu.Unlock()
	if b.memMon != nil {
		b.memMon.IncrementObject(trackedInflightJobs, 1)
	}

	select {
	case b.jobs <- j:
	default:
		b.logger.Warn("bridge queue full, dropping fetch", "path", j.path, "kind", j.kind)
		b.mu.Lock()
		delete(b.inflight, key)
		b.mu.Unlock()
		if b.memMon != nil {
			b.memMon.DecrementObject(trackedInflightJobs, 1)
		}
	}
}

func dedupeKey(j job) string {
	switch j.kind {
	case jobInfo:
		return "info:" + j.path
	case jobListing:
		return "listing:" + j.path
	default:
		return "content:" + j.path
	}
}

func (b *Bridge) loop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			b.drain()
			return
		case j := <-b.jobs:
			b.process(j)
		}
	}
}

// drain discards whatever was still queued at stop time without
// running it.
func (b *Bridge) drain() {
	for {
		select {
		case <-b.jobs:
		default:
			return
		}
	}
}

func (b *Bridge) process(j job) {
	defer func() {
		b.mu.Lock()
		delete(b.inflight, dedupeKey(j))
		b.mu.Unlock()
		if b.memMon != nil {
			b.memMon.DecrementObject(trackedInflightJobs, 1)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := b.breaker.Execute(func() error {
		return b.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			return b.run(ctx, j)
		})
	})
	if err != nil {
		b.logger.Warn("bridge fetch failed", "path", j.path, "kind", j.kind, "error", err)
	}
	if b.onFetchResult != nil {
		b.onFetchResult(err)
	}
}

func (b *Bridge) run(ctx context.Context, j job) error {
	switch j.kind {
	case jobInfo:
		return b.runInfo(ctx, j.path)
	case jobListing:
		return b.runListing(ctx, j.path)
	default:
		return b.runContent(ctx, j.path)
	}
}

func (b *Bridge) runInfo(ctx context.Context, path string) error {
	st, err := b.fs.Stat(ctx, path)
	if err != nil {
		return err
	}
	if st == nil {
		return errors.NotFound("bridge", path)
	}
	b.cache.SetInfo(path, types.FileInfo{
		Name:  basename(path),
		Size:  st.Size,
		IsDir: st.IsDir,
		Mode:  st.Mode,
		Hash:  st.Hash,
	})
	return nil
}

func (b *Bridge) runListing(ctx context.Context, path string) error {
	children, err := b.fs.ReadDir(ctx, path)
	if err != nil {
		return err
	}
	listing := make(types.Listing, 0, len(children))
	for _, c := range children {
		if strings.ContainsAny(c.Name, `/\`) {
			continue
		}
		listing = append(listing, ingestChild(c))
	}
	b.cache.SetListing(path, listing)
	if b.onListingUpdated != nil {
		b.onListingUpdated(path)
	}
	return nil
}

func (b *Bridge) runContent(ctx context.Context, path string) error {
	data, err := b.fs.ReadFile(ctx, path)
	if err != nil {
		return err
	}
	b.cache.SetContent(path, types.Content{Data: data})
	if b.onContentReady != nil {
		b.onContentReady(path)
	}
	return nil
}

// POSIX st_mode file-type bits (S_IFMT/S_IFDIR), used as the fallback
// directory test when a logical filesystem doesn't report IsDir
// directly.
const (
	posixModeTypeMask = 0o170000
	posixModeDir      = 0o040000
)

// ingestChild canonicalizes a RawChild into a FileInfo, falling back to
// the POSIX directory bit in Mode when IsDir wasn't supplied
//.
func ingestChild(c types.RawChild) types.FileInfo {
	isDir := false
	if c.IsDir != nil {
		isDir = *c.IsDir
	} else {
		isDir = c.Mode&posixModeTypeMask == posixModeDir
	}
	size := c.Size
	if isDir {
		size = 0
	}
	return types.FileInfo{
		Name:  c.Name,
		Size:  size,
		IsDir: isDir,
		Mode:  c.Mode,
	}
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

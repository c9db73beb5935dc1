package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objfsprojfs/objfsprojfs/pkg/types"
)

// Callback names the ProjFS callback a recorded sample belongs to.
type Callback string

const (
	CallbackPlaceholder   Callback = "get_placeholder_info"
	CallbackFileData      Callback = "get_file_data"
	CallbackQueryFileName Callback = "query_file_name"
	CallbackStartEnum     Callback = "start_enumeration"
	CallbackGetEnum       Callback = "get_enumeration"
	CallbackEndEnum       Callback = "end_enumeration"
	CallbackNotification  Callback = "notification"
)

// Config represents metrics configuration
type Config struct {
	Enabled        bool              `yaml:"enabled"`
	Port           int               `yaml:"port"`
	Path           string            `yaml:"path"`
	Labels         map[string]string `yaml:"labels"`
	Namespace      string            `yaml:"namespace"`
	UpdateInterval time.Duration     `yaml:"update_interval"`

	// MaxTrackedPaths bounds the per-path breakdown's hot-path table.
	MaxTrackedPaths int `yaml:"max_tracked_paths"`
}

// Snapshot is the host-state view the collector polls periodically to
// drive its gauges: cache counters, suspended GetFileData requests, and
// live enumeration sessions.
type Snapshot struct {
	Cache           types.CacheStats
	PendingRequests int
	EnumSessions    int
}

// SnapshotFunc supplies a Snapshot on demand; internal/host wires one
// that reads the cache, delivery engine, and enumeration engine.
type SnapshotFunc func() Snapshot

// Collector aggregates callback metrics for one virtualization
// instance and exports them over Prometheus plus debug HTTP endpoints.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	callbackCounter  *prometheus.CounterVec
	callbackDuration *prometheus.HistogramVec
	bytesServed      *prometheus.CounterVec
	cacheRequests    *prometheus.CounterVec
	cacheEntries     *prometheus.GaugeVec
	cacheMemory      prometheus.Gauge
	pendingRequests  prometheus.Gauge
	enumSessions     prometheus.Gauge
	deniedWrites     *prometheus.CounterVec
	tombstoneRepairs prometheus.Counter

	breakdown *Breakdown
	snapshot  SnapshotFunc
	lastSnap  Snapshot

	// HTTP server for metrics endpoint
	server *http.Server
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:        true,
			Port:           8080,
			Path:           "/metrics",
			Namespace:      "objfsprojfs",
			UpdateInterval: 30 * time.Second,
			Labels:         make(map[string]string),
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = 30 * time.Second
	}
	if config.MaxTrackedPaths <= 0 {
		config.MaxTrackedPaths = 256
	}

	if !config.Enabled {
		return &Collector{config: config, breakdown: NewBreakdown(config.MaxTrackedPaths)}, nil
	}

	collector := &Collector{
		config:    config,
		registry:  prometheus.NewRegistry(),
		breakdown: NewBreakdown(config.MaxTrackedPaths),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// SetSnapshotFunc wires the host-state poll the updateLoop uses to
// drive gauges and cache counters. Call before Start.
func (c *Collector) SetSnapshotFunc(fn SnapshotFunc) {
	c.snapshot = fn
}

// Start starts the metrics collection server
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/callbacks", c.debugCallbacksHandler)
	mux.HandleFunc("/debug/paths", c.debugPathsHandler)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()

	go c.updateLoop(ctx)

	return nil
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordCallback records one kernel callback invocation: which
// callback, the virtual path it targeted, where the answer came from,
// how many bytes were served, how long it took, and whether it failed.
func (c *Collector) RecordCallback(cb Callback, path string, source Source, bytes int64, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	c.breakdown.Record(cb, path, source, bytes, duration, err)

	status := "success"
	if err != nil {
		status = "error"
	}
	c.callbackCounter.With(prometheus.Labels{
		"callback": string(cb),
		"status":   status,
	}).Inc()
	c.callbackDuration.With(prometheus.Labels{
		"callback": string(cb),
	}).Observe(duration.Seconds())

	if bytes > 0 {
		c.bytesServed.With(prometheus.Labels{
			"source": string(source),
		}).Add(float64(bytes))
	}
}

// RecordDeniedWrite counts a write-class notification rejected with
// access-denied, labeled by notification kind.
func (c *Collector) RecordDeniedWrite(kind string) {
	if !c.config.Enabled {
		return
	}
	c.deniedWrites.With(prometheus.Labels{"notification": kind}).Inc()
}

// RecordTombstoneRepair counts a close-deleted notification that
// invalidated a tombstone so a regenerable path can reappear.
func (c *Collector) RecordTombstoneRepair() {
	if !c.config.Enabled {
		return
	}
	c.tombstoneRepairs.Inc()
}

// Breakdown exposes the in-process per-callback latency breakdown,
// for the host's stats() surface.
func (c *Collector) Breakdown() *Breakdown {
	return c.breakdown
}

// Helper methods

func (c *Collector) initMetrics() {
	c.callbackCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "callbacks_total",
			Help:      "Total kernel callback invocations by callback and status",
		},
		[]string{"callback", "status"},
	)

	c.callbackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      "callback_duration_seconds",
			Help:      "Kernel callback latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 17), // 100µs to ~6.5s, past the 5s enumeration deadline
		},
		[]string{"callback"},
	)

	c.bytesServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "bytes_served_total",
			Help:      "File bytes written to the kernel by serve source",
		},
		[]string{"source"},
	)

	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "cache_requests_total",
			Help:      "Content cache lookups by store and outcome",
		},
		[]string{"store", "outcome"},
	)

	c.cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Name:      "cache_entries",
			Help:      "Live entries per cache store",
		},
		[]string{"store"},
	)

	c.cacheMemory = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Name:      "cache_memory_bytes",
			Help:      "Estimated memory held across all cache stores",
		},
	)

	c.pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Name:      "pending_file_requests",
			Help:      "GetFileData requests suspended awaiting content",
		},
	)

	c.enumSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Name:      "enumeration_sessions",
			Help:      "Live directory enumeration sessions",
		},
	)

	c.deniedWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "denied_writes_total",
			Help:      "Write-class notifications rejected with access-denied",
		},
		[]string{"notification"},
	)

	c.tombstoneRepairs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "tombstone_repairs_total",
			Help:      "Tombstone invalidations triggered by close-deleted on regenerable paths",
		},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.callbackCounter,
		c.callbackDuration,
		c.bytesServed,
		c.cacheRequests,
		c.cacheEntries,
		c.cacheMemory,
		c.pendingRequests,
		c.enumSessions,
		c.deniedWrites,
		c.tombstoneRepairs,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func (c *Collector) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.updatePeriodicMetrics()
		}
	}
}

// updatePeriodicMetrics polls the host snapshot and applies it: gauges
// are set absolutely, cache hit/miss counters get the delta since the
// previous poll (the cache keeps cumulative counts; Prometheus
// counters only go up).
func (c *Collector) updatePeriodicMetrics() {
	if c.snapshot == nil {
		return
	}
	snap := c.snapshot()
	prev := c.lastSnap.Cache
	c.lastSnap = snap

	c.pendingRequests.Set(float64(snap.PendingRequests))
	c.enumSessions.Set(float64(snap.EnumSessions))
	c.cacheMemory.Set(float64(snap.Cache.EstimatedMemory))

	c.cacheEntries.With(prometheus.Labels{"store": "info"}).Set(float64(snap.Cache.InfoEntries))
	c.cacheEntries.With(prometheus.Labels{"store": "listing"}).Set(float64(snap.Cache.ListingEntries))
	c.cacheEntries.With(prometheus.Labels{"store": "content"}).Set(float64(snap.Cache.ContentEntries))

	addDelta := func(store, outcome string, now, before uint64) {
		if now > before {
			c.cacheRequests.With(prometheus.Labels{"store": store, "outcome": outcome}).Add(float64(now - before))
		}
	}
	addDelta("info", "hit", snap.Cache.InfoHits, prev.InfoHits)
	addDelta("info", "miss", snap.Cache.InfoMisses, prev.InfoMisses)
	addDelta("listing", "hit", snap.Cache.ListingHits, prev.ListingHits)
	addDelta("listing", "miss", snap.Cache.ListingMisses, prev.ListingMisses)
	addDelta("content", "hit", snap.Cache.ContentHits, prev.ContentHits)
	addDelta("content", "miss", snap.Cache.ContentMisses, prev.ContentMisses)
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"objfsprojfs-metrics"}`)) // Ignore write error for health check
}

func (c *Collector) debugCallbacksHandler(w http.ResponseWriter, r *http.Request) {
	summary := c.breakdown.Summary()

	w.Header().Set("Content-Type", "text/plain")

	// Helper to avoid errcheck issues
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("ProjFS Callback Summary\n")
	writef("=======================\n\n")
	writef("Uptime: %v\n\n", summary.Uptime.Round(time.Second))

	if len(summary.Callbacks) == 0 {
		writef("No callbacks recorded.\n")
		return
	}

	writef("%-24s %10s %10s %12s %12s %12s\n",
		"Callback", "Count", "Errors", "Avg Latency", "Max Latency", "Bytes")
	writef("%-24s %10s %10s %12s %12s %12s\n",
		"--------", "-----", "------", "-----------", "-----------", "-----")

	names := make([]string, 0, len(summary.Callbacks))
	for name := range summary.Callbacks {
		names = append(names, string(name))
	}
	sort.Strings(names)

	for _, name := range names {
		cs := summary.Callbacks[Callback(name)]
		writef("%-24s %10d %10d %12v %12v %12d\n",
			name, cs.Count, cs.Errors, cs.AvgLatency, cs.MaxLatency, cs.Bytes)
	}

	writef("\nServe sources:\n")
	sources := make([]string, 0, len(summary.BySource))
	for s := range summary.BySource {
		sources = append(sources, string(s))
	}
	sort.Strings(sources)
	for _, s := range sources {
		writef("  %-16s %10d\n", s, summary.BySource[Source(s)])
	}
}

func (c *Collector) debugPathsHandler(w http.ResponseWriter, r *http.Request) {
	paths := c.breakdown.HotPaths(20)

	w.Header().Set("Content-Type", "text/plain")

	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("Hottest Virtual Paths\n")
	writef("=====================\n\n")

	if len(paths) == 0 {
		writef("No paths recorded.\n")
		return
	}

	writef("%-48s %10s %10s %12s %10s\n", "Path", "Accesses", "Errors", "Bytes", "Last")
	for _, p := range paths {
		writef("%-48s %10d %10d %12d %10s\n",
			p.Path, p.Accesses, p.Errors, p.Bytes, p.LastAccess.Format("15:04:05"))
	}
}

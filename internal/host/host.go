// Package host implements the Virtualization Host: the
// top-level component that owns a single ProjFS virtualization instance
// and wires the core engines (cache, object store, async bridge,
// enumeration, resolver, delivery, notification policy) to it.
package host

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/objfsprojfs/objfsprojfs/internal/bridge"
	"github.com/objfsprojfs/objfsprojfs/internal/cache"
	"github.com/objfsprojfs/objfsprojfs/internal/circuit"
	"github.com/objfsprojfs/objfsprojfs/internal/config"
	"github.com/objfsprojfs/objfsprojfs/internal/delivery"
	"github.com/objfsprojfs/objfsprojfs/internal/enum"
	"github.com/objfsprojfs/objfsprojfs/internal/metrics"
	"github.com/objfsprojfs/objfsprojfs/internal/notify"
	"github.com/objfsprojfs/objfsprojfs/internal/objectstore"
	"github.com/objfsprojfs/objfsprojfs/internal/resolver"
	"github.com/objfsprojfs/objfsprojfs/internal/winprojfs"
	"github.com/objfsprojfs/objfsprojfs/pkg/errors"
	"github.com/objfsprojfs/objfsprojfs/pkg/health"
	"github.com/objfsprojfs/objfsprojfs/pkg/memmon"
	"github.com/objfsprojfs/objfsprojfs/pkg/retry"
	"github.com/objfsprojfs/objfsprojfs/pkg/types"
)

// projectionMarkerDir is the hidden subdirectory a prior instance uses
// to hold placeholder state. A crash can leave it behind; it must be
// cleared before the next Start, or the kernel silently
// ignores callbacks against the stale root.
const projectionMarkerDir = ".projfs"

// Stats reports a snapshot of the running host's internal state, for
// the stats() accessor.
type Stats struct {
	Cache               types.CacheStats `json:"cache"`
	PendingRequests     int              `json:"pending_requests"`
	Health              string           `json:"health"`
	InstanceID          string           `json:"instance_id"`
	MemoryGrowthPercent float64          `json:"memory_growth_percent"`
	BridgeState         string           `json:"bridge_state"`
}

// Host owns one virtualization instance end to end.
type Host struct {
	cfg    *config.Configuration
	fs     types.LogicalFS
	logger *slog.Logger

	provider winprojfs.Provider

	cache       *cache.Cache
	objectStore *objectstore.Reader
	bridge      *bridge.Bridge
	enumEngine  *enum.Engine
	resolver    *resolver.Resolver
	deliv       *delivery.Engine
	policy      *notify.Policy

	metricsCollector *metrics.Collector
	healthTracker    *health.Tracker
	metricsCancel    context.CancelFunc
	memMonitor       *memmon.MemoryMonitor
	memMonitorCancel context.CancelFunc

	mu         sync.Mutex
	running    bool
	instanceID winprojfs.InstanceID
	lastErr    error
	recentErrs []error
}

// errorHistoryCap bounds how many recent errors LastError's history
// keeps for debugging a flaky mount.
const errorHistoryCap = 16

// New builds a Host wiring the core engines around fs, the logical
// filesystem implementation this projection serves. provider selects
// the platform interop layer to drive; pass winprojfs.New() in
// production, or a fake for tests.
func New(fs types.LogicalFS, cfg *config.Configuration, provider winprojfs.Provider, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		cfg:      cfg,
		fs:       fs,
		provider: provider,
		logger:   logger,
	}
}

// Start implements the start(virtual_root) operation.
func (h *Host) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "host already started").
			WithComponent("host")
	}

	root := h.cfg.Provider.VirtualRoot
	if root == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "virtual_root is required").
			WithComponent("host")
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		h.noteError(err)
		return errors.NewError(errors.ErrCodeMountFailed, "failed to create virtual root").
			WithComponent("host").
			WithCause(err)
	}

	if err := h.clearStaleMarker(root); err != nil {
		h.noteError(err)
		return err
	}

	h.healthTracker = health.NewTracker(health.DefaultConfig())
	h.healthTracker.RegisterComponent("bridge")
	h.healthTracker.RegisterComponent("provider")

	h.memMonitor = memmon.NewMemoryMonitor(memmon.DefaultMonitorConfig())
	memCtx, memCancel := context.WithCancel(context.Background())
	h.memMonitorCancel = memCancel
	if err := h.memMonitor.Start(memCtx); err != nil {
		h.logger.Warn("memory monitor failed to start, continuing without it", "error", err)
		memCancel()
		h.memMonitor = nil
	}

	if h.cfg.Monitoring.Metrics.Enabled {
		collector, err := metrics.NewCollector(&metrics.Config{
			Enabled:   true,
			Port:      h.cfg.Global.MetricsPort,
			Namespace: "objfsprojfs",
		})
		if err != nil {
			h.logger.Warn("metrics collector init failed, continuing without it", "error", err)
		} else {
			collector.SetSnapshotFunc(h.snapshot)
			ctx, cancel := context.WithCancel(context.Background())
			if err := collector.Start(ctx); err != nil {
				h.logger.Warn("metrics server failed to start, continuing without it", "error", err)
				cancel()
			} else {
				h.metricsCollector = collector
				h.metricsCancel = cancel
			}
		}
	}

	h.cache = cache.New(cache.Config{
		TTL:                  h.cfg.Cache.TTL,
		ContentSizeThreshold: h.cfg.Cache.ContentSizeThreshold,
		SweepInterval:        h.cfg.Cache.SweepInterval,
	})

	if h.cfg.Provider.InstancePath != "" {
		h.objectStore = objectstore.New(h.cfg.Provider.InstancePath)
	}

	h.bridge = bridge.New(h.fs, h.cache, bridge.Config{
		Retry:          retryConfig(h.cfg),
		CircuitBreaker: circuitConfig(h.cfg),
	}, h.logger)
	h.bridge.SetMemoryMonitor(h.memMonitor)
	h.bridge.OnFetchResult(func(err error) {
		if err != nil {
			h.healthTracker.RecordError("bridge", err)
		} else {
			h.healthTracker.RecordSuccess("bridge")
		}
	})

	h.deliv = delivery.New(h.cache, h.objectStore, h.bridge)
	h.bridge.OnContentReady(h.deliv.CompletePending)

	h.enumEngine = enum.New(h.cache, h.objectStore, h.bridge, enum.Config{
		PollInterval: h.cfg.Provider.EnumPollInterval,
		PollDeadline: h.cfg.Provider.EnumPollDeadline,
		FuseCeiling:  h.cfg.Provider.EnumFuseCeiling,
		Match:        h.provider.FileNameMatch,
	})

	h.resolver = resolver.New(h.cache, h.objectStore, h.bridge)

	regenerable := regenerableFunc(h.cfg.Provider.RegenerableNamespaces)
	h.policy = notify.New(h.cache, h.provider, regenerable)

	instanceID, err := h.provider.Start(root, h.buildCallbacks(), winprojfs.FullNotificationMask)
	if err != nil {
		h.noteError(err)
		h.healthTracker.RecordError("provider", err)
		return err
	}
	h.instanceID = instanceID

	if err := h.provider.MarkDirectoryAsPlaceholder(root, instanceID); err != nil {
		h.noteError(err)
		_ = h.provider.Stop()
		return err
	}

	h.bridge.Start()
	h.running = true
	h.lastErr = nil
	h.logger.Info("virtualization instance started", "instance_id", instanceID.String(), "virtual_root", root)
	return nil
}

// Stop implements the stop() operation: the deferred/pending
// requests are completed explicitly first, then the metrics server,
// the provider, the bridge, the memory monitor and the cache are shut
// down, in that order. This is not the reverse of Start: the bridge is
// started after the provider but also stopped after it.
func (h *Host) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil
	}

	var lastErr error

	if h.deliv != nil {
		h.deliv.Shutdown()
	}

	if h.metricsCollector != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.metricsCollector.Stop(ctx); err != nil {
			h.logger.Warn("metrics server stop failed", "error", err)
		}
		cancel()
		if h.metricsCancel != nil {
			h.metricsCancel()
		}
	}

	if err := h.provider.Stop(); err != nil {
		h.logger.Warn("provider stop failed", "error", err)
		lastErr = err
	}

	if h.bridge != nil {
		h.bridge.Stop()
	}

	if h.memMonitor != nil {
		if err := h.memMonitor.Stop(); err != nil {
			h.logger.Warn("memory monitor stop failed", "error", err)
		}
	}
	if h.memMonitorCancel != nil {
		h.memMonitorCancel()
	}

	if h.cache != nil {
		h.cache.InvalidateAll()
	}

	h.running = false
	h.noteError(lastErr)
	if lastErr == nil {
		h.lastErr = nil
	}
	h.logger.Info("virtualization instance stopped", "instance_id", h.instanceID.String())
	return lastErr
}

// IsRunning implements the is_running() operation.
func (h *Host) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// LastError implements the last_error() operation.
func (h *Host) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// RecentErrors returns the last few errors the host recorded, newest
// last, for debugging a flaky mount beyond the single LastError.
func (h *Host) RecentErrors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]error, len(h.recentErrs))
	copy(out, h.recentErrs)
	return out
}

// noteError records err into lastErr and the bounded history. Caller
// holds h.mu.
func (h *Host) noteError(err error) {
	if err == nil {
		return
	}
	h.lastErr = err
	h.recentErrs = append(h.recentErrs, err)
	if len(h.recentErrs) > errorHistoryCap {
		h.recentErrs = h.recentErrs[len(h.recentErrs)-errorHistoryCap:]
	}
}

// Stats implements the stats() operation.
func (h *Host) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Stats{InstanceID: h.instanceID.String()}
	if h.cache != nil {
		s.Cache = h.cache.Stats()
	}
	if h.deliv != nil {
		s.PendingRequests = h.deliv.Pending()
	}
	if h.healthTracker != nil {
		s.Health = h.healthTracker.GetOverallHealth().String()
	}
	if h.memMonitor != nil {
		s.MemoryGrowthPercent = h.memMonitor.GetStats().GrowthSinceBaseline
	}
	if h.bridge != nil {
		s.BridgeState = h.bridge.State().String()
	}
	return s
}

// CompletePending implements the complete_pending(path)
// operation, used by tests and diagnostics to force-drain a path
// without waiting on the bridge.
func (h *Host) CompletePending(path string) {
	h.mu.Lock()
	deliv := h.deliv
	h.mu.Unlock()
	if deliv != nil {
		deliv.CompletePending(path)
	}
}

// InvalidateTombstone implements the invalidate_tombstone(path)
// operation.
func (h *Host) InvalidateTombstone(path string) error {
	h.mu.Lock()
	c, provider := h.cache, h.provider
	h.mu.Unlock()

	if c != nil {
		c.Invalidate(path)
	}
	if provider == nil {
		return nil
	}
	return provider.InvalidateTombstone(path)
}

// clearStaleMarker removes a residual projection marker directory left
// by a crashed previous instance.
func (h *Host) clearStaleMarker(root string) error {
	marker := root + string(os.PathSeparator) + projectionMarkerDir
	if _, err := os.Stat(marker); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewError(errors.ErrCodeMountFailed, "failed to stat stale projection marker").
			WithComponent("host").
			WithCause(err)
	}
	if err := os.RemoveAll(marker); err != nil {
		return errors.NewError(errors.ErrCodeMountFailed, "failed to remove stale projection marker").
			WithComponent("host").
			WithCause(err)
	}
	h.logger.Info("cleared stale projection marker", "path", marker)
	return nil
}

func regenerableFunc(prefixes []string) notify.Regenerable {
	if len(prefixes) == 0 {
		return func(string) bool { return false }
	}
	return func(path string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}
}

// retryConfig adapts the user-facing retry settings to pkg/retry's
// Config, keeping the package's own default error-classification list.
func retryConfig(cfg *config.Configuration) retry.Config {
	out := retry.DefaultConfig()
	if cfg.Network.Retry.MaxAttempts > 0 {
		out.MaxAttempts = cfg.Network.Retry.MaxAttempts
	}
	if cfg.Network.Retry.BaseDelay > 0 {
		out.InitialDelay = cfg.Network.Retry.BaseDelay
	}
	if cfg.Network.Retry.MaxDelay > 0 {
		out.MaxDelay = cfg.Network.Retry.MaxDelay
	}
	return out
}

// buildCallbacks wires the winprojfs.Callbacks the provider dispatches
// kernel requests through to the core engines, recording one metrics
// sample per invocation.
func (h *Host) buildCallbacks() winprojfs.Callbacks {
	return winprojfs.Callbacks{
		GetPlaceholderInfo: func(commandID int32, path string) (types.FileInfo, error) {
			start := time.Now()
			fi, err := h.resolver.Resolve(path)
			h.recordCallback(metrics.CallbackPlaceholder, path, placeholderSource(path, err), 0, start, err)
			return fi, err
		},
		GetFileData: func(commandID int32, path string, byteOffset uint64, length uint32) ([]byte, bool, error) {
			start := time.Now()
			complete := func(data []byte, err error) {
				if err != nil {
					_ = h.provider.CompleteFileData(commandID, nil, resultForError(err))
					return
				}
				_ = h.provider.CompleteFileData(commandID, data, winprojfs.ResultSuccess)
			}
			data, pending, err := h.deliv.Deliver(path, int64(byteOffset), int64(length), commandID, complete)
			h.recordCallback(metrics.CallbackFileData, path, dataSource(path, pending, err), int64(len(data)), start, err)
			return data, pending, err
		},
		QueryFileName: func(path string) bool {
			// Case-insensitive name queries are unsupported; answering
			// not-found here makes the kernel fall back to
			// GetPlaceholderInfo for the exact name.
			h.recordCallback(metrics.CallbackQueryFileName, path, metrics.SourceNone, 0, time.Now(), nil)
			return false
		},
		StartDirectoryEnumeration: func(sessionID winprojfs.InstanceID, path string) error {
			start := time.Now()
			h.enumEngine.StartEnum(sessionID.String(), path)
			h.recordCallback(metrics.CallbackStartEnum, path, metrics.SourceNone, 0, start, nil)
			return nil
		},
		GetDirectoryEnumeration: func(sessionID winprojfs.InstanceID, pattern string, restartScan bool, handle winprojfs.DirEntryHandle) error {
			start := time.Now()
			if restartScan {
				h.enumEngine.RestartScan(sessionID.String())
			}
			err := h.enumEngine.Get(sessionID.String(), pattern, func(fi types.FileInfo) bool {
				return h.provider.FillDirEntry(handle, fi)
			})
			h.recordCallback(metrics.CallbackGetEnum, "", metrics.SourceListingCache, 0, start, err)
			return err
		},
		EndDirectoryEnumeration: func(sessionID winprojfs.InstanceID) error {
			start := time.Now()
			h.enumEngine.EndEnum(sessionID.String())
			h.recordCallback(metrics.CallbackEndEnum, "", metrics.SourceNone, 0, start, nil)
			return nil
		},
		Notify: func(path string, isDirectory bool, kind winprojfs.NotificationType, destinationPath string) (bool, error) {
			start := time.Now()
			nk := notifyKindFor(kind)
			if h.policy.Classify(nk) == notify.VerdictDeny {
				if h.metricsCollector != nil {
					h.metricsCollector.RecordDeniedWrite(nk.String())
				}
				h.recordCallback(metrics.CallbackNotification, path, metrics.SourceNone, 0, start, nil)
				return false, nil
			}
			repaired, err := h.policy.Observe(nk, path)
			if err != nil {
				h.logger.Warn("notification observe failed", "path", path, "error", err)
			}
			if repaired && h.metricsCollector != nil {
				h.metricsCollector.RecordTombstoneRepair()
			}
			h.recordCallback(metrics.CallbackNotification, path, metrics.SourceNone, 0, start, nil)
			return true, nil
		},
	}
}

// recordCallback forwards one callback sample to the collector, if one
// is running.
func (h *Host) recordCallback(cb metrics.Callback, path string, source metrics.Source, bytes int64, start time.Time, err error) {
	if h.metricsCollector == nil {
		return
	}
	h.metricsCollector.RecordCallback(cb, path, source, bytes, time.Since(start), err)
}

// snapshot is the SnapshotFunc the collector polls for gauge values.
func (h *Host) snapshot() metrics.Snapshot {
	h.mu.Lock()
	c, d, e := h.cache, h.deliv, h.enumEngine
	h.mu.Unlock()

	var s metrics.Snapshot
	if c != nil {
		s.Cache = c.Stats()
	}
	if d != nil {
		s.PendingRequests = d.Pending()
	}
	if e != nil {
		s.EnumSessions = e.Sessions()
	}
	return s
}

// placeholderSource classifies where a resolver answer came from, as
// far as the host can tell without threading provenance through the
// resolver: object-store paths are the direct-disk fast path,
// everything else resolved from the cache layers.
func placeholderSource(path string, err error) metrics.Source {
	if err != nil {
		return metrics.SourceNone
	}
	if objectstore.IsObjectPath(path) {
		return metrics.SourceObjectStore
	}
	return metrics.SourceInfoCache
}

// dataSource classifies a Deliver outcome for metrics.
func dataSource(path string, pending bool, err error) metrics.Source {
	switch {
	case err != nil:
		return metrics.SourceNone
	case pending:
		return metrics.SourceDeferred
	case objectstore.IsObjectPath(path):
		return metrics.SourceObjectStore
	default:
		return metrics.SourceContentCache
	}
}

// resultForError classifies a Data Delivery Engine failure into the
// deferred-completion outcome the platform expects.
func resultForError(err error) winprojfs.Result {
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return winprojfs.ResultNotFound
	case errors.KindOutOfMemory:
		return winprojfs.ResultOutOfMemory
	default:
		return winprojfs.ResultFailure
	}
}

// notifyKindFor maps the platform notification type to the
// Notification Policy's own Kind enum.
func notifyKindFor(t winprojfs.NotificationType) notify.Kind {
	switch t {
	case winprojfs.NotificationFileOpened:
		return notify.KindFileOpened
	case winprojfs.NotificationNewFileCreated:
		return notify.KindNewFileCreated
	case winprojfs.NotificationFileOverwritten:
		return notify.KindFileOverwritten
	case winprojfs.NotificationPreDelete:
		return notify.KindPreDelete
	case winprojfs.NotificationPreRename:
		return notify.KindPreRename
	case winprojfs.NotificationPreSetHardlink:
		return notify.KindPreSetHardlink
	case winprojfs.NotificationFileRenamed:
		return notify.KindFileRenamed
	case winprojfs.NotificationHardlinkCreated:
		return notify.KindHardlinkCreated
	case winprojfs.NotificationCloseNoModification:
		return notify.KindCloseNoModification
	case winprojfs.NotificationCloseModified:
		return notify.KindCloseModified
	case winprojfs.NotificationCloseDeleted:
		return notify.KindCloseDeleted
	default:
		return notify.KindUnknown
	}
}

// circuitConfig adapts the user-facing circuit breaker settings to
// internal/circuit's Config. A disabled breaker still gets a Config;
// internal/circuit.NewCircuitBreaker has no "off" switch, so a disabled
// breaker is configured with a ReadyToTrip that never trips and a
// MaxRequests high enough that it never limits requests.
func circuitConfig(cfg *config.Configuration) circuit.Config {
	c := circuit.Config{
		MaxRequests: 1,
		Interval:    cfg.Network.CircuitBreaker.Timeout,
		Timeout:     cfg.Network.CircuitBreaker.Timeout,
	}
	if !cfg.Network.CircuitBreaker.Enabled {
		c.MaxRequests = 1 << 30
		c.ReadyToTrip = func(circuit.Counts) bool { return false }
		return c
	}
	c.ReadyToTrip = func(counts circuit.Counts) bool {
		return counts.ConsecutiveFailures >= uint32(cfg.Network.CircuitBreaker.FailureThreshold)
	}
	return c
}

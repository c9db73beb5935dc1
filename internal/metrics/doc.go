/*
Package metrics collects and exports observability data for one ProjFS
virtualization instance.

# Overview

Two tracking layers share the same recording call:

  - Prometheus metrics (counters, histograms, gauges) served on
    Config.Path for scraping.
  - An in-process Breakdown of per-callback latency and per-path access
    counts, served on /debug/callbacks and /debug/paths for
    troubleshooting a live host without a Prometheus stack.

# Recording

internal/host records one sample per kernel callback:

	start := time.Now()
	data, pending, err := deliver(path, offset, length)
	collector.RecordCallback(metrics.CallbackFileData, path,
		metrics.SourceContentCache, int64(len(data)), time.Since(start), err)

The Source tells the breakdown where the answer came from: a cache map
hit, the object-store direct-disk path, a deferred completion, or
nothing at all. Write-class notifications rejected by the Notification
Policy are counted separately via RecordDeniedWrite, and tombstone
invalidations via RecordTombstoneRepair.

# Gauges

Gauges (pending file requests, live enumeration sessions, cache entry
counts and memory) are not pushed; the collector polls them through the
SnapshotFunc the host installs with SetSnapshotFunc, on
Config.UpdateInterval. Cache hit/miss counters are derived from the
same poll as deltas, since the cache keeps cumulative counts.

# Exported metrics

Counters:
  - objfsprojfs_callbacks_total{callback,status}
  - objfsprojfs_bytes_served_total{source}
  - objfsprojfs_cache_requests_total{store,outcome}
  - objfsprojfs_denied_writes_total{notification}
  - objfsprojfs_tombstone_repairs_total

Histograms:
  - objfsprojfs_callback_duration_seconds{callback}

Gauges:
  - objfsprojfs_cache_entries{store}
  - objfsprojfs_cache_memory_bytes
  - objfsprojfs_pending_file_requests
  - objfsprojfs_enumeration_sessions

Virtual paths appear only in the bounded in-process Breakdown, never as
Prometheus labels; path-valued labels would blow up cardinality under
any real enumeration workload.

# Thread safety

All Collector and Breakdown methods are safe for concurrent use from
the kernel's callback threads.
*/
package metrics

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objfsprojfs/objfsprojfs/pkg/types"
)

func TestNewCollectorDefaults(t *testing.T) {
	c, err := NewCollector(nil)
	require.NoError(t, err)
	assert.True(t, c.config.Enabled)
	assert.Equal(t, "/metrics", c.config.Path)
	assert.NotNil(t, c.Breakdown())
}

func TestNewCollectorDisabled(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: false})
	require.NoError(t, err)

	// Recording against a disabled collector is a no-op, not a panic.
	c.RecordCallback(CallbackFileData, "/invites/iom.txt", SourceContentCache, 3, time.Millisecond, nil)
	c.RecordDeniedWrite("pre_delete")
	c.RecordTombstoneRepair()

	assert.Nil(t, c.Breakdown().Callback(CallbackFileData))
}

func TestRecordCallbackFeedsBreakdown(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	c.RecordCallback(CallbackPlaceholder, "/invites/iom.txt", SourceInfoCache, 0, 2*time.Millisecond, nil)
	c.RecordCallback(CallbackPlaceholder, "/invites/iom.txt", SourceNone, 0, 4*time.Millisecond, errors.New("not found"))

	cs := c.Breakdown().Callback(CallbackPlaceholder)
	require.NotNil(t, cs)
	assert.Equal(t, int64(2), cs.Count)
	assert.Equal(t, int64(1), cs.Errors)
	assert.Equal(t, 3*time.Millisecond, cs.AvgLatency)
	assert.Equal(t, 4*time.Millisecond, cs.MaxLatency)
}

func TestSnapshotDrivesGaugesAndCacheDeltas(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	snap := Snapshot{
		Cache: types.CacheStats{
			InfoHits:       10,
			InfoMisses:     4,
			InfoEntries:    3,
			ContentEntries: 1,
		},
		PendingRequests: 2,
		EnumSessions:    1,
	}
	c.SetSnapshotFunc(func() Snapshot { return snap })

	c.updatePeriodicMetrics()
	assert.Equal(t, snap, c.lastSnap)

	// A second poll with unchanged counters must not re-add deltas; it
	// only refreshes gauges. No panic and no lastSnap drift is the
	// observable contract here.
	c.updatePeriodicMetrics()
	assert.Equal(t, snap, c.lastSnap)
}

func TestUpdateWithoutSnapshotFuncIsNoop(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	c.updatePeriodicMetrics()
	assert.Zero(t, c.lastSnap)
}

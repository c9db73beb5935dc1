package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakdownRecordAggregates(t *testing.T) {
	b := NewBreakdown(16)

	b.Record(CallbackFileData, "/invites/iom.txt", SourceContentCache, 3, 10*time.Millisecond, nil)
	b.Record(CallbackFileData, "/invites/iom.txt", SourceDeferred, 0, 30*time.Millisecond, nil)
	b.Record(CallbackFileData, "/chats/log.txt", SourceNone, 0, 5*time.Millisecond, errors.New("not found"))

	cs := b.Callback(CallbackFileData)
	require.NotNil(t, cs)
	assert.Equal(t, int64(3), cs.Count)
	assert.Equal(t, int64(1), cs.Errors)
	assert.Equal(t, int64(3), cs.Bytes)
	assert.Equal(t, 5*time.Millisecond, cs.MinLatency)
	assert.Equal(t, 30*time.Millisecond, cs.MaxLatency)
	assert.Equal(t, 15*time.Millisecond, cs.AvgLatency)

	summary := b.Summary()
	assert.Equal(t, int64(3), summary.Total)
	assert.Equal(t, int64(1), summary.Errors)
	assert.Equal(t, int64(1), summary.BySource[SourceContentCache])
	assert.Equal(t, int64(1), summary.BySource[SourceDeferred])
	assert.Equal(t, int64(1), summary.BySource[SourceNone])
}

func TestBreakdownUnknownCallback(t *testing.T) {
	b := NewBreakdown(16)
	assert.Nil(t, b.Callback(CallbackEndEnum))
}

func TestHotPathsOrdering(t *testing.T) {
	b := NewBreakdown(16)

	for i := 0; i < 5; i++ {
		b.Record(CallbackFileData, "/objects/aa", SourceObjectStore, 10, time.Millisecond, nil)
	}
	b.Record(CallbackFileData, "/invites/iom.txt", SourceContentCache, 3, time.Millisecond, nil)

	hot := b.HotPaths(10)
	require.Len(t, hot, 2)
	assert.Equal(t, "/objects/aa", hot[0].Path)
	assert.Equal(t, int64(5), hot[0].Accesses)
	assert.Equal(t, "/invites/iom.txt", hot[1].Path)
}

func TestHotPathsTableBounded(t *testing.T) {
	b := NewBreakdown(3)

	for i := 0; i < 10; i++ {
		b.Record(CallbackPlaceholder, fmt.Sprintf("/chats/%d", i), SourceInfoCache, 0, time.Millisecond, nil)
	}

	assert.Len(t, b.HotPaths(100), 3)

	// Established paths keep accumulating even once the table is full.
	b.Record(CallbackPlaceholder, "/chats/0", SourceInfoCache, 0, time.Millisecond, nil)
	hot := b.HotPaths(1)
	require.Len(t, hot, 1)
	assert.Equal(t, "/chats/0", hot[0].Path)
	assert.Equal(t, int64(2), hot[0].Accesses)
}

func TestBreakdownEmptyPathSkipsPathTracking(t *testing.T) {
	b := NewBreakdown(16)
	b.Record(CallbackNotification, "", SourceNone, 0, time.Millisecond, nil)

	assert.Empty(t, b.HotPaths(10))
	assert.Equal(t, int64(1), b.Summary().Total)
}

func TestBreakdownReset(t *testing.T) {
	b := NewBreakdown(16)
	b.Record(CallbackGetEnum, "/", SourceListingCache, 0, time.Millisecond, nil)

	b.Reset()

	assert.Nil(t, b.Callback(CallbackGetEnum))
	assert.Zero(t, b.Summary().Total)
	assert.Empty(t, b.HotPaths(10))
}

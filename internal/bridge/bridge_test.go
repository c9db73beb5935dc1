package bridge_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objfsprojfs/objfsprojfs/internal/bridge"
	"github.com/objfsprojfs/objfsprojfs/internal/cache"
	"github.com/objfsprojfs/objfsprojfs/pkg/retry"
	"github.com/objfsprojfs/objfsprojfs/pkg/types"
)

type fakeFS struct {
	mu       sync.Mutex
	stats    map[string]*types.Stat
	children map[string][]types.RawChild
	files    map[string][]byte
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		stats:    make(map[string]*types.Stat),
		children: make(map[string][]types.RawChild),
		files:    make(map[string][]byte),
	}
}

func (f *fakeFS) Stat(ctx context.Context, path string) (*types.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats[path], nil
}

func (f *fakeFS) ReadDir(ctx context.Context, path string) ([]types.RawChild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.children[path], nil
}

func (f *fakeFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[path], nil
}

func (f *fakeFS) WriteFile(ctx context.Context, path string, data []byte) error {
	return nil
}

func newTestBridge(fs types.LogicalFS, c *cache.Cache) *bridge.Bridge {
	cfg := bridge.Config{Retry: retry.Config{MaxAttempts: 1}}
	b := bridge.New(fs, c, cfg, nil)
	b.Start()
	return b
}

func TestFetchListingPopulatesCacheAndFiresCallback(t *testing.T) {
	fs := newFakeFS()
	fs.children["/invites"] = []types.RawChild{{Name: "iom.txt", Size: 260}}

	c := cache.New(cache.Config{TTL: time.Hour})
	b := newTestBridge(fs, c)
	defer b.Stop()

	notified := make(chan string, 1)
	b.OnListingUpdated(func(path string) { notified <- path })

	b.FetchListing("/invites")

	select {
	case path := <-notified:
		assert.Equal(t, "/invites", path)
	case <-time.After(time.Second):
		t.Fatal("listing-updated callback never fired")
	}

	listing, ok := c.GetListing("/invites")
	require.True(t, ok)
	require.Len(t, listing, 1)
	assert.Equal(t, "iom.txt", listing[0].Name)
}

func TestFetchContentPopulatesCacheAndFiresCallback(t *testing.T) {
	fs := newFakeFS()
	fs.files["/invites/iom.txt"] = []byte("abc")

	c := cache.New(cache.Config{TTL: time.Hour})
	b := newTestBridge(fs, c)
	defer b.Stop()

	notified := make(chan string, 1)
	b.OnContentReady(func(path string) { notified <- path })

	b.FetchContent("/invites/iom.txt")

	select {
	case path := <-notified:
		assert.Equal(t, "/invites/iom.txt", path)
	case <-time.After(time.Second):
		t.Fatal("content-ready callback never fired")
	}

	content, ok := c.GetContent("/invites/iom.txt")
	require.True(t, ok)
	assert.Equal(t, "abc", string(content.Data))
}

func TestFetchInfoNilStatDoesNotCache(t *testing.T) {
	fs := newFakeFS() // Stat returns (nil, nil) for unknown paths
	c := cache.New(cache.Config{TTL: time.Hour})
	b := newTestBridge(fs, c)
	defer b.Stop()

	results := make(chan error, 1)
	b.OnFetchResult(func(err error) { results <- err })

	b.FetchInfo("/invites/missing.txt")

	select {
	case err := <-results:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("fetch result callback never fired")
	}

	_, ok := c.GetInfo("/invites/missing.txt")
	assert.False(t, ok)
}

func TestFetchAfterStopIsIgnored(t *testing.T) {
	fs := newFakeFS()
	c := cache.New(cache.Config{TTL: time.Hour})
	b := newTestBridge(fs, c)

	b.Stop()

	b.FetchInfo("/invites/iom.txt")
	_, ok := c.GetInfo("/invites/iom.txt")
	assert.False(t, ok)
}

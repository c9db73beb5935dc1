// Package delivery implements the Data Delivery Engine:
// serves file bytes synchronously from the cache or object store, or
// suspends the request and resumes it once the Async Bridge populates
// the cache.
package delivery

import (
	"sync"

	"github.com/objfsprojfs/objfsprojfs/internal/bridge"
	"github.com/objfsprojfs/objfsprojfs/internal/cache"
	"github.com/objfsprojfs/objfsprojfs/internal/objectstore"
	"github.com/objfsprojfs/objfsprojfs/pkg/errors"
)

// CompleteFunc resumes a suspended GetFileData call. data is nil and
// err is non-nil on a NotFound completion; data is nil and err is nil
// when offset was at or past end-of-file; otherwise data holds the
// clipped bytes to write.
type CompleteFunc func(data []byte, err error)

type pendingRequest struct {
	path     string
	offset   int64
	length   int64
	complete CompleteFunc
}

// Engine is the Data Delivery Engine.
type Engine struct {
	cache       *cache.Cache
	objectStore *objectstore.Reader
	bridge      *bridge.Bridge

	mu      sync.Mutex
	pending map[int32]*pendingRequest
}

// New creates an Engine. objectStore may be nil.
func New(c *cache.Cache, objectStore *objectstore.Reader, b *bridge.Bridge) *Engine {
	return &Engine{
		cache:       c,
		objectStore: objectStore,
		bridge:      b,
		pending:     make(map[int32]*pendingRequest),
	}
}

// Deliver answers a GetFileData call for path. On a cache or
// object-store hit it returns the clipped byte window synchronously.
// On a miss it registers commandID as a pending request, triggers an
// async fetch, and returns pending=true; complete is invoked later,
// exactly once, by CompletePending.
func (e *Engine) Deliver(path string, offset, length int64, commandID int32, complete CompleteFunc) (data []byte, pending bool, err error) {
	if e.objectStore != nil && objectstore.IsObjectPath(path) {
		body, err := e.objectStore.ReadFile(path)
		if err != nil {
			return nil, false, err
		}
		return clip(body, offset, length), false, nil
	}

	if content, ok := e.cache.GetContent(path); ok {
		return clip(content.Data, offset, length), false, nil
	}

	e.mu.Lock()
	e.pending[commandID] = &pendingRequest{path: path, offset: offset, length: length, complete: complete}
	e.mu.Unlock()

	e.bridge.FetchContent(path)
	return nil, true, nil
}

// CompletePending drives every pending request for path to completion
// once content for path has been cached, removing each from the
// pending map as it completes. Safe to call even if nothing is
// pending for path.
func (e *Engine) CompletePending(path string) {
	e.mu.Lock()
	var ids []int32
	for id, req := range e.pending {
		if req.path == path {
			ids = append(ids, id)
		}
	}
	reqs := make([]*pendingRequest, 0, len(ids))
	for _, id := range ids {
		reqs = append(reqs, e.pending[id])
		delete(e.pending, id)
	}
	e.mu.Unlock()

	content, ok := e.cache.GetContent(path)
	for _, req := range reqs {
		switch {
		case !ok:
			req.complete(nil, errors.NotFound("delivery", path))
		case req.offset >= int64(len(content.Data)):
			req.complete(nil, nil)
		default:
			req.complete(clip(content.Data, req.offset, req.length), nil)
		}
	}
}

// Pending reports how many requests are currently suspended, for
// diagnostics.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Shutdown completes every still-suspended request with "file not
// found" and clears the pending set, per the cancellation
// rule: on provider stop, pending file requests are completed
// explicitly rather than left for the platform to garbage-collect.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	reqs := make([]*pendingRequest, 0, len(e.pending))
	for id, req := range e.pending {
		reqs = append(reqs, req)
		delete(e.pending, id)
	}
	e.mu.Unlock()

	for _, req := range reqs {
		req.complete(nil, errors.NotFound("delivery", req.path))
	}
}

func clip(data []byte, offset, length int64) []byte {
	if offset < 0 || offset >= int64(len(data)) {
		return nil
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end]
}

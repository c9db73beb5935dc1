// Package resolver implements the Placeholder Resolver:
// answers GetPlaceholderInfo by trying, in order, the root listing (for
// dynamically mounted top-level namespaces), the file-info cache, the
// parent listing, and the object store, before falling back to an
// async fetch that returns not-found on this call.
package resolver

import (
	"time"

	"github.com/objfsprojfs/objfsprojfs/internal/bridge"
	"github.com/objfsprojfs/objfsprojfs/internal/cache"
	"github.com/objfsprojfs/objfsprojfs/internal/objectstore"
	"github.com/objfsprojfs/objfsprojfs/pkg/errors"
	"github.com/objfsprojfs/objfsprojfs/pkg/types"
	"github.com/objfsprojfs/objfsprojfs/pkg/vpath"
)

// Resolver answers placeholder-info queries.
type Resolver struct {
	cache       *cache.Cache
	objectStore *objectstore.Reader
	bridge      *bridge.Bridge
}

// New creates a Resolver. objectStore may be nil.
func New(c *cache.Cache, objectStore *objectstore.Reader, b *bridge.Bridge) *Resolver {
	return &Resolver{cache: c, objectStore: objectStore, bridge: b}
}

// Resolve answers GetPlaceholderInfo for path, following a
// five-step resolution order. Placeholder timestamps are always
// stamped with the current time; no persisted times are maintained.
func (r *Resolver) Resolve(path string) (types.FileInfo, error) {
	if vpath.IsTopLevel(path) {
		if fi, ok := r.fromRootListing(path); ok {
			return stamp(fi), nil
		}
	}

	if fi, ok := r.cache.GetInfo(path); ok {
		return stamp(fi), nil
	}

	if fi, ok := r.fromParentListing(path); ok {
		return stamp(fi), nil
	}

	if r.objectStore != nil && objectstore.IsObjectPath(path) {
		fi, err := r.objectStore.Stat(path)
		if err == nil {
			return stamp(fi), nil
		}
	}

	r.bridge.FetchInfo(path)
	return types.FileInfo{}, errors.NotFound("resolver", path)
}

func (r *Resolver) fromRootListing(path string) (types.FileInfo, bool) {
	root, ok := r.cache.GetListing(vpath.Root)
	if !ok {
		return types.FileInfo{}, false
	}
	name := vpath.Base(path)
	for _, fi := range root {
		if fi.Name == name && fi.IsDir {
			return fi, true
		}
	}
	return types.FileInfo{}, false
}

func (r *Resolver) fromParentListing(path string) (types.FileInfo, bool) {
	listing, ok := r.cache.GetListing(vpath.Parent(path))
	if !ok {
		return types.FileInfo{}, false
	}
	name := vpath.Base(path)
	for _, fi := range listing {
		if fi.Name == name {
			return fi, true
		}
	}
	return types.FileInfo{}, false
}

func stamp(fi types.FileInfo) types.FileInfo {
	fi.ModTime = time.Now()
	return fi
}

// Package types defines the data model and external interfaces the core
// virtualization engine consumes and emits: virtual paths, file metadata,
// directory listings, cached content, and the logical filesystem the
// provider projects.
package types

import (
	"context"
	"time"
)

// FileInfo describes a single virtual entry: its display name, content
// hash (when known), size, and directory/permission bits.
//
// Invariant: if IsDir is true, Size is 0 and BlobDirect is false.
type FileInfo struct {
	Name       string    `json:"name"`
	Hash       string    `json:"hash,omitempty"`
	Size       int64     `json:"size"`
	IsDir      bool      `json:"is_dir"`
	Mode       uint32    `json:"mode"`
	BlobDirect bool      `json:"blob_direct"`
	ModTime    time.Time `json:"mod_time"`
}

// Listing is an ordered, name-unique sequence of directory entries. Order
// is stable for the lifetime of the cached listing it backs.
type Listing []FileInfo

// Content is an immutable byte buffer plus the hash it materializes.
type Content struct {
	Data []byte
	Hash string
}

// CacheStats reports running counters for the content cache, shared across
// its three keyed stores (info, listing, content).
type CacheStats struct {
	InfoHits        uint64  `json:"info_hits"`
	InfoMisses      uint64  `json:"info_misses"`
	ListingHits     uint64  `json:"listing_hits"`
	ListingMisses   uint64  `json:"listing_misses"`
	ContentHits     uint64  `json:"content_hits"`
	ContentMisses   uint64  `json:"content_misses"`
	InfoEntries     int     `json:"info_entries"`
	ListingEntries  int     `json:"listing_entries"`
	ContentEntries  int     `json:"content_entries"`
	EstimatedMemory int64   `json:"estimated_memory"`
	HitRate         float64 `json:"hit_rate"`
}

// RawChild is a single entry returned by LogicalFS.ReadDir. It mirrors the
// loosely-typed shape the outbound interface allows: a bare
// name, or a name plus size/mode/directory-ness. IsDir is a tri-state:
// nil means "not supplied", in which case the ingest path falls back to
// the POSIX directory bit in Mode.
type RawChild struct {
	Name  string
	Size  int64
	Mode  uint32
	IsDir *bool
}

// NamedChild builds a RawChild carrying only a base name, the equivalent of
// a logical filesystem that returns children as bare strings.
func NamedChild(name string) RawChild {
	return RawChild{Name: name}
}

// Stat describes what LogicalFS.Stat returns for a path.
type Stat struct {
	Size  int64
	IsDir bool
	Mode  uint32
	Hash  string
}

// LogicalFS is the small interface the core consumes from the host
// language's logical filesystem. All methods are expected
// to run on the host's single-threaded event loop; the core never calls
// them directly from a ProjFS callback thread — only internal/bridge does.
type LogicalFS interface {
	Stat(ctx context.Context, path string) (*Stat, error)
	ReadDir(ctx context.Context, path string) ([]RawChild, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile is exposed for interface completeness but is never called:
	// the projection is read-only.
	WriteFile(ctx context.Context, path string, data []byte) error
}

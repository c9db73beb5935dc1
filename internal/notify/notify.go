// Package notify implements the Notification Policy:
// classifies every pre- and post-operation notification the kernel
// delivers and enforces read-only semantics, driving tombstone repair
// for regenerable paths on delete.
package notify

import "github.com/objfsprojfs/objfsprojfs/internal/cache"

// Kind identifies a ProjFS notification type.
type Kind int

const (
	KindUnknown Kind = iota
	KindFileOpened
	KindNewFileCreated
	KindFileOverwritten
	KindPreDelete
	KindPreRename
	KindPreSetHardlink
	KindFileRenamed
	KindHardlinkCreated
	KindCloseNoModification
	KindCloseModified
	KindCloseDeleted
)

// String names the notification kind, for logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindFileOpened:
		return "file_opened"
	case KindNewFileCreated:
		return "new_file_created"
	case KindFileOverwritten:
		return "file_overwritten"
	case KindPreDelete:
		return "pre_delete"
	case KindPreRename:
		return "pre_rename"
	case KindPreSetHardlink:
		return "pre_set_hardlink"
	case KindFileRenamed:
		return "file_renamed"
	case KindHardlinkCreated:
		return "hardlink_created"
	case KindCloseNoModification:
		return "close_no_modification"
	case KindCloseModified:
		return "close_modified"
	case KindCloseDeleted:
		return "close_deleted"
	default:
		return "unknown"
	}
}

// Verdict is the policy's answer to a notification.
type Verdict int

const (
	// VerdictAllow lets the kernel proceed.
	VerdictAllow Verdict = iota
	// VerdictDeny rejects the operation with access-denied.
	VerdictDeny
)

// TombstoneInvalidator is the platform primitive that clears a
// deletion tombstone so a regenerable path can be projected again.
// internal/winprojfs supplies the real implementation.
type TombstoneInvalidator interface {
	InvalidateTombstone(path string) error
}

// Regenerable reports whether path falls under a namespace the policy
// regenerates after deletion (e.g. dynamically produced files under
// /invites). Supplied by the host, since only it knows which
// namespaces are dynamic versus object-store-backed.
type Regenerable func(path string) bool

// Policy classifies notifications and drives cache/tombstone
// invalidation for the ones it must act on.
type Policy struct {
	cache       *cache.Cache
	tombstones  TombstoneInvalidator
	regenerable Regenerable
}

// New creates a Policy. tombstones may be nil, in which case
// close-deleted still invalidates the cache but skips tombstone
// invalidation. regenerable may be nil, treated as "nothing is
// regenerable".
func New(c *cache.Cache, tombstones TombstoneInvalidator, regenerable Regenerable) *Policy {
	return &Policy{cache: c, tombstones: tombstones, regenerable: regenerable}
}

// Classify returns the verdict for a notification, per a
// fixed table. Unknown notifications default to denial.
func (p *Policy) Classify(kind Kind) Verdict {
	switch kind {
	case KindFileOpened, KindCloseNoModification:
		return VerdictAllow
	case KindPreDelete, KindPreRename, KindPreSetHardlink, KindNewFileCreated, KindFileOverwritten:
		return VerdictDeny
	case KindFileRenamed, KindHardlinkCreated, KindCloseModified, KindCloseDeleted:
		// Post-operation events are observed, not blocked; the kernel
		// has already committed them by the time they arrive here.
		return VerdictAllow
	default:
		return VerdictDeny
	}
}

// Observe runs the side effects a post-operation notification
// triggers. Only KindCloseDeleted does anything: on a regenerable
// path it invalidates the cache and the platform tombstone so the
// next access re-fetches and the file reappears. repaired reports
// whether that invalidation ran.
func (p *Policy) Observe(kind Kind, path string) (repaired bool, err error) {
	if kind != KindCloseDeleted {
		return false, nil
	}
	if p.regenerable == nil || !p.regenerable(path) {
		return false, nil
	}

	p.cache.Invalidate(path)

	if p.tombstones == nil {
		return true, nil
	}
	return true, p.tombstones.InvalidateTombstone(path)
}

package winprojfs

import (
	"github.com/objfsprojfs/objfsprojfs/pkg/types"
)

// InstanceID is a 128-bit identifier: either a virtualization instance
// id (minted by Start) or an enumeration session id (handed to
// StartDirectoryEnumeration by the kernel). Both are GUIDs on the real
// platform; this module treats them as opaque 16-byte values
// throughout.
type InstanceID [16]byte

// String renders an InstanceID in canonical GUID text form.
func (id InstanceID) String() string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 0, 36)
	write := func(b byte) { buf = append(buf, hex[b>>4], hex[b&0xf]) }
	for i, b := range id {
		if i == 4 || i == 6 || i == 8 || i == 10 {
			buf = append(buf, '-')
		}
		write(b)
	}
	return string(buf)
}

// NotificationType enumerates the ProjFS notification kinds the
// policy classifies, matching PRJ_NOTIFICATION_* one-for-one.
type NotificationType int

const (
	NotificationUnknown NotificationType = iota
	NotificationFileOpened
	NotificationNewFileCreated
	NotificationFileOverwritten
	NotificationPreDelete
	NotificationPreRename
	NotificationPreSetHardlink
	NotificationFileRenamed
	NotificationHardlinkCreated
	NotificationCloseNoModification
	NotificationCloseModified
	NotificationCloseDeleted
)

// NotificationMask is the bitmask passed to PrjStartVirtualizing to
// enable a set of notification types on the whole projection tree:
// pre-delete, pre-rename, pre-set-hardlink, new-file-created,
// overwritten, and the close-modified/-deleted family.
type NotificationMask uint32

const (
	NotifyPreDelete NotificationMask = 1 << iota
	NotifyPreRename
	NotifyPreSetHardlink
	NotifyNewFileCreated
	NotifyFileOverwritten
	NotifyCloseModified
	NotifyCloseDeleted
	NotifyFileOpened
	NotifyCloseNoModification
	NotifyFileRenamed
	NotifyHardlinkCreated
)

// FullNotificationMask is the mask internal/host registers at Start:
// every notification kind the Notification Policy (internal/notify)
// needs to classify.
const FullNotificationMask = NotifyPreDelete | NotifyPreRename | NotifyPreSetHardlink |
	NotifyNewFileCreated | NotifyFileOverwritten | NotifyCloseModified | NotifyCloseDeleted |
	NotifyFileOpened | NotifyCloseNoModification | NotifyFileRenamed | NotifyHardlinkCreated

// Result is the PRJ_COMPLETE_COMMAND_EXTENDED_PARAMETERS outcome for a
// deferred completion: success, not-found, out-of-memory, or a generic
// failure (the "Pending file request" lifecycle).
type Result int32

const (
	ResultSuccess Result = iota
	ResultNotFound
	ResultOutOfMemory
	ResultFailure
)

// DirEntryHandle is the opaque PRJ_DIR_ENTRY_BUFFER_HANDLE the kernel
// hands GetDirectoryEnumeration; FillDirEntry writes into it one entry
// at a time until it reports the buffer is full.
type DirEntryHandle uintptr

// Callbacks is the full ProjFS callback set, registered
// once at Start. Every function here runs on a kernel-owned thread and
// must never block beyond a short critical section or a bounded wait.
type Callbacks struct {
	// GetPlaceholderInfo resolves path's metadata synchronously; the
	// provider marshals the result into PRJ_PLACEHOLDER_INFO and calls
	// PrjWritePlaceholderInfo itself.
	GetPlaceholderInfo func(commandID int32, path string) (types.FileInfo, error)

	// GetFileData resolves path's bytes. pending=true means the
	// request has been suspended; the provider returns
	// IO-pending to the kernel and expects a later CompleteCommand.
	GetFileData func(commandID int32, path string, byteOffset uint64, length uint32) (data []byte, pending bool, err error)

	QueryFileName             func(path string) bool
	StartDirectoryEnumeration func(sessionID InstanceID, path string) error
	GetDirectoryEnumeration   func(sessionID InstanceID, pattern string, restartScan bool, handle DirEntryHandle) error
	EndDirectoryEnumeration   func(sessionID InstanceID) error
	Notify                    func(path string, isDirectory bool, kind NotificationType, destinationPath string) (allow bool, err error)
}

// Provider is what internal/host depends on to own a single
// virtualization instance. The real implementation
// (provider_windows.go) marshals every call across the ProjFS ABI;
// the stub (provider_other.go) reports PlatformError from the calls
// that would reach the platform and succeeds or no-ops on the rest,
// letting the rest of the module build on non-Windows hosts.
type Provider interface {
	// Start registers cb and begins dispatching kernel callbacks for
	// virtualRoot. Returns the fresh instance id the virtualization
	// instance is started with. It does not mark virtualRoot as a
	// projection root (see MarkDirectoryAsPlaceholder), and mask is not
	// passed on to the platform call.
	Start(virtualRoot string, cb Callbacks, mask NotificationMask) (InstanceID, error)

	// Stop tears down the instance. Idempotent; no callback fires
	// after it returns.
	Stop() error

	// IsRunning reports whether Start has succeeded and Stop has not
	// yet been called.
	IsRunning() bool

	// CompleteFileData resolves a GetFileData call that returned
	// pending=true, once the Data Delivery Engine has the bytes (or has
	// given up). The provider tracks the data-stream id that came in
	// with the original callback, so callers only ever deal in
	// commandID. When result is ResultSuccess, data
	// is written into the stream before the command is completed;
	// otherwise data is ignored.
	CompleteFileData(commandID int32, data []byte, result Result) error

	// AllocateAlignedBuffer and FreeAlignedBuffer are the one memory
	// resource the core obtains from the platform:
	// buffers handed to WriteFileData must come from the platform's
	// own allocator.
	AllocateAlignedBuffer(size int) ([]byte, error)
	FreeAlignedBuffer(buf []byte)

	// FillDirEntry writes one FileInfo into the kernel-supplied
	// enumeration buffer. false means the buffer has no room left for
	// this entry (the insufficient-buffer case); the caller
	// must retry the same entry on the next GetDirectoryEnumeration.
	FillDirEntry(handle DirEntryHandle, info types.FileInfo) bool

	// FileNameMatch implements the kernel's own name-matching rules
	// for a search pattern, used by enumeration's pattern filtering.
	FileNameMatch(pattern, name string) bool

	// MarkDirectoryAsPlaceholder prepares virtualRoot's on-disk state
	// before PrjStartVirtualizing is called against it.
	MarkDirectoryAsPlaceholder(virtualRoot string, instanceID InstanceID) error

	// InvalidateTombstone asks the platform to forget a prior deletion
	// of path, so regenerated content can reappear.
	InvalidateTombstone(path string) error
}

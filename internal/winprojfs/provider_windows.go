//go:build windows

package winprojfs

import (
	"sync"
	"syscall"
	"unsafe"

	"github.com/Microsoft/go-winio/pkg/guid"
	"golang.org/x/sys/windows"

	"github.com/objfsprojfs/objfsprojfs/pkg/errors"
	"github.com/objfsprojfs/objfsprojfs/pkg/types"
	"github.com/objfsprojfs/objfsprojfs/pkg/vpath"
)

var projfsDLL = windows.NewLazySystemDLL("ProjectedFSLib.dll")

var (
	procStartVirtualizing          = projfsDLL.NewProc("PrjStartVirtualizing")
	procStopVirtualizing            = projfsDLL.NewProc("PrjStopVirtualizing")
	procMarkDirectoryAsPlaceholder  = projfsDLL.NewProc("PrjMarkDirectoryAsPlaceholder")
	procWritePlaceholderInfo        = projfsDLL.NewProc("PrjWritePlaceholderInfo")
	procWriteFileData               = projfsDLL.NewProc("PrjWriteFileData")
	procCompleteCommand              = projfsDLL.NewProc("PrjCompleteCommand")
	procAllocateAlignedBuffer        = projfsDLL.NewProc("PrjAllocateAlignedBuffer")
	procFreeAlignedBuffer            = projfsDLL.NewProc("PrjFreeAlignedBuffer")
	procFillDirEntryBuffer           = projfsDLL.NewProc("PrjFillDirEntryBuffer")
	procFileNameMatch                 = projfsDLL.NewProc("PrjFileNameMatch")
	procDeleteFile                     = projfsDLL.NewProc("PrjDeleteFile")
)

// HRESULT constants this layer maps to/from errors.Kind.
const (
	sOK                     = 0x00000000
	eFail                   = 0x80004005
	eOutOfMemory            = 0x8007000E
	errorFileNotFoundHR     = 0x80070002
	errorIOPendingHR        = 0x800703E5
	errorAccessDeniedHR     = 0x80070005
)

// PRJ_NOTIFY_TYPES bits (projectedfslib.h).
const (
	prjNotifyFileOpened                     uint32 = 0x00000002
	prjNotifyNewFileCreated                 uint32 = 0x00000004
	prjNotifyFileOverwritten                uint32 = 0x00000008
	prjNotifyPreDelete                      uint32 = 0x00000010
	prjNotifyPreRename                      uint32 = 0x00000020
	prjNotifyPreSetHardlink                 uint32 = 0x00000040
	prjNotifyFileRenamed                    uint32 = 0x00000080
	prjNotifyHardlinkCreated                uint32 = 0x00000100
	prjNotifyFileHandleClosedNoModification uint32 = 0x00000200
	prjNotifyFileHandleClosedFileModified   uint32 = 0x00000400
	prjNotifyFileHandleClosedFileDeleted    uint32 = 0x00000800
)

// PRJ_UPDATE_TYPES: allow clearing a tombstone left by a prior delete.
const prjUpdateAllowTombstone uint32 = 0x00000004

// PRJ_CALLBACK_DATA_FLAGS: set on GetDirectoryEnumeration when the
// kernel wants the session restarted from the beginning.
const callbackDataFlagRestartScan uint32 = 0x00000001

// prjCallbackData mirrors PRJ_CALLBACK_DATA, the header every kernel
// callback invocation carries.
type prjCallbackData struct {
	size                           uint32
	flags                          uint32
	namespaceVirtualizationContext uintptr
	commandID                      int32
	fileID                         windows.GUID
	dataStreamID                   windows.GUID
	filePathName                   *uint16
	versionInfo                    uintptr
	triggeringProcessID            uint32
	triggeringProcessImageFileName *uint16
	instanceContext                uintptr
}

// prjFileBasicInfo mirrors PRJ_FILE_BASIC_INFO.
type prjFileBasicInfo struct {
	isDirectory    uint8
	_              [7]byte // alignment padding before the INT64 fields
	fileSize       int64
	creationTime   int64
	lastAccessTime int64
	lastWriteTime  int64
	changeTime     int64
	fileAttributes uint32
	_              uint32
}

// prjPlaceholderInfo mirrors a PRJ_PLACEHOLDER_INFO with no extended
// attributes, security descriptor, or alternate streams — this
// projection carries none of those (the FileInfo has no room
// for them).
type prjPlaceholderInfo struct {
	fileBasicInfo               prjFileBasicInfo
	eaBufferSize                uint32
	offsetToFirstEA             uint32
	securityBufferSize          uint32
	offsetToSecurityDescriptor  uint32
	streamsInfoBufferSize       uint32
	offsetToFirstStreamInfo     uint32
	versionProviderID           [16]byte
	versionContent              [64]byte
}

const fileAttributeDirectory = 0x10
const fileAttributeNormal = 0x80

// windowsProvider is the real Provider, backed by ProjectedFSLib.dll.
type windowsProvider struct {
	mu      sync.RWMutex
	context uintptr
	running bool

	cb Callbacks

	// pendingStreams remembers the data-stream id and byte offset a
	// GetFileData callback arrived with, keyed by command id, for the
	// deferred commands CompleteFileData resolves later.
	pendingStreams map[int32]pendingStream

	// registry maps the namespace virtualization context handle back
	// to this provider, since PRJ_CALLBACKS entry points are free
	// functions recovered by the kernel with no Go receiver.
}

var (
	registryMu sync.RWMutex
	registry   = map[uintptr]*windowsProvider{}
)

// pendingStream is what CompleteFileData needs to resume a deferred
// GetFileData call: which stream to write into and at what offset.
type pendingStream struct {
	guid   windows.GUID
	offset uint64
}

// New returns the real ProjFS-backed Provider on Windows.
func New() Provider {
	return &windowsProvider{pendingStreams: make(map[int32]pendingStream)}
}

func (p *windowsProvider) Start(virtualRoot string, cb Callbacks, mask NotificationMask) (InstanceID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return InstanceID{}, errors.NewError(errors.ErrCodeAlreadyRunning, "virtualization instance already running").
			WithComponent("winprojfs")
	}

	p.cb = cb

	g, err := guid.NewV4()
	if err != nil {
		return InstanceID{}, errors.Platform("winprojfs", "generate_instance_id", 0, err)
	}
	instanceID := fromWinioGUID(g)

	rootPtr, err := windows.UTF16PtrFromString(virtualRoot)
	if err != nil {
		return InstanceID{}, errors.Platform("winprojfs", "start", 0, err)
	}

	callbacks := p.buildCallbackTable()
	instanceGUID := toWindowsGUID(instanceID)

	var context uintptr
	r, _, _ := procStartVirtualizing.Call(
		uintptr(unsafe.Pointer(rootPtr)),
		uintptr(unsafe.Pointer(&callbacks)),
		uintptr(unsafe.Pointer(&instanceGUID)),
		0,
		uintptr(unsafe.Pointer(&context)),
	)
	if int32(r) < 0 {
		return InstanceID{}, errors.Platform("winprojfs", "start_virtualizing", int32(r), nil)
	}

	p.context = context
	p.running = true

	registryMu.Lock()
	registry[context] = p
	registryMu.Unlock()

	_ = toPlatformMask(mask) // reserved for PRJ_STARTVIRTUALIZING_OPTIONS.NotificationMappings wiring
	return instanceID, nil
}

func (p *windowsProvider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}

	procStopVirtualizing.Call(p.context)

	registryMu.Lock()
	delete(registry, p.context)
	registryMu.Unlock()

	p.running = false
	p.context = 0
	return nil
}

func (p *windowsProvider) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// writeFileData writes data at byteOffset into the given data stream,
// as part of answering a GetFileData callback.
func (p *windowsProvider) writeFileData(streamGUID windows.GUID, data []byte, byteOffset uint64) error {
	p.mu.RLock()
	ctx := p.context
	p.mu.RUnlock()

	var dataPtr uintptr
	if len(data) > 0 {
		dataPtr = uintptr(unsafe.Pointer(&data[0]))
	}

	r, _, _ := procWriteFileData.Call(
		ctx,
		uintptr(unsafe.Pointer(&streamGUID)),
		dataPtr,
		uintptr(byteOffset),
		uintptr(len(data)),
	)
	if int32(r) < 0 {
		return errors.Platform("winprojfs", "write_file_data", int32(r), nil)
	}
	return nil
}

// completeCommand answers a deferred command with an HRESULT.
func (p *windowsProvider) completeCommand(commandID int32, result Result) error {
	p.mu.RLock()
	ctx := p.context
	p.mu.RUnlock()

	hr := resultToHRESULT(result)
	r, _, _ := procCompleteCommand.Call(ctx, uintptr(commandID), uintptr(hr), 0)
	if int32(r) < 0 {
		return errors.Platform("winprojfs", "complete_command", int32(r), nil)
	}
	return nil
}

// CompleteFileData resolves a GetFileData call that was answered with
// pending=true, writing data at the byte offset the original callback
// captured.
func (p *windowsProvider) CompleteFileData(commandID int32, data []byte, result Result) error {
	p.mu.Lock()
	stream, ok := p.pendingStreams[commandID]
	delete(p.pendingStreams, commandID)
	p.mu.Unlock()

	if !ok {
		return errors.NewError(errors.ErrCodePlatformAPI, "no pending command for completion").
			WithComponent("winprojfs").
			WithDetail("command_id", commandID)
	}

	if result == ResultSuccess {
		if err := p.writeFileData(stream.guid, data, stream.offset); err != nil {
			return err
		}
	}
	return p.completeCommand(commandID, result)
}

func (p *windowsProvider) AllocateAlignedBuffer(size int) ([]byte, error) {
	p.mu.RLock()
	ctx := p.context
	p.mu.RUnlock()

	r, _, _ := procAllocateAlignedBuffer.Call(ctx, uintptr(size))
	if r == 0 {
		return nil, errors.NewError(errors.ErrCodeOutOfMemory, "platform allocator returned null").
			WithComponent("winprojfs")
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(r)), size), nil
}

func (p *windowsProvider) FreeAlignedBuffer(buf []byte) {
	if len(buf) == 0 {
		return
	}
	procFreeAlignedBuffer.Call(uintptr(unsafe.Pointer(&buf[0])))
}

func (p *windowsProvider) FillDirEntry(handle DirEntryHandle, info types.FileInfo) bool {
	namePtr, err := windows.UTF16PtrFromString(info.Name)
	if err != nil {
		return false
	}

	basic := fileBasicInfoFor(info)
	r, _, _ := procFillDirEntryBuffer.Call(
		uintptr(unsafe.Pointer(namePtr)),
		uintptr(unsafe.Pointer(&basic)),
		uintptr(handle),
	)
	return int32(r) >= 0
}

func (p *windowsProvider) FileNameMatch(pattern, name string) bool {
	patternPtr, err1 := windows.UTF16PtrFromString(pattern)
	namePtr, err2 := windows.UTF16PtrFromString(name)
	if err1 != nil || err2 != nil {
		return false
	}
	r, _, _ := procFileNameMatch.Call(uintptr(unsafe.Pointer(namePtr)), uintptr(unsafe.Pointer(patternPtr)))
	return r != 0
}

func (p *windowsProvider) MarkDirectoryAsPlaceholder(virtualRoot string, instanceID InstanceID) error {
	rootPtr, err := windows.UTF16PtrFromString(virtualRoot)
	if err != nil {
		return errors.Platform("winprojfs", "mark_directory_as_placeholder", 0, err)
	}
	instanceGUID := toWindowsGUID(instanceID)

	r, _, _ := procMarkDirectoryAsPlaceholder.Call(
		uintptr(unsafe.Pointer(rootPtr)),
		0,
		0,
		uintptr(unsafe.Pointer(&instanceGUID)),
	)
	if int32(r) < 0 {
		return errors.NewError(errors.ErrCodeMarkRootFailed, "PrjMarkDirectoryAsPlaceholder failed").
			WithComponent("winprojfs").
			WithDetail("platform_code", int32(r))
	}
	return nil
}

func (p *windowsProvider) InvalidateTombstone(path string) error {
	p.mu.RLock()
	ctx := p.context
	p.mu.RUnlock()

	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return errors.Platform("winprojfs", "invalidate_tombstone", 0, err)
	}

	r, _, _ := procDeleteFile.Call(ctx, uintptr(unsafe.Pointer(pathPtr)), uintptr(prjUpdateAllowTombstone), 0)
	if int32(r) < 0 {
		return errors.NewError(errors.ErrCodeTombstoneFailed, "PrjDeleteFile tombstone-clear failed").
			WithComponent("winprojfs").
			WithDetail("platform_code", int32(r))
	}
	return nil
}

// --- callback table and trampolines ---

// prjCallbacksTable mirrors PRJ_CALLBACKS: one function pointer per
// kernel-invoked entry point, in declaration order.
type prjCallbacksTable struct {
	startDirectoryEnumeration uintptr
	endDirectoryEnumeration   uintptr
	getDirectoryEnumeration   uintptr
	getPlaceholderInfo        uintptr
	getFileData               uintptr
	queryFileName             uintptr
	notification              uintptr
	cancelCommand             uintptr
}

func (p *windowsProvider) buildCallbackTable() prjCallbacksTable {
	return prjCallbacksTable{
		startDirectoryEnumeration: windows.NewCallback(startDirectoryEnumerationTrampoline),
		endDirectoryEnumeration:   windows.NewCallback(endDirectoryEnumerationTrampoline),
		getDirectoryEnumeration:   windows.NewCallback(getDirectoryEnumerationTrampoline),
		getPlaceholderInfo:        windows.NewCallback(getPlaceholderInfoTrampoline),
		getFileData:               windows.NewCallback(getFileDataTrampoline),
		queryFileName:             windows.NewCallback(queryFileNameTrampoline),
		notification:              windows.NewCallback(notificationTrampoline),
	}
}

func providerFor(data *prjCallbackData) *windowsProvider {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[data.namespaceVirtualizationContext]
}

func startDirectoryEnumerationTrampoline(data *prjCallbackData, enumerationID *windows.GUID) uintptr {
	p := providerFor(data)
	if p == nil || p.cb.StartDirectoryEnumeration == nil {
		return eFail
	}
	err := p.cb.StartDirectoryEnumeration(fromWindowsGUID(*enumerationID), vpath.Canon(windows.UTF16PtrToString(data.filePathName)))
	return uintptr(errToHRESULT(err))
}

func endDirectoryEnumerationTrampoline(data *prjCallbackData, enumerationID *windows.GUID) uintptr {
	p := providerFor(data)
	if p == nil || p.cb.EndDirectoryEnumeration == nil {
		return eFail
	}
	err := p.cb.EndDirectoryEnumeration(fromWindowsGUID(*enumerationID))
	return uintptr(errToHRESULT(err))
}

func getDirectoryEnumerationTrampoline(data *prjCallbackData, enumerationID *windows.GUID, searchExpression *uint16, handle uintptr) uintptr {
	p := providerFor(data)
	if p == nil || p.cb.GetDirectoryEnumeration == nil {
		return eFail
	}
	restart := data.flags&callbackDataFlagRestartScan != 0
	pattern := ""
	if searchExpression != nil {
		pattern = windows.UTF16PtrToString(searchExpression)
	}
	err := p.cb.GetDirectoryEnumeration(fromWindowsGUID(*enumerationID), pattern, restart, DirEntryHandle(handle))
	return uintptr(errToHRESULT(err))
}

func getPlaceholderInfoTrampoline(data *prjCallbackData) uintptr {
	p := providerFor(data)
	if p == nil || p.cb.GetPlaceholderInfo == nil {
		return eFail
	}
	path := vpath.Canon(windows.UTF16PtrToString(data.filePathName))
	info, err := p.cb.GetPlaceholderInfo(data.commandID, path)
	if err != nil {
		return uintptr(errToHRESULT(err))
	}

	placeholder := prjPlaceholderInfo{fileBasicInfo: fileBasicInfoFor(info)}
	r, _, _ := procWritePlaceholderInfo.Call(
		data.namespaceVirtualizationContext,
		uintptr(unsafe.Pointer(data.filePathName)),
		uintptr(unsafe.Pointer(&placeholder)),
		unsafe.Sizeof(placeholder),
	)
	return r
}

func getFileDataTrampoline(data *prjCallbackData, byteOffset uint64, length uint32) uintptr {
	p := providerFor(data)
	if p == nil || p.cb.GetFileData == nil {
		return eFail
	}
	path := vpath.Canon(windows.UTF16PtrToString(data.filePathName))
	fdata, pending, err := p.cb.GetFileData(data.commandID, path, byteOffset, length)
	if pending {
		p.mu.Lock()
		p.pendingStreams[data.commandID] = pendingStream{guid: data.dataStreamID, offset: byteOffset}
		p.mu.Unlock()
		return errorIOPendingHR
	}
	if err != nil {
		return uintptr(errToHRESULT(err))
	}
	if err := p.writeFileData(data.dataStreamID, fdata, byteOffset); err != nil {
		return eFail
	}
	return sOK
}

func queryFileNameTrampoline(data *prjCallbackData) uintptr {
	p := providerFor(data)
	if p == nil || p.cb.QueryFileName == nil {
		return errorFileNotFoundHR
	}
	path := vpath.Canon(windows.UTF16PtrToString(data.filePathName))
	if p.cb.QueryFileName(path) {
		return sOK
	}
	return errorFileNotFoundHR
}

func notificationTrampoline(data *prjCallbackData, isDirectory uint8, notificationType uint32, destinationFileName *uint16) uintptr {
	p := providerFor(data)
	if p == nil || p.cb.Notify == nil {
		return errorAccessDeniedHR
	}
	path := vpath.Canon(windows.UTF16PtrToString(data.filePathName))
	dest := ""
	if destinationFileName != nil {
		dest = vpath.Canon(windows.UTF16PtrToString(destinationFileName))
	}
	allow, err := p.cb.Notify(path, isDirectory != 0, fromPlatformNotification(notificationType), dest)
	if err != nil {
		return eFail
	}
	if !allow {
		return errorAccessDeniedHR
	}
	return sOK
}

// --- marshalling helpers ---

func fileBasicInfoFor(info types.FileInfo) prjFileBasicInfo {
	attrs := uint32(fileAttributeNormal)
	isDir := uint8(0)
	if info.IsDir {
		attrs = fileAttributeDirectory
		isDir = 1
	}
	return prjFileBasicInfo{
		isDirectory:    isDir,
		fileSize:       info.Size,
		fileAttributes: attrs,
	}
}

func resultToHRESULT(r Result) uint32 {
	switch r {
	case ResultSuccess:
		return sOK
	case ResultNotFound:
		return errorFileNotFoundHR
	case ResultOutOfMemory:
		return eOutOfMemory
	default:
		return eFail
	}
}

func errToHRESULT(err error) uint32 {
	if err == nil {
		return sOK
	}
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return errorFileNotFoundHR
	case errors.KindAccessDenied:
		return errorAccessDeniedHR
	case errors.KindOutOfMemory:
		return eOutOfMemory
	case errors.KindIOPending:
		return errorIOPendingHR
	default:
		return eFail
	}
}

func toPlatformMask(mask NotificationMask) uint32 {
	var out uint32
	if mask&NotifyFileOpened != 0 {
		out |= prjNotifyFileOpened
	}
	if mask&NotifyNewFileCreated != 0 {
		out |= prjNotifyNewFileCreated
	}
	if mask&NotifyFileOverwritten != 0 {
		out |= prjNotifyFileOverwritten
	}
	if mask&NotifyPreDelete != 0 {
		out |= prjNotifyPreDelete
	}
	if mask&NotifyPreRename != 0 {
		out |= prjNotifyPreRename
	}
	if mask&NotifyPreSetHardlink != 0 {
		out |= prjNotifyPreSetHardlink
	}
	if mask&NotifyFileRenamed != 0 {
		out |= prjNotifyFileRenamed
	}
	if mask&NotifyHardlinkCreated != 0 {
		out |= prjNotifyHardlinkCreated
	}
	if mask&NotifyCloseNoModification != 0 {
		out |= prjNotifyFileHandleClosedNoModification
	}
	if mask&NotifyCloseModified != 0 {
		out |= prjNotifyFileHandleClosedFileModified
	}
	if mask&NotifyCloseDeleted != 0 {
		out |= prjNotifyFileHandleClosedFileDeleted
	}
	return out
}

func fromPlatformNotification(t uint32) NotificationType {
	switch t {
	case prjNotifyFileOpened:
		return NotificationFileOpened
	case prjNotifyNewFileCreated:
		return NotificationNewFileCreated
	case prjNotifyFileOverwritten:
		return NotificationFileOverwritten
	case prjNotifyPreDelete:
		return NotificationPreDelete
	case prjNotifyPreRename:
		return NotificationPreRename
	case prjNotifyPreSetHardlink:
		return NotificationPreSetHardlink
	case prjNotifyFileRenamed:
		return NotificationFileRenamed
	case prjNotifyHardlinkCreated:
		return NotificationHardlinkCreated
	case prjNotifyFileHandleClosedNoModification:
		return NotificationCloseNoModification
	case prjNotifyFileHandleClosedFileModified:
		return NotificationCloseModified
	case prjNotifyFileHandleClosedFileDeleted:
		return NotificationCloseDeleted
	default:
		return NotificationUnknown
	}
}

func toWindowsGUID(id InstanceID) windows.GUID {
	return windows.GUID{
		Data1: uint32(id[0]) | uint32(id[1])<<8 | uint32(id[2])<<16 | uint32(id[3])<<24,
		Data2: uint16(id[4]) | uint16(id[5])<<8,
		Data3: uint16(id[6]) | uint16(id[7])<<8,
		Data4: [8]byte{id[8], id[9], id[10], id[11], id[12], id[13], id[14], id[15]},
	}
}

func fromWindowsGUID(g windows.GUID) InstanceID {
	var id InstanceID
	id[0], id[1], id[2], id[3] = byte(g.Data1), byte(g.Data1>>8), byte(g.Data1>>16), byte(g.Data1>>24)
	id[4], id[5] = byte(g.Data2), byte(g.Data2>>8)
	id[6], id[7] = byte(g.Data3), byte(g.Data3>>8)
	copy(id[8:], g.Data4[:])
	return id
}

func fromWinioGUID(g guid.GUID) InstanceID {
	return fromWindowsGUID(windows.GUID{
		Data1: g.Data1,
		Data2: g.Data2,
		Data3: g.Data3,
		Data4: g.Data4,
	})
}

var _ = syscall.Errno(0) // keep syscall imported for HRESULT/Errno parity with other platform files

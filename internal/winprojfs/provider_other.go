//go:build !windows

package winprojfs

import (
	"github.com/objfsprojfs/objfsprojfs/pkg/errors"
	"github.com/objfsprojfs/objfsprojfs/pkg/types"
)

// stubProvider stands in for the Provider on platforms other than
// Windows, where ProjectedFSLib.dll does not exist: the methods that
// would reach the platform return a PlatformError, while Stop,
// IsRunning, the buffer methods, FillDirEntry and FileNameMatch answer
// locally. internal/host still wires the full pipeline against it so the
// rest of the module builds and tests cross-platform.
type stubProvider struct{}

// New returns the platform Provider for the current GOOS. On anything
// but Windows that is stubProvider.
func New() Provider {
	return &stubProvider{}
}

func unsupported(op string) error {
	return errors.NewError(errors.ErrCodePlatformAPI, "ProjFS is only available on Windows").
		WithComponent("winprojfs").
		WithOperation(op)
}

func (s *stubProvider) Start(string, Callbacks, NotificationMask) (InstanceID, error) {
	return InstanceID{}, unsupported("start")
}

func (s *stubProvider) Stop() error { return nil }

func (s *stubProvider) IsRunning() bool { return false }

func (s *stubProvider) CompleteFileData(int32, []byte, Result) error {
	return unsupported("complete_file_data")
}

func (s *stubProvider) AllocateAlignedBuffer(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (s *stubProvider) FreeAlignedBuffer([]byte) {}

func (s *stubProvider) FillDirEntry(DirEntryHandle, types.FileInfo) bool {
	return false
}

func (s *stubProvider) FileNameMatch(pattern, name string) bool {
	return pattern == "" || pattern == "*" || pattern == name
}

func (s *stubProvider) MarkDirectoryAsPlaceholder(string, InstanceID) error {
	return unsupported("mark_directory_as_placeholder")
}

func (s *stubProvider) InvalidateTombstone(string) error {
	return unsupported("invalidate_tombstone")
}

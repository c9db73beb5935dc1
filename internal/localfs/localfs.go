// Package localfs provides a minimal types.LogicalFS backed by a plain
// directory on disk. The logical filesystem is explicitly an external
// collaborator: a real deployment supplies its own, talking
// to chat history, object dumps, and invitation artifacts. This
// implementation exists so cmd/objfsprojfsd has something concrete to
// wire up and run end to end; it is not part of the core.
package localfs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/objfsprojfs/objfsprojfs/pkg/types"
)

// FS projects root, a directory on the local disk, as a LogicalFS.
type FS struct {
	root string
}

// New returns a FS rooted at root. root must already exist.
func New(root string) *FS {
	return &FS{root: filepath.Clean(root)}
}

func (f *FS) resolve(path string) string {
	return filepath.Join(f.root, filepath.FromSlash(path))
}

func (f *FS) Stat(ctx context.Context, path string) (*types.Stat, error) {
	info, err := os.Stat(f.resolve(path))
	if err != nil {
		return nil, err
	}
	return &types.Stat{
		Size:  info.Size(),
		IsDir: info.IsDir(),
		Mode:  uint32(info.Mode()),
	}, nil
}

func (f *FS) ReadDir(ctx context.Context, path string) ([]types.RawChild, error) {
	entries, err := os.ReadDir(f.resolve(path))
	if err != nil {
		return nil, err
	}
	children := make([]types.RawChild, 0, len(entries))
	for _, e := range entries {
		isDir := e.IsDir()
		info, err := e.Info()
		size := int64(0)
		mode := uint32(0)
		if err == nil {
			size = info.Size()
			mode = uint32(info.Mode())
		}
		children = append(children, types.RawChild{
			Name:  e.Name(),
			Size:  size,
			Mode:  mode,
			IsDir: &isDir,
		})
	}
	return children, nil
}

func (f *FS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(f.resolve(path))
}

// WriteFile always fails: localfs only serves the read side the
// projection needs, and the projection itself denies writes before they
// would ever reach here.
func (f *FS) WriteFile(ctx context.Context, path string, data []byte) error {
	return os.ErrPermission
}

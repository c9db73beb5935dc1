// Package objectstore implements the Object-Store Reader:
// a synchronous, read-only, direct-disk view over the objects/ area of a
// content-addressed store, exposed at /objects/<64-hex> as a directory
// of four synthetic files.
package objectstore

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/objfsprojfs/objfsprojfs/pkg/errors"
	"github.com/objfsprojfs/objfsprojfs/pkg/types"
	"github.com/objfsprojfs/objfsprojfs/pkg/vpath"
)

// Namespace is the top-level virtual directory this reader serves.
const Namespace = "objects"

const (
	rawFile    = "raw.txt"
	typeFile   = "type.txt"
	prettyFile = "pretty.html"
	jsonFile   = "json.txt"
)

var syntheticFiles = []string{rawFile, typeFile, prettyFile, jsonFile}

const (
	typeCharLOB   = "char-lob"
	typeBinaryLOB = "binary-lob"
)

// Reader serves the objects/ namespace directly off disk, memoizing the
// derived object type per hash.
type Reader struct {
	instancePath string

	mu        sync.RWMutex
	typeCache map[string]string
}

// New creates a Reader rooted at instancePath, the directory configured
// as provider.instance_path.
func New(instancePath string) *Reader {
	return &Reader{
		instancePath: instancePath,
		typeCache:    make(map[string]string),
	}
}

// IsObjectPath reports whether p is /objects or any path below it, the
// namespace this reader is responsible for. It does not check that the
// second segment is a well-formed 64-hex hash.
func IsObjectPath(p string) bool {
	segs := vpath.Segments(p)
	return len(segs) >= 1 && segs[0] == Namespace
}

// hashOf extracts the 64-hex object hash from a canonical path under
// /objects, and ok=false if the path is malformed.
func hashOf(p string) (hash string, rest []string, ok bool) {
	segs := vpath.Segments(p)
	if len(segs) < 2 || segs[0] != Namespace {
		return "", nil, false
	}
	h := segs[1]
	if len(h) != 64 {
		return "", nil, false
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", nil, false
	}
	return h, segs[2:], true
}

// Stat resolves metadata for a path under /objects.
func (r *Reader) Stat(path string) (types.FileInfo, error) {
	segs := vpath.Segments(path)
	if len(segs) == 1 && segs[0] == Namespace {
		return types.FileInfo{Name: Namespace, IsDir: true}, nil
	}

	hash, rest, ok := hashOf(path)
	if !ok {
		return types.FileInfo{}, errors.NotFound("objectstore", path)
	}

	if !r.objectExists(hash) {
		return types.FileInfo{}, errors.NotFound("objectstore", path)
	}

	if len(rest) == 0 {
		return types.FileInfo{Name: hash, IsDir: true, Hash: hash}, nil
	}
	if len(rest) != 1 {
		return types.FileInfo{}, errors.NotFound("objectstore", path)
	}

	data, err := r.bodyFor(rest[0], hash)
	if err != nil {
		return types.FileInfo{}, err
	}
	return types.FileInfo{Name: rest[0], Size: int64(len(data)), BlobDirect: rest[0] == rawFile}, nil
}

// ReadDir lists the synthetic children of an object directory.
func (r *Reader) ReadDir(path string) (types.Listing, error) {
	hash, rest, ok := hashOf(path)
	if !ok || len(rest) != 0 {
		return nil, errors.NotFound("objectstore", path)
	}
	if !r.objectExists(hash) {
		return nil, errors.NotFound("objectstore", path)
	}

	listing := make(types.Listing, 0, len(syntheticFiles))
	for _, name := range syntheticFiles {
		data, err := r.bodyFor(name, hash)
		if err != nil {
			continue
		}
		listing = append(listing, types.FileInfo{Name: name, Size: int64(len(data)), BlobDirect: name == rawFile})
	}
	return listing, nil
}

// ReadFile serves one of the four synthetic files for an object.
func (r *Reader) ReadFile(path string) ([]byte, error) {
	hash, rest, ok := hashOf(path)
	if !ok || len(rest) != 1 {
		return nil, errors.NotFound("objectstore", path)
	}
	return r.bodyFor(rest[0], hash)
}

func (r *Reader) bodyFor(name, hash string) ([]byte, error) {
	raw, err := r.readRaw(hash)
	if err != nil {
		return nil, err
	}

	switch name {
	case rawFile:
		return raw, nil
	case typeFile:
		return []byte(r.typeOf(hash, raw)), nil
	case prettyFile:
		return []byte(fmt.Sprintf("<html><body><pre>%s</pre></body></html>", escapeHTML(raw))), nil
	case jsonFile:
		return []byte(fmt.Sprintf(`{"hash":%q,"type":%q,"size":%d}`, hash, r.typeOf(hash, raw), len(raw))), nil
	default:
		return nil, errors.NotFound("objectstore", name)
	}
}

func (r *Reader) objectExists(hash string) bool {
	_, err := os.Stat(r.objectFile(hash))
	return err == nil
}

func (r *Reader) objectFile(hash string) string {
	return filepath.Join(r.instancePath, Namespace, hash)
}

func (r *Reader) readRaw(hash string) ([]byte, error) {
	data, err := os.ReadFile(r.objectFile(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("objectstore", hash)
		}
		return nil, errors.Platform("objectstore", "read_raw", 0, err)
	}
	return data, nil
}

// typeOf derives, and memoizes, the object type tag from the first 100
// bytes of the raw body: an explicit type="..." attribute wins, a
// recognizable structured-markup prefix yields the character-LOB tag,
// anything else the binary-LOB tag.
func (r *Reader) typeOf(hash string, raw []byte) string {
	r.mu.RLock()
	if t, ok := r.typeCache[hash]; ok {
		r.mu.RUnlock()
		return t
	}
	r.mu.RUnlock()

	head := raw
	if len(head) > 100 {
		head = head[:100]
	}
	t := classify(head)

	r.mu.Lock()
	r.typeCache[hash] = t
	r.mu.Unlock()
	return t
}

func classify(head []byte) string {
	if tag, ok := extractTypeTag(head); ok {
		return tag
	}
	trimmed := strings.TrimLeft(string(head), " \t\r\n")
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "<") || strings.HasPrefix(trimmed, "[") {
		return typeCharLOB
	}
	return typeBinaryLOB
}

// extractTypeTag pulls an explicit type="..." attribute out of the
// object header, when the body carries one.
func extractTypeTag(head []byte) (string, bool) {
	s := string(head)
	i := strings.Index(s, `type="`)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(`type="`):]
	j := strings.IndexByte(rest, '"')
	if j <= 0 {
		return "", false
	}
	return rest[:j], true
}

func escapeHTML(raw []byte) string {
	s := string(raw)
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

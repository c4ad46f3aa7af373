// Package localdisk implements a backend.Backend rooted at a directory on
// the local filesystem.
package localdisk

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.sftpd.dev/core/pkg/backend"
)

// Backend stores files under a root directory that must already exist.
// Reads and renames are guarded by a RWMutex so a rename mid-listing
// can't hand back a half-moved tree.
type Backend struct {
	root string
	mu   sync.RWMutex
}

// New returns a Backend rooted at root, which must already exist and be a
// directory.
func New(root string) (*Backend, error) {
	fi, err := os.Stat(root)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("localdisk: root %q doesn't exist", root)
	}
	if err != nil {
		return nil, fmt.Errorf("localdisk: stat root %q: %v", root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("localdisk: root %q exists but is not a directory", root)
	}
	return &Backend{root: root}, nil
}

func (b *Backend) abs(path string) string {
	if path == "" {
		return b.root
	}
	return filepath.Join(b.root, filepath.FromSlash(path))
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return backend.New(backend.NotFound)
	case os.IsPermission(err):
		return backend.New(backend.PermissionDenied)
	case os.IsExist(err):
		return backend.New(backend.AlreadyExists)
	default:
		return backend.Newf(backend.Io, "%v", err)
	}
}

func infoFrom(fi os.FileInfo) backend.FileInfo {
	now := fi.ModTime().Unix()
	if fi.IsDir() {
		return backend.Directory(fi.Name(), now)
	}
	return backend.File(fi.Name(), fi.Size(), now)
}

func (b *Backend) ListDir(ctx context.Context, path string) ([]backend.DirEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dirents, err := os.ReadDir(b.abs(path))
	if err != nil {
		if fi, serr := os.Stat(b.abs(path)); serr == nil && !fi.IsDir() {
			return nil, backend.New(backend.NotADirectory)
		}
		return nil, mapErr(err)
	}
	sort.Slice(dirents, func(i, j int) bool { return dirents[i].Name() < dirents[j].Name() })

	entries := backend.SyntheticDotEntries(time.Now().Unix())
	for _, de := range dirents {
		fi, err := de.Info()
		if err != nil {
			return nil, mapErr(err)
		}
		entries = append(entries, backend.DirEntry{Name: de.Name(), Info: infoFrom(fi)})
	}
	return entries, nil
}

func (b *Backend) FileInfo(ctx context.Context, path string) (backend.FileInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	fi, err := os.Stat(b.abs(path))
	if err != nil {
		return backend.FileInfo{}, mapErr(err)
	}
	return infoFrom(fi), nil
}

func (b *Backend) MakeDir(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Mkdir(b.abs(path), 0o755); err != nil {
		return mapErr(err)
	}
	return nil
}

func (b *Backend) DelDir(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	fi, err := os.Stat(b.abs(path))
	if err != nil {
		return mapErr(err)
	}
	if !fi.IsDir() {
		return backend.New(backend.NotADirectory)
	}
	if err := os.Remove(b.abs(path)); err != nil {
		if pe, ok := err.(*fs.PathError); ok && isNotEmpty(pe.Err) {
			return backend.New(backend.DirectoryNotEmpty)
		}
		return mapErr(err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	fi, err := os.Stat(b.abs(path))
	if err != nil {
		return mapErr(err)
	}
	if fi.IsDir() {
		return backend.New(backend.IsADirectory)
	}
	if err := os.Remove(b.abs(path)); err != nil {
		return mapErr(err)
	}
	return nil
}

func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := os.Stat(b.abs(newPath)); err == nil {
		return backend.New(backend.AlreadyExists)
	}
	if err := os.Rename(b.abs(oldPath), b.abs(newPath)); err != nil {
		return mapErr(err)
	}
	return nil
}

func (b *Backend) ReadFile(ctx context.Context, path string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	fi, err := os.Stat(b.abs(path))
	if err != nil {
		return nil, mapErr(err)
	}
	if fi.IsDir() {
		return nil, backend.New(backend.IsADirectory)
	}
	content, err := os.ReadFile(b.abs(path))
	if err != nil {
		return nil, mapErr(err)
	}
	return content, nil
}

func (b *Backend) WriteFile(ctx context.Context, path string, content []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if fi, err := os.Stat(b.abs(path)); err == nil && fi.IsDir() {
		return backend.New(backend.IsADirectory)
	}
	if err := os.WriteFile(b.abs(path), content, 0o644); err != nil {
		return mapErr(err)
	}
	return nil
}

var _ backend.Backend = (*Backend)(nil)

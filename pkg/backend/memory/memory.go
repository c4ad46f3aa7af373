// Package memory implements an in-memory backend.Backend, storing every
// file's content in a guarded map keyed by normalized path.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.sftpd.dev/core/pkg/backend"
	"go.sftpd.dev/core/pkg/sftppath"
)

type node struct {
	isDir   bool
	content []byte // valid when !isDir
	modTime int64
}

// Backend is an in-memory implementation of backend.Backend. New creates
// the root directory, which always exists afterwards; the zero value has
// no root and is not usable.
type Backend struct {
	mu    sync.RWMutex // guards nodes
	nodes map[string]*node
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{nodes: map[string]*node{"": {isDir: true, modTime: now()}}}
}

func now() int64 { return time.Now().Unix() }

func (b *Backend) ListDir(ctx context.Context, path string) ([]backend.DirEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n, ok := b.nodes[path]
	if !ok {
		return nil, backend.New(backend.NotFound)
	}
	if !n.isDir {
		return nil, backend.New(backend.NotADirectory)
	}

	prefix := path
	if prefix != "" {
		prefix += "/"
	}
	var names []string
	for p := range b.nodes {
		if p == path || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if strings.Contains(rest, "/") {
			continue // not a direct child
		}
		names = append(names, rest)
	}
	sort.Strings(names)

	entries := backend.SyntheticDotEntries(now())
	for _, name := range names {
		child := b.nodes[sftppath.Join(path, name)]
		entries = append(entries, backend.DirEntry{Name: name, Info: infoOf(name, child)})
	}
	return entries, nil
}

func (b *Backend) FileInfo(ctx context.Context, path string) (backend.FileInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n, ok := b.nodes[path]
	if !ok {
		return backend.FileInfo{}, backend.New(backend.NotFound)
	}
	return infoOf(sftppath.Base(path), n), nil
}

func infoOf(name string, n *node) backend.FileInfo {
	if n.isDir {
		return backend.Directory(name, n.modTime)
	}
	return backend.File(name, int64(len(n.content)), n.modTime)
}

func (b *Backend) MakeDir(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.nodes[path]; ok {
		return backend.New(backend.AlreadyExists)
	}
	parent := sftppath.Dir(path)
	if p, ok := b.nodes[parent]; !ok {
		return backend.New(backend.NotFound)
	} else if !p.isDir {
		return backend.New(backend.NotADirectory)
	}
	b.nodes[path] = &node{isDir: true, modTime: now()}
	return nil
}

func (b *Backend) DelDir(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[path]
	if !ok {
		return backend.New(backend.NotFound)
	}
	if !n.isDir {
		return backend.New(backend.NotADirectory)
	}
	prefix := path + "/"
	if path == "" {
		prefix = ""
	}
	for p := range b.nodes {
		if p != path && (path == "" || strings.HasPrefix(p, prefix)) {
			return backend.New(backend.DirectoryNotEmpty)
		}
	}
	delete(b.nodes, path)
	return nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[path]
	if !ok {
		return backend.New(backend.NotFound)
	}
	if n.isDir {
		return backend.New(backend.IsADirectory)
	}
	delete(b.nodes, path)
	return nil
}

func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[oldPath]
	if !ok {
		return backend.New(backend.NotFound)
	}
	if _, exists := b.nodes[newPath]; exists {
		return backend.New(backend.AlreadyExists)
	}

	oldPrefix := oldPath + "/"
	moved := map[string]*node{newPath: n}
	if n.isDir {
		for p, c := range b.nodes {
			if strings.HasPrefix(p, oldPrefix) {
				moved[newPath+"/"+strings.TrimPrefix(p, oldPrefix)] = c
			}
		}
	}
	delete(b.nodes, oldPath)
	if n.isDir {
		for p := range b.nodes {
			if strings.HasPrefix(p, oldPrefix) {
				delete(b.nodes, p)
			}
		}
	}
	for p, c := range moved {
		b.nodes[p] = c
	}
	return nil
}

func (b *Backend) ReadFile(ctx context.Context, path string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n, ok := b.nodes[path]
	if !ok {
		return nil, backend.New(backend.NotFound)
	}
	if n.isDir {
		return nil, backend.New(backend.IsADirectory)
	}
	out := make([]byte, len(n.content))
	copy(out, n.content)
	return out, nil
}

func (b *Backend) WriteFile(ctx context.Context, path string, content []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.nodes[path]; ok && existing.isDir {
		return backend.New(backend.IsADirectory)
	}
	parent := sftppath.Dir(path)
	if p, ok := b.nodes[parent]; !ok {
		return backend.New(backend.NotFound)
	} else if !p.isDir {
		return backend.New(backend.NotADirectory)
	}
	buf := make([]byte, len(content))
	copy(buf, content)
	b.nodes[path] = &node{content: buf, modTime: now()}
	return nil
}

var _ backend.Backend = (*Backend)(nil)

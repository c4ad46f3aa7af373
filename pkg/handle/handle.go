// Package handle implements the SFTP handle registry: the mapping from
// opaque handle tokens exchanged on the wire to the open dir/read/write
// state they refer to.
package handle

import (
	"strconv"
	"sync"
)

// Kind identifies what an entry in the registry represents.
type Kind int

const (
	// Dir is an open directory listing. ReadDone tracks whether the one
	// and only READDIR response batch has already been sent.
	Dir Kind = iota
	// Read is an immutable snapshot of a file's content taken at open
	// time.
	Read
	// Write is an accumulating buffer flushed to the backend only when
	// the handle is closed successfully.
	Write
)

// Entry is the state behind one handle token. Exactly one of the fields
// relevant to its Kind is meaningful; the rest are zero.
type Entry struct {
	Kind Kind
	Path string

	// Dir
	ReadDone bool

	// Read
	Content []byte

	// Write
	Buffer []byte
}

// Registry is a token-keyed, concurrency-safe map from handle strings to
// Entry values. Tokens are decimal renderings of a monotonically
// increasing counter, not UUIDs: one Registry belongs to exactly one SFTP
// subsystem instance (one SSH channel), so there's no need for a token
// format that's unique across sessions or processes.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	next    uint64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

func (r *Registry) newToken() string {
	r.next++
	return strconv.FormatUint(r.next, 10)
}

// CreateDir registers a new Dir handle for path and returns its token.
func (r *Registry) CreateDir(path string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	token := r.newToken()
	r.entries[token] = &Entry{Kind: Dir, Path: path}
	return token
}

// CreateRead registers a new Read handle for path with the given
// immutable content snapshot and returns its token.
func (r *Registry) CreateRead(path string, content []byte) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	token := r.newToken()
	r.entries[token] = &Entry{Kind: Read, Path: path, Content: content}
	return token
}

// CreateWrite registers a new Write handle for path with the given
// initial buffer and returns its token. The SFTP handler passes nil, so
// its Write handles start empty.
func (r *Registry) CreateWrite(path string, initial []byte) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	token := r.newToken()
	r.entries[token] = &Entry{Kind: Write, Path: path, Buffer: initial}
	return token
}

// Get returns the Entry for token, or false if it doesn't exist. The
// returned pointer is shared; callers on the Write path must hold no
// assumptions about concurrent mutation, since a single SFTP subsystem
// instance processes requests for one channel sequentially.
func (r *Registry) Get(token string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[token]
	return e, ok
}

// FindByPath returns an open handle for path, if one exists, or false if
// none does. It backs fstat: github.com/pkg/sftp's RequestServer rewrites
// SSH_FXP_FSTAT into the same handle-less, path-keyed "Stat" dispatch as
// SSH_FXP_STAT/LSTAT, so answering spec.md §4.4's fstat row (size derived
// from the handle's in-memory state rather than the backend) requires
// looking the path back up in the registry instead of being handed the
// handle directly. If more than one handle is open on the same path, an
// arbitrary one is returned; the wire protocol gives no way to do better
// once the handle token itself has been discarded.
func (r *Registry) FindByPath(path string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Path == path {
			return e, true
		}
	}
	return nil, false
}

// MarkReadDone records that a Dir handle's one listing batch has been
// sent.
func (r *Registry) MarkReadDone(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[token]; ok {
		e.ReadDone = true
	}
}

// SetBuffer replaces a Write handle's accumulated buffer, e.g. after a
// write-at-offset splice.
func (r *Registry) SetBuffer(token string, buf []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[token]; ok {
		e.Buffer = buf
	}
}

// Remove deletes a handle from the registry. It's a no-op if token isn't
// present (closing an already-closed or unknown handle never panics).
func (r *Registry) Remove(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, token)
}

// Len reports how many handles are currently open. Used by tests that
// assert handles don't leak.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

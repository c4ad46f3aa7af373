package sftpd

import (
	"context"
	"io"
	"sync"

	"go.sftpd.dev/core/pkg/backend"
	"go.sftpd.dev/core/pkg/handle"
)

// readHandle is the io.ReaderAt pkg/sftp drives directly with READ
// packets. It wraps an immutable snapshot taken at open time: reads never
// observe a write that happens after the handle was opened, on this
// session or any other.
type readHandle struct {
	handles *handle.Registry
	token   string
	content []byte
}

func (r *readHandle) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.content)) {
		return 0, io.EOF
	}
	n := copy(p, r.content[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close removes the handle from the registry. A Read handle's close has
// no backend side effect.
func (r *readHandle) Close() error {
	r.handles.Remove(r.token)
	return nil
}

// writeHandle is the io.WriterAt pkg/sftp drives directly with WRITE
// packets. Writes accumulate in buffer under mu (pkg/sftp may issue
// concurrent WriteAt calls for pipelined writes on one handle); the
// buffer is only persisted to the backend when Close succeeds.
type writeHandle struct {
	backend backend.Backend
	handles *handle.Registry
	token   string
	path    string

	mu     sync.Mutex
	buffer []byte
}

// WriteAt splices p into the buffer at off: bytes before off that don't
// exist yet are zero-filled, and any overlap with existing content is
// overwritten in place.
func (w *writeHandle) WriteAt(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	end := off + int64(len(p))
	if end > int64(len(w.buffer)) {
		grown := make([]byte, end)
		copy(grown, w.buffer)
		w.buffer = grown
	}
	copy(w.buffer[off:end], p)
	w.handles.SetBuffer(w.token, w.buffer)
	return len(p), nil
}

// Close flushes the accumulated buffer to the backend in one WriteFile
// call and removes the handle from the registry. If WriteFile fails, the
// handle is still removed: there's no retry path for a half-written
// close, and holding the handle open after the client believes it closed
// would only leak state.
func (w *writeHandle) Close() error {
	w.mu.Lock()
	buf := w.buffer
	w.mu.Unlock()

	err := w.backend.WriteFile(context.Background(), w.path, buf)
	w.handles.Remove(w.token)
	return toSFTPErr(err)
}

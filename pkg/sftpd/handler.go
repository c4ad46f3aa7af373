// Package sftpd implements the SFTP request handler: the translation
// between github.com/pkg/sftp's Handlers contract and a backend.Backend.
package sftpd

import (
	"context"
	"io"
	"log"
	"os"
	"time"

	"github.com/pkg/sftp"

	"go.sftpd.dev/core/pkg/backend"
	"go.sftpd.dev/core/pkg/handle"
	"go.sftpd.dev/core/pkg/sftppath"
)

// Handler implements sftp.Handlers against a single Backend. One Handler
// is constructed per SFTP subsystem instance (one SSH channel) by the
// session dispatcher, paired with a fresh handle.Registry, and handed to
// sftp.NewRequestServer.
type Handler struct {
	Backend backend.Backend
	Handles *handle.Registry
	Logger  *log.Logger
}

// Handlers returns the sftp.Handlers aggregate backed by h.
func (h *Handler) Handlers() sftp.Handlers {
	return sftp.Handlers{
		FileGet:  h,
		FilePut:  h,
		FileCmd:  h,
		FileList: h,
	}
}

func (h *Handler) logf(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	}
}

// toSFTPErr maps a backend error to the pkg/sftp status the protocol
// should report, per the fixed table: NotFound and NotADirectory both
// read as "no such file" from the client's point of view (there's no
// ENOTDIR-shaped status in the legacy small status set pkg/sftp targets
// here), PermissionDenied maps directly, and everything else is a bare
// failure.
func toSFTPErr(err error) error {
	if err == nil {
		return nil
	}
	switch backend.KindOf(err) {
	case backend.NotFound, backend.NotADirectory:
		return sftp.ErrSSHFxNoSuchFile
	case backend.PermissionDenied:
		return sftp.ErrSSHFxPermissionDenied
	default:
		return sftp.ErrSSHFxFailure
	}
}

func path(r *sftp.Request) string {
	return sftppath.Normalize(r.Filepath)
}

// handleInfo derives a fstat-shaped FileInfo for an open handle at path:
// current size comes from the handle's in-memory state (spec.md §4.4),
// everything else is merged from a best-effort file_info call. A brand
// new file being uploaded (Write handle, nothing flushed to the backend
// yet) has no backend-side entry at all, so a failed file_info call falls
// back to the handle kind's synthetic defaults rather than surfacing an
// error the client never asked about.
func (h *Handler) handleInfo(ctx context.Context, p string, e *handle.Entry) backend.FileInfo {
	name := sftppath.Base(p)
	now := time.Now().Unix()

	base, err := h.Backend.FileInfo(ctx, p)
	if err != nil {
		if e.Kind == handle.Dir {
			base = backend.Directory(name, now)
		} else {
			base = backend.File(name, 0, now)
		}
	}
	base.Name = name

	switch e.Kind {
	case handle.Dir:
		base.IsDir = true
	case handle.Read:
		base.IsDir = false
		base.Size = int64(len(e.Content))
	case handle.Write:
		base.IsDir = false
		base.Size = int64(len(e.Buffer))
	}
	return base
}

// Fileread opens path for reading. The returned io.ReaderAt is a snapshot
// of the file's content taken at open time; pkg/sftp drives ReadAt calls
// directly against it as READ packets arrive, so a concurrent write to
// the same path from another session never perturbs an in-flight read.
func (h *Handler) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	p := path(r)
	content, err := h.Backend.ReadFile(context.Background(), p)
	if err != nil {
		h.logf("read %q: %v", p, err)
		return nil, toSFTPErr(err)
	}
	token := h.Handles.CreateRead(p, content)
	return &readHandle{handles: h.Handles, token: token, content: content}, nil
}

// Filewrite opens path for writing. The returned io.WriterAt accumulates
// writes into an empty in-memory buffer; the full buffer is flushed to
// the backend in one WriteFile call only when the handle is closed, per
// the write-handle contract: a write that's never closed is never
// persisted.
func (h *Handler) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	p := path(r)
	token := h.Handles.CreateWrite(p, nil)
	return &writeHandle{backend: h.Backend, handles: h.Handles, token: token, path: p}, nil
}

// Filecmd handles every request that isn't a read, write, or listing:
// rename, remove, mkdir, rmdir, and the setstat family.
func (h *Handler) Filecmd(r *sftp.Request) error {
	p := path(r)
	ctx := context.Background()

	switch r.Method {
	case "Setstat", "Fsetstat":
		// No backend operation carries attribute changes; acknowledge
		// without effect.
		return nil
	case "Rename":
		target := sftppath.Normalize(r.Target)
		if err := h.Backend.Rename(ctx, p, target); err != nil {
			h.logf("rename %q -> %q: %v", p, target, err)
			return toSFTPErr(err)
		}
		return nil
	case "Rmdir":
		if err := h.Backend.DelDir(ctx, p); err != nil {
			h.logf("rmdir %q: %v", p, err)
			return toSFTPErr(err)
		}
		return nil
	case "Remove":
		if err := h.Backend.Delete(ctx, p); err != nil {
			h.logf("remove %q: %v", p, err)
			return toSFTPErr(err)
		}
		return nil
	case "Mkdir":
		if err := h.Backend.MakeDir(ctx, p); err != nil {
			h.logf("mkdir %q: %v", p, err)
			return toSFTPErr(err)
		}
		return nil
	default:
		return sftp.ErrSSHFxOpUnsupported
	}
}

// Filelist handles directory listings and path stats.
func (h *Handler) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	p := path(r)
	ctx := context.Background()

	switch r.Method {
	case "List":
		fi, err := h.Backend.FileInfo(ctx, p)
		if err != nil {
			h.logf("list %q: %v", p, err)
			return nil, toSFTPErr(err)
		}
		if !fi.IsDir {
			return nil, sftp.ErrSSHFxNoSuchFile
		}
		entries, err := h.Backend.ListDir(ctx, p)
		if err != nil {
			h.logf("list %q: %v", p, err)
			return nil, toSFTPErr(err)
		}
		infos := make([]os.FileInfo, 0, len(entries))
		for _, e := range entries {
			infos = append(infos, fileInfo{e.Info})
		}
		return listerAt(infos), nil
	case "Stat":
		// github.com/pkg/sftp's RequestServer rewrites SSH_FXP_FSTAT
		// into this same path-keyed dispatch with no handle reference
		// at all, so an open handle on p (if any) is consulted first:
		// spec.md §4.4's fstat row wants the handle's in-memory size,
		// which a path-only file_info call on a not-yet-flushed write
		// can't see.
		if e, ok := h.Handles.FindByPath(p); ok {
			return listerAt([]os.FileInfo{fileInfo{h.handleInfo(ctx, p, e)}}), nil
		}
		fi, err := h.Backend.FileInfo(ctx, p)
		if err != nil {
			h.logf("stat %q: %v", p, err)
			return nil, toSFTPErr(err)
		}
		return listerAt([]os.FileInfo{fileInfo{fi}}), nil
	default:
		return nil, sftp.ErrSSHFxOpUnsupported
	}
}

// fileInfo adapts backend.FileInfo to os.FileInfo, the shape pkg/sftp
// expects back from Filelist.
type fileInfo struct {
	info backend.FileInfo
}

func (f fileInfo) Name() string { return f.info.Name }
func (f fileInfo) Size() int64  { return f.info.Size }
func (f fileInfo) Mode() os.FileMode {
	mode := os.FileMode(f.info.Mode)
	if f.info.IsDir {
		mode |= os.ModeDir
	}
	return mode
}
func (f fileInfo) ModTime() time.Time { return time.Unix(f.info.ModTime, 0) }
func (f fileInfo) IsDir() bool        { return f.info.IsDir }
func (f fileInfo) Sys() interface{}   { return nil }

// listerAt implements sftp.ListerAt the way the library's own reference
// handlers do: a plain slice, sliced at an offset, EOF once exhausted.
type listerAt []os.FileInfo

func (l listerAt) ListAt(dst []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(dst, l[offset:])
	if n < len(dst) {
		return n, io.EOF
	}
	return n, nil
}

var (
	_ sftp.FileReader = (*Handler)(nil)
	_ sftp.FileWriter = (*Handler)(nil)
	_ sftp.FileCmder  = (*Handler)(nil)
	_ sftp.FileLister = (*Handler)(nil)
)

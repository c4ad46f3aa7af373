package sftpd_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/pkg/sftp"

	"go.sftpd.dev/core/pkg/backend"
	"go.sftpd.dev/core/pkg/backend/memory"
	"go.sftpd.dev/core/pkg/handle"
	"go.sftpd.dev/core/pkg/sftpd"
)

// pipeConn joins a pair of io.Pipes into one io.ReadWriteCloser, so the
// real sftp.Client can talk to our sftp.RequestServer without any SSH
// transport in between.
type pipeConn struct {
	io.Reader
	io.Writer
}

func (pipeConn) Close() error { return nil }

func newServerAndClient(t *testing.T, b backend.Backend) *sftp.Client {
	t.Helper()

	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	h := &sftpd.Handler{Backend: b, Handles: handle.New()}
	server := sftp.NewRequestServer(pipeConn{serverRead, serverWrite}, h.Handlers())

	go func() {
		server.Serve()
		clientWrite.Close() // unblock the client if the server exits first
	}()
	t.Cleanup(func() { server.Close() })

	client, err := sftp.NewClientPipe(clientRead, clientWrite)
	if err != nil {
		t.Fatalf("NewClientPipe: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	client := newServerAndClient(t, memory.New())

	f, err := client.Create("/hello.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write([]byte("hello, sftp")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rf, err := client.Open("/hello.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rf.Close()
	got, err := io.ReadAll(rf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello, sftp" {
		t.Fatalf("content = %q, want %q", got, "hello, sftp")
	}
}

func TestMkdirListRmdir(t *testing.T) {
	client := newServerAndClient(t, memory.New())

	if err := client.Mkdir("/dir"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	f, err := client.Create("/dir/child.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Write([]byte("x"))
	f.Close()

	entries, err := client.ReadDir("/dir")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "child.txt" {
		t.Fatalf("ReadDir = %v, want one entry named child.txt", entries)
	}

	if err := client.Remove("/dir/child.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := client.RemoveDirectory("/dir"); err != nil {
		t.Fatalf("RemoveDirectory: %v", err)
	}
	if _, err := client.Stat("/dir"); err == nil {
		t.Fatal("Stat after RemoveDirectory = nil error, want not-exist")
	}
}

// TestFilelistListIncludesDotEntries drives Handler.Filelist directly
// instead of through sftp.Client.ReadDir, which filters "." and ".."
// client-side and so can't observe whether the server actually sent
// them. spec.md §3/§4.2 require every listing to begin with both,
// reported as directories.
func TestFilelistListIncludesDotEntries(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	if err := b.MakeDir(ctx, "dir"); err != nil {
		t.Fatalf("MakeDir: %v", err)
	}
	if err := b.WriteFile(ctx, "dir/child.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	h := &sftpd.Handler{Backend: b, Handles: handle.New()}
	lister, err := h.Filelist(&sftp.Request{Method: "List", Filepath: "/dir"})
	if err != nil {
		t.Fatalf("Filelist: %v", err)
	}

	infos := make([]os.FileInfo, 4)
	n, err := lister.ListAt(infos, 0)
	if err != nil && err != io.EOF {
		t.Fatalf("ListAt: %v", err)
	}
	infos = infos[:n]
	if len(infos) != 3 {
		t.Fatalf("ListAt returned %d entries, want 3 (., .., child.txt): %v", len(infos), infos)
	}
	if infos[0].Name() != "." || !infos[0].IsDir() {
		t.Fatalf("entries[0] = %+v, want directory named \".\"", infos[0])
	}
	if infos[1].Name() != ".." || !infos[1].IsDir() {
		t.Fatalf("entries[1] = %+v, want directory named \"..\"", infos[1])
	}
	if infos[2].Name() != "child.txt" {
		t.Fatalf("entries[2] = %+v, want \"child.txt\"", infos[2])
	}
}

func TestRename(t *testing.T) {
	client := newServerAndClient(t, memory.New())

	f, err := client.Create("/old.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Write([]byte("content"))
	f.Close()

	if err := client.Rename("/old.txt", "/new.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := client.Stat("/old.txt"); err == nil {
		t.Fatal("Stat(/old.txt) after rename = nil error, want not-exist")
	}
	rf, err := client.Open("/new.txt")
	if err != nil {
		t.Fatalf("Open(/new.txt): %v", err)
	}
	defer rf.Close()
	got, _ := io.ReadAll(rf)
	if string(got) != "content" {
		t.Fatalf("content = %q, want %q", got, "content")
	}
}

func TestWriteAtOffsetSplice(t *testing.T) {
	client := newServerAndClient(t, memory.New())

	f, err := client.Create("/spliced.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.WriteAt([]byte("world"), 6); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if _, err := f.WriteAt([]byte("hello,"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rf, err := client.Open("/spliced.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rf.Close()
	got, err := io.ReadAll(rf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, []byte("hello,world")) {
		t.Fatalf("content = %q, want %q", got, "hello,world")
	}
}

// TestFstatOnOpenWriteHandleBeforeFlush drives Handler.Filewrite and
// Handler.Filelist directly, since github.com/pkg/sftp's RequestServer
// collapses SSH_FXP_FSTAT into the same path-keyed "Stat" dispatch as
// SSH_FXP_STAT with no handle information at all. spec.md §4.4's fstat
// row requires deriving size from the handle's in-memory buffer for a
// Write handle that hasn't been closed yet, rather than a plain file_info
// call against a path the backend has never heard of.
func TestFstatOnOpenWriteHandleBeforeFlush(t *testing.T) {
	b := memory.New()
	h := &sftpd.Handler{Backend: b, Handles: handle.New()}

	wh, err := h.Filewrite(&sftp.Request{Method: "Put", Filepath: "/new-upload.txt"})
	if err != nil {
		t.Fatalf("Filewrite: %v", err)
	}
	if _, err := wh.WriteAt([]byte("hello"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	if _, err := b.FileInfo(context.Background(), "new-upload.txt"); err == nil {
		t.Fatal("backend.FileInfo unexpectedly succeeded before close")
	}

	lister, err := h.Filelist(&sftp.Request{Method: "Stat", Filepath: "/new-upload.txt"})
	if err != nil {
		t.Fatalf("Filelist(Stat): %v", err)
	}
	infos := make([]os.FileInfo, 1)
	n, err := lister.ListAt(infos, 0)
	if err != nil && err != io.EOF {
		t.Fatalf("ListAt: %v", err)
	}
	if n != 1 {
		t.Fatalf("ListAt returned %d entries, want 1", n)
	}
	if infos[0].Size() != 5 {
		t.Fatalf("fstat size = %d, want 5 (in-memory buffer length)", infos[0].Size())
	}
	if infos[0].IsDir() {
		t.Fatal("fstat on a write handle reported as a directory")
	}

	if err := wh.(io.Closer).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestStatNotFound(t *testing.T) {
	client := newServerAndClient(t, memory.New())

	if _, err := client.Stat("/nope.txt"); !os.IsNotExist(err) {
		t.Fatalf("Stat(/nope.txt) = %v, want IsNotExist", err)
	}
}

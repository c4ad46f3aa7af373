// Package backendtest is a conformance suite run against every
// backend.Backend implementation in this repo.
package backendtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"

	"go.sftpd.dev/core/pkg/backend"
)

// Opts configures a conformance run. New must return a fresh, empty
// Backend and a cleanup func (nil if there's nothing to clean up).
type Opts struct {
	New func(*testing.T) (b backend.Backend, cleanup func())

	// DelDirKeepsChildren is set for a backend whose DelDir succeeds on a
	// directory that still has children and leaves those children in
	// place, instead of failing with DirectoryNotEmpty.
	DelDirKeepsChildren bool
}

// Test runs the full conformance suite against the Backend returned by
// fn.
func Test(t *testing.T, fn func(*testing.T) (backend.Backend, func())) {
	TestOpt(t, Opts{New: fn})
}

func TestOpt(t *testing.T, opt Opts) {
	b, cleanup := opt.New(t)
	defer func() {
		if cleanup != nil {
			cleanup()
		}
	}()
	ctx := context.Background()

	t.Run("WriteReadRoundTrip", func(t *testing.T) { testWriteReadRoundTrip(t, ctx, b) })
	t.Run("DeleteThenNotFound", func(t *testing.T) { testDeleteThenNotFound(t, ctx, b) })
	t.Run("RenamePreservesContent", func(t *testing.T) { testRenamePreservesContent(t, ctx, b) })
	t.Run("MkdirRmdir", func(t *testing.T) { testMkdirRmdir(t, ctx, b) })
	t.Run("ListDirSyntheticEntries", func(t *testing.T) { testListDirSyntheticEntries(t, ctx, b) })
	t.Run("RmdirNotEmpty", func(t *testing.T) { testRmdirNotEmpty(t, ctx, b, opt.DelDirKeepsChildren) })
	t.Run("ConcurrentWriters", func(t *testing.T) { testConcurrentWriters(t, ctx, b) })
	t.Run("IsADirectoryNotADirectory", func(t *testing.T) { testDirFileConfusion(t, ctx, b) })
}

func testWriteReadRoundTrip(t *testing.T, ctx context.Context, b backend.Backend) {
	want := []byte("hello, sftp")
	if err := b.WriteFile(ctx, "roundtrip.txt", want); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := b.ReadFile(ctx, "roundtrip.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadFile = %q, want %q", got, want)
	}
	fi, err := b.FileInfo(ctx, "roundtrip.txt")
	if err != nil {
		t.Fatalf("FileInfo: %v", err)
	}
	if fi.IsDir || fi.Size != int64(len(want)) {
		t.Fatalf("FileInfo = %+v, want a file of size %d", fi, len(want))
	}
}

func testDeleteThenNotFound(t *testing.T, ctx context.Context, b backend.Backend) {
	if err := b.WriteFile(ctx, "deleteme.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := b.Delete(ctx, "deleteme.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.ReadFile(ctx, "deleteme.txt"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("ReadFile after delete = %v, want NotFound", err)
	}
}

func testRenamePreservesContent(t *testing.T, ctx context.Context, b backend.Backend) {
	want := []byte("rename me")
	if err := b.WriteFile(ctx, "old.txt", want); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := b.Rename(ctx, "old.txt", "new.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, err := b.ReadFile(ctx, "new.txt")
	if err != nil {
		t.Fatalf("ReadFile new.txt: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadFile new.txt = %q, want %q", got, want)
	}
	if _, err := b.ReadFile(ctx, "old.txt"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("ReadFile old.txt after rename = %v, want NotFound", err)
	}
}

func testMkdirRmdir(t *testing.T, ctx context.Context, b backend.Backend) {
	if err := b.MakeDir(ctx, "adir"); err != nil {
		t.Fatalf("MakeDir: %v", err)
	}
	fi, err := b.FileInfo(ctx, "adir")
	if err != nil {
		t.Fatalf("FileInfo: %v", err)
	}
	if !fi.IsDir {
		t.Fatalf("FileInfo(adir).IsDir = false, want true")
	}
	if err := b.DelDir(ctx, "adir"); err != nil {
		t.Fatalf("DelDir: %v", err)
	}
	if _, err := b.FileInfo(ctx, "adir"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("FileInfo after DelDir = %v, want NotFound", err)
	}
}

// testListDirSyntheticEntries checks spec.md §3/§4.2's requirement that
// every directory listing begins with "." and "..", both reported as
// directories, ahead of any real children. A real sftp.Client filters
// these client-side (see pkg/sftpd's own end-to-end tests), so this
// exercises ListDir's raw return value directly instead.
func testListDirSyntheticEntries(t *testing.T, ctx context.Context, b backend.Backend) {
	if err := b.MakeDir(ctx, "listdir-synth"); err != nil {
		t.Fatalf("MakeDir: %v", err)
	}
	defer b.DelDir(ctx, "listdir-synth")

	entries, err := b.ListDir(ctx, "listdir-synth")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(entries) < 2 || entries[0].Name != "." || entries[1].Name != ".." {
		t.Fatalf("ListDir(listdir-synth) = %v, want leading \".\" and \"..\" entries", entries)
	}
	if !entries[0].Info.IsDir || !entries[1].Info.IsDir {
		t.Fatalf("synthetic entries not reported as directories: %+v, %+v", entries[0].Info, entries[1].Info)
	}
}

func testRmdirNotEmpty(t *testing.T, ctx context.Context, b backend.Backend, keepsChildren bool) {
	if err := b.MakeDir(ctx, "full"); err != nil {
		t.Fatalf("MakeDir: %v", err)
	}
	if err := b.WriteFile(ctx, "full/child.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	err := b.DelDir(ctx, "full")
	if keepsChildren {
		if err != nil {
			t.Fatalf("DelDir(full) = %v, want nil", err)
		}
		if got, rerr := b.ReadFile(ctx, "full/child.txt"); rerr != nil || string(got) != "x" {
			t.Fatalf("ReadFile(full/child.txt) after DelDir = %q, %v, want %q", got, rerr, "x")
		}
	} else if !errors.Is(err, backend.ErrDirectoryNotEmpty) {
		t.Fatalf("DelDir(full) = %v, want DirectoryNotEmpty", err)
	}
	// clean up for any following subtest that shares state.
	_ = b.Delete(ctx, "full/child.txt")
	_ = b.DelDir(ctx, "full")
}

func testConcurrentWriters(t *testing.T, ctx context.Context, b backend.Backend) {
	var g errgroup.Group
	for i := 0; i < 100; i++ {
		i := i
		g.Go(func() error {
			name := fmt.Sprintf("concurrent-%d.txt", i)
			return b.WriteFile(ctx, name, []byte(fmt.Sprintf("content-%d", i)))
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent WriteFile: %v", err)
	}
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("concurrent-%d.txt", i)
		got, err := b.ReadFile(ctx, name)
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", name, err)
		}
		want := fmt.Sprintf("content-%d", i)
		if string(got) != want {
			t.Fatalf("ReadFile(%s) = %q, want %q", name, got, want)
		}
	}
}

func testDirFileConfusion(t *testing.T, ctx context.Context, b backend.Backend) {
	if err := b.MakeDir(ctx, "confdir"); err != nil {
		t.Fatalf("MakeDir: %v", err)
	}
	if _, err := b.ReadFile(ctx, "confdir"); !errors.Is(err, backend.ErrIsADirectory) {
		t.Fatalf("ReadFile(confdir) = %v, want IsADirectory", err)
	}
	if err := b.WriteFile(ctx, "conffile.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := b.ListDir(ctx, "conffile.txt"); !errors.Is(err, backend.ErrNotADirectory) {
		t.Fatalf("ListDir(conffile.txt) = %v, want NotADirectory", err)
	}
}

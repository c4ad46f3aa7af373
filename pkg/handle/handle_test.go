package handle

import (
	"strconv"
	"testing"
)

func TestTokensAreUniqueAndMonotonic(t *testing.T) {
	r := New()
	seen := map[string]bool{}
	var prev uint64
	for i := 0; i < 1000; i++ {
		tok := r.CreateDir("some/path")
		if seen[tok] {
			t.Fatalf("token %q reused at iteration %d", tok, i)
		}
		seen[tok] = true
		n, err := strconv.ParseUint(tok, 10, 64)
		if err != nil {
			t.Fatalf("token %q is not a decimal counter: %v", tok, err)
		}
		if n <= prev {
			t.Fatalf("token %q at iteration %d is not greater than the previous token %d", tok, i, prev)
		}
		prev = n
	}
	if r.Len() != 1000 {
		t.Fatalf("Len() = %d, want 1000", r.Len())
	}
}

func TestRemoveUnknownHandleIsHarmless(t *testing.T) {
	r := New()
	r.Remove("does-not-exist")
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestWriteBufferRoundTrip(t *testing.T) {
	r := New()
	tok := r.CreateWrite("a/b.txt", []byte("hello"))
	e, ok := r.Get(tok)
	if !ok {
		t.Fatal("Get() after CreateWrite = false, want true")
	}
	if string(e.Buffer) != "hello" {
		t.Fatalf("Buffer = %q, want %q", e.Buffer, "hello")
	}
	r.SetBuffer(tok, []byte("hello world"))
	e, _ = r.Get(tok)
	if string(e.Buffer) != "hello world" {
		t.Fatalf("Buffer after SetBuffer = %q, want %q", e.Buffer, "hello world")
	}
	r.Remove(tok)
	if _, ok := r.Get(tok); ok {
		t.Fatal("Get() after Remove = true, want false")
	}
}

func TestDirReadDone(t *testing.T) {
	r := New()
	tok := r.CreateDir("dir")
	e, _ := r.Get(tok)
	if e.ReadDone {
		t.Fatal("new Dir handle has ReadDone = true")
	}
	r.MarkReadDone(tok)
	e, _ = r.Get(tok)
	if !e.ReadDone {
		t.Fatal("ReadDone still false after MarkReadDone")
	}
}

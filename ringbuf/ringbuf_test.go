package ringbuf_test

import (
	"bytes"
	"testing"

	"github.com/m-lab/ustack/ringbuf"
)

func TestWriteConsumeRoundTrip(t *testing.T) {
	r := ringbuf.New(8)
	n := r.Write([]byte("hello"))
	if n != 5 {
		t.Fatalf("Write = %d, want 5", n)
	}
	got := r.FullView().Bytes()
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q", got)
	}
	r.Consume(3)
	got = r.FullView().Bytes()
	if !bytes.Equal(got, []byte("lo")) {
		t.Fatalf("after consume got %q", got)
	}
}

func TestWrapAroundView(t *testing.T) {
	r := ringbuf.New(4)
	r.Write([]byte("abcd"))
	r.Consume(3) // head now at index 3, one byte ("d") occupied
	r.Write([]byte("ef"))
	// Logical content is "def", physically wrapped across the 4-byte array.
	got := r.FullView().Bytes()
	if !bytes.Equal(got, []byte("def")) {
		t.Fatalf("got %q, want def", got)
	}
}

func TestFreeAndCapSaturate(t *testing.T) {
	r := ringbuf.New(4)
	n := r.Write([]byte("toolong"))
	if n != 4 {
		t.Fatalf("Write = %d, want 4 (capacity-limited)", n)
	}
	if r.Free() != 0 {
		t.Fatalf("Free() = %d, want 0", r.Free())
	}
}

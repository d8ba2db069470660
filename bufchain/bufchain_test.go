package bufchain_test

import (
	"bytes"
	"testing"

	"github.com/m-lab/ustack/bufchain"
)

func chainOf(chunks ...[]byte) *bufchain.Node {
	var head, tail *bufchain.Node
	for _, c := range chunks {
		n := &bufchain.Node{Data: c}
		if head == nil {
			head = n
		} else {
			tail.Next = n
		}
		tail = n
	}
	return head
}

// TestRoundTrip verifies spec.md §8 property 1: for any chain with
// tot_len = n and any k <= n, Skip(k) then SubTo(n-k) reads back bytes
// [k, n) of the original chain, across arbitrary chunk splits.
func TestRoundTrip(t *testing.T) {
	original := []byte("the quick brown fox jumps over the lazy dog")
	splits := [][]int{
		{len(original)},
		{5, len(original) - 5},
		{1, 1, 1, len(original) - 3},
		{10, 10, 10, len(original) - 30},
	}
	for _, split := range splits {
		chunks := make([][]byte, 0, len(split))
		pos := 0
		for _, l := range split {
			chunks = append(chunks, original[pos:pos+l])
			pos += l
		}
		node := chainOf(chunks...)
		for k := 0; k <= len(original); k++ {
			ref := bufchain.NewRef(node, len(original))
			sub := ref.Skip(k).SubTo(len(original) - k)
			got := sub.Bytes()
			want := original[k:]
			if !bytes.Equal(got, want) {
				t.Fatalf("split=%v k=%d: got %q want %q", split, k, got, want)
			}
		}
	}
}

func TestGiveThenTake(t *testing.T) {
	buf := make([]byte, 20)
	node := chainOf(buf[:7], buf[7:13], buf[13:])
	src := []byte("0123456789")
	ref := bufchain.NewRef(node, 20)
	ref.Give(len(src), src)

	out := make([]byte, len(src))
	bufchain.NewRef(node, 20).Take(len(src), out)
	if !bytes.Equal(out, src) {
		t.Fatalf("got %q want %q", out, src)
	}
}

func TestFindByteAndStartsWith(t *testing.T) {
	node := chainOf([]byte("GET "), []byte("/index.html"), []byte(" HTTP/1.1"))
	ref := bufchain.NewRef(node, 24)

	if !ref.StartsWith([]byte("GET /ind")) {
		t.Fatal("expected StartsWith to match across chunk boundary")
	}
	if ref.StartsWith([]byte("POST")) {
		t.Fatal("did not expect StartsWith to match")
	}

	pos, found := ref.FindByte(' ', 24)
	if !found || pos != 3 {
		t.Fatalf("FindByte: pos=%d found=%v, want pos=3", pos, found)
	}
}

func TestEagerAdvancement(t *testing.T) {
	// A ring-like chain where a chunk is fully exhausted: the cursor must
	// land on (next, 0), never (node, len(node.Data)).
	node := chainOf([]byte("AB"), []byte("CD"))
	ref := bufchain.NewRef(node, 4)
	advanced := ref.Skip(2)
	// Internal offset isn't exported, so this checks the observable effect:
	// the advanced view reads "CD" from the second chunk.
	if got := advanced.Bytes(); string(got) != "CD" {
		t.Fatalf("got %q want CD", got)
	}
}

func TestSubHeaderToContinuedBy(t *testing.T) {
	payload := chainOf([]byte("payload-bytes"))
	header := []byte("HDR:")
	var hnode bufchain.Node
	ref := bufchain.SubHeaderToContinuedBy(header, payload, len(header)+13, &hnode)
	if got := ref.Bytes(); string(got) != "HDR:payload-bytes" {
		t.Fatalf("got %q", got)
	}
}

package archive_test

import (
	"io"
	"os"
	"testing"

	"github.com/m-lab/ustack/archive"
)

func TestReaderWriterRoundTrip(t *testing.T) {
	tmpdir, err := os.MkdirTemp("", "archivetest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpdir)

	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte((i * 37) % 256)
	}

	w, err := archive.NewWriter(tmpdir + "/test.zst")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	read := make([]byte, 20000)
	r := archive.NewReader(tmpdir + "/test.zst")
	n, err := io.ReadAtLeast(r, read, 10000)
	if err != nil {
		t.Error(err)
	}
	if n != 10000 {
		t.Error("wrong number of bytes", n)
	}

	for i := range data {
		if data[i] != read[i] {
			t.Fatal("data mismatch at", i)
		}
	}
}

// Package archive shells out to an external zstd binary to compress and
// decompress snapshot exports (spec.md §2 domain-stack wiring), the same
// os/exec-piped-through-os.Pipe pattern the teacher's zstd package uses for
// its own tcp_info archive files.
package archive

import (
	"io"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/m-lab/go/rtx"
)

// Variables to allow whitebox mocking for testing error conditions.
var (
	osPipe      = os.Pipe
	zstdCommand = "zstd"
)

// NewReader opens filename and pipes it through an external zstd decompress
// process, returning a reader of the decompressed bytes. Callers must Close
// the returned pipe when done. This is meant for command-line tooling
// (e.g. a future snapshot-replay tool), so errors are fatal.
func NewReader(filename string) io.ReadCloser {
	pipeR, pipeW, err := osPipe()
	rtx.Must(err, "Could not call os.Pipe. Something is very wrong.")

	cmd := exec.Command(zstdCommand, "-d", "-c", filename)
	cmd.Stdout = pipeW

	f, err := os.Open(filename)
	rtx.Must(err, "Could not open file %q for zstd", filename)
	f.Close()

	go func() {
		rtx.Must(cmd.Run(), "zstd error for file %q", filename)
		pipeW.Close()
	}()

	return pipeR
}

type waitingWriteCloser struct {
	io.WriteCloser
	wg *sync.WaitGroup
}

func (w waitingWriteCloser) Close() error {
	err := w.WriteCloser.Close()
	if err != nil {
		return err
	}
	w.wg.Wait()
	return nil
}

// NewWriter creates a WriteCloser that pipes every write through an
// external zstd compression process into filename. Close waits for zstd to
// finish flushing to disk before returning, so a snapshot writer can rely
// on the file being complete once Close returns.
func NewWriter(filename string) (io.WriteCloser, error) {
	var wg sync.WaitGroup
	wg.Add(1)
	pipeR, pipeW, err := osPipe()
	if err != nil {
		return nil, err
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(zstdCommand)
	cmd.Stdin = pipeR
	cmd.Stdout = f

	go func() {
		err := cmd.Run()
		if err != nil {
			log.Println("zstd error", filename, err)
		}
		pipeR.Close()
		wg.Done()
	}()

	return waitingWriteCloser{pipeW, &wg}, nil
}

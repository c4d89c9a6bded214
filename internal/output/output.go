// Package output buffers engine output to standard output, inserting
// per-file headers and detecting a downstream reader that has gone away.
package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// ErrBrokenOutput reports that the downstream reader of standard output
// has gone away. The engine must stop immediately; continuing would
// silently drop already-read data.
var ErrBrokenOutput = errors.New("output pipe broken")

// errWrite tags every write failure so callers can tell output failures
// (always fatal) apart from per-file read errors.
var errWrite = errors.New("write output")

// IsWriteError reports whether err originated in the output channel.
func IsWriteError(err error) bool {
	return errors.Is(err, errWrite) || errors.Is(err, ErrBrokenOutput)
}

// Writer buffers bytes to the process output and owns the header state:
// which file most recently emitted data and whether the very first header
// has been printed yet.
type Writer struct {
	bw           *bufio.Writer
	fd           int // descriptor polled for a vanished reader, -1 when unavailable
	printHeaders bool
	wroteHeader  bool
	active       string
}

// NewWriter wraps w. When w is an *os.File its descriptor is used for
// broken-reader detection.
func NewWriter(w io.Writer, printHeaders bool) *Writer {
	fd := -1
	if f, ok := w.(*os.File); ok {
		fd = int(f.Fd())
	}
	return &Writer{bw: bufio.NewWriter(w), fd: fd, printHeaders: printHeaders}
}

// Active returns the name of the file that most recently emitted data.
func (w *Writer) Active() string { return w.active }

// Fd returns the underlying output descriptor, or -1 when the writer is
// not backed by one.
func (w *Writer) Fd() int { return w.fd }

// SwitchTo records name as the active file, emitting a header first when
// headers are enabled and the active file changed. A blank line precedes
// every header except the very first.
func (w *Writer) SwitchTo(name string) error {
	if w.printHeaders && (!w.wroteHeader || w.active != name) {
		sep := "\n"
		if !w.wroteHeader {
			sep = ""
		}
		w.wroteHeader = true
		if _, err := fmt.Fprintf(w.bw, "%s==> %s <==\n", sep, name); err != nil {
			return fmt.Errorf("%w: %w", errWrite, err)
		}
	}
	w.active = name
	return nil
}

// Write appends p to the buffered output. Any failure is fatal to the
// engine and is tagged accordingly.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.bw.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: %w", errWrite, err)
	}
	return n, nil
}

// Flush drains the buffer to the underlying writer.
func (w *Writer) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", errWrite, err)
	}
	return nil
}

// FileWriter returns a writer that announces name via SwitchTo before the
// first byte it forwards. A copy that reads nothing therefore neither
// prints a header nor changes the active file.
func (w *Writer) FileWriter(name string) io.Writer {
	return &fileWriter{w: w, name: name}
}

type fileWriter struct {
	w        *Writer
	name     string
	switched bool
}

func (fw *fileWriter) Write(p []byte) (int, error) {
	if !fw.switched {
		if err := fw.w.SwitchTo(fw.name); err != nil {
			return 0, err
		}
		fw.switched = true
	}
	return fw.w.Write(p)
}

// Alive polls the output descriptor and reports ErrBrokenOutput when the
// reader on the other end has gone away. It never blocks.
func (w *Writer) Alive() error {
	if w.fd < 0 {
		return nil
	}
	pfds := []unix.PollFd{{Fd: int32(w.fd)}}
	for {
		_, err := unix.Poll(pfds, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil
		}
		break
	}
	if pfds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
		return ErrBrokenOutput
	}
	return nil
}

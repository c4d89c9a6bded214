package extract

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// CountAll is the count sentinel meaning "all units": as a trailing count
// it covers the whole file, as a from-start skip it skips everything.
const CountAll = ^uint64(0)

// Copy limits understood by CopyRemainder.
const (
	// CopyToEOF copies until end of input.
	CopyToEOF int64 = -1
	// CopyABuffer copies at most one read buffer's worth.
	CopyABuffer int64 = -2
)

const bufSize = 8192

var pageSize = int64(os.Getpagesize())

// Options selects what Tail extracts.
type Options struct {
	// Lines selects line counting; otherwise Count is in bytes.
	Lines bool
	// Count is the trailing window, or with FromStart the number of
	// units to skip before emitting the rest.
	Count     uint64
	FromStart bool
	// Terminator is the line terminator byte, usually '\n'.
	Terminator byte
	// PresumePipe forces the streaming paths even on seekable input.
	PresumePipe bool
}

// Tail emits the requested window of f to w and returns the stream offset
// reached, so a follower can resume where extraction stopped. The offset
// may exceed the number of bytes emitted (skipped prefixes) and, for
// non-seekable input, counts bytes consumed rather than a file position.
func Tail(w io.Writer, name string, f *os.File, opts Options) (int64, error) {
	var readPos int64
	var err error
	if opts.Lines {
		err = tailLines(w, name, f, opts, &readPos)
	} else {
		err = tailBytes(w, name, f, opts, &readPos)
	}
	return readPos, err
}

func tailBytes(w io.Writer, name string, f *os.File, opts Options, readPos *int64) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("fstat %s: %w", name, err)
	}

	nBytes := opts.Count
	if opts.FromStart {
		skipped := false
		if !opts.PresumePipe && nBytes <= math.MaxInt64 {
			if info.Mode().IsRegular() {
				if _, err := f.Seek(int64(nBytes), io.SeekCurrent); err != nil {
					return fmt.Errorf("seek %s: %w", name, err)
				}
				skipped = true
			} else if _, err := f.Seek(int64(nBytes), io.SeekCurrent); err == nil {
				skipped = true
			}
		}
		if skipped {
			*readPos += int64(nBytes)
		} else {
			eof, err := startBytes(w, name, f, nBytes, readPos)
			if err != nil || eof {
				return err
			}
		}
		n, err := CopyRemainder(w, name, f, CopyToEOF)
		*readPos += n
		return err
	}

	endPos := int64(-1)
	currentPos := int64(-1)
	copyFromCurrent := false

	if !opts.PresumePipe && nBytes <= math.MaxInt64 {
		if info.Mode().IsRegular() {
			// Trust st_size only when it is large relative to one
			// block; tiny reported sizes show up on pseudo files
			// where reads are cheaper than a pair of seeks.
			endPos = info.Size()
			copyFromCurrent = stBlksize(info) < endPos
		} else if pos, err := f.Seek(-int64(nBytes), io.SeekEnd); err == nil {
			currentPos = pos
			copyFromCurrent = true
			endPos = pos + int64(nBytes)
		}
	}
	if !copyFromCurrent {
		return pipeBytes(w, name, f, nBytes, readPos)
	}
	if currentPos == -1 {
		currentPos, err = f.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("seek %s: %w", name, err)
		}
	}
	if currentPos < endPos {
		if remaining := endPos - currentPos; int64(nBytes) < remaining {
			currentPos = endPos - int64(nBytes)
			if _, err := f.Seek(currentPos, io.SeekStart); err != nil {
				return fmt.Errorf("seek %s: %w", name, err)
			}
		}
	}
	*readPos = currentPos
	n, err := CopyRemainder(w, name, f, int64(nBytes))
	*readPos += n
	return err
}

func tailLines(w io.Writer, name string, f *os.File, opts Options, readPos *int64) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("fstat %s: %w", name, err)
	}

	if opts.FromStart {
		// Skipping all input reduces to a single seek when possible.
		if opts.Count == CountAll && !opts.PresumePipe {
			if pos, err := f.Seek(0, io.SeekEnd); err == nil {
				*readPos = pos
				return nil
			}
		}
		eof, err := startLines(w, name, f, opts.Count, opts.Terminator, readPos)
		if err != nil || eof {
			return err
		}
		n, err := CopyRemainder(w, name, f, CopyToEOF)
		*readPos += n
		return err
	}

	startPos := int64(-1)
	var endPos int64
	if !opts.PresumePipe && info.Mode().IsRegular() {
		if pos, err := f.Seek(0, io.SeekCurrent); err == nil {
			startPos = pos
			if end, err := f.Seek(0, io.SeekEnd); err == nil {
				endPos = end
			} else {
				startPos = -1
			}
		}
	}
	if startPos != -1 && startPos < endPos {
		*readPos = endPos
		return fileLines(w, name, f, info, opts.Count, startPos, endPos, opts.Terminator, readPos)
	}

	// Reposition in the unlikely case the end-of-file probe above moved
	// the read pointer before falling back to streaming.
	if startPos != -1 {
		if _, err := f.Seek(startPos, io.SeekStart); err != nil {
			return fmt.Errorf("seek %s: %w", name, err)
		}
	}
	return pipeLines(w, name, f, opts.Count, opts.Terminator, readPos)
}

// fileLines prints the last nLines lines of a regular file by reading
// fixed-size blocks backward from endPos, counting terminators in reverse,
// then forward-copying from the first line of the window.
func fileLines(w io.Writer, name string, f *os.File, info os.FileInfo, nLines uint64, startPos, endPos int64, term byte, readPos *int64) error {
	if nLines == 0 {
		return nil
	}

	// Pseudo filesystems report sizes that are not backed by data and
	// return nothing when read mid-file; a buffer of at least one page
	// keeps reads anchored at offsets that produce data.
	bufsize := int64(bufSize)
	if info.Size()%pageSize == 0 && pageSize > bufsize {
		bufsize = pageSize
	}
	buf := make([]byte, bufsize)

	// Size of the last, probably partial, block; then align pos so all
	// further reads land on block boundaries.
	pos := endPos
	bytesRead := int((pos - startPos) % bufsize)
	if bytesRead == 0 {
		bytesRead = int(bufsize)
	}
	pos -= int64(bytesRead)
	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", name, err)
	}
	n, err := safeRead(f, buf[:bytesRead])
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	bytesRead = n
	*readPos = pos + int64(bytesRead)

	// A file that does not end in a terminator still owes its final
	// partial line to the window.
	if bytesRead > 0 && buf[bytesRead-1] != term {
		nLines--
	}

	for {
		// Scan backward, counting terminators in this block.
		n := bytesRead
		for n > 0 {
			i := bytes.LastIndexByte(buf[:n], term)
			if i < 0 {
				break
			}
			n = i
			if nLines == 0 {
				// The window starts just past this terminator:
				// emit the rest of the block, then the part of
				// the file beyond this block.
				if i+1 < bytesRead {
					if _, err := w.Write(buf[i+1 : bytesRead]); err != nil {
						return err
					}
				}
				c, err := CopyRemainder(w, name, f, endPos-(pos+int64(bytesRead)))
				*readPos += c
				return err
			}
			nLines--
		}

		if pos == startPos {
			// Fewer lines than requested: emit the whole file.
			if _, err := f.Seek(startPos, io.SeekStart); err != nil {
				return fmt.Errorf("seek %s: %w", name, err)
			}
			c, err := CopyRemainder(w, name, f, endPos)
			*readPos = startPos + c
			return err
		}

		pos -= bufsize
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			return fmt.Errorf("seek %s: %w", name, err)
		}
		n2, err := safeRead(f, buf[:bufsize])
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		bytesRead = n2
		*readPos = pos + int64(bytesRead)
		if bytesRead == 0 {
			return nil
		}
	}
}

// chunk is one fixed-size link of the accumulation chain used for
// non-seekable input.
type chunk struct {
	data  [bufSize]byte
	n     int
	lines uint64
}

// pipeLines prints the last nLines lines of non-seekable input by
// accumulating chunks and retiring the oldest once the chain provably
// holds more than the window.
func pipeLines(w io.Writer, name string, f *os.File, nLines uint64, term byte, readPos *int64) error {
	chain := []*chunk{{}}
	tmp := &chunk{}
	var totalLines uint64

	for {
		n, err := safeRead(f, tmp.data[:])
		if n == 0 {
			if err != nil && err != unix.EAGAIN {
				return fmt.Errorf("read %s: %w", name, err)
			}
			break
		}
		tmp.n = n
		*readPos += int64(n)
		tmp.lines = uint64(bytes.Count(tmp.data[:n], []byte{term}))
		totalLines += tmp.lines

		// Short pipe reads are common; pack them into the last chunk
		// while they fit.
		last := chain[len(chain)-1]
		if tmp.n+last.n < bufSize {
			copy(last.data[last.n:], tmp.data[:tmp.n])
			last.n += tmp.n
			last.lines += tmp.lines
			continue
		}
		chain = append(chain, tmp)
		if first := chain[0]; totalLines-first.lines > nLines {
			// The oldest chunk can no longer contribute to the
			// window; recycle it as the next read buffer.
			totalLines -= first.lines
			chain = chain[1:]
			first.n, first.lines = 0, 0
			tmp = first
		} else {
			tmp = &chunk{}
		}
	}

	last := chain[len(chain)-1]
	if last.n == 0 || nLines == 0 {
		return nil
	}
	if last.data[last.n-1] != term {
		last.lines++
		totalLines++
	}

	// Skip whole chunks that precede the window.
	i := 0
	for totalLines-chain[i].lines > nLines {
		totalLines -= chain[i].lines
		i++
	}

	head := chain[i]
	beg := 0
	if totalLines > nLines {
		// Skip the excess terminators inside the first retained chunk.
		for skip := totalLines - nLines; skip > 0; skip-- {
			beg += bytes.IndexByte(head.data[beg:head.n], term) + 1
		}
	}
	if beg < head.n {
		if _, err := w.Write(head.data[beg:head.n]); err != nil {
			return err
		}
	}
	for _, c := range chain[i+1:] {
		if _, err := w.Write(c.data[:c.n]); err != nil {
			return err
		}
	}
	return nil
}

// pipeBytes is the byte-count analogue of pipeLines.
func pipeBytes(w io.Writer, name string, f *os.File, nBytes uint64, readPos *int64) error {
	chain := []*chunk{{}}
	tmp := &chunk{}
	var totalBytes uint64

	for {
		n, err := safeRead(f, tmp.data[:])
		if n == 0 {
			if err != nil && err != unix.EAGAIN {
				return fmt.Errorf("read %s: %w", name, err)
			}
			break
		}
		tmp.n = n
		*readPos += int64(n)
		totalBytes += uint64(n)

		last := chain[len(chain)-1]
		if tmp.n+last.n < bufSize {
			copy(last.data[last.n:], tmp.data[:tmp.n])
			last.n += tmp.n
			continue
		}
		chain = append(chain, tmp)
		if first := chain[0]; totalBytes-uint64(first.n) > nBytes {
			totalBytes -= uint64(first.n)
			chain = chain[1:]
			first.n = 0
			tmp = first
		} else {
			tmp = &chunk{}
		}
	}

	i := 0
	for totalBytes-uint64(chain[i].n) > nBytes {
		totalBytes -= uint64(chain[i].n)
		i++
	}

	head := chain[i]
	beg := 0
	if totalBytes > nBytes {
		beg = int(totalBytes - nBytes)
	}
	if beg < head.n {
		if _, err := w.Write(head.data[beg:head.n]); err != nil {
			return err
		}
	}
	for _, c := range chain[i+1:] {
		if _, err := w.Write(c.data[:c.n]); err != nil {
			return err
		}
	}
	return nil
}

// startBytes skips nBytes from the current position and emits whatever
// was read past the skip point. It reports eof when input ended before
// the skip count was exhausted.
func startBytes(w io.Writer, name string, f *os.File, nBytes uint64, readPos *int64) (eof bool, err error) {
	buf := make([]byte, bufSize)
	for nBytes > 0 {
		n, err := safeRead(f, buf)
		if err != nil {
			return false, fmt.Errorf("read %s: %w", name, err)
		}
		if n == 0 {
			return true, nil
		}
		*readPos += int64(n)
		if uint64(n) <= nBytes {
			nBytes -= uint64(n)
			continue
		}
		if _, err := w.Write(buf[nBytes:n]); err != nil {
			return false, err
		}
		break
	}
	return false, nil
}

// startLines skips nLines terminators from the current position and emits
// whatever was read past the last one.
func startLines(w io.Writer, name string, f *os.File, nLines uint64, term byte, readPos *int64) (eof bool, err error) {
	if nLines == 0 {
		return false, nil
	}
	buf := make([]byte, bufSize)
	for {
		n, err := safeRead(f, buf)
		if err != nil {
			return false, fmt.Errorf("read %s: %w", name, err)
		}
		if n == 0 {
			return true, nil
		}
		*readPos += int64(n)
		p := 0
		for p < n {
			i := bytes.IndexByte(buf[p:n], term)
			if i < 0 {
				break
			}
			p += i + 1
			nLines--
			if nLines == 0 {
				if p < n {
					if _, err := w.Write(buf[p:n]); err != nil {
						return false, err
					}
				}
				return false, nil
			}
		}
	}
}

// CopyRemainder copies from the current position of f to w: everything up
// to EOF (CopyToEOF), at most one buffer (CopyABuffer), or at most limit
// bytes. A would-block result on a nonblocking descriptor ends the copy
// without error. The byte count returned is valid even when err is
// non-nil.
func CopyRemainder(w io.Writer, name string, f *os.File, limit int64) (int64, error) {
	buf := make([]byte, bufSize)
	var written int64
	remaining := limit
	for {
		n := int64(bufSize)
		if limit >= 0 && remaining < n {
			n = remaining
		}
		r, err := safeRead(f, buf[:n])
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			return written, fmt.Errorf("read %s: %w", name, err)
		}
		if r == 0 {
			break
		}
		if _, err := w.Write(buf[:r]); err != nil {
			return written, err
		}
		written += int64(r)
		if limit == CopyABuffer {
			break
		}
		if limit >= 0 {
			remaining -= int64(r)
			if remaining <= 0 {
				break
			}
		}
	}
	return written, nil
}

// safeRead reads at the descriptor level, retrying on EINTR. Reading raw
// keeps nonblocking descriptors nonblocking instead of handing them to
// the runtime poller.
func safeRead(f *os.File, p []byte) (int, error) {
	fd := int(f.Fd())
	for {
		n, err := unix.Read(fd, p)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func stBlksize(info os.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok && st.Blksize > 0 {
		return int64(st.Blksize)
	}
	return 512
}

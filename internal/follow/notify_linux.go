//go:build linux

package follow

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"gtail/internal/config"
	"gtail/internal/filespec"
	"gtail/internal/output"
)

// notifyUsable decides whether the inotify follower can be started at all.
// Notification cannot express stdin, remote filesystems, symlinked names,
// or device files, and in descriptor mode a failed initial open leaves
// nothing to watch.
func (e *Engine) notifyUsable() bool {
	if e.opts.DisableInotify {
		return false
	}
	specs := e.reg.Specs()
	anyNonRemote := false
	for _, f := range specs {
		if !f.Ignore && f.IsStdin() {
			return false
		}
		if f.File != nil {
			if f.Remote {
				return false
			}
			anyNonRemote = true
			if !f.Mode.IsRegular() && f.Mode.Type() != os.ModeNamedPipe {
				return false
			}
		}
		if isSymlink(f.Name) {
			return false
		}
	}
	if !anyNonRemote {
		return false
	}
	if !e.initialOK && e.opts.Follow == config.FollowDescriptor {
		return false
	}
	return true
}

// runNotify is the event follower. It returns errRevertToPolling to hand
// off to the poll follower, nil on a clean writers-dead stop, and any
// other error fatally.
func (e *Engine) runNotify(ctx context.Context) error {
	ifd, err := unix.InotifyInit()
	if err != nil {
		e.log.Warn("inotify cannot be used", "error", err)
		return errRevertToPolling
	}
	defer unix.Close(ifd)

	specs := e.reg.Specs()
	byName := e.opts.FollowByName()

	fileMask := uint32(unix.IN_MODIFY)
	if byName {
		fileMask |= unix.IN_ATTRIB | unix.IN_DELETE_SELF | unix.IN_MOVE_SELF
	}
	const parentMask = uint32(unix.IN_CREATE | unix.IN_DELETE | unix.IN_MOVED_TO |
		unix.IN_ATTRIB | unix.IN_DELETE_SELF)

	// Watch correlation table: kernel watch descriptor to owning spec.
	wdTable := make(map[int]*filespec.FileSpec, len(specs))

	var (
		evlen                int
		foundWatchable       bool
		tailedButUnwatchable bool
		foundUnwatchableDir  bool
		noResources          bool
	)

	for _, f := range specs {
		if f.Ignore {
			continue
		}
		if len(f.Name) > evlen {
			evlen = len(f.Name)
		}
		f.Wd = -1

		if byName {
			// The parent watch notices rotation before the new file is
			// independently discovered. Adding the same directory twice
			// returns the same descriptor.
			pwd, err := unix.InotifyAddWatch(ifd, filepath.Dir(f.Name), parentMask)
			if err != nil {
				if err == unix.ENOSPC {
					e.log.Warn("inotify resources exhausted")
				} else {
					e.log.Warn("cannot watch parent directory", "file", f.Name, "error", err)
				}
				foundUnwatchableDir = true
				break
			}
			f.ParentWd = pwd
		}

		wd, err := unix.InotifyAddWatch(ifd, f.Name, fileMask)
		if err != nil {
			if f.File != nil {
				tailedButUnwatchable = true
			}
			if err == unix.ENOSPC || err == unix.ENOMEM {
				noResources = true
				e.log.Warn("inotify resources exhausted")
				break
			}
			if !filespec.SameError(f.Err, err) {
				e.log.Warn("cannot watch", "file", f.Name, "error", err)
			}
			continue
		}
		f.Wd = wd
		wdTable[wd] = f
		foundWatchable = true
	}

	if noResources || foundUnwatchableDir ||
		(e.opts.Follow == config.FollowDescriptor && (tailedButUnwatchable || !foundWatchable)) {
		return errRevertToPolling
	}

	// Files can have changed, appeared, or been rotated between the
	// initial extraction and the watches just established; look again
	// before blocking.
	for _, f := range specs {
		if f.Ignore {
			continue
		}
		if byName {
			e.recheck(f, false)
		} else if f.File != nil {
			if info, err := os.Stat(f.Name); err == nil && devInoChanged(f, info) {
				// The watch went onto a different file than the one
				// already emitted; only polling the held descriptor
				// stays correct.
				e.log.Warn("was replaced", "file", f.Pretty())
				return errRevertToPolling
			}
		}
		if err := e.checkSpec(f); err != nil {
			return err
		}
	}

	evlen += unix.SizeofInotifyEvent + 1
	evbuf := make([]byte, evlen)
	reallocs := 3

	var (
		buf         []byte
		off         int
		writersDead bool
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Once the last watched name is gone and nothing will bring it
		// back, there is nothing left to wait for.
		if byName && !e.opts.Retry && len(wdTable) == 0 {
			if err := e.out.Flush(); err != nil {
				return err
			}
			return ErrNoFilesRemaining
		}

		if off >= len(buf) {
			n, err := e.waitEvents(ctx, ifd, evbuf, &writersDead)
			if err != nil {
				return err
			}
			if n == eventsDrained {
				return e.out.Flush()
			}
			if n == eventsTooSmall {
				if reallocs > 0 {
					reallocs--
					evlen *= 2
					evbuf = make([]byte, evlen)
					continue
				}
				return fmt.Errorf("error reading inotify event: buffer too small")
			}
			buf = evbuf[:n]
			off = 0
		}

		ev, size := decodeEvent(buf[off:])
		off += size

		// The watched directory itself vanished: its descriptor goes
		// silent forever, so waiting on would hang. Poll instead.
		if ev.mask&unix.IN_DELETE_SELF != 0 && ev.name == "" {
			for _, f := range specs {
				if ev.wd == f.ParentWd {
					e.log.Warn("directory containing watched file was removed")
					return errRevertToPolling
				}
			}
		}

		var fspec *filespec.FileSpec
		if ev.name != "" {
			// Event on a name inside a watched directory.
			for _, f := range specs {
				if f.ParentWd == ev.wd && ev.name == f.Name[f.BasenameStart:] {
					fspec = f
					break
				}
			}
			if fspec == nil {
				continue
			}

			newWd := -1
			deleting := ev.mask&unix.IN_DELETE != 0
			if !deleting {
				// Re-adding a still-existing inode returns its current
				// descriptor, so this is idempotent for plain writes.
				wd, err := unix.InotifyAddWatch(ifd, fspec.Name, fileMask)
				if err != nil {
					if err == unix.ENOSPC || err == unix.ENOMEM {
						e.log.Warn("inotify resources exhausted")
						return errRevertToPolling
					}
					// A dangling symlink gives ENOENT here.
					e.log.Warn("cannot watch", "file", fspec.Name, "error", err)
				} else {
					newWd = wd
				}
			}

			if !deleting && (fspec.Wd < 0 || newWd != fspec.Wd) {
				// A different descriptor came back: rotation.
				if fspec.Wd >= 0 {
					unix.InotifyRmWatch(ifd, uint32(fspec.Wd))
					delete(wdTable, fspec.Wd)
				}
				fspec.Wd = newWd
				if newWd == -1 {
					continue
				}
				// The kernel reuses a moved file's descriptor for the
				// destination; evict any entry still holding it.
				if prev, ok := wdTable[newWd]; ok && prev != fspec {
					if byName {
						e.recheck(prev, false)
					}
					prev.Wd = -1
					if prev.File != nil {
						prev.MarkClosed(errEvicted)
					}
				}
				wdTable[newWd] = fspec
			}

			if byName {
				e.recheck(fspec, false)
			}
		} else {
			fspec = wdTable[ev.wd]
			if fspec == nil {
				continue
			}
		}

		if ev.mask&(unix.IN_ATTRIB|unix.IN_DELETE|unix.IN_DELETE_SELF|unix.IN_MOVE_SELF) != 0 {
			// A self-delete (or, without retry, a clobbering rename)
			// means the name no longer denotes a followable object;
			// drop its watch now. A plain rename may still resolve via
			// the parent watch, so its watch stays.
			if ev.mask&unix.IN_DELETE_SELF != 0 ||
				(!e.opts.Retry && ev.mask&unix.IN_MOVE_SELF != 0) {
				unix.InotifyRmWatch(ifd, uint32(fspec.Wd))
				delete(wdTable, fspec.Wd)
			}
			e.recheck(fspec, false)
			continue
		}

		if err := e.checkSpec(fspec); err != nil {
			return err
		}
	}
}

// waitEvents result sentinels.
const (
	eventsDrained  = -1 // writers dead, engine should stop
	eventsTooSmall = -2 // kernel signaled a too-small event buffer
)

// waitEvents blocks until inotify events are readable, bounding the wait
// by the sleep interval only while writer liveness needs periodic probing,
// and watching for a vanished output reader throughout. It returns the
// number of event bytes read into evbuf.
func (e *Engine) waitEvents(ctx context.Context, ifd int, evbuf []byte, writersDead *bool) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		delay := -1
		if e.pids.Watching() {
			if *writersDead {
				return eventsDrained, nil
			}
			*writersDead = e.pids.AllDead()
			if *writersDead || e.opts.SleepInterval <= 0 {
				delay = 0
			} else {
				ms := e.opts.SleepInterval.Milliseconds()
				if ms >= math.MaxInt32 {
					ms = math.MaxInt32 - 1
				}
				if ms == 0 {
					ms = 1
				}
				delay = int(ms)
			}
		}

		pfds := []unix.PollFd{{Fd: int32(ifd), Events: unix.POLLIN}}
		if e.monitorOutput && e.out.Fd() >= 0 {
			pfds = append(pfds, unix.PollFd{Fd: int32(e.out.Fd())})
		}
		nready, err := unix.Poll(pfds, delay)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("error waiting for inotify and output events: %w", err)
		}
		if len(pfds) > 1 && pfds[1].Revents != 0 {
			return 0, output.ErrBrokenOutput
		}
		if nready == 0 {
			continue
		}

		n, err := unix.Read(ifd, evbuf)
		// Old kernels return 0, newer ones EINVAL, when the buffer
		// cannot hold one event.
		if n == 0 || err == unix.EINVAL {
			return eventsTooSmall, nil
		}
		if n < 0 || err != nil {
			return 0, fmt.Errorf("error reading inotify event: %w", err)
		}
		return n, nil
	}
}

// event is one decoded inotify record.
type event struct {
	wd   int
	mask uint32
	name string
}

// decodeEvent decodes the record at the front of b and returns it along
// with its encoded size.
func decodeEvent(b []byte) (event, int) {
	wd := int(int32(binary.NativeEndian.Uint32(b[0:4])))
	mask := binary.NativeEndian.Uint32(b[4:8])
	nameLen := int(binary.NativeEndian.Uint32(b[12:16]))
	size := unix.SizeofInotifyEvent + nameLen
	name := string(bytes.TrimRight(b[unix.SizeofInotifyEvent:size], "\x00"))
	return event{wd: wd, mask: mask, name: name}, size
}

package follow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"gtail/internal/config"
	"gtail/internal/extract"
	"gtail/internal/filespec"
	"gtail/internal/liveness"
	"gtail/internal/output"
)

// ErrNoFilesRemaining reports that every monitored name has been
// permanently given up, which is fatal for the whole run.
var ErrNoFilesRemaining = errors.New("no files remaining")

// errRevertToPolling is the internal handoff from the event follower to
// the poll follower. The handoff is one-way and permanent.
var errRevertToPolling = errors.New("revert to polling")

// errEvicted records that a file's watch was taken over by another entry
// after the kernel reused its watch descriptor.
var errEvicted = errors.New("watch descriptor evicted")

// Params collects the collaborators an Engine needs.
type Params struct {
	Options  *config.Options
	Registry *filespec.Registry
	Output   *output.Writer
	Logger   *slog.Logger
	Liveness *liveness.Monitor

	// MonitorOutput enables broken-reader detection on stdout.
	MonitorOutput bool
	// InitialOK records whether every initial extraction succeeded;
	// notification mode cannot start from a failed descriptor-mode open.
	InitialOK bool
}

// Engine drives follow mode over the registry until all files are gone or
// all watched writers are dead.
type Engine struct {
	opts *config.Options
	reg  *filespec.Registry
	out  *output.Writer
	log  *slog.Logger
	pids *liveness.Monitor

	monitorOutput bool
	initialOK     bool

	// useInotify is true while the event follower drives the engine; it
	// changes how recheck treats symlinks and remote files.
	useInotify bool
}

// New creates an engine. The registry must already hold the post-extraction
// state of every file.
func New(p Params) *Engine {
	return &Engine{
		opts:          p.Options,
		reg:           p.Registry,
		out:           p.Output,
		log:           p.Logger,
		pids:          p.Liveness,
		monitorOutput: p.MonitorOutput,
		initialOK:     p.InitialOK,
	}
}

// Run follows until ctx is canceled, every writer is dead, or a fatal
// condition arises. It returns nil on a clean writers-dead stop.
func (e *Engine) Run(ctx context.Context) error {
	if e.notifyUsable() {
		e.useInotify = true
		err := e.runNotify(ctx)
		e.useInotify = false
		if !errors.Is(err, errRevertToPolling) {
			return err
		}
		e.log.Warn("inotify cannot be used, reverting to polling")
	}
	return e.runPoll(ctx)
}

// runPoll is the poll follower: re-stat every file each iteration, detect
// growth, truncation, and replacement by fingerprint comparison, and copy
// new bytes to output.
func (e *Engine) runPoll(ctx context.Context) error {
	specs := e.reg.Specs()

	// Blocking reads are an optimization available only when a single
	// non-regular file is followed by descriptor with no writer pids:
	// the read itself is then the only thing worth waiting on.
	blocking := !e.pids.Watching() && e.opts.Follow == config.FollowDescriptor &&
		e.reg.Len() == 1 && specs[0].File != nil && !specs[0].Mode.IsRegular()

	writersDead := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		anyInput := false
		for _, f := range specs {
			if f.Ignore {
				continue
			}
			if f.File == nil {
				e.recheck(f, blocking)
				continue
			}

			name := f.Pretty()
			mode := f.Mode
			held := f.File

			if err := e.ensureBlockingMode(f, blocking); err != nil {
				return err
			}

			readUnchanged := false
			var statSize int64
			if f.Blocking != filespec.BlockingOn {
				info, err := f.File.Stat()
				if err != nil {
					e.log.Warn("cannot fstat", "file", name, "error", err)
					f.MarkClosed(err)
					continue
				}
				statSize = info.Size()

				if f.Unchanged(info) {
					trigger := f.UnchangedStats >= e.opts.MaxUnchangedStats
					f.UnchangedStats++
					if trigger && e.opts.FollowByName() {
						// Silent rotation can leave size and mtime
						// coincidentally matching; reopen by name to
						// find out.
						e.recheck(f, blocking)
						f.UnchangedStats = 0
					}
					if held != f.File || info.Mode().IsRegular() || e.reg.Len() > 1 {
						continue
					}
					readUnchanged = true
				}

				f.Mtime = info.ModTime()
				f.Mode = info.Mode()
				if !readUnchanged {
					f.UnchangedStats = 0
				}

				// Shrink on a regular file is assumed to be
				// truncate-to-zero; a shorter rewrite cannot be told
				// apart.
				if mode.IsRegular() && statSize < f.Size {
					e.log.Warn("file truncated", "file", name)
					if _, err := f.File.Seek(0, io.SeekStart); err != nil {
						e.log.Warn("cannot seek", "file", name, "error", err)
						f.MarkClosed(err)
						continue
					}
					f.Size = 0
				}

				if err := e.out.SwitchTo(name); err != nil {
					return err
				}
			}

			var limit int64
			switch {
			case f.Blocking == filespec.BlockingOn:
				limit = extract.CopyABuffer
			case mode.IsRegular() && f.Remote:
				// A stale size on a network filesystem can trail the
				// data; never read past the observed delta there.
				limit = statSize - f.Size
			default:
				limit = extract.CopyToEOF
			}

			n, err := extract.CopyRemainder(e.out, name, f.File, limit)
			f.Size += n
			if err != nil {
				if output.IsWriteError(err) {
					return err
				}
				e.log.Warn("error reading", "file", name, "error", err)
				f.MarkClosed(err)
				continue
			}
			if readUnchanged && n > 0 {
				f.UnchangedStats = 0
			}
			if n > 0 {
				anyInput = true
			}
		}

		if !e.reg.AnyLive(e.opts.Retry, e.opts.FollowByName()) {
			if err := e.out.Flush(); err != nil {
				return err
			}
			return ErrNoFilesRemaining
		}

		if !anyInput || blocking {
			if err := e.out.Flush(); err != nil {
				return err
			}
		}
		if e.monitorOutput {
			if err := e.out.Alive(); err != nil {
				return err
			}
		}

		if !anyInput {
			if writersDead {
				return e.out.Flush()
			}
			// One more full pass runs after the writers die, closing
			// the race with a final in-flight write.
			writersDead = e.pids.AllDead()
			if !writersDead {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(e.opts.SleepInterval):
				}
			}
		}
	}
}

// ensureBlockingMode reconciles the descriptor's O_NONBLOCK flag with the
// follower's chosen I/O mode.
func (e *Engine) ensureBlockingMode(f *filespec.FileSpec, blocking bool) error {
	want := filespec.BlockingOff
	if blocking {
		want = filespec.BlockingOn
	}
	if f.Blocking == want {
		return nil
	}
	fd := int(f.File.Fd())
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err == nil {
		newFlags := flags
		if !blocking {
			newFlags |= unix.O_NONBLOCK
		}
		if newFlags != flags {
			_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, newFlags)
		}
	}
	if err != nil {
		// Append-only files reject F_SETFL with EPERM; reads still work.
		if f.Mode.IsRegular() && err == unix.EPERM {
			return nil
		}
		return fmt.Errorf("%s: cannot change nonblocking mode: %w", f.Pretty(), err)
	}
	f.Blocking = want
	return nil
}

// checkSpec emits any new data on f's descriptor, handling truncation and
// a failed fstat the same way one poll iteration would.
func (e *Engine) checkSpec(f *filespec.FileSpec) error {
	if f.File == nil {
		return nil
	}
	name := f.Pretty()

	info, err := f.File.Stat()
	if err != nil {
		f.MarkClosed(err)
		return nil
	}

	if f.Mode.IsRegular() && info.Size() < f.Size {
		e.log.Warn("file truncated", "file", name)
		if _, err := f.File.Seek(0, io.SeekStart); err != nil {
			e.log.Warn("cannot seek", "file", name, "error", err)
			f.MarkClosed(err)
			return nil
		}
		f.Size = 0
	} else if f.Mode.IsRegular() && info.Size() == f.Size && f.Mtime.Equal(info.ModTime()) {
		return nil
	}

	n, err := extract.CopyRemainder(e.out.FileWriter(name), name, f.File, extract.CopyToEOF)
	f.Size += n
	if err != nil {
		if output.IsWriteError(err) {
			return err
		}
		e.log.Warn("error reading", "file", name, "error", err)
		f.MarkClosed(err)
		return nil
	}
	if n > 0 {
		return e.out.Flush()
	}
	return nil
}

// openFile opens a follow candidate, nonblocking unless the blocking
// optimization is active.
func openFile(name string, blocking bool) (*os.File, error) {
	flags := os.O_RDONLY
	if !blocking {
		flags |= syscall.O_NONBLOCK
	}
	return os.OpenFile(name, flags, 0)
}

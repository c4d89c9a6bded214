package follow

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"syscall"

	"gtail/internal/filespec"
)

// recheck opens and stats f's name fresh and reconciles the result with
// the state on record: the name may have become accessible, vanished,
// changed type, or come to denote a different file entirely.
func (e *Engine) recheck(f *filespec.FileSpec, blocking bool) {
	isStdin := f.IsStdin()
	wasTailable := f.Tailable
	prevErr := f.Err

	var (
		file    *os.File
		openErr error
	)
	if isStdin {
		file = os.Stdin
	} else {
		file, openErr = openFile(f.Name, blocking)
	}

	// An open failure while retrying means the name does not currently
	// resolve to anything tailable.
	f.Tailable = !(e.opts.Retry && openErr != nil)

	var info os.FileInfo
	statErr := openErr
	if openErr == nil {
		info, statErr = file.Stat()
	}

	ok := true
	switch {
	case e.useInotify && isSymlink(f.Name):
		// A name turned symlink cannot be matched against notification
		// events, so this combination is refused outright.
		ok = false
		f.Err = filespec.ErrSymlink
		f.Ignore = true
		e.log.Warn("has been replaced with an untailable symbolic link", "file", f.Pretty())
	case statErr != nil:
		ok = false
		f.Err = statErr
		if !f.Tailable {
			if wasTailable {
				e.log.Warn("has become inaccessible", "file", f.Pretty(), "error", statErr)
			}
			// Still inaccessible: stay silent on repeats.
		} else if !filespec.SameError(prevErr, statErr) {
			e.log.Warn("cannot open", "file", f.Pretty(), "error", statErr)
		}
	case !filespec.IsTailableMode(info.Mode()):
		ok = false
		f.Err = filespec.ErrUntailable
		f.Tailable = false
		f.Ignore = !(e.opts.Retry && e.opts.FollowByName())
		if wasTailable || !filespec.SameError(prevErr, filespec.ErrUntailable) {
			msg := "has been replaced with an untailable file"
			if f.Ignore {
				msg += "; giving up on this name"
			}
			e.log.Warn(msg, "file", f.Pretty())
		}
	default:
		f.Remote = IsRemote(file, f.Pretty(), e.log)
		if f.Remote && e.useInotify {
			ok = false
			f.Err = filespec.ErrUntailableRemote
			f.Ignore = true
			e.log.Warn("has been replaced with an untailable remote file", "file", f.Pretty())
		} else {
			f.Err = nil
		}
	}

	newFile := false
	switch {
	case !ok:
		if file != nil && !isStdin {
			file.Close()
		}
		brokenAs := f.Err
		f.MarkClosed(brokenAs)
	case prevErr != nil && !isNotExist(prevErr):
		// Was broken for a reason other than absence: the name is back.
		newFile = true
		e.log.Warn("has become accessible", "file", f.Pretty())
	case f.File == nil:
		// The file was missing last iteration; even an identical
		// dev/ino pair may be a reused one, so treat it as new.
		newFile = true
		e.log.Warn("has appeared; following new file", "file", f.Pretty())
	case devInoChanged(f, info):
		// Log rotation: the name now denotes a different file.
		newFile = true
		e.log.Warn("has been replaced; following new file", "file", f.Pretty())
		f.File.Close()
		f.File = nil
	default:
		// Same file as before: drop the probe descriptor.
		if !isStdin {
			file.Close()
		}
	}

	if newFile {
		mode := filespec.BlockingUnknown
		if !isStdin {
			if blocking {
				mode = filespec.BlockingOn
			} else {
				mode = filespec.BlockingOff
			}
		}
		f.RecordOpen(file, 0, info, mode)
		if info.Mode().IsRegular() && !isStdin {
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				e.log.Warn("cannot seek", "file", f.Pretty(), "error", err)
				f.MarkClosed(err)
			}
		}
	}
}

func devInoChanged(f *filespec.FileSpec, info os.FileInfo) bool {
	dev, ino := filespec.DevIno(info)
	return f.Ino != ino || f.Dev != dev
}

func isSymlink(name string) bool {
	info, err := os.Lstat(name)
	return err == nil && info.Mode()&fs.ModeSymlink != 0
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || filespec.Errno(err) == syscall.ENOENT
}

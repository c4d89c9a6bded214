package filespec

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"syscall"
	"time"
)

// Stdin is the operand naming standard input.
const Stdin = "-"

// Sentinel states for names that resolve to something the engine cannot
// follow. They occupy the Err slot of a closed FileSpec the same way a
// real open error would.
var (
	// ErrUntailable marks a name that resolved to a type that cannot be
	// followed (directory, block device, ...).
	ErrUntailable = errors.New("untailable file")

	// ErrUntailableRemote marks a file on a non-local filesystem while
	// change notification is in use.
	ErrUntailableRemote = errors.New("untailable remote file")

	// ErrSymlink marks a name that turned into a symbolic link while
	// change notification is in use; notification events cannot be
	// matched against symlink targets.
	ErrSymlink = errors.New("untailable symbolic link")

	// ErrIgnoredPipe marks a stdin operand that turned out to be a pipe
	// or FIFO and is therefore excluded from following.
	ErrIgnoredPipe = errors.New("ignored pipe")
)

// Blocking is the tri-state I/O mode of an open descriptor.
type Blocking int8

const (
	BlockingUnknown Blocking = iota
	BlockingOff
	BlockingOn
)

// FileSpec is the per-file entity tracked by the followers.
type FileSpec struct {
	Name string

	// File is the exclusively owned open descriptor, nil when closed.
	// Err records the last open/stat failure; it is non-nil exactly when
	// File is nil.
	File *os.File
	Err  error

	// Last-observed fingerprint, written only on (re)open and fstat.
	Size  int64
	Mtime time.Time
	Dev   uint64
	Ino   uint64
	Mode  fs.FileMode

	// Tailable reports whether the name currently resolves to a type the
	// engine can follow. Ignore means "stop trying this name"; it is
	// cleared only when a filesystem event revives the entry.
	Tailable bool
	Ignore   bool

	// Remote marks a file judged to live on a non-local filesystem.
	Remote bool

	Blocking Blocking

	// Inotify watch descriptors, owned by the event follower.
	Wd       int
	ParentWd int

	// BasenameStart is the index of the final path component in Name,
	// cached for matching directory-event names.
	BasenameStart int

	// UnchangedStats counts consecutive poll iterations with no detected
	// change.
	UnchangedStats uint
}

// Pretty returns the display name, substituting a readable label for the
// stdin operand.
func (f *FileSpec) Pretty() string {
	if f.Name == Stdin {
		return "standard input"
	}
	return f.Name
}

// IsStdin reports whether the spec names standard input.
func (f *FileSpec) IsStdin() bool { return f.Name == Stdin }

// Valid reports the open-xor-broken invariant.
func (f *FileSpec) Valid() bool {
	return (f.File != nil) != (f.Err != nil)
}

// RecordOpen installs an open descriptor and refreshes the fingerprint
// from info.
func (f *FileSpec) RecordOpen(file *os.File, size int64, info os.FileInfo, blocking Blocking) {
	f.File = file
	f.Err = nil
	f.Size = size
	f.Mtime = info.ModTime()
	f.Dev, f.Ino = DevIno(info)
	f.Mode = info.Mode()
	f.Blocking = blocking
	f.UnchangedStats = 0
	f.Ignore = false
}

// MarkClosed releases any open descriptor and records err as the reason
// the name is broken. err must be non-nil.
func (f *FileSpec) MarkClosed(err error) {
	if f.File != nil && !f.IsStdin() {
		f.File.Close()
	}
	f.File = nil
	f.Err = err
}

// Unchanged reports whether info matches the recorded fingerprint: same
// mode, same mtime, and (for regular files) same size.
func (f *FileSpec) Unchanged(info os.FileInfo) bool {
	return f.Mode == info.Mode() &&
		(!info.Mode().IsRegular() || f.Size == info.Size()) &&
		f.Mtime.Equal(info.ModTime())
}

// Tailable file types: regular files, FIFOs, sockets, and character
// devices.
func IsTailableMode(m fs.FileMode) bool {
	if m.IsRegular() {
		return true
	}
	switch m.Type() {
	case fs.ModeNamedPipe, fs.ModeSocket, fs.ModeDevice | fs.ModeCharDevice:
		return true
	}
	return false
}

// DevIno extracts the device and inode numbers from info.
func DevIno(info os.FileInfo) (dev, ino uint64) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Dev), uint64(st.Ino)
	}
	return 0, 0
}

// Errno extracts the underlying errno from an open or stat error, or 0
// when err carries none (sentinel states included).
func Errno(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}

// SameError reports whether two recorded failures describe the same
// condition, comparing errnos when both carry one.
func SameError(a, b error) bool {
	if errors.Is(a, b) || errors.Is(b, a) {
		return true
	}
	ea, eb := Errno(a), Errno(b)
	return ea != 0 && ea == eb
}

// Registry holds one FileSpec per input name. Storage is stable for the
// process lifetime: entries are created once and never removed, so weak
// references from watch tables cannot dangle.
type Registry struct {
	specs []*FileSpec
}

// NewRegistry creates registry entries for names in order.
func NewRegistry(names []string) *Registry {
	r := &Registry{specs: make([]*FileSpec, 0, len(names))}
	for _, name := range names {
		r.specs = append(r.specs, &FileSpec{
			Name:          name,
			BasenameStart: basenameStart(name),
		})
	}
	return r
}

// Specs returns the registry entries in input order.
func (r *Registry) Specs() []*FileSpec { return r.specs }

// Len returns the number of registered names.
func (r *Registry) Len() int { return len(r.specs) }

// AnyLive reports whether any entry still has an open descriptor or, with
// retry enabled, is still worth rechecking. When following by name with
// retry, every entry may later be revived, so the registry is always
// considered live.
func (r *Registry) AnyLive(retry, followByName bool) bool {
	if retry && followByName {
		return true
	}
	for _, f := range r.specs {
		if f.File != nil {
			return true
		}
		if !f.Ignore && retry {
			return true
		}
	}
	return false
}

func basenameStart(name string) int {
	return strings.LastIndexByte(name, '/') + 1
}

//go:build linux

package follow

import (
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// Filesystem magic numbers considered local. Anything unrecognized is
// treated as remote so the engine polls rather than trusting stale
// notification or size data.
var localFSTypes = map[int64]bool{
	0xEF53:       true, // ext2/3/4
	0x58465342:   true, // xfs
	0x9123683E:   true, // btrfs
	0xCA451A4E:   true, // bcachefs
	0xF2F52010:   true, // f2fs
	0x52654973:   true, // reiserfs
	0x3153464A:   true, // jfs
	0xE0F5E1E2:   true, // erofs
	0x73717368:   true, // squashfs
	0x01021994:   true, // tmpfs
	0x858458F6:   true, // ramfs
	0x794C7630:   true, // overlayfs
	0x2FC12FC1:   true, // zfs
	0x4D44:       true, // msdos/vfat
	0x2011BAB0:   true, // exfat
	0x5346544E:   true, // ntfs
	0x9660:       true, // isofs
	0x15013346:   true, // udf
	0x9FA0:       true, // proc
	0x62656572:   true, // sysfs
	0x1CD1:       true, // devpts
	0x64626720:   true, // debugfs
	0x74726163:   true, // tracefs
	0x73636673:   true, // securityfs
	0x27E0EB:     true, // cgroup
	0x63677270:   true, // cgroup2
	0xCAFE4A11:   true, // bpf
	0x958458F6:   true, // hugetlbfs
	0x6165676C:   true, // pstore
	0x42494E4D:   true, // binfmt_misc
	0x62656570:   true, // configfs
	0x19800202:   true, // mqueue
	0x50495045:   true, // pipefs
	0x534F434B:   true, // sockfs
	0x09041934:   true, // anon_inodefs
	0x0BAD1DEA:   true, // futexfs
	0x137D:       true, // ext (original)
	0x138F:       true, // minix
	0x3434:       true, // nilfs
}

// IsRemote judges whether f's backing filesystem is non-local. A failed
// fstatfs is judged remote, the conservative answer, since polling always
// works.
func IsRemote(f *os.File, name string, log *slog.Logger) bool {
	var buf unix.Statfs_t
	if err := unix.Fstatfs(int(f.Fd()), &buf); err != nil {
		// Pipes fail fstatfs with ENOSYS on some kernels; treat them
		// like remote files without a diagnostic.
		if err != unix.ENOSYS {
			log.Warn("cannot determine location; reverting to polling", "file", name, "error", err)
		}
		return true
	}
	return !localFSTypes[int64(buf.Type)]
}

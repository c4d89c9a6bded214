// Package liveness probes writer processes so the followers can stop once
// every watched writer has terminated.
package liveness

import "golang.org/x/sys/unix"

// Monitor tracks an ordered set of writer process IDs.
type Monitor struct {
	pids []int
}

// New creates a monitor for pids. With no pids the monitor never reports
// the writers dead.
func New(pids []int) *Monitor {
	return &Monitor{pids: pids}
}

// Watching reports whether any writer process is being tracked.
func (m *Monitor) Watching() bool { return len(m.pids) > 0 }

// AllDead reports whether every watched writer is confirmed gone. A probe
// rejected with EPERM proves the process still exists, so it counts as
// alive.
func (m *Monitor) AllDead() bool {
	if len(m.pids) == 0 {
		return false
	}
	for _, pid := range m.pids {
		err := unix.Kill(pid, 0)
		if err == nil || err == unix.EPERM {
			return false
		}
	}
	return true
}

// Supported reports whether pid probing works on this system at all.
func (m *Monitor) Supported() bool {
	if len(m.pids) == 0 {
		return true
	}
	return unix.Kill(m.pids[0], 0) != unix.ENOSYS
}

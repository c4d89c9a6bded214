// Package follow keeps emitting data appended to the monitored files.
//
// Two followers drive follow mode: a poll follower that periodically
// re-stats every registered file, and (on Linux) an inotify follower that
// blocks on kernel change notification, watching parent directories as
// well when following by name so rotation is seen the moment it happens.
// The inotify follower hands control to the poll follower permanently when
// notification becomes unusable; the reverse never happens. Both share the
// recheck path that reconciles a name with whatever file currently backs
// it, and both consult the liveness monitor so the engine can drain and
// stop once every watched writer is gone.
//
// Execution is single-threaded and cooperative: the only suspension points
// are the polling sleep, the notification wait, and blocking reads.
// Exactly one FileSpec is mutated at a time, so correctness rests on the
// open-xor-broken invariant rather than on locking.
package follow

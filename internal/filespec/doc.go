// Package filespec tracks per-file follow state.
//
// Each monitored name owns one FileSpec for the lifetime of the process.
// A FileSpec is either open (File != nil) or known-broken (Err != nil),
// never both and never neither; every code path that opens, closes, or
// fails to open a descriptor goes through RecordOpen or MarkClosed so the
// invariant holds across follower iterations. Giving up on a name is
// expressed with Ignore, not by removing the entry, so watch back-references
// into the registry never dangle.
package filespec

//go:build !linux

package follow

import "context"

// Inotify is Linux-only; other platforms always poll.

func (e *Engine) notifyUsable() bool { return false }

func (e *Engine) runNotify(ctx context.Context) error { return errRevertToPolling }

// Package errs collects the error taxonomy shared by every layer of the
// runtime: reactor, task, syncx, pool, gnet and server return (or panic
// with) these sentinels, either as they are or wrapped with fmt.Errorf's
// %w, so callers can errors.Is across package boundaries.
package errs

import "errors"

// Would-block and closed-connection classifications. These never escape
// gnet's retry loop as raw syscall errors; they're translated here so the
// rest of the runtime has one vocabulary.
var (
	ErrWouldBlock = errors.New("greenio: operation would block")
	ErrClosed     = errors.New("greenio: connection closed")
)

// Timeout and cancellation.
var (
	ErrTimeout    = errors.New("greenio: timeout")
	ErrCancelled  = errors.New("greenio: cancelled")
	ErrDeadline   = errors.New("greenio: deadline exceeded")
	ErrFDClosed   = errors.New("greenio: fd closed under watcher")
)

// Protocol/usage errors: programmer mistakes, not recoverable at runtime.
var (
	ErrDuplicateWatcher = errors.New("greenio: duplicate watcher for (fd, direction)")
	ErrHubReentry       = errors.New("greenio: blocking primitive invoked from hub goroutine")
	ErrDoubleSend       = errors.New("greenio: event already set")
	ErrNotATask         = errors.New("greenio: caller is not a task")
	ErrWatcherClosed    = errors.New("greenio: watcher already removed")
	ErrOverflow         = errors.New("greenio: bounded semaphore release exceeds capacity")
	ErrPoolFull         = errors.New("greenio: pool exhausted and reentrant spawn unavailable")
	ErrPoolMemberWait   = errors.New("greenio: waitall called from within a pool member")
	ErrEmptyBuffer      = errors.New("greenio: empty buffer")
	ErrUnsupported      = errors.New("greenio: unsupported operand")
)

// Fatal system errors and lifecycle.
var (
	ErrReactorFatal        = errors.New("greenio: fatal reactor error")
	ErrStopServe           = errors.New("greenio: server stopped")
	ErrUnsupportedPlatform = errors.New("greenio: unsupported platform for native poller")
	ErrHubStopped          = errors.New("greenio: hub is stopping or stopped")
)

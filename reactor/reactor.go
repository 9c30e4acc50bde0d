// Package reactor specifies the asynchronous readiness adapter that
// flux.FluxRx.RecvAsync consumes. It ships no bundled integration with
// any specific async runtime — PollNotifier is the one concrete,
// self-contained implementation; anything wired to epoll-backed event
// loops (tokio's AsyncFd equivalent, netpoll-based frameworks) is a
// caller concern layered on top of the same interface.
package reactor

import "context"

// Notifier waits until fd becomes readable or ctx is cancelled. The
// interface itself carries no platform dependency, so non-Linux
// builds and simulator-backed tests can reference it even where
// PollNotifier cannot.
type Notifier interface {
	Readable(ctx context.Context, fd int) error
}

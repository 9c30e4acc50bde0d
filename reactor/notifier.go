//go:build linux

package reactor

import (
	"context"

	"golang.org/x/sys/unix"
)

// PollNotifier implements Notifier with a blocking unix.Poll call,
// re-checking ctx between retries so a cancelled context unblocks a
// goroutine parked in Readable within one poll timeout.
type PollNotifier struct {
	// TimeoutMS bounds each underlying poll(2) call so ctx cancellation
	// is observed promptly. Zero defaults to 100ms.
	TimeoutMS int
}

func (p PollNotifier) timeoutMS() int {
	if p.TimeoutMS > 0 {
		return p.TimeoutMS
	}
	return 100
}

// Readable blocks until fd is readable or ctx is done.
func (p PollNotifier) Readable(ctx context.Context, fd int) error {
	timeout := p.timeoutMS()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll([]unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n > 0 {
			return nil
		}
	}
}

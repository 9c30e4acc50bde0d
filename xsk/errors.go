//go:build linux

package xsk

import "errors"

// ErrorKind classifies the sentinel errors this package returns, for
// callers that need to branch on failure category rather than match a
// specific sentinel.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInterfaceNotSupported
	KindPermissionDenied
	KindIO
	KindRingCorruption
)

var (
	// ErrInterfaceNotSupported, ErrPermissionDenied, ErrIO and
	// ErrXSKSMapNotFound are recognized by Kind, but no function in this
	// package returns them: MakeInterface and Open report setup failures
	// as wrapped syscall or xdpprog errors, which Kind reports as
	// KindUnknown.

	// ErrInterfaceNotSupported classifies an interface with no usable RX
	// queues, or one whose kernel rejects XDP attachment outright.
	ErrInterfaceNotSupported = errors.New("xsk: interface does not support AF_XDP")
	// ErrPermissionDenied classifies a privileged operation (socket
	// creation, XDP attach, huge-page mapping) rejected by the kernel
	// for lack of capability.
	ErrPermissionDenied = errors.New("xsk: permission denied")
	// ErrIO classifies an unexpected syscall failure not covered by a
	// more specific sentinel.
	ErrIO = errors.New("xsk: I/O error")
	// ErrRingCorruption is returned when Open's post-mmap sanity check
	// finds a ring whose consumer counter is ahead of its producer.
	ErrRingCorruption = errors.New("xsk: ring corruption detected")
	// ErrXSKSMapNotFound classifies a caller-supplied XDP program with
	// no xsks_map, so no socket fd can be registered for redirect. A
	// missing map is reported as xdpprog.ErrXsksMapNotFound, wrapped.
	ErrXSKSMapNotFound = errors.New("xsk: xsks_map not found in program")

	ErrTXRegionEmpty = errors.New("xsk: TX region is empty")
	ErrCQRegionEmpty = errors.New("xsk: completion region is empty")
	ErrRXRegionEmpty = errors.New("xsk: RX region is empty")
	ErrFQRegionEmpty = errors.New("xsk: fill region is empty")

	ErrNumFramesTooSmall = errors.New("xsk: NumFrames must be >= TxSize + RxSize")
)

// Kind maps a sentinel returned by this package to its ErrorKind.
// Errors not recognized here, including wrapped syscall errors, report
// KindUnknown.
func Kind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInterfaceNotSupported), errors.Is(err, ErrXSKSMapNotFound):
		return KindInterfaceNotSupported
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrIO):
		return KindIO
	case errors.Is(err, ErrRingCorruption):
		return KindRingCorruption
	default:
		return KindUnknown
	}
}

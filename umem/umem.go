// Package umem implements the UMEM memory arena: the contiguous,
// page-backed region shared between kernel and user space and divided
// into fixed-size frames. Frame addresses on every ring are byte
// offsets into this region.
package umem

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFrameSize is returned by Create when frameSize is not
	// one of the two sizes the kernel's AF_XDP UMEM registration accepts.
	ErrUnsupportedFrameSize = errors.New("umem: frame size must be 2048 or 4096")
	// ErrUnsupportedFrameCount is returned by Create when frameCount is
	// not a power of two or is below the minimum of 64.
	ErrUnsupportedFrameCount = errors.New("umem: frame count must be a power of two >= 64")
	// ErrOutOfMemory is returned when the backing mapping could not be
	// established.
	ErrOutOfMemory = errors.New("umem: failed to map arena")
	// ErrPermissionDenied is returned when huge-page backing was
	// requested but is unavailable to the calling process.
	ErrPermissionDenied = errors.New("umem: huge pages unavailable")
)

// Arena is a contiguous, fixed-frame-size byte region. Its backing
// allocation differs by platform (see mmap_linux.go / mmap_other.go) but
// its exported surface — Frame, Slice, Close — does not.
type Arena struct {
	region     []byte
	frameSize  uint32
	frameCount uint32
	hugePages  bool
}

// Option configures Create.
type Option func(*options)

type options struct {
	hugePages bool
}

// WithHugePages requests MAP_HUGETLB backing on platforms that support
// it. Create returns ErrPermissionDenied if huge pages are unavailable.
func WithHugePages() Option {
	return func(o *options) { o.hugePages = true }
}

func isPowerOfTwo(n uint32) bool { return n != 0 && n&(n-1) == 0 }

func validate(frameSize, frameCount uint32) error {
	if frameSize != 2048 && frameSize != 4096 {
		return ErrUnsupportedFrameSize
	}
	if frameCount < 64 || !isPowerOfTwo(frameCount) {
		return ErrUnsupportedFrameCount
	}
	return nil
}

// Create reserves and maps an arena of frameCount frames of frameSize
// bytes each. frameSize must be 2048 or 4096; frameCount must be a
// power of two >= 64.
func Create(frameSize, frameCount uint32, opts ...Option) (*Arena, error) {
	if err := validate(frameSize, frameCount); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	region, err := mapArena(uint64(frameSize)*uint64(frameCount), o.hugePages)
	if err != nil {
		return nil, err
	}

	return &Arena{
		region:     region,
		frameSize:  frameSize,
		frameCount: frameCount,
		hugePages:  o.hugePages,
	}, nil
}

// FrameSize returns the arena's fixed frame size in bytes.
func (a *Arena) FrameSize() uint32 { return a.frameSize }

// FrameCount returns the number of frames in the arena.
func (a *Arena) FrameCount() uint32 { return a.frameCount }

// Len returns the arena's total size in bytes.
func (a *Arena) Len() int { return len(a.region) }

// Base returns the address of the first byte of the arena, for
// registering it with the kernel via XDP_UMEM_REG.
func (a *Arena) Base() []byte { return a.region }

// Frame returns the byte view of the frame at the given 0-based
// ordinal. An ordinal >= FrameCount() panics.
func (a *Arena) Frame(ordinal uint32) []byte {
	if ordinal >= a.frameCount {
		panic(fmt.Sprintf("umem: frame ordinal %d out of range (count=%d)", ordinal, a.frameCount))
	}
	start := uint64(ordinal) * uint64(a.frameSize)
	return a.region[start : start+uint64(a.frameSize)]
}

// FrameAt resolves a ring descriptor's address back to its owning
// frame and the address's offset within that frame. A descriptor's
// addr may point anywhere inside a frame, not just its base, once
// AdjustHead has moved a packet's start within its headroom.
func (a *Arena) FrameAt(addr uint64) (frame []byte, offset int) {
	ordinal := uint32(addr / uint64(a.frameSize))
	offset = int(addr % uint64(a.frameSize))
	return a.Frame(ordinal), offset
}

// Slice returns the byte view at the given address and length. Callers
// must guarantee addr and length originated from a trusted descriptor or
// a verified allocator: out-of-bounds access here is undefined. This is
// the one place in the package where a caller can corrupt memory safety
// by passing kernel-origin values that violate bounds upstream of this
// call.
func (a *Arena) Slice(addr uint64, length uint32) []byte {
	return a.region[addr : addr+uint64(length)]
}

// Close unmaps the arena. Kernel registration belongs to the socket fd
// and ends when xsk.Socket closes it. Must not be
// called while any ring still references frames inside it; that
// lifetime ordering is enforced by the outer xsk.Socket, which owns both
// the Arena and the rings and tears them down in the correct order.
func (a *Arena) Close() error {
	if a.region == nil {
		return nil
	}
	err := unmapArena(a.region)
	a.region = nil
	return err
}

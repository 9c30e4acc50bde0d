//go:build linux

package xsk

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sidd-27/fluxnet/allocator"
	"github.com/sidd-27/fluxnet/ring"
	"github.com/sidd-27/fluxnet/umem"
)

const (
	DefaultNumFrames          = 4096
	DefaultFrameSize          = 2048
	DefaultTxQueueSize        = 2048
	DefaultRxQueueSize        = DefaultTxQueueSize
	DefaultCompletionRingSize = 2048
	DefaultBatchSize          = 64
)

// SocketConfig controls how a Socket is opened. Build one with
// NewSocketConfig and SocketOption functions; zero-value fields are
// filled in with the package defaults.
type SocketConfig struct {
	QueueID   uint32
	NumFrames uint32
	FrameSize uint32
	RxSize    uint32
	TxSize    uint32
	CqSize    uint32
	BatchSize uint32
	HugePages bool
}

// SocketOption configures a SocketConfig.
type SocketOption func(*SocketConfig)

// WithQueueID selects the NIC RX/TX queue to bind to.
func WithQueueID(id uint32) SocketOption { return func(c *SocketConfig) { c.QueueID = id } }

// WithFrames sets the UMEM frame count and frame size.
func WithFrames(numFrames, frameSize uint32) SocketOption {
	return func(c *SocketConfig) { c.NumFrames = numFrames; c.FrameSize = frameSize }
}

// WithRingSizes sets the RX, TX, and completion ring sizes.
func WithRingSizes(rx, tx, cq uint32) SocketOption {
	return func(c *SocketConfig) { c.RxSize = rx; c.TxSize = tx; c.CqSize = cq }
}

// WithBatchSize sets the TX/completion batching size.
func WithBatchSize(n uint32) SocketOption { return func(c *SocketConfig) { c.BatchSize = n } }

// WithHugePages requests huge-page-backed UMEM.
func WithHugePages() SocketOption { return func(c *SocketConfig) { c.HugePages = true } }

// NewSocketConfig builds a SocketConfig with defaults applied, then
// overridden by opts in order.
func NewSocketConfig(opts ...SocketOption) SocketConfig {
	c := SocketConfig{
		NumFrames: DefaultNumFrames,
		FrameSize: DefaultFrameSize,
		RxSize:    DefaultRxQueueSize,
		TxSize:    DefaultTxQueueSize,
		CqSize:    DefaultCompletionRingSize,
		BatchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *SocketConfig) validate() error {
	if c.NumFrames < c.TxSize+c.RxSize {
		return ErrNumFramesTooSmall
	}
	return nil
}

// Socket is an AF_XDP bidirectional socket bound to one NIC queue.
// Socket is not safe for concurrent use; the engine/flux packages are
// responsible for any cross-goroutine coordination built on top of it.
type Socket struct {
	conf       SocketConfig
	isZerocopy bool
	fd         int

	arena *umem.Arena
	free  *allocator.Stack

	txRegion, cqRegion, rxRegion, fqRegion []byte

	rx *ring.ConsumerRing[ring.Descriptor]
	fq *ring.ProducerRing[uint64]
	tx *ring.ProducerRing[ring.Descriptor]
	cq *ring.ConsumerRing[uint64]

	txFlags *uint32
	fqFlags *uint32

	compBuf []uint64

	iface *Interface
}

// Open creates and initializes an AF_XDP socket on iface's conf.QueueID
// queue: it allocates UMEM, maps all four rings, configures the kernel
// structures, binds to the target queue, and registers the bound
// socket's fd into the interface's xsks_map.
func (i *Interface) Open(conf SocketConfig) (*Socket, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}

	netIf, err := net.InterfaceByName(i.ifaceName)
	if err != nil {
		return nil, fmt.Errorf("xsk: fetching interface info: %w", err)
	}

	fd, err := unix.Socket(unix.AF_XDP, unix.SOCK_RAW, 0)
	if err != nil {
		return nil, fmt.Errorf("xsk: opening AF_XDP socket: %w", err)
	}

	var opts []umem.Option
	if conf.HugePages {
		opts = append(opts, umem.WithHugePages())
	}
	arena, err := umem.Create(conf.FrameSize, conf.NumFrames, opts...)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("xsk: creating UMEM arena: %w", err)
	}

	reg := xdpUmemReg{
		Addr:      uint64(uintptr(unsafe.Pointer(&arena.Base()[0]))),
		Len:       uint64(arena.Len()),
		ChunkSize: conf.FrameSize,
		Headroom:  0,
	}
	if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_UMEM_REG, unsafe.Pointer(&reg), unsafe.Sizeof(reg)); err != nil {
		arena.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("xsk: setsockopt XDP_UMEM_REG: %w", err)
	}

	fillSize, compSize := conf.RxSize, conf.CqSize
	if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_UMEM_FILL_RING, unsafe.Pointer(&fillSize), unsafe.Sizeof(fillSize)); err != nil {
		arena.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("xsk: setsockopt XDP_UMEM_FILL_RING: %w", err)
	}
	if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_UMEM_COMPLETION_RING, unsafe.Pointer(&compSize), unsafe.Sizeof(compSize)); err != nil {
		arena.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("xsk: setsockopt XDP_UMEM_COMPLETION_RING: %w", err)
	}

	txSize := conf.TxSize
	if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_TX_RING, unsafe.Pointer(&txSize), unsafe.Sizeof(txSize)); err != nil {
		arena.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("xsk: setsockopt XDP_TX_RING: %w", err)
	}
	rxSize := conf.RxSize
	if err := setsockopt(fd, unix.SOL_XDP, unix.XDP_RX_RING, unsafe.Pointer(&rxSize), unsafe.Sizeof(rxSize)); err != nil {
		arena.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("xsk: setsockopt XDP_RX_RING: %w", err)
	}

	var offs xdpMmapOffsets
	if err := getsockopt(fd, unix.SOL_XDP, unix.XDP_MMAP_OFFSETS, unsafe.Pointer(&offs), unsafe.Sizeof(offs)); err != nil {
		arena.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("xsk: getsockopt XDP_MMAP_OFFSETS: %w", err)
	}

	descSize := unsafe.Sizeof(ring.Descriptor{})
	txRegionLen := uintptr(offs.Tx.Desc) + uintptr(conf.TxSize)*descSize
	txRegion, err := mmapRegion(fd, txRegionLen, unix.XDP_PGOFF_TX_RING)
	if err != nil {
		arena.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("xsk: mmap TX ring: %w", err)
	}
	if len(txRegion) == 0 {
		unix.Munmap(txRegion)
		arena.Close()
		unix.Close(fd)
		return nil, ErrTXRegionEmpty
	}

	cqRegionLen := uintptr(offs.Cr.Desc) + uintptr(conf.CqSize)*unsafe.Sizeof(uint64(0))
	cqRegion, err := mmapRegion(fd, cqRegionLen, unix.XDP_UMEM_PGOFF_COMPLETION_RING)
	if err != nil {
		unix.Munmap(txRegion)
		arena.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("xsk: mmap completion ring: %w", err)
	}
	if len(cqRegion) == 0 {
		unix.Munmap(txRegion)
		unix.Munmap(cqRegion)
		arena.Close()
		unix.Close(fd)
		return nil, ErrCQRegionEmpty
	}

	rxRegionLen := uintptr(offs.Rx.Desc) + uintptr(conf.RxSize)*descSize
	rxRegion, err := mmapRegion(fd, rxRegionLen, unix.XDP_PGOFF_RX_RING)
	if err != nil {
		unix.Munmap(txRegion)
		unix.Munmap(cqRegion)
		arena.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("xsk: mmap RX ring: %w", err)
	}
	if len(rxRegion) == 0 {
		unix.Munmap(txRegion)
		unix.Munmap(cqRegion)
		unix.Munmap(rxRegion)
		arena.Close()
		unix.Close(fd)
		return nil, ErrRXRegionEmpty
	}

	fqRegionLen := uintptr(offs.Fr.Desc) + uintptr(conf.RxSize)*unsafe.Sizeof(uint64(0))
	fqRegion, err := mmapRegion(fd, fqRegionLen, unix.XDP_UMEM_PGOFF_FILL_RING)
	if err != nil {
		unix.Munmap(txRegion)
		unix.Munmap(cqRegion)
		unix.Munmap(rxRegion)
		arena.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("xsk: mmap fill ring: %w", err)
	}
	if len(fqRegion) == 0 {
		unix.Munmap(txRegion)
		unix.Munmap(cqRegion)
		unix.Munmap(rxRegion)
		unix.Munmap(fqRegion)
		arena.Close()
		unix.Close(fd)
		return nil, ErrFQRegionEmpty
	}

	base := func(r []byte) unsafe.Pointer { return unsafe.Pointer(&r[0]) }
	txProd := (*uint32)(unsafe.Add(base(txRegion), offs.Tx.Producer))
	txCons := (*uint32)(unsafe.Add(base(txRegion), offs.Tx.Consumer))
	txDescs := unsafe.Add(base(txRegion), offs.Tx.Desc)

	cqProd := (*uint32)(unsafe.Add(base(cqRegion), offs.Cr.Producer))
	cqCons := (*uint32)(unsafe.Add(base(cqRegion), offs.Cr.Consumer))
	cqAddrs := unsafe.Add(base(cqRegion), offs.Cr.Desc)

	rxProd := (*uint32)(unsafe.Add(base(rxRegion), offs.Rx.Producer))
	rxCons := (*uint32)(unsafe.Add(base(rxRegion), offs.Rx.Consumer))
	rxDescs := unsafe.Add(base(rxRegion), offs.Rx.Desc)

	fqProd := (*uint32)(unsafe.Add(base(fqRegion), offs.Fr.Producer))
	fqCons := (*uint32)(unsafe.Add(base(fqRegion), offs.Fr.Consumer))
	fqAddrs := unsafe.Add(base(fqRegion), offs.Fr.Desc)

	// Freshly mapped rings must have producer >= consumer; the kernel
	// never hands back a ring with the consumer counter ahead, so
	// anything else is a ring-corruption condition worth failing Open
	// over rather than feeding a negative window into ring arithmetic.
	for _, pair := range [4][2]*uint32{{txProd, txCons}, {cqProd, cqCons}, {rxProd, rxCons}, {fqProd, fqCons}} {
		if atomic.LoadUint32(pair[1]) > atomic.LoadUint32(pair[0]) {
			unix.Munmap(txRegion)
			unix.Munmap(cqRegion)
			unix.Munmap(rxRegion)
			unix.Munmap(fqRegion)
			arena.Close()
			unix.Close(fd)
			return nil, ErrRingCorruption
		}
	}

	txRing := ring.NewProducerRing[ring.Descriptor](txProd, txCons, txDescs, conf.TxSize)
	cqRing := ring.NewConsumerRing[uint64](cqProd, cqCons, cqAddrs, conf.CqSize)
	rxRing := ring.NewConsumerRing[ring.Descriptor](rxProd, rxCons, rxDescs, conf.RxSize)
	fqRing := ring.NewProducerRing[uint64](fqProd, fqCons, fqAddrs, conf.RxSize)

	// Seed the fill ring with every frame the RX side will ever use;
	// the remaining frames (for TX) stay in the free stack below.
	fillGuard := fqRing.Reserve(conf.RxSize)
	for n := uint32(0); n < fillGuard.N(); n++ {
		fillGuard.Write(n, uint64(n)*uint64(conf.FrameSize))
	}
	fillGuard.Commit(fillGuard.N())

	free := allocator.NewStack(conf.NumFrames, func(ordinal uint32) uint64 {
		return uint64(ordinal) * uint64(conf.FrameSize)
	})
	// Frames [0, RxSize) were just handed to the kernel via the fill
	// ring; the free stack must not also hand them out for TX.
	for n := uint32(0); n < conf.RxSize; n++ {
		free.Alloc()
	}

	sa := &sockaddrXDP{
		Family:  unix.AF_XDP,
		Ifindex: uint32(netIf.Index),
		QueueID: conf.QueueID,
	}
	zerocopy := i.preferZerocopy
	if zerocopy {
		sa.Flags = unix.XDP_ZEROCOPY | unix.XDP_USE_NEED_WAKEUP
	} else {
		sa.Flags = unix.XDP_COPY | unix.XDP_USE_NEED_WAKEUP
	}

	err = rawBind(fd, sa)
	if err != nil && zerocopy {
		if errno, ok := err.(unix.Errno); ok && errno == unix.EPROTONOSUPPORT {
			sa.Flags = unix.XDP_COPY | unix.XDP_USE_NEED_WAKEUP
			zerocopy = false
			err = rawBind(fd, sa)
		}
	}
	if err != nil {
		unix.Munmap(txRegion)
		unix.Munmap(cqRegion)
		unix.Munmap(rxRegion)
		unix.Munmap(fqRegion)
		arena.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("xsk: binding socket: %w", err)
	}

	if err := i.attachment.RegisterSocket(fd, conf.QueueID); err != nil {
		unix.Munmap(txRegion)
		unix.Munmap(cqRegion)
		unix.Munmap(rxRegion)
		unix.Munmap(fqRegion)
		arena.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("xsk: registering socket in xsks_map: %w", err)
	}

	return &Socket{
		conf:       conf,
		isZerocopy: zerocopy,
		fd:         fd,
		arena:      arena,
		free:       free,
		txRegion:   txRegion,
		cqRegion:   cqRegion,
		rxRegion:   rxRegion,
		fqRegion:   fqRegion,
		rx:         rxRing,
		fq:         fqRing,
		tx:         txRing,
		cq:         cqRing,
		txFlags:    flagsWord(txRegion, offs.Tx.Flags),
		fqFlags:    flagsWord(fqRegion, offs.Fr.Flags),
		compBuf:    make([]uint64, conf.BatchSize),
		iface:      i,
	}, nil
}

// IsZerocopy reports whether the socket ended up bound in zero-copy
// mode. May be false even if PreferZerocopy was requested, if the
// driver did not support zero-copy on this queue.
func (s *Socket) IsZerocopy() bool { return s.isZerocopy }

// FD returns the socket's file descriptor, for callers that need to
// register it with an external readiness mechanism (see package
// reactor).
func (s *Socket) FD() int { return s.fd }

// Arena returns the UMEM arena backing every frame on this socket.
func (s *Socket) Arena() *umem.Arena { return s.arena }

// RX returns the consumer-side view of the RX ring.
func (s *Socket) RX() *ring.ConsumerRing[ring.Descriptor] { return s.rx }

// Fill returns the producer-side view of the fill ring.
func (s *Socket) Fill() *ring.ProducerRing[uint64] { return s.fq }

// TX returns the producer-side view of the TX ring.
func (s *Socket) TX() *ring.ProducerRing[ring.Descriptor] { return s.tx }

// Completion returns the consumer-side view of the completion ring.
func (s *Socket) Completion() *ring.ConsumerRing[uint64] { return s.cq }

// AllocFrame removes one address from the free pool, reclaiming TX
// completions first if the pool is empty. ok is false if no frame is
// available even after reclaiming.
func (s *Socket) AllocFrame() (addr uint64, ok bool) {
	if addr, ok = s.free.Alloc(); ok {
		return addr, true
	}
	s.PollCompletions(uint32(len(s.compBuf)))
	return s.free.Alloc()
}

// FreeFrame returns addr to the free pool for reuse.
func (s *Socket) FreeFrame(addr uint64) { s.free.Free(addr) }

// FreeStack returns the socket's single-consumer free-frame pool
// directly, for callers — chiefly engine.New — that want to drive it
// themselves instead of going through AllocFrame/FreeFrame.
func (s *Socket) FreeStack() *allocator.Stack { return s.free }

// PollCompletions drains up to min(max, len(compBuf)) completed TX frames from
// the completion ring into the free pool and returns how many were
// reclaimed.
func (s *Socket) PollCompletions(max uint32) uint32 {
	if max == 0 {
		return 0
	}
	if max > uint32(len(s.compBuf)) {
		max = uint32(len(s.compBuf))
	}
	guard := s.cq.Consume(max)
	n := guard.N()
	for i := uint32(0); i < n; i++ {
		s.free.Free(guard.Read(i))
	}
	guard.Release(n)
	return n
}

// NeedsWakeupTX reports whether the kernel has set the TX ring's
// needs_wakeup bit, meaning a doorbell is required before it will make
// further progress.
func (s *Socket) NeedsWakeupTX() bool {
	return atomic.LoadUint32(s.txFlags)&needWakeupBit != 0
}

// WakeupTX kicks the kernel to process pending TX descriptors. Required
// whenever NeedsWakeupTX reports true.
func (s *Socket) WakeupTX() error { return wakeupQueue(s.fd) }

// NeedsWakeupRX reports whether the kernel has set the fill ring's
// needs_wakeup bit, meaning the kernel is starved of fill-ring entries
// and a doorbell or poll is required to resume RX delivery.
func (s *Socket) NeedsWakeupRX() bool {
	return atomic.LoadUint32(s.fqFlags)&needWakeupBit != 0
}

// WakeupRX kicks the kernel via the same doorbell mechanism as
// WakeupTX. AF_XDP does not distinguish RX and TX wakeups at the
// syscall level; both resolve to the same sendto on the socket fd.
func (s *Socket) WakeupRX() error { return wakeupQueue(s.fd) }

// Wait blocks until the socket becomes readable or timeoutMS elapses.
// Signal interruptions are retried transparently; only a genuine
// syscall failure is returned as an error.
func (s *Socket) Wait(timeoutMS int) error {
	for {
		_, err := unix.Poll([]unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}, timeoutMS)
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// Close releases the socket, UMEM, and all ring mappings.
func (s *Socket) Close() error {
	var errs []error
	if s.fd != 0 {
		if err := unix.Close(s.fd); err != nil {
			errs = append(errs, fmt.Errorf("closing fd: %w", err))
		}
		s.fd = 0
	}
	for _, region := range []*[]byte{&s.txRegion, &s.cqRegion, &s.rxRegion, &s.fqRegion} {
		if *region != nil {
			if err := unix.Munmap(*region); err != nil {
				errs = append(errs, err)
			}
			*region = nil
		}
	}
	if s.arena != nil {
		if err := s.arena.Close(); err != nil {
			errs = append(errs, err)
		}
		s.arena = nil
	}
	return errors.Join(errs...)
}

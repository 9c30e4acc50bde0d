//go:build linux

package xsk

// sockaddr_xdp mirrors struct sockaddr_xdp in linux/if_xdp.h.
type sockaddrXDP struct {
	Family       uint16
	Flags        uint16
	Ifindex      uint32
	QueueID      uint32
	SharedUmemFD uint32
}

// xdpRingOffset mirrors struct xdp_ring_offset in linux/if_xdp.h: byte
// offsets, within the ring's mmap'd region, of the producer counter,
// consumer counter, descriptor array, and the needs-wakeup flags word.
type xdpRingOffset struct {
	Producer uint64
	Consumer uint64
	Desc     uint64
	Flags    uint64
}

// xdpMmapOffsets mirrors struct xdp_mmap_offsets, returned by
// XDP_MMAP_OFFSETS and used to locate all four rings within their
// mmap'd regions.
type xdpMmapOffsets struct {
	Rx xdpRingOffset
	Tx xdpRingOffset
	Fr xdpRingOffset
	Cr xdpRingOffset
}

// xdpUmemReg mirrors struct xdp_umem_reg, passed to XDP_UMEM_REG to
// register a UMEM arena with the kernel.
type xdpUmemReg struct {
	Addr      uint64
	Len       uint64
	ChunkSize uint32
	Headroom  uint32
}

// needWakeupBit is bit 0 of a ring's flags word: the kernel sets it when
// the ring is idle and expects userspace to kick it via sendto/poll.
const needWakeupBit = 1 << 0

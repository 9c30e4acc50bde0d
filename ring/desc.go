// Package ring implements the lock-free SPSC descriptor rings shared
// between a user-space AF_XDP socket and the kernel: RX, Fill, TX and
// Completion. Each ring is a power-of-two circular buffer coordinated by
// two monotonically increasing 32-bit counters, producer and consumer,
// with the wrap implicit in a mask.
package ring

// Descriptor is the 16-byte record exchanged on the RX and TX rings,
// matching the kernel's struct xdp_desc field-for-field. Fill and
// Completion rings carry a bare uint64 address instead.
type Descriptor struct {
	Addr    uint64
	Len     uint32
	Options uint32
}

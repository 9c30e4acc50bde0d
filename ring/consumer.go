package ring

import (
	"sync/atomic"
	"unsafe"
)

// ConsumerRing is the user-owned side of a ring whose producer is the
// kernel (RX, Completion). The consumer owns the consumer counter and
// reads the remote producer counter with acquire ordering, caching it
// the same way ProducerRing caches the remote consumer.
type ConsumerRing[T any] struct {
	producer *uint32
	consumer *uint32
	descs    []T
	mask     uint32
	size     uint32

	localConsumer  uint32
	cachedProducer uint32
}

// NewConsumerRing builds a consumer-side ring view over memory mapped by
// the kernel at the given pointers, or over a region owned by the
// simulator.
func NewConsumerRing[T any](producer, consumer *uint32, descs unsafe.Pointer, size uint32) *ConsumerRing[T] {
	return &ConsumerRing[T]{
		producer: producer,
		consumer: consumer,
		descs:    unsafe.Slice((*T)(descs), size),
		mask:     size - 1,
		size:     size,
	}
}

// Len returns the ring's total capacity.
func (r *ConsumerRing[T]) Len() uint32 { return r.size }

// Available reports how many descriptors are ready to consume right
// now, without claiming any of them.
func (r *ConsumerRing[T]) Available() uint32 {
	r.cachedProducer = atomic.LoadUint32(r.producer)
	return r.cachedProducer - r.localConsumer
}

// Consume claims up to max ready descriptors. The returned guard's N may
// be less than max, or zero. No consumer counter is advanced until the
// guard is released.
func (r *ConsumerRing[T]) Consume(max uint32) ConsumerGuard[T] {
	n := r.cachedProducer - r.localConsumer
	if n < max {
		n = r.Available()
	}
	if n > max {
		n = max
	}
	return ConsumerGuard[T]{ring: r, base: r.localConsumer, n: n}
}

// ConsumerGuard represents descriptors claimed but not yet released back
// to the kernel. Letting a guard go out of scope without calling Release
// leaves the ring's consumer counter untouched — the descriptors remain
// claimable again, exactly mirroring ProducerGuard's explicit-commit
// policy.
type ConsumerGuard[T any] struct {
	ring *ConsumerRing[T]
	base uint32
	n    uint32
}

// N reports how many descriptors this guard claimed.
func (g ConsumerGuard[T]) N() uint32 { return g.n }

// Read reads the descriptor at claimed position i, 0 <= i < N().
func (g ConsumerGuard[T]) Read(i uint32) T {
	r := g.ring
	return r.descs[(g.base+i)&r.mask]
}

// Release publishes the first m <= N() claimed descriptors as freed by
// releasing the new consumer counter.
func (g ConsumerGuard[T]) Release(m uint32) {
	if m == 0 {
		return
	}
	r := g.ring
	r.localConsumer += m
	atomic.StoreUint32(r.consumer, r.localConsumer)
}

package ring

import (
	"sync/atomic"
	"unsafe"
)

// ProducerRing is the user-owned side of a ring whose consumer is the
// kernel (TX, Fill) — or, inside the simulator, a ring whose consumer is
// the simulated kernel. The producer owns the producer counter: it writes
// it with release ordering and reads it locally without synchronization;
// it reads the remote consumer counter with acquire ordering and caches
// the result to avoid re-touching a shared cache line once local budget
// is known to suffice.
//
// sync/atomic's Load/Store on every platform Go supports, including
// ARM and POWER, already establish the acquire/release pairing this
// needs; there is no weaker mode to opt into and no fence to get wrong.
type ProducerRing[T any] struct {
	producer *uint32
	consumer *uint32
	descs    []T
	mask     uint32
	size     uint32

	localProducer  uint32
	cachedConsumer uint32
}

// NewProducerRing builds a producer-side ring view over memory mapped by
// the kernel at the given pointers, or over a region owned by the
// simulator. size must be a power of two.
func NewProducerRing[T any](producer, consumer *uint32, descs unsafe.Pointer, size uint32) *ProducerRing[T] {
	return &ProducerRing[T]{
		producer: producer,
		consumer: consumer,
		descs:    unsafe.Slice((*T)(descs), size),
		mask:     size - 1,
		size:     size,
	}
}

// Len returns the ring's total capacity.
func (r *ProducerRing[T]) Len() uint32 { return r.size }

// Available reports how many slots are free to reserve right now,
// without claiming any of them.
func (r *ProducerRing[T]) Available() uint32 {
	r.cachedConsumer = atomic.LoadUint32(r.consumer)
	return r.size - (r.localProducer - r.cachedConsumer)
}

// Reserve claims up to desired contiguous slots. The returned guard's N
// may be less than desired, or zero. No producer counter is advanced
// until the guard is committed.
func (r *ProducerRing[T]) Reserve(desired uint32) ProducerGuard[T] {
	n := r.size - (r.localProducer - r.cachedConsumer)
	if n < desired {
		n = r.Available()
	}
	if n > desired {
		n = desired
	}
	return ProducerGuard[T]{ring: r, base: r.localProducer, n: n}
}

// ProducerGuard represents slots reserved but not yet published. Letting
// a guard go out of scope without calling Commit publishes nothing.
type ProducerGuard[T any] struct {
	ring *ProducerRing[T]
	base uint32
	n    uint32
}

// N reports how many slots this guard reserved.
func (g ProducerGuard[T]) N() uint32 { return g.n }

// Write stores a descriptor at reserved position i, 0 <= i < N().
func (g ProducerGuard[T]) Write(i uint32, v T) {
	r := g.ring
	r.descs[(g.base+i)&r.mask] = v
}

// Commit publishes the first m <= N() reserved slots by releasing the
// new producer counter. m may be less than N() to publish a partial
// batch; the remaining reserved-but-uncommitted slots are simply
// abandoned and will be reserved again (possibly with different
// contents) by the next Reserve call.
func (g ProducerGuard[T]) Commit(m uint32) {
	if m == 0 {
		return
	}
	r := g.ring
	r.localProducer += m
	atomic.StoreUint32(r.producer, r.localProducer)
}

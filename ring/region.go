package ring

import "unsafe"

// Region is a self-contained ring backing buffer: a producer counter, a
// consumer counter, and a descriptor array, all owned by this process.
// Production sockets build rings directly over kernel-mmap'd memory
// instead (see package xsk); Region exists for the simulator and for
// tests that want two independent views — one producer-role, one
// consumer-role — of the same ring without a kernel on the other end.
type Region[T any] struct {
	producer uint32
	consumer uint32
	descs    []T
}

// NewRegion allocates a region sized for size descriptors. size must be
// a power of two.
func NewRegion[T any](size uint32) *Region[T] {
	return &Region[T]{descs: make([]T, size)}
}

// Producer returns a producer-role ring view over the region.
func (reg *Region[T]) Producer() *ProducerRing[T] {
	return NewProducerRing[T](&reg.producer, &reg.consumer, unsafe.Pointer(&reg.descs[0]), uint32(len(reg.descs)))
}

// Consumer returns a consumer-role ring view over the region.
func (reg *Region[T]) Consumer() *ConsumerRing[T] {
	return NewConsumerRing[T](&reg.producer, &reg.consumer, unsafe.Pointer(&reg.descs[0]), uint32(len(reg.descs)))
}

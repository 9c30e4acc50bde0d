package allocator

import "sync/atomic"

// node is one link of the lock-free free list. Nodes are allocated on
// Push and consumed by DrainInto; the GC reclaims them once drained,
// there is no node pool — node churn is far smaller than the frame churn
// it accompanies, so a pool would add complexity without a measurable
// win here.
type node struct {
	addr uint64
	next atomic.Pointer[node]
}

// MPSCPool is a lock-free multi-producer, single-consumer free list of
// frame addresses, implemented as a Treiber stack: Push is a CAS-retry
// loop on the head pointer (wait-free on the common uncontended path,
// lock-free under contention, no producer ever blocks another), and
// DrainInto atomically swaps the head to nil and walks the list it got
// back for an amortized-constant drain per item.
//
// This backs both Packet drop-recycling (any worker thread may drop a
// Packet) and FluxTx's Completion-ring reclaim (see flux.FluxTx), which
// must hand reclaimed addresses back to the RX-thread-owned Fill ring
// without a channel between the two halves.
type MPSCPool struct {
	head atomic.Pointer[node]
}

// Push adds addr to the pool. Safe to call concurrently from any number
// of goroutines.
func (p *MPSCPool) Push(addr uint64) {
	n := &node{addr: addr}
	for {
		old := p.head.Load()
		n.next.Store(old)
		if p.head.CompareAndSwap(old, n) {
			return
		}
	}
}

// DrainInto pops every address currently in the pool and appends it to
// dst, returning the extended slice. Must only be called from the single
// designated consumer goroutine.
func (p *MPSCPool) DrainInto(dst []uint64) []uint64 {
	n := p.head.Swap(nil)
	for n != nil {
		dst = append(dst, n.addr)
		n = n.next.Load()
	}
	return dst
}

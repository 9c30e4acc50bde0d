// Package flux implements Mode B, the split-ownership handles: FluxRx
// owns RX and Fill, FluxTx owns TX and Completion, and both run on
// whatever goroutine their owner pins them to. Grounded on
// afxdp/processor.go's RunProcessor, which already splits a worker's
// receive and transmit sides across independent closures sharing one
// socket, generalized here into two standalone, independently movable
// types.
//
// Both handles are generic over Backend, the same ring/arena surface
// engine.Engine drives, so *xsk.Socket and simulator.Kernel can stand
// in for each other the same way they do there.
//
// The Rust source this is distilled from (fluxcapacitor/src/system/
// tx.rs) left its own design gap open: FluxTx's reclaim has nowhere to
// put a completed frame, because Fill belongs to FluxRx and Completion
// reclaim has no channel back to it. flux closes that gap with a
// shared allocator.MPSCPool — the same free-frame pool Packet's
// drop-path recycling already needs for cross-thread safety — which
// FluxTx.Flush pushes into and FluxRx.Recv drains from on every call.
package flux

import (
	"github.com/sidd-27/fluxnet/allocator"
	"github.com/sidd-27/fluxnet/ring"
	"github.com/sidd-27/fluxnet/umem"
)

// Backend is the ring/arena/fd surface flux drives, the same set
// engine.Backend requires plus FD, which RecvAsync needs to park on a
// reactor.Notifier. *xsk.Socket satisfies it for production use;
// simulator.Kernel satisfies it for tests.
type Backend interface {
	RX() *ring.ConsumerRing[ring.Descriptor]
	Fill() *ring.ProducerRing[uint64]
	TX() *ring.ProducerRing[ring.Descriptor]
	Completion() *ring.ConsumerRing[uint64]
	Arena() *umem.Arena

	NeedsWakeupTX() bool
	WakeupTX() error
	NeedsWakeupRX() bool
	WakeupRX() error

	Wait(timeoutMS int) error
	FD() int
}

// Split detaches sock's RX/Fill and TX/Completion rings into
// independent handles sharing a free-frame pool. sock must not be used
// directly again after Split; FluxRx and FluxTx become its sole
// owners.
func Split[S Backend](sock S, opts ...Option) (*FluxRx[S], *FluxTx[S]) {
	conf := defaultConfig()
	for _, opt := range opts {
		opt(&conf)
	}

	pool := &allocator.MPSCPool{}

	rx := &FluxRx[S]{
		sock:     sock,
		pool:     pool,
		drainBuf: make([]uint64, 0, conf.BatchSize),
	}
	tx := &FluxTx[S]{
		sock:       sock,
		pool:       pool,
		congestion: conf.Congestion,
		compBuf:    make([]uint64, conf.BatchSize),
	}
	return rx, tx
}

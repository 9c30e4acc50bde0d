// Package engine implements Mode A, the managed hot loop: Engine.Run
// drives a poller state machine that drains RX, hands the caller a
// batch of packet.Ref values, commits their decided actions to TX and
// Fill, and reclaims TX completions, all on one thread.
package engine

import (
	"github.com/sidd-27/fluxnet/ring"
	"github.com/sidd-27/fluxnet/umem"
)

// Backend is the ring/arena surface the engine drives. *xsk.Socket
// satisfies it for production use; simulator.Kernel satisfies it for
// tests, so Engine is a generic type parameterized over Backend rather
// than driving an interface value — the same hot-loop code is compiled
// once per concrete backend instead of dispatching through an itable
// on every ring operation.
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
}

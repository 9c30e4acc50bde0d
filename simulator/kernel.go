// Package simulator provides a kernel-role test double for the ring and
// engine packages. It is not a separate reimplementation of ring
// arithmetic: Kernel is built directly on ring.Region and drives the
// same ProducerRing/ConsumerRing types a real AF_XDP socket would, just
// holding the opposite role on each ring — producer on RX, consumer on
// Fill and TX, producer on Completion — so tests can exercise Engine
// against it without a NIC or a kernel on the other end.
package simulator

import (
	"errors"
	"time"

	"github.com/sidd-27/fluxnet/ring"
	"github.com/sidd-27/fluxnet/umem"
)

var (
	// ErrNoFillBuffers is returned by InjectRX when the Fill ring has no
	// buffer for the simulated packet to land in, mirroring a real NIC
	// dropping a frame it has nowhere to place.
	ErrNoFillBuffers = errors.New("simulator: no buffers in fill ring")
	// ErrRXRingFull is returned by InjectRX when the RX ring has no room
	// to publish the descriptor for a buffer already taken from Fill.
	ErrRXRingFull = errors.New("simulator: rx ring full")
	// ErrNoTXPackets is returned by PeekTX/CompleteTX/DrainTX when the TX
	// ring is empty.
	ErrNoTXPackets = errors.New("simulator: no packets in tx ring")
	// ErrCompletionRingFull is returned when a completed TX frame has
	// nowhere to go because the Completion ring is saturated.
	ErrCompletionRingFull = errors.New("simulator: completion ring full")
)

// Kernel plays the kernel's role over four rings and a real umem.Arena.
// Test code drives it from the "network" side via InjectRX and
// PeekTX/CompleteTX/DrainTX; code under test (Engine, or a flux handle)
// drives it from the user side via the Backend-shaped accessors below.
type Kernel struct {
	arena *umem.Arena

	rxRegion   *ring.Region[ring.Descriptor]
	fillRegion *ring.Region[uint64]
	txRegion   *ring.Region[ring.Descriptor]
	compRegion *ring.Region[uint64]

	rxUser   *ring.ConsumerRing[ring.Descriptor]
	fillUser *ring.ProducerRing[uint64]
	txUser   *ring.ProducerRing[ring.Descriptor]
	compUser *ring.ConsumerRing[uint64]

	fillKernel *ring.ConsumerRing[uint64]
	rxKernel   *ring.ProducerRing[ring.Descriptor]
	txKernel   *ring.ConsumerRing[ring.Descriptor]
	compKernel *ring.ProducerRing[uint64]

	waitCalls     uint64
	wakeupTXCalls uint64
	wakeupRXCalls uint64
}

// Config sizes a simulated socket. All four ring sizes and FrameCount
// must be powers of two.
type Config struct {
	FrameSize  uint32
	FrameCount uint32
	RXSize     uint32
	FillSize   uint32
	TXSize     uint32
	CompSize   uint32
}

// NewKernel allocates a real UMEM arena and four in-process ring
// regions sized per conf.
func NewKernel(conf Config) (*Kernel, error) {
	arena, err := umem.Create(conf.FrameSize, conf.FrameCount)
	if err != nil {
		return nil, err
	}

	rxRegion := ring.NewRegion[ring.Descriptor](conf.RXSize)
	fillRegion := ring.NewRegion[uint64](conf.FillSize)
	txRegion := ring.NewRegion[ring.Descriptor](conf.TXSize)
	compRegion := ring.NewRegion[uint64](conf.CompSize)

	return &Kernel{
		arena:      arena,
		rxRegion:   rxRegion,
		fillRegion: fillRegion,
		txRegion:   txRegion,
		compRegion: compRegion,

		rxUser:   rxRegion.Consumer(),
		fillUser: fillRegion.Producer(),
		txUser:   txRegion.Producer(),
		compUser: compRegion.Consumer(),

		fillKernel: fillRegion.Consumer(),
		rxKernel:   rxRegion.Producer(),
		txKernel:   txRegion.Consumer(),
		compKernel: compRegion.Producer(),
	}, nil
}

// Arena returns the simulated UMEM, so test code can compute frame
// addresses with the same addrAt helper a real xsk.Socket would pass to
// allocator.NewStack.
func (k *Kernel) Arena() *umem.Arena { return k.arena }

// RX, Fill, TX, Completion, NeedsWakeupTX, WakeupTX, NeedsWakeupRX,
// WakeupRX and Wait give Kernel the same shape as engine.Backend,
// without importing the engine package — Kernel has no reason to know
// about Mode A specifically, since flux (Mode B) runs against it too.

func (k *Kernel) RX() *ring.ConsumerRing[ring.Descriptor] { return k.rxUser }
func (k *Kernel) Fill() *ring.ProducerRing[uint64]        { return k.fillUser }
func (k *Kernel) TX() *ring.ProducerRing[ring.Descriptor] { return k.txUser }
func (k *Kernel) Completion() *ring.ConsumerRing[uint64]  { return k.compUser }

// NeedsWakeupTX always reports false: the simulated kernel consumes TX
// the instant test code calls PeekTX/CompleteTX/DrainTX, so there is
// never a doorbell to ring.
func (k *Kernel) NeedsWakeupTX() bool { return false }

// WakeupTX records that a wakeup happened, for tests asserting on
// Engine's wakeup-avoidance behavior.
func (k *Kernel) WakeupTX() error {
	k.wakeupTXCalls++
	return nil
}

// NeedsWakeupRX always reports false for the same reason as
// NeedsWakeupTX.
func (k *Kernel) NeedsWakeupRX() bool { return false }

// WakeupRX records that a wakeup happened.
func (k *Kernel) WakeupRX() error {
	k.wakeupRXCalls++
	return nil
}

// FD returns -1: no real file descriptor backs a simulated kernel, so
// flux.FluxRx.RecvAsync's default PollNotifier cannot be used against
// it directly — tests exercising RecvAsync supply a Notifier that
// doesn't poll a real fd.
func (k *Kernel) FD() int { return -1 }

// WaitCalls, WakeupTXCalls and WakeupRXCalls report how many times each
// was invoked, for tests asserting on an Adaptive poller's behavior.
func (k *Kernel) WaitCalls() uint64     { return k.waitCalls }
func (k *Kernel) WakeupTXCalls() uint64 { return k.wakeupTXCalls }
func (k *Kernel) WakeupRXCalls() uint64 { return k.wakeupRXCalls }

// Wait stands in for the backend's readiness wait. There is no fd to
// poll, so it simply sleeps for timeoutMS — long enough for a test to
// observe that Engine stopped busy-spinning, short enough not to stall
// a test suite.
func (k *Kernel) Wait(timeoutMS int) error {
	k.waitCalls++
	if timeoutMS > 0 {
		time.Sleep(time.Duration(timeoutMS) * time.Millisecond)
	}
	return nil
}

// InjectRX simulates a packet arriving from the network: it consumes
// one buffer from the Fill ring the user populated, copies data into
// that frame, and publishes an RX descriptor pointing at it.
func (k *Kernel) InjectRX(data []byte) error {
	fillGuard := k.fillKernel.Consume(1)
	if fillGuard.N() == 0 {
		fillGuard.Release(0)
		return ErrNoFillBuffers
	}
	addr := fillGuard.Read(0)
	fillGuard.Release(1)

	frame, off := k.arena.FrameAt(addr)
	copy(frame[off:], data)

	rxGuard := k.rxKernel.Reserve(1)
	if rxGuard.N() == 0 {
		return ErrRXRingFull
	}
	rxGuard.Write(0, ring.Descriptor{Addr: addr, Len: uint32(len(data)), Options: 0})
	rxGuard.Commit(1)
	return nil
}

// PeekTX reports the next unconsumed TX descriptor without consuming
// it, so a test can assert on what the user side published before
// deciding whether to complete it.
func (k *Kernel) PeekTX() (ring.Descriptor, bool) {
	guard := k.txKernel.Consume(1)
	if guard.N() == 0 {
		guard.Release(0)
		return ring.Descriptor{}, false
	}
	d := guard.Read(0)
	guard.Release(0)
	return d, true
}

// CompleteTX consumes the next TX descriptor and pushes its address
// onto the Completion ring, simulating the NIC finishing a send without
// copying the packet's bytes out.
func (k *Kernel) CompleteTX() error {
	guard := k.txKernel.Consume(1)
	if guard.N() == 0 {
		guard.Release(0)
		return ErrNoTXPackets
	}
	desc := guard.Read(0)
	guard.Release(1)

	compGuard := k.compKernel.Reserve(1)
	if compGuard.N() == 0 {
		return ErrCompletionRingFull
	}
	compGuard.Write(0, desc.Addr)
	compGuard.Commit(1)
	return nil
}

// DrainTX consumes the next TX descriptor, copies its bytes out for
// inspection, and completes it in one step, mirroring the combined
// read-and-acknowledge a real send-then-reap cycle performs across two
// syscalls.
func (k *Kernel) DrainTX() ([]byte, error) {
	d, ok := k.PeekTX()
	if !ok {
		return nil, ErrNoTXPackets
	}
	frame, off := k.arena.FrameAt(d.Addr)
	data := make([]byte, d.Len)
	copy(data, frame[off:off+int(d.Len)])
	if err := k.CompleteTX(); err != nil {
		return nil, err
	}
	return data, nil
}

// Close unmaps the simulated UMEM.
func (k *Kernel) Close() error { return k.arena.Close() }

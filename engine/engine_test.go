package engine

import (
	"context"
	"testing"
	"time"

	"github.com/sidd-27/fluxnet/allocator"
	"github.com/sidd-27/fluxnet/packet"
	"github.com/sidd-27/fluxnet/simulator"
)

// freeStackFrom builds the engine's free list over frames [start, 64),
// mirroring how xsk.Socket.Open seeds the low frames into Fill and
// hands the rest to the free list.
func freeStackFrom(start uint32) *allocator.Stack {
	return allocator.NewStack(64-start, func(ordinal uint32) uint64 {
		return uint64(ordinal+start) * 2048
	})
}

// primeFill commits addresses 0..n-1's frames into the Fill ring, in
// order, so the first InjectRX call consumes frame 0.
func primeFill(k *simulator.Kernel, n uint32) {
	guard := k.Fill().Reserve(n)
	for i := uint32(0); i < guard.N(); i++ {
		guard.Write(i, uint64(i)*2048)
	}
	guard.Commit(guard.N())
}

// TestEchoOnePacket is the S1 seed scenario: one injected packet comes
// back out on TX with its frame address and length untouched, and its frame
// returns to the free list once the simulated kernel completes the
// send and the engine reclaims the completion.
func TestEchoOnePacket(t *testing.T) {
	conf := simulator.Config{FrameSize: 2048, FrameCount: 64, RXSize: 32, FillSize: 32, TXSize: 32, CompSize: 32}
	k, err := simulator.NewKernel(conf)
	if err != nil {
		t.Fatal(err)
	}
	defer k.Close()

	primeFill(k, 32)
	free := freeStackFrom(32)

	payload := make([]byte, 60)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := k.InjectRX(payload); err != nil {
		t.Fatal(err)
	}

	e := New[*simulator.Kernel](k, free, WithPoller(Busy), WithBatchSize(32))

	n, err := e.processBatch(func(b *Batch) {
		b.Refs(func(r packet.Ref) { r.Send() })
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("processBatch drained %d packets, want 1", n)
	}

	desc, ok := k.PeekTX()
	if !ok {
		t.Fatal("expected one packet on the tx ring")
	}
	if desc.Addr != 0 || desc.Len != 60 || desc.Options != 0 {
		t.Fatalf("tx descriptor = %+v, want {Addr:0 Len:60 Options:0}", desc)
	}

	freeBeforeReclaim := free.Len()
	if err := k.CompleteTX(); err != nil {
		t.Fatal(err)
	}
	e.reclaimCompletions()

	if free.Len() != freeBeforeReclaim+1 {
		t.Fatalf("free list size = %d, want %d", free.Len(), freeBeforeReclaim+1)
	}
}

// TestForwardPreservesFrameAddress is the S6 seed scenario: the TX
// descriptor for a forwarded packet carries the exact same addr as the
// RX descriptor it arrived on, on a frame other than 0, confirming
// Send never relocates the UMEM bytes between the two rings.
func TestForwardPreservesFrameAddress(t *testing.T) {
	conf := simulator.Config{FrameSize: 2048, FrameCount: 64, RXSize: 32, FillSize: 32, TXSize: 32, CompSize: 32}
	k, err := simulator.NewKernel(conf)
	if err != nil {
		t.Fatal(err)
	}
	defer k.Close()

	primeFill(k, 32)
	free := freeStackFrom(32)

	// Drain and discard the first 9 fill slots so the packet under test
	// lands on frame 9, not frame 0.
	for i := 0; i < 9; i++ {
		if err := k.InjectRX([]byte{0}); err != nil {
			t.Fatal(err)
		}
	}
	if err := k.InjectRX([]byte("forward me")); err != nil {
		t.Fatal(err)
	}

	e := New[*simulator.Kernel](k, free, WithPoller(Busy), WithBatchSize(32))

	_, err = e.processBatch(func(b *Batch) {
		b.Refs(func(r packet.Ref) { r.Send() })
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 9; i++ {
		desc, ok := k.PeekTX()
		if !ok {
			t.Fatal("expected a tx descriptor")
		}
		if desc.Addr != uint64(i)*2048 {
			t.Fatalf("descriptor %d addr = %d, want %d", i, desc.Addr, uint64(i)*2048)
		}
		if err := k.CompleteTX(); err != nil {
			t.Fatal(err)
		}
	}

	desc, ok := k.PeekTX()
	if !ok {
		t.Fatal("expected the tenth tx descriptor")
	}
	if desc.Addr != 9*2048 {
		t.Fatalf("tx descriptor addr = %d, want %d (source rx frame address)", desc.Addr, uint64(9*2048))
	}
	if desc.Len != uint32(len("forward me")) {
		t.Fatalf("tx descriptor len = %d, want %d", desc.Len, len("forward me"))
	}
}

// TestForwardHeaderStripCommitsAdjustedDescriptor composes AdjustHead
// with Send: a callback that strips a header before forwarding must
// see that strip reflected in the descriptor the engine commits to
// TX, not the original RX descriptor's addr/len.
func TestForwardHeaderStripCommitsAdjustedDescriptor(t *testing.T) {
	conf := simulator.Config{FrameSize: 2048, FrameCount: 64, RXSize: 32, FillSize: 32, TXSize: 32, CompSize: 32}
	k, err := simulator.NewKernel(conf)
	if err != nil {
		t.Fatal(err)
	}
	defer k.Close()

	primeFill(k, 32)
	free := freeStackFrom(32)

	payload := make([]byte, 74)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := k.InjectRX(payload); err != nil {
		t.Fatal(err)
	}

	e := New[*simulator.Kernel](k, free, WithPoller(Busy), WithBatchSize(32))

	_, err = e.processBatch(func(b *Batch) {
		b.Refs(func(r packet.Ref) {
			r.AdjustHead(14) // strip an ethernet header
			r.Send()
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	desc, ok := k.PeekTX()
	if !ok {
		t.Fatal("expected one packet on the tx ring")
	}
	if desc.Addr != 14 {
		t.Fatalf("tx descriptor addr = %d, want 14 (stripped start)", desc.Addr)
	}
	if desc.Len != 60 {
		t.Fatalf("tx descriptor len = %d, want 60 (74 - 14 byte header)", desc.Len)
	}
}

// TestTXBackpressureDowngradesOverflowToDrop is the S2 seed scenario: a
// TX ring too small to hold every send request downgrades the overflow
// to a drop, and every frame — sent or dropped — is accounted for.
func TestTXBackpressureDowngradesOverflowToDrop(t *testing.T) {
	conf := simulator.Config{FrameSize: 2048, FrameCount: 64, RXSize: 32, FillSize: 32, TXSize: 4, CompSize: 32}
	k, err := simulator.NewKernel(conf)
	if err != nil {
		t.Fatal(err)
	}
	defer k.Close()

	primeFill(k, 32)
	free := freeStackFrom(32)

	for i := 0; i < 10; i++ {
		if err := k.InjectRX([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}

	e := New[*simulator.Kernel](k, free, WithPoller(Busy), WithBatchSize(32))

	freeBefore := free.Len()
	n, err := e.processBatch(func(b *Batch) {
		b.Refs(func(r packet.Ref) { r.Send() })
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Fatalf("processBatch drained %d packets, want 10", n)
	}

	sent := 0
	for {
		if _, ok := k.PeekTX(); !ok {
			break
		}
		if err := k.CompleteTX(); err != nil {
			t.Fatal(err)
		}
		sent++
	}
	if sent != 4 {
		t.Fatalf("tx ring delivered %d packets, want 4", sent)
	}

	if dropped := e.Metrics().PacketsDropped.Load(); dropped != 6 {
		t.Fatalf("PacketsDropped = %d, want 6", dropped)
	}
	if got := e.Metrics().PacketsSent.Load(); got != 4 {
		t.Fatalf("PacketsSent = %d, want 4", got)
	}

	// 10 Fill slots opened (one per injected packet) and got refilled
	// from the free list; the 6 overflowed sends were recycled straight
	// back to it. Net: -10 (refill) + 6 (overflow drops) = -4.
	if got := free.Len(); got != freeBefore-4 {
		t.Fatalf("free list size = %d, want %d", got, freeBefore-4)
	}
}

// TestAdaptivePollerFallsBackToWaiting is the S4 seed scenario: with RX
// permanently empty, the Adaptive poller spins for SpinBudget and then
// starts waiting instead of busy-polling indefinitely.
func TestAdaptivePollerFallsBackToWaiting(t *testing.T) {
	conf := simulator.Config{FrameSize: 2048, FrameCount: 64, RXSize: 32, FillSize: 32, TXSize: 32, CompSize: 32}
	k, err := simulator.NewKernel(conf)
	if err != nil {
		t.Fatal(err)
	}
	defer k.Close()

	free := freeStackFrom(0)
	e := New[*simulator.Kernel](k, free,
		WithPoller(Adaptive),
		WithSpinBudget(5*time.Millisecond),
		WithWaitTimeoutMS(1),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	err = e.Run(ctx, func(*Batch) {})
	if err != context.DeadlineExceeded {
		t.Fatalf("Run returned %v, want context.DeadlineExceeded", err)
	}

	if k.WaitCalls() == 0 {
		t.Fatal("expected the poller to fall back to waiting at least once")
	}
}

package flux

import (
	"context"

	"github.com/sidd-27/fluxnet/allocator"
	"github.com/sidd-27/fluxnet/packet"
	"github.com/sidd-27/fluxnet/reactor"
)

// FluxRx is the receive half of a split socket: exclusive owner of the
// RX and Fill rings. Not safe for concurrent use; pin it to one
// goroutine for its lifetime.
type FluxRx[S Backend] struct {
	sock     S
	pool     *allocator.MPSCPool
	drainBuf []uint64
}

// FD returns the underlying backend's file descriptor, for use with a
// reactor.Notifier.
func (rx *FluxRx[S]) FD() int { return rx.sock.FD() }

// Recv drains up to max newly received packets, non-blocking. Every
// returned Packet must eventually reach either FluxTx.Send (which
// consumes it) or Recycle — a Packet that is merely discarded leaks
// its frame, since Go has no destructor to fall back on.
func (rx *FluxRx[S]) Recv(max uint32) []*packet.Packet {
	guard := rx.sock.RX().Consume(max)
	n := guard.N()
	pkts := make([]*packet.Packet, n)
	arena := rx.sock.Arena()
	for i := uint32(0); i < n; i++ {
		d := guard.Read(i)
		frame, off := arena.FrameAt(d.Addr)
		pkts[i] = packet.New(frame, off, int(d.Len), d.Addr, rx.pool)
	}
	guard.Release(n)

	rx.refill()
	return pkts
}

// RecvAsync retries Recv until it returns at least one packet, parking
// on notifier.Readable between attempts instead of spinning.
// Cancellation maps to ctx: returning ctx.Err() leaves no ring
// mutated, since Recv itself already returned by the time the caller
// observes the error.
func (rx *FluxRx[S]) RecvAsync(ctx context.Context, notifier reactor.Notifier, max uint32) ([]*packet.Packet, error) {
	for {
		pkts := rx.Recv(max)
		if len(pkts) > 0 {
			return pkts, nil
		}
		if err := notifier.Readable(ctx, rx.FD()); err != nil {
			return nil, err
		}
	}
}

// refill drains every frame address returned to the shared pool since
// the last call and republishes as many as the Fill ring has room
// for, pushing any excess back to the pool rather than losing it.
func (rx *FluxRx[S]) refill() {
	rx.drainBuf = rx.pool.DrainInto(rx.drainBuf[:0])
	if len(rx.drainBuf) == 0 {
		return
	}

	fill := rx.sock.Fill()
	want := fill.Available()
	if want > uint32(len(rx.drainBuf)) {
		want = uint32(len(rx.drainBuf))
	}
	if want > 0 {
		guard := fill.Reserve(want)
		n := guard.N()
		for i := uint32(0); i < n; i++ {
			guard.Write(i, rx.drainBuf[i])
		}
		guard.Commit(n)
		rx.drainBuf = rx.drainBuf[n:]
	}

	for _, addr := range rx.drainBuf {
		rx.pool.Push(addr)
	}
}

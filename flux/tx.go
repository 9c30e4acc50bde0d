package flux

import (
	"errors"
	"runtime"

	"github.com/sidd-27/fluxnet/allocator"
	"github.com/sidd-27/fluxnet/packet"
	"github.com/sidd-27/fluxnet/ring"
)

// ErrRingFull is returned by Send under DropNew congestion when the TX
// ring has no room and Flush could not make any.
var ErrRingFull = errors.New("flux: tx ring full")

// FluxTx is the transmit half of a split socket: exclusive owner of
// the TX and Completion rings. Not safe for concurrent use; pin it to
// one goroutine for its lifetime.
type FluxTx[S Backend] struct {
	sock       S
	pool       *allocator.MPSCPool
	congestion CongestionStrategy

	pendingDescs []ring.Descriptor
	compBuf      []uint64
}

// Send consumes packet, appending its descriptor to the pending batch
// rather than committing it to the TX ring immediately — callers that
// want to coalesce many sends into one producer-counter update should
// call Flush only after a batch of Sends. Under DropNew congestion,
// Send returns ErrRingFull (leaving packet unconsumed) once the
// pending batch has grown to the ring's capacity and Flush could not
// shrink it; under Block it spins, reclaiming completions between
// attempts, until room opens up.
func (tx *FluxTx[S]) Send(pkt *packet.Packet) error {
	capacity := tx.sock.TX().Len()
	for uint32(len(tx.pendingDescs)) >= capacity {
		if err := tx.Flush(); err != nil {
			return err
		}
		if uint32(len(tx.pendingDescs)) < capacity {
			break
		}
		switch tx.congestion {
		case DropNew:
			return ErrRingFull
		case Block:
			runtime.Gosched()
		}
	}

	desc, err := pkt.IntoRawDescriptor()
	if err != nil {
		return err
	}
	tx.pendingDescs = append(tx.pendingDescs, desc)
	return nil
}

// Flush reclaims completed frames into the shared free pool, commits
// as much of the pending batch as the TX ring currently has room for,
// and wakes the kernel if its needs_wakeup flag requests it. Any part
// of the batch that didn't fit stays pending for the next Flush.
func (tx *FluxTx[S]) Flush() error {
	tx.reclaim()

	if len(tx.pendingDescs) > 0 {
		guard := tx.sock.TX().Reserve(uint32(len(tx.pendingDescs)))
		n := guard.N()
		for i := uint32(0); i < n; i++ {
			guard.Write(i, tx.pendingDescs[i])
		}
		guard.Commit(n)
		tx.pendingDescs = tx.pendingDescs[n:]
	}

	if tx.sock.NeedsWakeupTX() {
		return tx.sock.WakeupTX()
	}
	return nil
}

// Pending reports how many sent packets are buffered but not yet
// committed to the TX ring.
func (tx *FluxTx[S]) Pending() uint32 { return uint32(len(tx.pendingDescs)) }

// reclaim drains completed TX frames into the shared free pool, which
// FluxRx.Recv refills Fill from — FluxTx itself never touches Fill
// directly, since it doesn't own that ring.
func (tx *FluxTx[S]) reclaim() {
	guard := tx.sock.Completion().Consume(uint32(len(tx.compBuf)))
	n := guard.N()
	for i := uint32(0); i < n; i++ {
		tx.pool.Push(guard.Read(i))
	}
	guard.Release(n)
}

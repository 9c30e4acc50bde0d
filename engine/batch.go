package engine

import (
	"github.com/sidd-27/fluxnet/packet"
	"github.com/sidd-27/fluxnet/ring"
	"github.com/sidd-27/fluxnet/umem"
)

// Batch presents the descriptors drained from RX in one Run iteration.
// It must not be retained past the callback that received it.
type Batch struct {
	descs   []ring.Descriptor
	actions []packet.Action
	arena   *umem.Arena
}

// Len reports how many packets are in this batch.
func (b *Batch) Len() int { return len(b.descs) }

// Ref returns the i'th packet as a batch-scoped Ref, 0 <= i < Len().
// The ref shares b.descs[i] by pointer: SetLen/AdjustHead write their
// result straight into it, so processBatch's TX commit picks up the
// callback's final addr/len instead of the untouched RX descriptor.
func (b *Batch) Ref(i int) packet.Ref {
	d := b.descs[i]
	frame, off := b.arena.FrameAt(d.Addr)
	return packet.NewRef(frame, off, int(d.Len), d.Addr, &b.actions[i], &b.descs[i])
}

// Refs iterates every packet in the batch in RX order.
func (b *Batch) Refs(fn func(packet.Ref)) {
	for i := range b.descs {
		fn(b.Ref(i))
	}
}

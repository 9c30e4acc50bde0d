// Package packet provides the two frame-handle shapes callers use to
// work with received data: Ref, a borrowed view valid only for the
// duration of a single batch callback, and Packet, an owned handle
// whose lifetime is controlled by the caller. Both wrap a frame already
// allocated out of a umem.Arena; neither package imports xsk — the
// engine and flux packages bind these handles to a live socket.
package packet

import (
	"fmt"

	"github.com/sidd-27/fluxnet/ring"
)

// Action records what the engine should do with a Ref once its batch
// callback returns. The zero value is ActionDrop: a caller that never
// calls Send or DropPacket gets the frame recycled, never leaked, never
// silently transmitted.
type Action int

const (
	ActionDrop Action = iota
	ActionSend
)

// Ref is a zero-copy, batch-scoped view into a frame inside UMEM. It
// must not be retained past the batch callback that received it — the
// descriptor and action slots it points into are reused by the engine
// for the next batch.
type Ref struct {
	frame  []byte // the full frame, headroom and all
	off    int
	length int
	addr   uint64
	action *Action
	desc   *ring.Descriptor
}

// NewRef constructs a Ref over the frame backing addr. off/length mark
// the packet's current range within frame; action is a pointer to the
// batch loop's per-slot decision cell, written through by Send and
// DropPacket. desc is a pointer to the batch's copy of this slot's RX
// descriptor; SetLen and AdjustHead write the ref's current addr/len
// through to it immediately, so whatever the engine commits to TX
// reflects the ref's final state rather than the descriptor RX handed
// in.
func NewRef(frame []byte, off, length int, addr uint64, action *Action, desc *ring.Descriptor) Ref {
	return Ref{frame: frame, off: off, length: length, addr: addr, action: action, desc: desc}
}

// Bytes returns the packet's current byte range, directly aliasing
// UMEM.
func (r Ref) Bytes() []byte { return r.frame[r.off : r.off+r.length] }

// Len reports the current packet length.
func (r Ref) Len() int { return r.length }

// Addr returns the UMEM address of the packet's current start, which
// AdjustHead moves.
func (r Ref) Addr() uint64 { return r.addr }

// SetLen truncates or extends the visible range within the frame. n
// beyond the remaining frame capacity panics.
func (r *Ref) SetLen(n int) {
	if n < 0 || r.off+n > len(r.frame) {
		panic(fmt.Sprintf("packet: SetLen(%d) exceeds frame capacity", n))
	}
	r.length = n
	r.writeDesc()
}

// AdjustHead moves the start of the visible range by delta bytes.
// Positive delta strips a header (shrinks the packet, advances the
// start); negative delta grows into existing headroom. Moving before
// the start of the frame or past its end panics. addr moves by the
// same delta as off, since addr points at the packet's current start
// within its frame, not the frame's base.
func (r *Ref) AdjustHead(delta int) {
	newOff := r.off + delta
	newLen := r.length - delta
	if newOff < 0 || newLen < 0 || newOff+newLen > len(r.frame) {
		panic("packet: AdjustHead out of frame bounds")
	}
	r.off = newOff
	r.length = newLen
	r.addr = uint64(int64(r.addr) + int64(delta))
	r.writeDesc()
}

// writeDesc publishes the ref's current addr/length into the shared
// descriptor slot, leaving Options untouched. Called on every mutation
// so the engine's TX commit sees the ref's final state regardless of
// whether the callback calls Send before or after adjusting it.
func (r *Ref) writeDesc() {
	r.desc.Addr = r.addr
	r.desc.Len = uint32(r.length)
}

// Send marks the frame for transmission once the batch callback
// returns; the engine moves it onto the TX ring.
func (r Ref) Send() { *r.action = ActionSend }

// DropPacket marks the frame for immediate recycling back to Fill,
// discarding its contents. This is also what happens if neither Send
// nor DropPacket is called.
func (r Ref) DropPacket() { *r.action = ActionDrop }

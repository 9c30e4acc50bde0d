package packet

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sidd-27/fluxnet/ring"
)

// ErrAlreadyConsumed is returned by any Packet method called after
// IntoRawDescriptor or Recycle has already taken ownership of the
// frame.
var ErrAlreadyConsumed = errors.New("packet: already sent or recycled")

// Recycler returns a frame address to the free pool it was allocated
// from. *allocator.MPSCPool satisfies this.
type Recycler interface {
	Push(addr uint64)
}

// Packet is an owned handle to a frame outside the batch loop: it can
// be held across function calls, handed to another goroutine, queued,
// or returned from a channel. Go has no destructor, so unlike a moved
// value in the original system, a Packet that is simply discarded
// leaks its frame — every Packet obtained from FluxRx.Recv or the
// simulator must reach exactly one of IntoRawDescriptor (to send it) or
// Recycle (to free it).
type Packet struct {
	frame    []byte
	off      int
	length   int
	addr     uint64
	recycler Recycler
	consumed atomic.Bool
}

// New constructs an owned Packet over the frame backing addr. recycler
// is where Recycle returns the frame's address.
func New(frame []byte, off, length int, addr uint64, recycler Recycler) *Packet {
	return &Packet{frame: frame, off: off, length: length, addr: addr, recycler: recycler}
}

func (p *Packet) checkLive() {
	if p.consumed.Load() {
		panic(fmt.Sprintf("packet: use after consume, addr=%d", p.addr))
	}
}

// Bytes returns the packet's current byte range.
func (p *Packet) Bytes() []byte {
	p.checkLive()
	return p.frame[p.off : p.off+p.length]
}

// BytesMut returns the packet's current byte range for in-place
// mutation. It is the same slice Bytes returns; the name mirrors the
// borrowed/mutable distinction the rest of the module draws elsewhere.
func (p *Packet) BytesMut() []byte { return p.Bytes() }

// Len reports the current packet length.
func (p *Packet) Len() int { return p.length }

// AdjustHead moves the start of the visible range by delta bytes, with
// the same semantics and bounds as Ref.AdjustHead. addr moves by the
// same delta as off, since addr points at the packet's current start
// within its frame: IntoRawDescriptor hands the TX ring this addr, and
// a stale frame-base addr paired with the adjusted length would
// transmit the wrong bytes.
func (p *Packet) AdjustHead(delta int) {
	p.checkLive()
	newOff := p.off + delta
	newLen := p.length - delta
	if newOff < 0 || newLen < 0 || newOff+newLen > len(p.frame) {
		panic("packet: AdjustHead out of frame bounds")
	}
	p.off = newOff
	p.length = newLen
	p.addr = uint64(int64(p.addr) + int64(delta))
}

// IntoRawDescriptor consumes the Packet and returns the ring.Descriptor
// ready to write onto a TX ring. After this call the Packet must not be
// used again; ownership of the frame has passed to whatever ring the
// descriptor is committed to.
func (p *Packet) IntoRawDescriptor() (ring.Descriptor, error) {
	if !p.consumed.CompareAndSwap(false, true) {
		return ring.Descriptor{}, ErrAlreadyConsumed
	}
	return ring.Descriptor{Addr: p.addr, Len: uint32(p.length)}, nil
}

// Recycle consumes the Packet and returns its frame to the allocator it
// came from, discarding the data. Calling Recycle a second time, or
// calling it after IntoRawDescriptor already consumed the Packet, is a
// no-op reported via ErrAlreadyConsumed.
func (p *Packet) Recycle() error {
	if !p.consumed.CompareAndSwap(false, true) {
		return ErrAlreadyConsumed
	}
	p.recycler.Push(p.addr)
	return nil
}

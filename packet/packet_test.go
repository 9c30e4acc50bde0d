package packet

import (
	"testing"

	"github.com/sidd-27/fluxnet/ring"
)

type fakeRecycler struct {
	pushed []uint64
}

func (f *fakeRecycler) Push(addr uint64) { f.pushed = append(f.pushed, addr) }

func TestRefSendAndDropSetAction(t *testing.T) {
	frame := make([]byte, 2048)
	var action Action
	var desc ring.Descriptor
	r := NewRef(frame, 0, 64, 128, &action, &desc)

	r.Send()
	if action != ActionSend {
		t.Fatalf("want ActionSend, got %v", action)
	}

	r.DropPacket()
	if action != ActionDrop {
		t.Fatalf("want ActionDrop, got %v", action)
	}
}

func TestRefAdjustHeadStripsAndGrows(t *testing.T) {
	frame := make([]byte, 2048)
	headroom := 128
	var action Action
	desc := ring.Descriptor{Addr: uint64(headroom), Len: 100}
	r := NewRef(frame, headroom, 100, uint64(headroom), &action, &desc)

	r.AdjustHead(14) // strip an ethernet header
	if r.Len() != 86 {
		t.Fatalf("want len 86 after strip, got %d", r.Len())
	}
	if r.Addr() != uint64(headroom+14) {
		t.Fatalf("want addr %d after strip, got %d", headroom+14, r.Addr())
	}

	r.AdjustHead(-14) // push the header back on
	if r.Len() != 100 {
		t.Fatalf("want len 100 after regrow, got %d", r.Len())
	}
	if r.Addr() != uint64(headroom) {
		t.Fatalf("want addr %d after regrow, got %d", headroom, r.Addr())
	}
}

// TestRefAdjustHeadWritesThroughToDescriptor is the composed scenario
// engine.Batch relies on: a callback that strips a header and sends
// commits a TX descriptor with the stripped addr/len, not the original
// RX descriptor's.
func TestRefAdjustHeadWritesThroughToDescriptor(t *testing.T) {
	frame := make([]byte, 2048)
	headroom := 128
	var action Action
	desc := ring.Descriptor{Addr: uint64(headroom), Len: 100, Options: 7}
	r := NewRef(frame, headroom, 100, uint64(headroom), &action, &desc)

	r.AdjustHead(14)
	r.Send()

	if desc.Addr != uint64(headroom+14) {
		t.Fatalf("desc.Addr = %d, want %d", desc.Addr, headroom+14)
	}
	if desc.Len != 86 {
		t.Fatalf("desc.Len = %d, want 86", desc.Len)
	}
	if desc.Options != 7 {
		t.Fatalf("desc.Options = %d, want unchanged 7", desc.Options)
	}
}

func TestRefAdjustHeadPastFrameStartPanics(t *testing.T) {
	frame := make([]byte, 2048)
	var action Action
	var desc ring.Descriptor
	r := NewRef(frame, 10, 50, 0, &action, &desc)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	r.AdjustHead(-20)
}

func TestRefSetLenBeyondCapacityPanics(t *testing.T) {
	frame := make([]byte, 2048)
	var action Action
	var desc ring.Descriptor
	r := NewRef(frame, 2000, 10, 0, &action, &desc)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	r.SetLen(100)
}

func TestPacketIntoRawDescriptorConsumesOnce(t *testing.T) {
	frame := make([]byte, 2048)
	rc := &fakeRecycler{}
	p := New(frame, 0, 64, 256, rc)

	desc, err := p.IntoRawDescriptor()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Addr != 256 || desc.Len != 64 {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}

	if _, err := p.IntoRawDescriptor(); err != ErrAlreadyConsumed {
		t.Fatalf("want ErrAlreadyConsumed on second call, got %v", err)
	}
}

// TestPacketAdjustHeadRoundTripsAddr is the Mode B half of the same
// composed scenario: stripping a header and growing it back leaves
// addr where it started, and the descriptor handed to the TX ring
// after a strip points at the stripped start, not the frame base.
func TestPacketAdjustHeadRoundTripsAddr(t *testing.T) {
	frame := make([]byte, 2048)
	rc := &fakeRecycler{}
	p := New(frame, 128, 100, 896, rc)

	p.AdjustHead(14)
	desc, err := p.IntoRawDescriptor()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Addr != 896+14 {
		t.Fatalf("desc.Addr = %d, want %d", desc.Addr, 896+14)
	}
	if desc.Len != 86 {
		t.Fatalf("desc.Len = %d, want 86", desc.Len)
	}
}

func TestPacketAdjustHeadStripThenRegrowRestoresAddr(t *testing.T) {
	frame := make([]byte, 2048)
	rc := &fakeRecycler{}
	p := New(frame, 128, 100, 896, rc)

	p.AdjustHead(14)
	p.AdjustHead(-14)

	desc, err := p.IntoRawDescriptor()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Addr != 896 {
		t.Fatalf("desc.Addr = %d, want 896 (round-tripped)", desc.Addr)
	}
	if desc.Len != 100 {
		t.Fatalf("desc.Len = %d, want 100", desc.Len)
	}
}

func TestPacketRecycleReturnsAddrToPool(t *testing.T) {
	frame := make([]byte, 2048)
	rc := &fakeRecycler{}
	p := New(frame, 0, 64, 512, rc)

	if err := p.Recycle(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rc.pushed) != 1 || rc.pushed[0] != 512 {
		t.Fatalf("want addr 512 pushed once, got %v", rc.pushed)
	}

	if err := p.Recycle(); err != ErrAlreadyConsumed {
		t.Fatalf("want ErrAlreadyConsumed on second Recycle, got %v", err)
	}
}

func TestPacketUseAfterConsumePanics(t *testing.T) {
	frame := make([]byte, 2048)
	rc := &fakeRecycler{}
	p := New(frame, 0, 64, 1, rc)
	if err := p.Recycle(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on use after consume")
		}
	}()
	p.Bytes()
}

package simulator

import (
	"testing"

	"github.com/sidd-27/fluxnet/allocator"
	"github.com/sidd-27/fluxnet/ring"
)

func testConfig() Config {
	return Config{FrameSize: 2048, FrameCount: 64, RXSize: 64, FillSize: 64, TXSize: 64, CompSize: 64}
}

func primeFill(t *testing.T, k *Kernel, n uint32) {
	t.Helper()
	free := allocator.NewStack(64, func(ordinal uint32) uint64 {
		return uint64(ordinal) * uint64(2048)
	})
	guard := k.Fill().Reserve(n)
	if guard.N() != n {
		t.Fatalf("reserve: got %d want %d", guard.N(), n)
	}
	for i := uint32(0); i < n; i++ {
		addr, ok := free.Alloc()
		if !ok {
			t.Fatalf("free list exhausted priming fill")
		}
		guard.Write(i, addr)
	}
	guard.Commit(n)
}

func TestInjectRXRequiresFillBuffer(t *testing.T) {
	k, err := NewKernel(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer k.Close()

	if err := k.InjectRX([]byte("hello")); err != ErrNoFillBuffers {
		t.Fatalf("got %v, want ErrNoFillBuffers", err)
	}
}

func TestInjectRXThenReadByUser(t *testing.T) {
	k, err := NewKernel(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer k.Close()

	primeFill(t, k, 1)

	payload := []byte("echo-me")
	if err := k.InjectRX(payload); err != nil {
		t.Fatal(err)
	}

	guard := k.RX().Consume(1)
	if guard.N() != 1 {
		t.Fatalf("rx consume: got %d want 1", guard.N())
	}
	desc := guard.Read(0)
	guard.Release(1)

	if desc.Len != uint32(len(payload)) {
		t.Fatalf("desc.Len = %d, want %d", desc.Len, len(payload))
	}

	frame, off := k.Arena().FrameAt(desc.Addr)
	got := frame[off : off+int(desc.Len)]
	if string(got) != string(payload) {
		t.Fatalf("frame bytes = %q, want %q", got, payload)
	}
}

func TestDrainTXCompletesAndReclaims(t *testing.T) {
	k, err := NewKernel(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer k.Close()

	payload := []byte("outbound")
	frame, off := k.Arena().FrameAt(0)
	copy(frame[off:], payload)

	txGuard := k.TX().Reserve(1)
	if txGuard.N() != 1 {
		t.Fatalf("tx reserve: got %d want 1", txGuard.N())
	}
	txGuard.Write(0, ring.Descriptor{Addr: 0, Len: uint32(len(payload))})
	txGuard.Commit(1)

	if _, ok := k.PeekTX(); !ok {
		t.Fatal("peek: expected a pending tx descriptor")
	}

	data, err := k.DrainTX()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(payload) {
		t.Fatalf("drained data = %q, want %q", data, payload)
	}

	compGuard := k.Completion().Consume(1)
	if compGuard.N() != 1 {
		t.Fatalf("completion consume: got %d want 1", compGuard.N())
	}
	if addr := compGuard.Read(0); addr != 0 {
		t.Fatalf("completion addr = %d, want 0", addr)
	}
	compGuard.Release(1)

	if _, ok := k.PeekTX(); ok {
		t.Fatal("peek: expected tx ring empty after drain")
	}
}

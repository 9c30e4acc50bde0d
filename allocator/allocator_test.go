package allocator

import (
	"sync"
	"testing"
)

func TestStackAllocFreeRoundTrip(t *testing.T) {
	s := NewStack(4, func(i uint32) uint64 { return uint64(i) * 2048 })
	if s.Len() != 4 {
		t.Fatalf("want 4 free frames, got %d", s.Len())
	}

	var got []uint64
	for {
		addr, ok := s.Alloc()
		if !ok {
			break
		}
		got = append(got, addr)
	}
	if len(got) != 4 {
		t.Fatalf("want 4 allocations, got %d", len(got))
	}
	if _, ok := s.Alloc(); ok {
		t.Fatalf("expected empty stack")
	}

	s.Free(got[0])
	if s.Len() != 1 {
		t.Fatalf("want 1 free after Free, got %d", s.Len())
	}
}

func TestMPSCPoolConcurrentPush(t *testing.T) {
	var pool MPSCPool
	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				pool.Push(uint64(base*perProducer + i))
			}
		}(p)
	}
	wg.Wait()

	drained := pool.DrainInto(nil)
	if len(drained) != producers*perProducer {
		t.Fatalf("want %d drained, got %d", producers*perProducer, len(drained))
	}

	seen := make(map[uint64]bool, len(drained))
	for _, addr := range drained {
		if seen[addr] {
			t.Fatalf("duplicate address %d in drain", addr)
		}
		seen[addr] = true
	}
}

func TestMPSCPoolDrainEmptyIsNoop(t *testing.T) {
	var pool MPSCPool
	if got := pool.DrainInto(nil); len(got) != 0 {
		t.Fatalf("expected empty drain, got %d", len(got))
	}
}

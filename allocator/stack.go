// Package allocator implements the frame allocator: the authoritative
// holder of frames in the Free state. Stack is the single-consumer
// variant used inside the managed engine and an xsk.Socket; MPSCPool is
// the multi-producer variant that backs Packet drop-recycling and the
// pool shared by a flux split pair.
package allocator

// Stack is an array-backed free list of frame addresses. It is owned by
// exactly one thread and is not safe for concurrent use.
type Stack struct {
	frames []uint64
	top    int
}

// NewStack builds a Stack pre-populated with every frame address
// produced by addrAt(0)..addrAt(frameCount-1) — the entire arena starts
// Free.
func NewStack(frameCount uint32, addrAt func(ordinal uint32) uint64) *Stack {
	frames := make([]uint64, frameCount)
	for i := uint32(0); i < frameCount; i++ {
		frames[i] = addrAt(i)
	}
	return &Stack{frames: frames, top: int(frameCount)}
}

// Len reports how many frames are currently free.
func (s *Stack) Len() int { return s.top }

// Alloc removes and returns one free frame address. ok is false if the
// stack is empty.
func (s *Stack) Alloc() (addr uint64, ok bool) {
	if s.top == 0 {
		return 0, false
	}
	s.top--
	return s.frames[s.top], true
}

// Free returns a frame address to the pool.
func (s *Stack) Free(addr uint64) {
	if s.top == len(s.frames) {
		// The backing array is full: grow it. A Stack may start with
		// only part of the arena (the frames not handed to Fill) and
		// later receive the rest back. Growth does not detect a
		// double free.
		s.frames = append(s.frames, addr)
		s.top++
		return
	}
	s.frames[s.top] = addr
	s.top++
}

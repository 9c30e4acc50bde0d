package engine

import "sync/atomic"

// Metrics are cumulative counters updated by Run, safe to read
// concurrently from another goroutine while Run is active.
type Metrics struct {
	BatchesProcessed     atomic.Uint64
	PacketsReceived      atomic.Uint64
	PacketsSent          atomic.Uint64
	PacketsDropped       atomic.Uint64
	CompletionsReclaimed atomic.Uint64
	// FillStarvations counts batches where the Fill ring had room but
	// the free list was empty, so no frame was published to it. This is
	// a metric, not an error: the engine keeps running and the kernel
	// simply sees fewer Fill entries until frames come back via
	// Completion.
	FillStarvations atomic.Uint64
	Wakeups         atomic.Uint64
}

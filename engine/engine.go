package engine

import (
	"context"
	"time"

	"github.com/sidd-27/fluxnet/allocator"
	"github.com/sidd-27/fluxnet/packet"
	"github.com/sidd-27/fluxnet/ring"
)

// Engine drives Mode A, the managed hot loop, over backend S. S is
// almost always *xsk.Socket in production and *simulator.Kernel in
// tests; the type parameter means the hot loop in Run and processBatch
// is compiled once per concrete backend rather than indirecting
// through an interface on every ring call.
type Engine[S Backend] struct {
	sock    S
	conf    Config
	free    *allocator.Stack
	metrics Metrics

	descsBuf   []ring.Descriptor
	actionsBuf []packet.Action
	compBuf    []uint64
}

// New builds an Engine over sock. free is the engine's single-consumer
// free-frame pool, pre-populated with every frame not already handed
// to the kernel via Fill — callers typically build it the same way
// xsk.Socket.Open does, skipping the frames already seeded into Fill.
func New[S Backend](sock S, free *allocator.Stack, opts ...Option) *Engine[S] {
	conf := defaultConfig()
	for _, opt := range opts {
		opt(&conf)
	}
	return &Engine[S]{
		sock:       sock,
		conf:       conf,
		free:       free,
		descsBuf:   make([]ring.Descriptor, conf.BatchSize),
		actionsBuf: make([]packet.Action, conf.BatchSize),
		compBuf:    make([]uint64, conf.BatchSize),
	}
}

// Metrics returns the engine's live counters.
func (e *Engine[S]) Metrics() *Metrics { return &e.metrics }

// Run invokes callback once per batch of newly received packets until
// ctx is cancelled. On cancellation the in-flight batch is always
// completed before Run returns ctx.Err(); no frame is dropped
// mid-batch because of cancellation.
func (e *Engine[S]) Run(ctx context.Context, callback func(*Batch)) error {
	state := spinning
	lastRX := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := e.processBatch(callback)
		if err != nil {
			return err
		}

		switch e.conf.Poller {
		case Busy:
			// Never yields; the loop condition alone governs pacing.
		case Syscall:
			if n == 0 {
				if err := e.sock.Wait(e.conf.WaitTimeoutMS); err != nil {
					return err
				}
			}
		case Adaptive:
			if n > 0 {
				lastRX = time.Now()
				state = spinning
			} else if state == spinning && time.Since(lastRX) > e.conf.SpinBudget {
				state = waiting
			}
			if state == waiting {
				if err := e.sock.Wait(e.conf.WaitTimeoutMS); err != nil {
					return err
				}
				state = spinning
			}
		}
	}
}

// processBatch runs one iteration of the managed loop's five-step
// contract: reclaim completions, drain RX, run the callback, commit TX
// and Fill, wake the kernel where its flags request it.
func (e *Engine[S]) processBatch(callback func(*Batch)) (uint32, error) {
	e.reclaimCompletions()

	rxGuard := e.sock.RX().Consume(e.conf.BatchSize)
	n := rxGuard.N()
	if n == 0 {
		rxGuard.Release(0)
		if e.sock.NeedsWakeupRX() {
			e.metrics.Wakeups.Add(1)
			_ = e.sock.WakeupRX()
		}
		return 0, nil
	}

	descs := e.descsBuf[:n]
	actions := e.actionsBuf[:n]
	for i := uint32(0); i < n; i++ {
		descs[i] = rxGuard.Read(i)
		actions[i] = packet.ActionDrop
	}
	rxGuard.Release(n)
	e.metrics.PacketsReceived.Add(uint64(n))
	e.metrics.BatchesProcessed.Add(1)

	batch := &Batch{descs: descs, actions: actions, arena: e.sock.Arena()}
	callback(batch)

	var txNeeded uint32
	for _, a := range actions {
		if a == packet.ActionSend {
			txNeeded++
		}
	}

	if txNeeded > 0 {
		txGuard := e.sock.TX().Reserve(txNeeded)
		sent := txGuard.N()
		written := uint32(0)
		overflowed := uint32(0)
		for i, a := range actions {
			if a != packet.ActionSend {
				continue
			}
			if written < sent {
				txGuard.Write(written, descs[i])
				written++
			} else {
				actions[i] = packet.ActionDrop
				overflowed++
			}
		}
		txGuard.Commit(written)
		e.metrics.PacketsSent.Add(uint64(written))
		e.metrics.PacketsDropped.Add(uint64(overflowed))
		if written > 0 && e.sock.NeedsWakeupTX() {
			e.metrics.Wakeups.Add(1)
			_ = e.sock.WakeupTX()
		}
	}

	var recycleNeeded uint32
	for _, a := range actions {
		if a == packet.ActionDrop {
			recycleNeeded++
		}
	}
	if recycleNeeded > 0 {
		for i, a := range actions {
			if a == packet.ActionDrop {
				e.free.Free(descs[i].Addr)
			}
		}
	}

	e.refillFill()

	return n, nil
}

// reclaimCompletions moves finished TX frames from the Completion ring
// into the free list.
func (e *Engine[S]) reclaimCompletions() {
	guard := e.sock.Completion().Consume(uint32(len(e.compBuf)))
	n := guard.N()
	for i := uint32(0); i < n; i++ {
		e.free.Free(guard.Read(i))
	}
	guard.Release(n)
	e.metrics.CompletionsReclaimed.Add(uint64(n))
}

// refillFill tops up the Fill ring from the free list up to its
// capacity. If the free list is empty, this is a no-op recorded as a
// FillStarvation rather than an error.
func (e *Engine[S]) refillFill() {
	fill := e.sock.Fill()
	want := fill.Available()
	if want == 0 {
		return
	}
	if uint32(e.free.Len()) < want {
		want = uint32(e.free.Len())
	}
	if want == 0 {
		e.metrics.FillStarvations.Add(1)
		return
	}

	guard := fill.Reserve(want)
	for i := uint32(0); i < guard.N(); i++ {
		addr, ok := e.free.Alloc()
		if !ok {
			break
		}
		guard.Write(i, addr)
	}
	guard.Commit(guard.N())
}

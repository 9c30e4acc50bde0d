//go:build linux

// Package raw implements Mode C: direct access to the four rings and
// the UMEM arena with no allocator, no batching policy, and no
// congestion handling layered on top. Intended for research and
// custom allocators that want to drive the kernel boundary themselves.
package raw

import (
	"fmt"

	"github.com/sidd-27/fluxnet/ring"
	"github.com/sidd-27/fluxnet/umem"
	"github.com/sidd-27/fluxnet/xsk"
)

// Rings re-exports sock's four ring views directly. The caller takes
// on every responsibility engine and flux would otherwise have
// handled: reclaiming completions, refilling Fill, downgrading TX
// overflow, waking the kernel.
func Rings(sock *xsk.Socket) (
	rx *ring.ConsumerRing[ring.Descriptor],
	fill *ring.ProducerRing[uint64],
	tx *ring.ProducerRing[ring.Descriptor],
	comp *ring.ConsumerRing[uint64],
) {
	return sock.RX(), sock.Fill(), sock.TX(), sock.Completion()
}

// Arena re-exports sock's UMEM arena directly.
func Arena(sock *xsk.Socket) *umem.Arena { return sock.Arena() }

// DebugReport formats each ring's available()/len() as a multi-line
// string, for ad hoc inspection rather than programmatic consumption.
func DebugReport(sock *xsk.Socket) string {
	rx, fill, tx, comp := Rings(sock)
	return fmt.Sprintf(
		"RX Ring:   %d/%d\nFill Ring: %d/%d\nTX Ring:   %d/%d\nComp Ring: %d/%d\n",
		rx.Available(), rx.Len(),
		fill.Available(), fill.Len(),
		tx.Available(), tx.Len(),
		comp.Available(), comp.Len(),
	)
}

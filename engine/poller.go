package engine

import "time"

// Poller selects how Engine.Run waits when the RX ring is empty.
type Poller int

const (
	// Busy spins continuously between RX polls, never yielding.
	Busy Poller = iota
	// Syscall yields immediately via the backend's readiness wait.
	Syscall
	// Adaptive spins for SpinBudget after the last successful RX, then
	// falls back to the readiness wait; a successful RX or a readiness
	// edge returns it to spinning.
	Adaptive
)

// DefaultSpinBudget is the wall-clock window Adaptive spins before
// falling back to a readiness wait.
const DefaultSpinBudget = 50 * time.Microsecond

// pollerState is the Adaptive poller's two-state machine.
type pollerState int

const (
	spinning pollerState = iota
	waiting
)

package engine

import "time"

// Config controls Engine.Run's batching and wait behavior.
type Config struct {
	BatchSize     uint32
	Poller        Poller
	SpinBudget    time.Duration
	WaitTimeoutMS int
}

// Option configures a Config.
type Option func(*Config)

// WithBatchSize sets the number of RX descriptors drained per batch,
// clamped by the caller to [1, 256].
func WithBatchSize(n uint32) Option { return func(c *Config) { c.BatchSize = n } }

// WithPoller selects the RX-empty wait strategy.
func WithPoller(p Poller) Option { return func(c *Config) { c.Poller = p } }

// WithSpinBudget overrides the Adaptive poller's spin window.
func WithSpinBudget(d time.Duration) Option { return func(c *Config) { c.SpinBudget = d } }

// WithWaitTimeoutMS sets the timeout passed to the backend's readiness
// wait when the poller falls back to Syscall/Adaptive waiting.
func WithWaitTimeoutMS(ms int) Option { return func(c *Config) { c.WaitTimeoutMS = ms } }

func defaultConfig() Config {
	return Config{
		BatchSize:     32,
		Poller:        Adaptive,
		SpinBudget:    DefaultSpinBudget,
		WaitTimeoutMS: 1,
	}
}

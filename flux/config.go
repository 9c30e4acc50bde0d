package flux

// CongestionStrategy selects FluxTx.Send's behavior when the TX ring
// has no room for a reservation.
type CongestionStrategy int

const (
	// DropNew returns ErrRingFull immediately, leaving the caller's
	// Packet unconsumed.
	DropNew CongestionStrategy = iota
	// Block spins, reclaiming completions between attempts, until a
	// slot opens up.
	Block
)

// Config controls FluxRx/FluxTx batching and backpressure behavior.
type Config struct {
	BatchSize  uint32
	Congestion CongestionStrategy
}

// Option configures a Config.
type Option func(*Config)

// WithBatchSize sets how many completions FluxTx reclaims per Flush.
// How many RX descriptors FluxRx drains is set by Recv's max argument.
func WithBatchSize(n uint32) Option { return func(c *Config) { c.BatchSize = n } }

// WithCongestion selects the TX backpressure strategy.
func WithCongestion(s CongestionStrategy) Option { return func(c *Config) { c.Congestion = s } }

func defaultConfig() Config {
	return Config{BatchSize: 32, Congestion: DropNew}
}

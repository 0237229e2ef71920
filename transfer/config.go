package transfer

import (
	"time"

	"github.com/opd-ai/chunkflow/wire"
)

// Default sizing and timing for a Worker. All capacities are fixed at
// construction; nothing grows at runtime.
const (
	// DefaultMaxConcurrentTransfers is the number of context slots in each
	// of the client and server transfer tables.
	DefaultMaxConcurrentTransfers = 16

	// DefaultEventQueueSize is the capacity of the worker's event queue.
	// Producers block when it is full.
	DefaultEventQueueSize = 32

	// DefaultMaxChunkDataSize bounds the payload of a single chunk and
	// sizes the pooled buffers that carry inbound chunk bytes.
	DefaultMaxChunkDataSize = 1024

	// DefaultChunkTimeout is how long a transfer waits for the peer's next
	// expected chunk before retransmitting. Retries use a fixed interval;
	// embedded deployments favor a predictable cadence over backoff.
	DefaultChunkTimeout = 3 * time.Second

	// DefaultMaxRetries bounds consecutive retransmissions before a
	// transfer aborts with DeadlineExceeded.
	DefaultMaxRetries = 3

	// DefaultTerminatedHistory is the number of recently terminated
	// transfer ids remembered so late chunks get the terminal status
	// re-sent instead of NotFound.
	DefaultTerminatedHistory = 32
)

// Config collects the construction-time knobs of a Worker.
type Config struct {
	MaxConcurrentTransfers int
	EventQueueSize         int
	MaxChunkDataSize       int
	ChunkTimeout           time.Duration
	MaxRetries             int
	TerminatedHistory      int

	// Clock supplies time for retry deadlines. Nil means the stdlib clock.
	Clock TimeProvider
}

// DefaultConfig returns the documented default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTransfers: DefaultMaxConcurrentTransfers,
		EventQueueSize:         DefaultEventQueueSize,
		MaxChunkDataSize:       DefaultMaxChunkDataSize,
		ChunkTimeout:           DefaultChunkTimeout,
		MaxRetries:             DefaultMaxRetries,
		TerminatedHistory:      DefaultTerminatedHistory,
	}
}

// Validate checks that every capacity is positive and the payload bound
// fits the wire format's length prefix.
func (c Config) Validate() error {
	if c.MaxConcurrentTransfers <= 0 {
		return wire.NewError(wire.StatusInvalidArgument, "max concurrent transfers must be positive")
	}
	if c.EventQueueSize <= 0 {
		return wire.NewError(wire.StatusInvalidArgument, "event queue size must be positive")
	}
	if c.MaxChunkDataSize <= 0 || c.MaxChunkDataSize > wire.MaxDataLen {
		return wire.NewError(wire.StatusInvalidArgument, "max chunk data size out of range")
	}
	if c.ChunkTimeout <= 0 {
		return wire.NewError(wire.StatusInvalidArgument, "chunk timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return wire.NewError(wire.StatusInvalidArgument, "max retries must not be negative")
	}
	if c.TerminatedHistory <= 0 {
		return wire.NewError(wire.StatusInvalidArgument, "terminated history must be positive")
	}
	return nil
}

package transfer

import (
	"fmt"

	"github.com/opd-ai/chunkflow/wire"
)

// Parameters holds the negotiated flow-control limits for one transfer.
// The pair is immutable once a transfer is active; window chunks may
// narrow the effective chunk size but never exceed these limits.
type Parameters struct {
	// MaxPendingBytes is the number of bytes the receiver is willing to
	// have in flight at once; it bounds the window size.
	MaxPendingBytes uint32

	// MaxChunkSizeBytes is the largest payload a single data chunk may
	// carry.
	MaxChunkSizeBytes uint32
}

// Validate checks the structural invariants on the parameter pair.
func (p Parameters) Validate() error {
	if p.MaxPendingBytes == 0 {
		return wire.NewError(wire.StatusInvalidArgument, "max pending bytes must be positive")
	}
	if p.MaxChunkSizeBytes == 0 {
		return wire.NewError(wire.StatusInvalidArgument, "max chunk size must be positive")
	}
	if p.MaxChunkSizeBytes > p.MaxPendingBytes {
		return wire.NewError(wire.StatusInvalidArgument,
			fmt.Sprintf("max chunk size %d exceeds max pending bytes %d",
				p.MaxChunkSizeBytes, p.MaxPendingBytes))
	}
	return nil
}

// nextPayloadLen returns the payload size for the next outbound data chunk
// given the current offset, the end of the open window, and the chunk size
// cap. Zero means the window is exhausted.
func nextPayloadLen(offset, windowEnd uint64, maxChunk uint32) int {
	if offset >= windowEnd {
		return 0
	}
	remaining := windowEnd - offset
	if remaining > uint64(maxChunk) {
		return int(maxChunk)
	}
	return int(remaining)
}

// clampWindowEnd bounds a peer-announced window end by the pending byte
// count it was announced with, measured from the peer's own offset. A peer
// cannot open more window than it declared itself able to buffer.
func clampWindowEnd(peerOffset, windowEnd uint64, pendingBytes uint32) uint64 {
	limit := peerOffset + uint64(pendingBytes)
	if windowEnd > limit {
		return limit
	}
	return windowEnd
}

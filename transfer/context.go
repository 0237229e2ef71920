package transfer

import (
	"io"
	"time"

	"github.com/opd-ai/chunkflow/wire"
)

// TransferKind selects the direction of a transfer relative to this engine.
type TransferKind uint8

const (
	// TransferTransmit reads bytes from a handler and sends them to the peer.
	TransferTransmit TransferKind = iota
	// TransferReceive writes bytes arriving from the peer into a handler.
	TransferReceive
)

// String returns a short name for the transfer kind.
func (k TransferKind) String() string {
	if k == TransferTransmit {
		return "transmit"
	}
	return "receive"
}

// leg identifies which of the two chunk streams a transfer belongs to.
type leg uint8

const (
	legClient leg = iota
	legServer
)

func (l leg) String() string {
	if l == legClient {
		return "client"
	}
	return "server"
}

// State is the lifecycle state of a transfer context.
type State uint8

const (
	// StateInactive marks a free context slot.
	StateInactive State = iota
	// StateInitiating means the opening chunk was sent and the transfer is
	// waiting for the peer to acknowledge it.
	StateInitiating
	// StateActive means the window is open and data chunks are flowing.
	StateActive
	// StateCompleting means a completion chunk was sent and its ack is
	// awaited.
	StateCompleting
	// StateAborting means a protocol error or timeout ended the transfer
	// and terminal cleanup is in progress.
	StateAborting
	// StateTerminated is the terminal state; the slot is about to be
	// released.
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateInitiating:
		return "initiating"
	case StateActive:
		return "active"
	case StateCompleting:
		return "completing"
	case StateAborting:
		return "aborting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// transferContext is one per-transfer state machine instance. Contexts
// live in a fixed arena and are reused; reset clears a slot back to its
// zero shape before reuse.
type transferContext struct {
	state      State
	kind       TransferKind
	leg        leg
	transferID uint32
	resourceID uint32

	// handler is borrowed from the registry; nil until the transfer
	// resolves it. reader/writer are bound by Prepare*. prepared gates
	// Finalize*: a handler whose Prepare failed is never finalized.
	handler  Handler
	reader   io.ReadSeeker
	writer   io.Writer
	prepared bool

	params Parameters

	// offset is the next stream position to transmit or the next position
	// expected from the peer.
	offset uint64

	// windowEndOffset is where the currently open window closes.
	windowEndOffset uint64

	// ackedOffset is the highest offset the peer has confirmed, via the
	// offset field of its most recent parameters chunk. Timeouts rewind
	// transmission to here.
	ackedOffset uint64

	timeout  time.Duration
	deadline time.Time
	retries  int

	terminalStatus wire.Status
}

func (c *transferContext) reset() {
	*c = transferContext{}
}

// active reports whether the slot holds a live transfer.
func (c *transferContext) active() bool {
	return c.state != StateInactive && c.state != StateTerminated
}

// contextTable is a fixed-capacity arena of transfer contexts. Slots are
// found by linear scan; capacities are small enough that an index would
// cost more than it saves.
type contextTable struct {
	slots []transferContext
}

func newContextTable(capacity int) *contextTable {
	return &contextTable{slots: make([]transferContext, capacity)}
}

// allocate returns a free slot, or nil when every slot is in use.
func (t *contextTable) allocate() *transferContext {
	for i := range t.slots {
		if !t.slots[i].active() {
			t.slots[i].reset()
			return &t.slots[i]
		}
	}
	return nil
}

// lookup finds the live context for a transfer id.
func (t *contextTable) lookup(transferID uint32) *transferContext {
	for i := range t.slots {
		if t.slots[i].active() && t.slots[i].transferID == transferID {
			return &t.slots[i]
		}
	}
	return nil
}

// each calls fn for every live context.
func (t *contextTable) each(fn func(*transferContext)) {
	for i := range t.slots {
		if t.slots[i].active() {
			fn(&t.slots[i])
		}
	}
}

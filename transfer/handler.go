package transfer

import (
	"io"

	"github.com/opd-ai/chunkflow/wire"
)

// Handler binds a transfer id to a concrete byte source or sink. The
// engine borrows handlers; it never closes or otherwise owns them, and the
// registering application guarantees a handler outlives its registration.
//
// All methods are invoked synchronously on the worker goroutine. A slow
// handler stalls every other transfer, so implementations must not block.
// Handlers must not call back into the Worker from within these methods.
type Handler interface {
	// PrepareRead is called once when a transmit transfer starts. A nil
	// return binds Reader as the transfer's byte source; a non-nil error
	// aborts the transfer with the error's status (wire.StatusFromError).
	PrepareRead() error

	// Reader returns the byte source. Only valid after a successful
	// PrepareRead and until the matching FinalizeRead. Seeking is used to
	// rewind for retransmission.
	Reader() io.ReadSeeker

	// FinalizeRead reports the final disposition of a transmit transfer.
	// Called exactly once per transfer that had a successful PrepareRead.
	FinalizeRead(status wire.Status)

	// PrepareWrite is the receive-side mirror of PrepareRead.
	PrepareWrite() error

	// Writer returns the byte sink. Only valid after a successful
	// PrepareWrite and until the matching FinalizeWrite.
	Writer() io.Writer

	// FinalizeWrite reports the final disposition of a receive transfer
	// and flushes any buffered output. Called exactly once per transfer
	// that had a successful PrepareWrite. A non-nil error downgrades an
	// otherwise successful transfer to DataLoss.
	FinalizeWrite(status wire.Status) error
}

// ReadOnlyHandler provides the write-side methods for handlers that only
// serve reads. Embed it and implement the three read-side methods.
type ReadOnlyHandler struct{}

// PrepareWrite refuses the write direction.
func (ReadOnlyHandler) PrepareWrite() error {
	return wire.NewError(wire.StatusUnimplemented, "handler is read-only")
}

// Writer is never reachable on a read-only handler.
func (ReadOnlyHandler) Writer() io.Writer { return nil }

// FinalizeWrite is never reachable on a read-only handler.
func (ReadOnlyHandler) FinalizeWrite(wire.Status) error { return nil }

// WriteOnlyHandler provides the read-side methods for handlers that only
// serve writes. Embed it and implement the three write-side methods.
type WriteOnlyHandler struct{}

// PrepareRead refuses the read direction.
func (WriteOnlyHandler) PrepareRead() error {
	return wire.NewError(wire.StatusUnimplemented, "handler is write-only")
}

// Reader is never reachable on a write-only handler.
func (WriteOnlyHandler) Reader() io.ReadSeeker { return nil }

// FinalizeRead is never reachable on a write-only handler.
func (WriteOnlyHandler) FinalizeRead(wire.Status) {}

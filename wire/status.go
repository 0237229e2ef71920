package wire

import (
	"errors"
	"fmt"
	"os"
)

// Status is the on-wire status code carried by terminal and error chunks.
type Status uint32

const (
	// StatusOk indicates a transfer completed normally.
	StatusOk Status = 0
	// StatusInvalidArgument indicates a malformed or unparseable chunk.
	StatusInvalidArgument Status = 3
	// StatusDeadlineExceeded indicates the retry budget was exhausted
	// waiting for the peer.
	StatusDeadlineExceeded Status = 4
	// StatusNotFound indicates no handler is registered for the requested
	// transfer id.
	StatusNotFound Status = 5
	// StatusPermissionDenied indicates the handler refused access to the
	// underlying resource.
	StatusPermissionDenied Status = 7
	// StatusResourceExhausted indicates a fixed-capacity buffer or table
	// could not hold the operation.
	StatusResourceExhausted Status = 8
	// StatusFailedPrecondition indicates a chunk arrived in a state that
	// cannot accept it.
	StatusFailedPrecondition Status = 9
	// StatusAborted indicates the transfer was cancelled locally.
	StatusAborted Status = 10
	// StatusUnimplemented indicates the handler does not support the
	// requested direction.
	StatusUnimplemented Status = 12
	// StatusInternal indicates an unclassified local failure.
	StatusInternal Status = 13
	// StatusDataLoss indicates structurally broken chunk bytes or a failed
	// write of received data.
	StatusDataLoss Status = 15
)

// String returns the canonical name of the status code.
func (s Status) String() string {
	switch s {
	case StatusOk:
		return "OK"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusDeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusPermissionDenied:
		return "PERMISSION_DENIED"
	case StatusResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case StatusFailedPrecondition:
		return "FAILED_PRECONDITION"
	case StatusAborted:
		return "ABORTED"
	case StatusUnimplemented:
		return "UNIMPLEMENTED"
	case StatusInternal:
		return "INTERNAL"
	case StatusDataLoss:
		return "DATA_LOSS"
	default:
		return fmt.Sprintf("STATUS_%d", uint32(s))
	}
}

// OK reports whether the status represents success.
func (s Status) OK() bool { return s == StatusOk }

// Error is an error that carries an explicit wire status. Handlers may
// return one from PrepareRead/PrepareWrite to control the status reported
// to the peer when the transfer is refused.
type Error struct {
	Status Status
	Msg    string
}

// NewError creates an Error with the given status and message.
func NewError(status Status, msg string) *Error {
	return &Error{Status: status, Msg: msg}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Msg)
}

// StatusFromError classifies an error into a wire status. A nil error maps
// to StatusOk, a *wire.Error keeps its embedded status, and well-known
// stdlib errors map to their closest protocol equivalent. Everything else
// is StatusInternal.
func StatusFromError(err error) Status {
	if err == nil {
		return StatusOk
	}
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Status
	}
	switch {
	case errors.Is(err, ErrBufferTooSmall):
		return StatusResourceExhausted
	case errors.Is(err, os.ErrNotExist):
		return StatusNotFound
	case errors.Is(err, os.ErrPermission):
		return StatusPermissionDenied
	default:
		return StatusInternal
	}
}

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type identifies the kind of a transfer protocol chunk.
type Type byte

const (
	// TypeStart opens a transfer and proposes window parameters.
	TypeStart Type = iota + 1
	// TypeStartAck acknowledges a start and carries the authoritative
	// window parameters.
	TypeStartAck
	// TypeData carries a contiguous slice of the transferred stream.
	TypeData
	// TypeParametersRetransmit rewinds the transmitter to the embedded
	// offset and opens a fresh window from there.
	TypeParametersRetransmit
	// TypeParametersContinue extends the current window without rewinding.
	TypeParametersContinue
	// TypeCompletion terminates a transfer and carries the final status.
	TypeCompletion
	// TypeCompletionAck confirms that a completion chunk was observed.
	TypeCompletionAck
)

// String returns a short name for the chunk type.
func (t Type) String() string {
	switch t {
	case TypeStart:
		return "start"
	case TypeStartAck:
		return "start-ack"
	case TypeData:
		return "data"
	case TypeParametersRetransmit:
		return "parameters-retransmit"
	case TypeParametersContinue:
		return "parameters-continue"
	case TypeCompletion:
		return "completion"
	case TypeCompletionAck:
		return "completion-ack"
	default:
		return fmt.Sprintf("type-%d", byte(t))
	}
}

func (t Type) valid() bool {
	return t >= TypeStart && t <= TypeCompletionAck
}

// Presence flag bits in the chunk header. TransferID and Type are always
// present; everything else is optional and marked here.
const (
	flagOffset          byte = 1 << 0
	flagWindowEndOffset byte = 1 << 1
	flagPendingBytes    byte = 1 << 2
	flagMaxChunkSize    byte = 1 << 3
	flagStatus          byte = 1 << 4
	flagData            byte = 1 << 5

	flagsKnown = flagOffset | flagWindowEndOffset | flagPendingBytes |
		flagMaxChunkSize | flagStatus | flagData
)

// headerSize is the fixed prefix: type (1), flags (1), transfer id (4).
const headerSize = 6

// MaxDataLen is the largest payload a single chunk can carry, bounded by
// the uint16 length prefix on the wire.
const MaxDataLen = 65535

// ErrBufferTooSmall indicates the output buffer cannot hold the encoded
// chunk. The encode is abandoned without partial output being meaningful.
var ErrBufferTooSmall = errors.New("wire: buffer too small for chunk")

// requiredFlags lists the fields that must be present for each chunk type.
// Decode rejects a chunk missing any of them.
var requiredFlags = map[Type]byte{
	TypeStart:                flagOffset | flagWindowEndOffset | flagPendingBytes | flagMaxChunkSize,
	TypeStartAck:             flagOffset | flagWindowEndOffset | flagPendingBytes | flagMaxChunkSize,
	TypeData:                 flagOffset | flagData,
	TypeParametersRetransmit: flagOffset | flagWindowEndOffset | flagPendingBytes,
	TypeParametersContinue:   flagOffset | flagWindowEndOffset | flagPendingBytes,
	TypeCompletion:           flagStatus,
	TypeCompletionAck:        0,
}

// Chunk is one wire-format protocol message. Optional fields are paired
// with a Has* flag because zero is a legal value for every one of them
// (offset 0 in particular).
type Chunk struct {
	TransferID uint32
	Type       Type

	Offset    uint64
	HasOffset bool

	WindowEndOffset    uint64
	HasWindowEndOffset bool

	PendingBytes    uint32
	HasPendingBytes bool

	MaxChunkSizeBytes uint32
	HasMaxChunkSize   bool

	Status    Status
	HasStatus bool

	Data    []byte
	HasData bool
}

// SetOffset sets the offset field and marks it present.
func (c *Chunk) SetOffset(v uint64) { c.Offset, c.HasOffset = v, true }

// SetWindowEndOffset sets the window end offset field and marks it present.
func (c *Chunk) SetWindowEndOffset(v uint64) { c.WindowEndOffset, c.HasWindowEndOffset = v, true }

// SetPendingBytes sets the pending bytes field and marks it present.
func (c *Chunk) SetPendingBytes(v uint32) { c.PendingBytes, c.HasPendingBytes = v, true }

// SetMaxChunkSize sets the max chunk size field and marks it present.
func (c *Chunk) SetMaxChunkSize(v uint32) { c.MaxChunkSizeBytes, c.HasMaxChunkSize = v, true }

// SetStatus sets the status field and marks it present.
func (c *Chunk) SetStatus(s Status) { c.Status, c.HasStatus = s, true }

// SetData sets the data payload and marks it present. The slice is
// referenced, not copied; the caller must keep it alive until Encode.
func (c *Chunk) SetData(d []byte) { c.Data, c.HasData = d, true }

// flags builds the presence bitmap from the Has* fields.
func (c *Chunk) flags() byte {
	var f byte
	if c.HasOffset {
		f |= flagOffset
	}
	if c.HasWindowEndOffset {
		f |= flagWindowEndOffset
	}
	if c.HasPendingBytes {
		f |= flagPendingBytes
	}
	if c.HasMaxChunkSize {
		f |= flagMaxChunkSize
	}
	if c.HasStatus {
		f |= flagStatus
	}
	if c.HasData {
		f |= flagData
	}
	return f
}

// EncodedSize returns the number of bytes Encode will produce for the
// chunk in its current shape.
func (c *Chunk) EncodedSize() int {
	n := headerSize
	if c.HasOffset {
		n += 8
	}
	if c.HasWindowEndOffset {
		n += 8
	}
	if c.HasPendingBytes {
		n += 4
	}
	if c.HasMaxChunkSize {
		n += 4
	}
	if c.HasStatus {
		n += 4
	}
	if c.HasData {
		n += 2 + len(c.Data)
	}
	return n
}

// Encode serializes the chunk into buf and returns the number of bytes
// written. It fails with ErrBufferTooSmall if buf cannot hold the encoded
// chunk, and with an InvalidArgument error for an unknown type or an
// oversized payload. Encode is pure: it never retains buf.
func (c *Chunk) Encode(buf []byte) (int, error) {
	if !c.Type.valid() {
		return 0, NewError(StatusInvalidArgument, fmt.Sprintf("unknown chunk type %d", byte(c.Type)))
	}
	if c.HasData && len(c.Data) > MaxDataLen {
		return 0, NewError(StatusInvalidArgument, fmt.Sprintf("payload %d exceeds %d", len(c.Data), MaxDataLen))
	}
	need := c.EncodedSize()
	if len(buf) < need {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, need, len(buf))
	}

	buf[0] = byte(c.Type)
	buf[1] = c.flags()
	binary.BigEndian.PutUint32(buf[2:6], c.TransferID)
	n := headerSize

	if c.HasOffset {
		binary.BigEndian.PutUint64(buf[n:], c.Offset)
		n += 8
	}
	if c.HasWindowEndOffset {
		binary.BigEndian.PutUint64(buf[n:], c.WindowEndOffset)
		n += 8
	}
	if c.HasPendingBytes {
		binary.BigEndian.PutUint32(buf[n:], c.PendingBytes)
		n += 4
	}
	if c.HasMaxChunkSize {
		binary.BigEndian.PutUint32(buf[n:], c.MaxChunkSizeBytes)
		n += 4
	}
	if c.HasStatus {
		binary.BigEndian.PutUint32(buf[n:], uint32(c.Status))
		n += 4
	}
	if c.HasData {
		binary.BigEndian.PutUint16(buf[n:], uint16(len(c.Data)))
		n += 2
		copy(buf[n:], c.Data)
		n += len(c.Data)
	}
	return n, nil
}

// Decode parses chunk bytes. Truncated input fails with a DataLoss error;
// an unknown type, unknown flag bits, trailing garbage, or a required
// field missing for the chunk's type fails with InvalidArgument. Decode
// never rejects well-formed chunks for odd values (offset 0 is fine) and
// never aliases data: the payload is copied out.
func Decode(data []byte) (Chunk, error) {
	var c Chunk
	if len(data) < headerSize {
		return c, NewError(StatusDataLoss, fmt.Sprintf("chunk truncated at %d bytes", len(data)))
	}

	c.Type = Type(data[0])
	flags := data[1]
	c.TransferID = binary.BigEndian.Uint32(data[2:6])

	if !c.Type.valid() {
		return c, NewError(StatusInvalidArgument, fmt.Sprintf("unknown chunk type %d", data[0]))
	}
	if flags&^flagsKnown != 0 {
		return c, NewError(StatusInvalidArgument, fmt.Sprintf("unknown flag bits %#02x", flags&^flagsKnown))
	}

	rest := data[headerSize:]
	take := func(n int) ([]byte, bool) {
		if len(rest) < n {
			return nil, false
		}
		field := rest[:n]
		rest = rest[n:]
		return field, true
	}

	if flags&flagOffset != 0 {
		f, ok := take(8)
		if !ok {
			return c, NewError(StatusDataLoss, "chunk truncated in offset field")
		}
		c.SetOffset(binary.BigEndian.Uint64(f))
	}
	if flags&flagWindowEndOffset != 0 {
		f, ok := take(8)
		if !ok {
			return c, NewError(StatusDataLoss, "chunk truncated in window end offset field")
		}
		c.SetWindowEndOffset(binary.BigEndian.Uint64(f))
	}
	if flags&flagPendingBytes != 0 {
		f, ok := take(4)
		if !ok {
			return c, NewError(StatusDataLoss, "chunk truncated in pending bytes field")
		}
		c.SetPendingBytes(binary.BigEndian.Uint32(f))
	}
	if flags&flagMaxChunkSize != 0 {
		f, ok := take(4)
		if !ok {
			return c, NewError(StatusDataLoss, "chunk truncated in max chunk size field")
		}
		c.SetMaxChunkSize(binary.BigEndian.Uint32(f))
	}
	if flags&flagStatus != 0 {
		f, ok := take(4)
		if !ok {
			return c, NewError(StatusDataLoss, "chunk truncated in status field")
		}
		c.SetStatus(Status(binary.BigEndian.Uint32(f)))
	}
	if flags&flagData != 0 {
		f, ok := take(2)
		if !ok {
			return c, NewError(StatusDataLoss, "chunk truncated in data length field")
		}
		dataLen := int(binary.BigEndian.Uint16(f))
		payload, ok := take(dataLen)
		if !ok {
			return c, NewError(StatusDataLoss, fmt.Sprintf("chunk truncated in payload: want %d, have %d", dataLen, len(rest)))
		}
		payloadCopy := make([]byte, len(payload))
		copy(payloadCopy, payload)
		c.SetData(payloadCopy)
	}
	if len(rest) != 0 {
		return c, NewError(StatusInvalidArgument, fmt.Sprintf("%d trailing bytes after chunk", len(rest)))
	}

	if missing := requiredFlags[c.Type] &^ flags; missing != 0 {
		return c, NewError(StatusInvalidArgument,
			fmt.Sprintf("%s chunk missing required fields %#02x", c.Type, missing))
	}
	return c, nil
}

// RecoverTransferID extracts the transfer id from chunk bytes that may
// otherwise be malformed, so error responses can still be addressed. It
// reports false when not even the fixed header survives.
func RecoverTransferID(data []byte) (uint32, bool) {
	if len(data) < headerSize {
		return 0, false
	}
	return binary.BigEndian.Uint32(data[2:6]), true
}

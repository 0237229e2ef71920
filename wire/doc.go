// Package wire defines the chunk wire format for the transfer protocol.
//
// A chunk is the unit of exchange between two transfer engines: a fixed
// six-byte header (type, presence flags, transfer id) followed by the
// optional fields the flags declare. Encoding and decoding are pure
// transforms with no I/O and no retained state.
//
// Example:
//
//	var c wire.Chunk
//	c.Type = wire.TypeData
//	c.TransferID = 3
//	c.SetOffset(0)
//	c.SetData(payload)
//
//	buf := make([]byte, c.EncodedSize())
//	n, err := c.Encode(buf)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	decoded, err := wire.Decode(buf[:n])
package wire

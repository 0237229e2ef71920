package resource

import (
	"bytes"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chunkflow/transfer"
	"github.com/opd-ai/chunkflow/wire"
)

// MemoryReader is a transmit handler serving a fixed byte slice. Each
// PrepareRead rebinds the reader at the beginning, so the handler can be
// reused across transfers.
type MemoryReader struct {
	transfer.ReadOnlyHandler

	data       []byte
	reader     *bytes.Reader
	onFinalize func(wire.Status)
}

// NewMemoryReader creates a handler serving data. The slice is referenced,
// not copied.
func NewMemoryReader(data []byte) *MemoryReader {
	return &MemoryReader{data: data}
}

// OnFinalize sets a callback invoked with the terminal status when a
// transfer using this handler ends.
func (m *MemoryReader) OnFinalize(fn func(wire.Status)) { m.onFinalize = fn }

// PrepareRead binds a fresh reader over the backing slice.
func (m *MemoryReader) PrepareRead() error {
	m.reader = bytes.NewReader(m.data)
	return nil
}

// Reader returns the bound byte source.
func (m *MemoryReader) Reader() io.ReadSeeker { return m.reader }

// FinalizeRead reports the transfer's terminal status.
func (m *MemoryReader) FinalizeRead(status wire.Status) {
	logrus.WithFields(logrus.Fields{
		"function": "FinalizeRead",
		"size":     len(m.data),
		"status":   status,
	}).Debug("Memory read transfer finalized")
	m.reader = nil
	if m.onFinalize != nil {
		m.onFinalize(status)
	}
}

// MemoryWriter is a receive handler collecting bytes into memory.
type MemoryWriter struct {
	transfer.WriteOnlyHandler

	buf        bytes.Buffer
	onFinalize func(wire.Status)
}

// NewMemoryWriter creates an empty in-memory sink.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{}
}

// OnFinalize sets a callback invoked with the terminal status when a
// transfer using this handler ends.
func (m *MemoryWriter) OnFinalize(fn func(wire.Status)) { m.onFinalize = fn }

// PrepareWrite resets the sink for a fresh transfer.
func (m *MemoryWriter) PrepareWrite() error {
	m.buf.Reset()
	return nil
}

// Writer returns the bound byte sink.
func (m *MemoryWriter) Writer() io.Writer { return &m.buf }

// FinalizeWrite reports the transfer's terminal status.
func (m *MemoryWriter) FinalizeWrite(status wire.Status) error {
	logrus.WithFields(logrus.Fields{
		"function": "FinalizeWrite",
		"size":     m.buf.Len(),
		"status":   status,
	}).Debug("Memory write transfer finalized")
	if m.onFinalize != nil {
		m.onFinalize(status)
	}
	return nil
}

// Bytes returns the received data.
func (m *MemoryWriter) Bytes() []byte { return m.buf.Bytes() }

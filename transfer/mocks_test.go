package transfer

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/opd-ai/chunkflow/wire"
)

// mockClock provides deterministic time for testing.
type mockClock struct {
	mu          sync.Mutex
	currentTime time.Time
}

func newMockClock() *mockClock {
	return &mockClock{currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockClock) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

// captureSender records every chunk the worker sends, decoded for easy
// assertions. Safe for concurrent use: the worker goroutine appends while
// the test goroutine reads after a queue flush.
type captureSender struct {
	mu     sync.Mutex
	chunks []wire.Chunk
	errs   []error
	// failWith, when set, is returned from Send without recording.
	failWith error
}

func newCaptureSender() *captureSender {
	return &captureSender{}
}

func (s *captureSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	chunk, err := wire.Decode(data)
	if err != nil {
		s.errs = append(s.errs, err)
		return nil
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *captureSender) sent() []wire.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

func (s *captureSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.errs = nil
}

// byType filters recorded chunks by type.
func (s *captureSender) byType(typ wire.Type) []wire.Chunk {
	var out []wire.Chunk
	for _, c := range s.sent() {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

// readHandler is a transmit handler over an in-memory source that counts
// its lifecycle calls.
type readHandler struct {
	ReadOnlyHandler

	data   []byte
	reader *bytes.Reader

	mu             sync.Mutex
	prepareCalls   int
	finalizeCalls  int
	finalizeStatus wire.Status
	prepareErr     error
}

func newReadHandler(data []byte) *readHandler {
	return &readHandler{data: data}
}

func (h *readHandler) PrepareRead() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prepareCalls++
	if h.prepareErr != nil {
		return h.prepareErr
	}
	h.reader = bytes.NewReader(h.data)
	return nil
}

func (h *readHandler) Reader() io.ReadSeeker { return h.reader }

func (h *readHandler) FinalizeRead(status wire.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalizeCalls++
	h.finalizeStatus = status
}

func (h *readHandler) stats() (prepares, finalizes int, status wire.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.prepareCalls, h.finalizeCalls, h.finalizeStatus
}

// writeHandler is a receive handler collecting into memory, counting its
// lifecycle calls.
type writeHandler struct {
	WriteOnlyHandler

	mu             sync.Mutex
	buf            bytes.Buffer
	prepareCalls   int
	finalizeCalls  int
	finalizeStatus wire.Status
	prepareErr     error
	writeErr       error
}

func newWriteHandler() *writeHandler {
	return &writeHandler{}
}

func (h *writeHandler) PrepareWrite() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prepareCalls++
	return h.prepareErr
}

func (h *writeHandler) Writer() io.Writer { return h }

func (h *writeHandler) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writeErr != nil {
		return 0, h.writeErr
	}
	return h.buf.Write(p)
}

func (h *writeHandler) FinalizeWrite(status wire.Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalizeCalls++
	h.finalizeStatus = status
	return nil
}

func (h *writeHandler) received() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]byte, h.buf.Len())
	copy(out, h.buf.Bytes())
	return out
}

func (h *writeHandler) stats() (prepares, finalizes int, status wire.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.prepareCalls, h.finalizeCalls, h.finalizeStatus
}

var errMockFailure = errors.New("mock failure")

package transfer

import (
	"time"
)

// eventKind tags the event union. Exactly one payload group in event is
// meaningful per kind; the rest stay zero.
type eventKind uint8

const (
	eventAddHandler eventKind = iota + 1
	eventRemoveHandler
	eventNewServerTransfer
	eventNewClientTransfer
	eventServerChunk
	eventClientChunk
	eventSimulateTimeout
	eventFlush
	eventTerminate
)

func (k eventKind) String() string {
	switch k {
	case eventAddHandler:
		return "add-handler"
	case eventRemoveHandler:
		return "remove-handler"
	case eventNewServerTransfer:
		return "new-server-transfer"
	case eventNewClientTransfer:
		return "new-client-transfer"
	case eventServerChunk:
		return "server-chunk"
	case eventClientChunk:
		return "client-chunk"
	case eventSimulateTimeout:
		return "simulate-timeout"
	case eventFlush:
		return "flush"
	case eventTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// startRequest carries the arguments of StartServerTransfer and
// StartClientTransfer through the queue.
type startRequest struct {
	kind          TransferKind
	transferID    uint32
	resourceID    uint32
	params        Parameters
	timeout       time.Duration
	initialOffset uint64
}

// event is the tagged union delivered to the worker. Chunk-bearing events
// reference a pooled buffer that the worker returns after decoding.
type event struct {
	kind eventKind

	// add/remove handler
	transferID uint32
	handler    Handler

	// new transfer
	start startRequest

	// chunk received; buf[:n] is the serialized chunk
	buf []byte
	n   int

	// simulate-timeout
	leg leg

	// flush
	done chan struct{}
}

// bufferPool is a fixed free list of chunk-sized byte buffers shared by
// chunk-bearing events. Taking a buffer blocks when the pool is empty, so
// producers are throttled rather than the pool growing.
type bufferPool struct {
	free chan []byte
}

func newBufferPool(count, size int) *bufferPool {
	p := &bufferPool{free: make(chan []byte, count)}
	for i := 0; i < count; i++ {
		p.free <- make([]byte, size)
	}
	return p
}

// take returns a free buffer, blocking while the pool is empty. A close
// of cancel aborts the wait with ok false.
func (p *bufferPool) take(cancel <-chan struct{}) ([]byte, bool) {
	select {
	case buf := <-p.free:
		return buf, true
	case <-cancel:
		return nil, false
	}
}

func (p *bufferPool) put(buf []byte) {
	p.free <- buf
}

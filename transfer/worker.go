package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/decred/dcrd/lru"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chunkflow/wire"
)

// ErrWorkerTerminated indicates an operation was submitted to a worker
// that has already exited its event loop.
var ErrWorkerTerminated = errors.New("transfer: worker terminated")

// chunkOverhead is the worst-case encoded size of a chunk beyond its data
// payload: header plus every optional field and the payload length prefix.
const chunkOverhead = 6 + 8 + 8 + 4 + 4 + 4 + 2

// Sender carries serialized chunks to the peer. The surrounding RPC layer
// supplies one per stream; the engine only knows "send bytes out".
type Sender interface {
	Send(chunk []byte) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(chunk []byte) error

// Send implements Sender.
func (f SenderFunc) Send(chunk []byte) error { return f(chunk) }

// terminatedKey addresses the recently-terminated cache. Client and server
// legs have independent transfer id spaces.
type terminatedKey struct {
	leg        leg
	transferID uint32
}

// Worker is the transfer engine: a single goroutine owns every piece of
// mutable transfer state and consumes typed events from a bounded queue.
// Producers (RPC callbacks, the application control plane) only ever touch
// the queue, so the protocol state machine itself needs no locks.
type Worker struct {
	cfg      Config
	clock    TimeProvider
	registry *Registry

	events chan event
	pool   *bufferPool

	// senders and tables are indexed by leg.
	senders [2]Sender
	tables  [2]*contextTable

	// terminated remembers the final status of recently finished
	// transfers so a late chunk is answered with that status instead of a
	// misleading NotFound.
	terminated lru.KVCache

	encodeBuf []byte
	readBuf   []byte
	timer     *time.Timer

	done chan struct{}
}

// NewWorker builds a worker with the given configuration and per-leg chunk
// senders. Either sender may be nil if the corresponding leg is unused;
// outbound chunks on a nil leg are dropped with a log line. The worker
// does not run until the owner calls Run on a goroutine of its choosing.
func NewWorker(cfg Config, clientSender, serverSender Sender) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("transfer: invalid config: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = DefaultTimeProvider{}
	}

	w := &Worker{
		cfg:        cfg,
		clock:      clock,
		registry:   NewRegistry(),
		events:     make(chan event, cfg.EventQueueSize),
		pool:       newBufferPool(cfg.EventQueueSize, cfg.MaxChunkDataSize+chunkOverhead),
		terminated: lru.NewKVCache(uint(cfg.TerminatedHistory)),
		encodeBuf:  make([]byte, cfg.MaxChunkDataSize+chunkOverhead),
		readBuf:    make([]byte, cfg.MaxChunkDataSize),
		timer:      time.NewTimer(time.Hour),
		done:       make(chan struct{}),
	}
	w.senders[legClient] = clientSender
	w.senders[legServer] = serverSender
	w.tables[legClient] = newContextTable(cfg.MaxConcurrentTransfers)
	w.tables[legServer] = newContextTable(cfg.MaxConcurrentTransfers)
	if !w.timer.Stop() {
		<-w.timer.C
	}

	logrus.WithFields(logrus.Fields{
		"function":        "NewWorker",
		"max_transfers":   cfg.MaxConcurrentTransfers,
		"queue_size":      cfg.EventQueueSize,
		"max_chunk_bytes": cfg.MaxChunkDataSize,
		"chunk_timeout":   cfg.ChunkTimeout,
		"max_retries":     cfg.MaxRetries,
	}).Info("Transfer worker created")

	return w, nil
}

// Run executes the event loop until a Terminate event is observed. It is
// the single place all transfer state is mutated; the caller supplies the
// goroutine, matching deployments where thread creation is owned by the
// application.
func (w *Worker) Run() {
	logrus.WithField("function", "Run").Info("Transfer worker loop started")
	defer close(w.done)

	for {
		timerC := w.armTimer()
		select {
		case ev := <-w.events:
			if ev.kind == eventTerminate {
				w.shutdown()
				return
			}
			w.dispatch(ev)
		case <-timerC:
			w.checkDeadlines()
		}
	}
}

// armTimer points the worker's single retry timer at the earliest pending
// deadline across all live contexts. With no deadlines the returned
// channel is nil and the select blocks on events alone.
func (w *Worker) armTimer() <-chan time.Time {
	if !w.timer.Stop() {
		select {
		case <-w.timer.C:
		default:
		}
	}

	var next time.Time
	for _, table := range w.tables {
		table.each(func(c *transferContext) {
			if c.deadline.IsZero() {
				return
			}
			if next.IsZero() || c.deadline.Before(next) {
				next = c.deadline
			}
		})
	}
	if next.IsZero() {
		return nil
	}

	d := next.Sub(w.clock.Now())
	if d < 0 {
		d = 0
	}
	w.timer.Reset(d)
	return w.timer.C
}

// checkDeadlines fires timeout handling for every context whose deadline
// has passed.
func (w *Worker) checkDeadlines() {
	now := w.clock.Now()
	for _, table := range w.tables {
		table.each(func(c *transferContext) {
			if !c.deadline.IsZero() && !c.deadline.After(now) {
				w.handleContextTimeout(c)
			}
		})
	}
}

// dispatch routes one event by tag.
func (w *Worker) dispatch(ev event) {
	logrus.WithFields(logrus.Fields{
		"function": "dispatch",
		"event":    ev.kind,
	}).Debug("Processing event")

	switch ev.kind {
	case eventAddHandler:
		w.registry.Add(ev.transferID, ev.handler)
	case eventRemoveHandler:
		w.registry.Remove(ev.transferID)
		w.abortUnstarted(ev.transferID)
	case eventNewServerTransfer:
		w.beginTransfer(legServer, ev.start)
	case eventNewClientTransfer:
		w.beginTransfer(legClient, ev.start)
	case eventServerChunk:
		w.processChunk(legServer, ev)
	case eventClientChunk:
		w.processChunk(legClient, ev)
	case eventSimulateTimeout:
		if c := w.tables[ev.leg].lookup(ev.transferID); c != nil {
			w.handleContextTimeout(c)
		}
	case eventFlush:
		close(ev.done)
	}
}

// abortUnstarted implements the handler-removal policy: a transfer that
// has not reached Active when its handler disappears aborts with NotFound;
// one that is already active runs to its natural terminal state.
func (w *Worker) abortUnstarted(transferID uint32) {
	for _, table := range w.tables {
		if c := table.lookup(transferID); c != nil && c.state == StateInitiating {
			logrus.WithFields(logrus.Fields{
				"function":    "abortUnstarted",
				"leg":         c.leg,
				"transfer_id": transferID,
			}).Warn("Handler removed before transfer became active")
			w.finishTransfer(c, wire.StatusNotFound, true)
		}
	}
}

// processChunk decodes inbound chunk bytes and routes them. Decode
// failures produce a single InvalidArgument status chunk addressed with
// whatever transfer id could be recovered, or a silent drop when not even
// that survives. Chunks for unknown transfers get the cached terminal
// status if the transfer recently finished, NotFound otherwise.
func (w *Worker) processChunk(l leg, ev event) {
	data := ev.buf[:ev.n]
	chunk, err := wire.Decode(data)
	if err != nil {
		transferID, ok := wire.RecoverTransferID(data)
		w.pool.put(ev.buf)

		logrus.WithFields(logrus.Fields{
			"function":     "processChunk",
			"leg":          l,
			"recovered_id": transferID,
			"error":        err.Error(),
		}).Warn("Dropping malformed chunk")

		if ok {
			w.sendStatusChunk(l, transferID, wire.StatusInvalidArgument)
		}
		return
	}
	w.pool.put(ev.buf)

	c := w.tables[l].lookup(chunk.TransferID)
	if c == nil {
		w.handleStrayChunk(l, &chunk)
		return
	}
	w.handleChunk(c, &chunk)
}

// handleStrayChunk answers chunks for transfers this worker is not
// tracking. Recently terminated transfers get their terminal status
// re-sent; completions are acknowledged so the peer stops retrying; acks
// are dropped; anything else is NotFound.
func (w *Worker) handleStrayChunk(l leg, chunk *wire.Chunk) {
	log := logrus.WithFields(logrus.Fields{
		"function":    "handleStrayChunk",
		"leg":         l,
		"transfer_id": chunk.TransferID,
		"chunk_type":  chunk.Type,
	})

	if v, ok := w.terminated.Lookup(terminatedKey{leg: l, transferID: chunk.TransferID}); ok {
		if chunk.Type == wire.TypeCompletionAck {
			return
		}
		log.Debug("Late chunk for terminated transfer, re-sending terminal status")
		w.sendStatusChunk(l, chunk.TransferID, v.(wire.Status))
		return
	}

	switch chunk.Type {
	case wire.TypeCompletionAck:
		log.Debug("Dropping ack for unknown transfer")
	case wire.TypeCompletion:
		// Acknowledge so the peer's completion retry loop ends.
		log.Debug("Acknowledging completion for unknown transfer")
		ack := wire.Chunk{Type: wire.TypeCompletionAck, TransferID: chunk.TransferID}
		w.sendChunk(l, &ack)
	default:
		log.Warn("Chunk for unknown transfer")
		w.sendStatusChunk(l, chunk.TransferID, wire.StatusNotFound)
	}
}

// sendChunk encodes and transmits one outbound chunk on the given leg.
// Encode or transport failures are local, non-fatal: the operation is
// dropped and logged, and the retry machinery recovers what matters.
func (w *Worker) sendChunk(l leg, chunk *wire.Chunk) {
	sender := w.senders[l]
	if sender == nil {
		logrus.WithFields(logrus.Fields{
			"function":   "sendChunk",
			"leg":        l,
			"chunk_type": chunk.Type,
		}).Debug("No sender for leg, dropping chunk")
		return
	}

	n, err := chunk.Encode(w.encodeBuf)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "sendChunk",
			"leg":         l,
			"transfer_id": chunk.TransferID,
			"chunk_type":  chunk.Type,
			"error":       err.Error(),
		}).Error("Failed to encode chunk")
		return
	}

	if err := sender.Send(w.encodeBuf[:n]); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "sendChunk",
			"leg":         l,
			"transfer_id": chunk.TransferID,
			"chunk_type":  chunk.Type,
			"error":       err.Error(),
		}).Warn("Failed to send chunk")
	}
}

// shutdown aborts every live transfer before the loop exits. Handlers are
// finalized with Aborted and peers get a best-effort terminal status.
// Events still queued are drained so their pooled buffers are not
// stranded and pending flush waiters are released.
func (w *Worker) shutdown() {
	logrus.WithField("function", "shutdown").Info("Transfer worker terminating")
	for _, table := range w.tables {
		table.each(func(c *transferContext) {
			w.finishTransfer(c, wire.StatusAborted, true)
		})
	}

	for {
		select {
		case ev := <-w.events:
			switch ev.kind {
			case eventServerChunk, eventClientChunk:
				w.pool.put(ev.buf)
			case eventFlush:
				close(ev.done)
			}
		default:
			return
		}
	}
}

// enqueue submits an event, blocking while the queue is full. It fails
// when the worker has already terminated. The termination check runs
// before the send is attempted: a free queue slot must not mask a dead
// worker.
func (w *Worker) enqueue(ev event) error {
	select {
	case <-w.done:
		return ErrWorkerTerminated
	default:
	}
	select {
	case w.events <- ev:
		return nil
	case <-w.done:
		return ErrWorkerTerminated
	}
}

// AddTransferHandler registers a handler for a transfer id. Safe to call
// from any goroutine; the registration takes effect when the worker
// reaches the event in queue order.
func (w *Worker) AddTransferHandler(transferID uint32, handler Handler) error {
	if handler == nil {
		return wire.NewError(wire.StatusInvalidArgument, "nil handler")
	}
	return w.enqueue(event{kind: eventAddHandler, transferID: transferID, handler: handler})
}

// RemoveTransferHandler removes the handler for a transfer id. A transfer
// already active for the id runs to its natural terminal state; one still
// initiating aborts with NotFound.
func (w *Worker) RemoveTransferHandler(transferID uint32) error {
	return w.enqueue(event{kind: eventRemoveHandler, transferID: transferID})
}

// StartServerTransfer begins a transfer on the server leg, typically in
// response to a peer's start chunk decoded by the RPC layer. For transmit
// transfers params carries the peer's announced window limits. A
// non-positive timeout uses the configured default.
func (w *Worker) StartServerTransfer(kind TransferKind, transferID, resourceID uint32, params Parameters, timeout time.Duration, initialOffset uint64) error {
	if err := params.Validate(); err != nil {
		return err
	}
	return w.enqueue(event{kind: eventNewServerTransfer, start: startRequest{
		kind:          kind,
		transferID:    transferID,
		resourceID:    resourceID,
		params:        params,
		timeout:       timeout,
		initialOffset: initialOffset,
	}})
}

// StartClientTransfer begins a transfer on the client leg, initiating the
// exchange with the peer.
func (w *Worker) StartClientTransfer(kind TransferKind, transferID, resourceID uint32, params Parameters, timeout time.Duration, initialOffset uint64) error {
	if err := params.Validate(); err != nil {
		return err
	}
	return w.enqueue(event{kind: eventNewClientTransfer, start: startRequest{
		kind:          kind,
		transferID:    transferID,
		resourceID:    resourceID,
		params:        params,
		timeout:       timeout,
		initialOffset: initialOffset,
	}})
}

// ProcessServerChunk delivers serialized chunk bytes that arrived on the
// server leg. The bytes are copied into a pooled buffer before this call
// returns; the caller may reuse data immediately.
func (w *Worker) ProcessServerChunk(data []byte) error {
	return w.processInbound(eventServerChunk, data)
}

// ProcessClientChunk delivers serialized chunk bytes that arrived on the
// client leg.
func (w *Worker) ProcessClientChunk(data []byte) error {
	return w.processInbound(eventClientChunk, data)
}

func (w *Worker) processInbound(kind eventKind, data []byte) error {
	if len(data) > w.cfg.MaxChunkDataSize+chunkOverhead {
		logrus.WithFields(logrus.Fields{
			"function": "processInbound",
			"size":     len(data),
			"capacity": w.cfg.MaxChunkDataSize + chunkOverhead,
		}).Error("Inbound chunk exceeds buffer capacity")
		return wire.NewError(wire.StatusResourceExhausted,
			fmt.Sprintf("chunk of %d bytes exceeds buffer capacity", len(data)))
	}

	buf, ok := w.pool.take(w.done)
	if !ok {
		return ErrWorkerTerminated
	}
	n := copy(buf, data)
	if err := w.enqueue(event{kind: kind, buf: buf, n: n}); err != nil {
		w.pool.put(buf)
		return err
	}
	return nil
}

// Terminate asks the worker to exit and blocks until the loop has
// finished. Live transfers abort with Aborted and their handlers are
// finalized. Terminating an already terminated worker returns
// immediately.
func (w *Worker) Terminate() {
	select {
	case w.events <- event{kind: eventTerminate}:
	case <-w.done:
	}
	<-w.done
}

// WaitUntilEventIsProcessed blocks until every event submitted before this
// call has been fully processed. Intended for deterministic tests, not
// required for production operation.
func (w *Worker) WaitUntilEventIsProcessed() error {
	done := make(chan struct{})
	if err := w.enqueue(event{kind: eventFlush, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-w.done:
		return ErrWorkerTerminated
	}
}

// SimulateClientTimeout forces timeout handling for a client-leg transfer,
// as if its retry deadline had expired. Test hook.
func (w *Worker) SimulateClientTimeout(transferID uint32) error {
	return w.enqueue(event{kind: eventSimulateTimeout, leg: legClient, transferID: transferID})
}

// SimulateServerTimeout forces timeout handling for a server-leg transfer.
// Test hook.
func (w *Worker) SimulateServerTimeout(transferID uint32) error {
	return w.enqueue(event{kind: eventSimulateTimeout, leg: legServer, transferID: transferID})
}

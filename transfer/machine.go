package transfer

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chunkflow/wire"
)

// beginTransfer allocates a context slot, resolves the handler, runs the
// appropriate Prepare hook, and sends the opening chunk. Any failure on
// the way aborts the transfer with a terminal status chunk to the peer.
func (w *Worker) beginTransfer(l leg, req startRequest) {
	log := logrus.WithFields(logrus.Fields{
		"function":    "beginTransfer",
		"leg":         l,
		"kind":        req.kind,
		"transfer_id": req.transferID,
		"resource_id": req.resourceID,
	})

	table := w.tables[l]
	if existing := table.lookup(req.transferID); existing != nil {
		log.WithField("state", existing.state).Warn("Transfer id already active, dropping duplicate start")
		return
	}

	c := table.allocate()
	if c == nil {
		log.Warn("Transfer context table full")
		w.sendStatusChunk(l, req.transferID, wire.StatusResourceExhausted)
		return
	}

	c.kind = req.kind
	c.leg = l
	c.transferID = req.transferID
	c.resourceID = req.resourceID
	c.params = req.params
	// The negotiated chunk size can never exceed the fixed buffers this
	// worker was constructed with.
	if c.params.MaxChunkSizeBytes > uint32(w.cfg.MaxChunkDataSize) {
		c.params.MaxChunkSizeBytes = uint32(w.cfg.MaxChunkDataSize)
	}
	c.offset = req.initialOffset
	c.ackedOffset = req.initialOffset
	c.timeout = req.timeout
	if c.timeout <= 0 {
		c.timeout = w.cfg.ChunkTimeout
	}
	c.state = StateInitiating

	handler, ok := w.registry.Lookup(req.transferID)
	if !ok {
		log.Warn("No handler registered for transfer")
		c.terminalStatus = wire.StatusNotFound
		w.finishTransfer(c, wire.StatusNotFound, true)
		return
	}
	c.handler = handler

	if req.kind == TransferTransmit {
		w.beginTransmit(c)
	} else {
		w.beginReceive(c)
	}
}

// beginTransmit binds the read side of the handler and opens transmission.
// On the server leg the peer's start already carried its window limits, so
// the transfer goes straight to Active and fills the window. On the client
// leg a start chunk proposing our limits is sent and the window waits for
// the peer's start-ack.
func (w *Worker) beginTransmit(c *transferContext) {
	if err := c.handler.PrepareRead(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "beginTransmit",
			"transfer_id": c.transferID,
			"error":       err.Error(),
		}).Warn("Handler refused read")
		w.finishTransfer(c, wire.StatusFromError(err), true)
		return
	}
	c.prepared = true
	c.reader = c.handler.Reader()

	if _, err := c.reader.Seek(int64(c.offset), io.SeekStart); err != nil {
		w.finishTransfer(c, wire.StatusInternal, true)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    "beginTransmit",
		"leg":         c.leg,
		"transfer_id": c.transferID,
		"offset":      c.offset,
	}).Info("Transmit transfer started")

	if c.leg == legServer {
		// Window limits arrived with the peer's start chunk.
		c.windowEndOffset = c.offset + uint64(c.params.MaxPendingBytes)
		c.state = StateActive
		w.fillWindow(c)
		return
	}

	w.sendOpening(c, wire.TypeStart)
	w.armRetry(c)
}

// beginReceive binds the write side of the handler and announces the
// receive window: a start chunk on the client leg, a start-ack on the
// server leg where the peer initiated.
func (w *Worker) beginReceive(c *transferContext) {
	if err := c.handler.PrepareWrite(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "beginReceive",
			"transfer_id": c.transferID,
			"error":       err.Error(),
		}).Warn("Handler refused write")
		w.finishTransfer(c, wire.StatusFromError(err), true)
		return
	}
	c.prepared = true
	c.writer = c.handler.Writer()
	c.windowEndOffset = c.offset + uint64(c.params.MaxPendingBytes)

	logrus.WithFields(logrus.Fields{
		"function":    "beginReceive",
		"leg":         c.leg,
		"transfer_id": c.transferID,
		"offset":      c.offset,
		"window_end":  c.windowEndOffset,
	}).Info("Receive transfer started")

	opening := wire.TypeStart
	if c.leg == legServer {
		opening = wire.TypeStartAck
	}
	w.sendOpening(c, opening)
	c.state = StateInitiating
	w.armRetry(c)
}

// sendOpening emits the window-opening chunk carrying this side's limits.
func (w *Worker) sendOpening(c *transferContext, typ wire.Type) {
	chunk := wire.Chunk{Type: typ, TransferID: c.transferID}
	chunk.SetOffset(c.offset)
	chunk.SetWindowEndOffset(c.offset + uint64(c.params.MaxPendingBytes))
	chunk.SetPendingBytes(c.params.MaxPendingBytes)
	chunk.SetMaxChunkSize(c.params.MaxChunkSizeBytes)
	w.sendChunk(c.leg, &chunk)
}

// handleChunk advances a context with one decoded inbound chunk.
func (w *Worker) handleChunk(c *transferContext, chunk *wire.Chunk) {
	if c.kind == TransferTransmit {
		w.handleTransmitChunk(c, chunk)
	} else {
		w.handleReceiveChunk(c, chunk)
	}
}

// handleTransmitChunk drives the transmit state machine: window chunks
// reopen or extend the outbound window, completion-ack closes the
// transfer, and a peer completion terminates it with the peer's status.
func (w *Worker) handleTransmitChunk(c *transferContext, chunk *wire.Chunk) {
	switch c.state {
	case StateInitiating:
		switch chunk.Type {
		case wire.TypeStartAck, wire.TypeParametersRetransmit:
			w.adoptWindow(c, chunk, true)
		case wire.TypeCompletion:
			w.sendAck(c)
			w.finishTransfer(c, chunk.Status, false)
		default:
			// The window-opening exchange is the one place a stray chunk
			// cannot be ignored: nothing valid can follow it.
			logrus.WithFields(logrus.Fields{
				"function":    "handleTransmitChunk",
				"transfer_id": c.transferID,
				"chunk_type":  chunk.Type,
			}).Warn("Unexpected chunk while awaiting window open")
			w.finishTransfer(c, wire.StatusInvalidArgument, true)
		}

	case StateActive:
		switch chunk.Type {
		case wire.TypeParametersRetransmit:
			w.adoptWindow(c, chunk, true)
		case wire.TypeParametersContinue:
			w.adoptWindow(c, chunk, false)
		case wire.TypeCompletion:
			w.sendAck(c)
			w.finishTransfer(c, chunk.Status, false)
		case wire.TypeCompletionAck:
			// Stray ack; nothing to do.
		default:
			w.rejectChunk(c, chunk)
		}

	case StateCompleting:
		switch chunk.Type {
		case wire.TypeCompletionAck:
			w.finishTransfer(c, c.terminalStatus, false)
		case wire.TypeParametersRetransmit:
			// The peer missed part of the stream after our completion was
			// sent; reopen the window from the requested offset.
			c.state = StateActive
			w.adoptWindow(c, chunk, true)
		case wire.TypeParametersContinue:
			// Completion already covers the extended window.
		default:
			w.rejectChunk(c, chunk)
		}
	}
}

// adoptWindow applies a peer window chunk to a transmit context. With
// rewind the reader seeks back to the peer's offset; without it only the
// window end moves forward. Duplicate continues that do not move the
// window are ignored so re-processing an acknowledged window is harmless.
func (w *Worker) adoptWindow(c *transferContext, chunk *wire.Chunk, rewind bool) {
	target := chunk.Offset
	if target > c.offset {
		logrus.WithFields(logrus.Fields{
			"function":    "adoptWindow",
			"transfer_id": c.transferID,
			"requested":   target,
			"sent_up_to":  c.offset,
		}).Warn("Peer requested retransmission beyond transmitted data")
		w.rejectChunk(c, chunk)
		return
	}

	windowEnd := clampWindowEnd(target, chunk.WindowEndOffset, chunk.PendingBytes)
	if !rewind && windowEnd <= c.windowEndOffset {
		// Duplicate or stale continue; the window it describes was already
		// opened and (possibly) transmitted.
		c.ackedOffset = target
		c.retries = 0
		w.armRetry(c)
		return
	}

	if rewind && target != c.offset {
		if _, err := c.reader.Seek(int64(target), io.SeekStart); err != nil {
			w.finishTransfer(c, wire.StatusInternal, true)
			return
		}
		c.offset = target
	}

	c.windowEndOffset = windowEnd
	c.ackedOffset = target
	if chunk.HasMaxChunkSize && chunk.MaxChunkSizeBytes < c.params.MaxChunkSizeBytes {
		c.params.MaxChunkSizeBytes = chunk.MaxChunkSizeBytes
	}
	c.retries = 0
	if c.state == StateInitiating {
		c.state = StateActive
	}
	w.fillWindow(c)
}

// fillWindow emits data chunks in strictly increasing offset order until
// the window is exhausted or the source drains. End of source sends a
// completion chunk instead of further data.
func (w *Worker) fillWindow(c *transferContext) {
	maxChunk := c.params.MaxChunkSizeBytes
	if maxChunk > uint32(len(w.readBuf)) {
		maxChunk = uint32(len(w.readBuf))
	}

	for {
		n := nextPayloadLen(c.offset, c.windowEndOffset, maxChunk)
		if n == 0 {
			// Window exhausted; wait for the peer to extend it.
			w.armRetry(c)
			return
		}

		m, err := io.ReadFull(c.reader, w.readBuf[:n])
		if m > 0 {
			chunk := wire.Chunk{Type: wire.TypeData, TransferID: c.transferID}
			chunk.SetOffset(c.offset)
			chunk.SetData(w.readBuf[:m])
			w.sendChunk(c.leg, &chunk)
			c.offset += uint64(m)
		}

		switch {
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			logrus.WithFields(logrus.Fields{
				"function":    "fillWindow",
				"transfer_id": c.transferID,
				"offset":      c.offset,
			}).Info("Source drained, sending completion")
			c.terminalStatus = wire.StatusOk
			w.sendStatusChunk(c.leg, c.transferID, wire.StatusOk)
			c.state = StateCompleting
			c.retries = 0
			w.armRetry(c)
			return
		case err != nil:
			logrus.WithFields(logrus.Fields{
				"function":    "fillWindow",
				"transfer_id": c.transferID,
				"error":       err.Error(),
			}).Error("Source read failed")
			w.finishTransfer(c, wire.StatusFromError(err), true)
			return
		}
	}
}

// handleReceiveChunk drives the receive state machine: in-order data is
// written through the handler, gaps trigger a retransmit request, and a
// completion finalizes the sink and acknowledges the peer.
func (w *Worker) handleReceiveChunk(c *transferContext, chunk *wire.Chunk) {
	if c.state == StateInitiating {
		// Any valid chunk from the peer acknowledges the opening.
		c.state = StateActive
	}

	switch chunk.Type {
	case wire.TypeData:
		w.receiveData(c, chunk)
	case wire.TypeCompletion:
		status := chunk.Status
		w.sendAck(c)
		w.finishTransfer(c, status, false)
	case wire.TypeCompletionAck:
		// Stray ack; nothing to do.
	default:
		w.rejectChunk(c, chunk)
	}
}

// receiveData writes one in-order data chunk and manages the receive
// window, extending it once half has been consumed. Payloads that exceed
// the negotiated chunk size or run past the open window never reach the
// sink: the offset must stay inside the window the peer was granted.
func (w *Worker) receiveData(c *transferContext, chunk *wire.Chunk) {
	if chunk.Offset != c.offset {
		logrus.WithFields(logrus.Fields{
			"function":    "receiveData",
			"transfer_id": c.transferID,
			"expected":    c.offset,
			"received":    chunk.Offset,
		}).Warn("Out-of-order data chunk, requesting retransmission")
		w.sendWindow(c, wire.TypeParametersRetransmit)
		c.retries = 0
		w.armRetry(c)
		return
	}

	if uint64(len(chunk.Data)) > uint64(c.params.MaxChunkSizeBytes) {
		logrus.WithFields(logrus.Fields{
			"function":    "receiveData",
			"transfer_id": c.transferID,
			"size":        len(chunk.Data),
			"max_chunk":   c.params.MaxChunkSizeBytes,
		}).Warn("Data chunk exceeds negotiated chunk size")
		w.sendStatusChunk(c.leg, c.transferID, wire.StatusInvalidArgument)
		w.armRetry(c)
		return
	}

	if chunk.Offset+uint64(len(chunk.Data)) > c.windowEndOffset {
		logrus.WithFields(logrus.Fields{
			"function":    "receiveData",
			"transfer_id": c.transferID,
			"chunk_end":   chunk.Offset + uint64(len(chunk.Data)),
			"window_end":  c.windowEndOffset,
		}).Warn("Data chunk runs past the open window, requesting retransmission")
		w.sendWindow(c, wire.TypeParametersRetransmit)
		c.retries = 0
		w.armRetry(c)
		return
	}

	if len(chunk.Data) > 0 {
		if _, err := c.writer.Write(chunk.Data); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "receiveData",
				"transfer_id": c.transferID,
				"offset":      c.offset,
				"error":       err.Error(),
			}).Error("Sink write failed")
			w.finishTransfer(c, wire.StatusDataLoss, true)
			return
		}
		c.offset += uint64(len(chunk.Data))
	}

	c.retries = 0
	if c.offset >= c.windowEndOffset ||
		c.windowEndOffset-c.offset <= uint64(c.params.MaxPendingBytes)/2 {
		w.sendWindow(c, wire.TypeParametersContinue)
	}
	w.armRetry(c)
}

// sendWindow announces the receive window anchored at the current offset.
func (w *Worker) sendWindow(c *transferContext, typ wire.Type) {
	c.windowEndOffset = c.offset + uint64(c.params.MaxPendingBytes)

	chunk := wire.Chunk{Type: typ, TransferID: c.transferID}
	chunk.SetOffset(c.offset)
	chunk.SetWindowEndOffset(c.windowEndOffset)
	chunk.SetPendingBytes(c.params.MaxPendingBytes)
	chunk.SetMaxChunkSize(c.params.MaxChunkSizeBytes)
	w.sendChunk(c.leg, &chunk)
}

// rejectChunk answers a chunk that is valid on the wire but wrong for the
// context's state. The transfer itself stays where it is.
func (w *Worker) rejectChunk(c *transferContext, chunk *wire.Chunk) {
	logrus.WithFields(logrus.Fields{
		"function":    "rejectChunk",
		"transfer_id": c.transferID,
		"state":       c.state,
		"kind":        c.kind,
		"chunk_type":  chunk.Type,
	}).Warn("Chunk not valid for transfer state")
	w.sendStatusChunk(c.leg, c.transferID, wire.StatusInvalidArgument)
}

// sendAck emits a completion-ack for the context.
func (w *Worker) sendAck(c *transferContext) {
	chunk := wire.Chunk{Type: wire.TypeCompletionAck, TransferID: c.transferID}
	w.sendChunk(c.leg, &chunk)
}

// handleContextTimeout retransmits the last expected exchange for a
// context whose retry deadline passed, aborting with DeadlineExceeded once
// the retry budget is spent.
func (w *Worker) handleContextTimeout(c *transferContext) {
	c.retries++
	if c.retries > w.cfg.MaxRetries {
		logrus.WithFields(logrus.Fields{
			"function":    "handleContextTimeout",
			"transfer_id": c.transferID,
			"state":       c.state,
			"retries":     c.retries - 1,
		}).Warn("Retry budget exhausted, aborting transfer")
		w.finishTransfer(c, wire.StatusDeadlineExceeded, true)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    "handleContextTimeout",
		"transfer_id": c.transferID,
		"state":       c.state,
		"kind":        c.kind,
		"retry":       c.retries,
	}).Debug("Chunk timeout, retransmitting")

	switch {
	case c.kind == TransferReceive:
		// Re-announce the window; a retransmit anchors the peer back to
		// our current offset whatever was lost.
		if c.state == StateInitiating {
			opening := wire.TypeStart
			if c.leg == legServer {
				opening = wire.TypeStartAck
			}
			w.sendOpening(c, opening)
		} else {
			w.sendWindow(c, wire.TypeParametersRetransmit)
		}
	case c.state == StateInitiating:
		w.sendOpening(c, wire.TypeStart)
	case c.state == StateCompleting:
		w.sendStatusChunk(c.leg, c.transferID, c.terminalStatus)
	default:
		// Re-send the last window from the highest acknowledged offset.
		if c.offset != c.ackedOffset {
			if _, err := c.reader.Seek(int64(c.ackedOffset), io.SeekStart); err != nil {
				w.finishTransfer(c, wire.StatusInternal, true)
				return
			}
			c.offset = c.ackedOffset
		}
		w.fillWindow(c)
		return
	}
	w.armRetry(c)
}

// finishTransfer moves a context to Terminated: a best-effort terminal
// status chunk when requested, exactly one Finalize call when the handler
// was prepared, the terminal status recorded for late chunks, and the
// slot released.
func (w *Worker) finishTransfer(c *transferContext, status wire.Status, sendStatus bool) {
	if !c.active() {
		return
	}
	if sendStatus {
		c.state = StateAborting
		w.sendStatusChunk(c.leg, c.transferID, status)
	}

	if c.prepared {
		if c.kind == TransferTransmit {
			c.handler.FinalizeRead(status)
		} else {
			if err := c.handler.FinalizeWrite(status); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":    "finishTransfer",
					"transfer_id": c.transferID,
					"error":       err.Error(),
				}).Warn("FinalizeWrite failed")
				if status.OK() {
					status = wire.StatusDataLoss
				}
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "finishTransfer",
		"leg":         c.leg,
		"transfer_id": c.transferID,
		"kind":        c.kind,
		"status":      status,
		"offset":      c.offset,
	}).Info("Transfer terminated")

	c.state = StateTerminated
	w.terminated.Add(terminatedKey{leg: c.leg, transferID: c.transferID}, status)
	c.reset()
}

// sendStatusChunk emits a completion chunk carrying a terminal status.
func (w *Worker) sendStatusChunk(l leg, transferID uint32, status wire.Status) {
	chunk := wire.Chunk{Type: wire.TypeCompletion, TransferID: transferID}
	chunk.SetStatus(status)
	w.sendChunk(l, &chunk)
}

// armRetry schedules the context's next retry deadline.
func (w *Worker) armRetry(c *transferContext) {
	c.deadline = w.clock.Now().Add(c.timeout)
}

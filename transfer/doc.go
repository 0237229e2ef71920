// Package transfer implements a reliable, chunked, flow-controlled
// data-transfer engine for moving byte streams over an unreliable,
// message-oriented transport.
//
// # Overview
//
// All transfer state is owned by a single Worker goroutine fed by a
// bounded event queue. Producers (transport callbacks, the application
// control plane) enqueue typed events and never touch transfer state, so
// the protocol state machine runs without locks.
//
//	worker, err := transfer.NewWorker(transfer.DefaultConfig(), clientSender, serverSender)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go worker.Run()
//
//	worker.AddTransferHandler(3, handler)
//	worker.StartServerTransfer(transfer.TransferTransmit, 3, 3, params, 0, 0)
//
// # Handlers
//
// A Handler binds a transfer id to a byte source or sink. The engine
// borrows it for the duration of a transfer: PrepareRead/PrepareWrite once
// at the start, Reader/Writer during, FinalizeRead/FinalizeWrite exactly
// once at the end with the terminal status. Handler methods run on the
// worker goroutine and must not block.
//
// # Flow control
//
// The receiver opens a window with its start (or start-ack) chunk and
// extends it with parameters-continue chunks as data is consumed; a gap in
// the stream triggers a parameters-retransmit that rewinds the
// transmitter. Each side retries its last expected exchange on a fixed
// timeout, aborting with DeadlineExceeded when the retry budget runs out.
//
// # Shutdown
//
// Terminate stops the loop after aborting live transfers with Aborted and
// finalizing their handlers. WaitUntilEventIsProcessed flushes the queue
// for deterministic tests.
package transfer

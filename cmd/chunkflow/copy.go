package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opd-ai/chunkflow/resource"
	"github.com/opd-ai/chunkflow/transfer"
	"github.com/opd-ai/chunkflow/wire"
)

// demoTransferID is the transfer id both sides of the loopback agree on.
const demoTransferID = 1

var copyCmd = &cobra.Command{
	Use:   "copy <source> <destination>",
	Short: "Copy a file through a loopback pair of transfer workers",
	Args:  cobra.ExactArgs(2),
	RunE:  runCopy,
}

// initiatorLink carries the client leg's outbound chunks to the peer
// worker, playing the role of the RPC service stub: start chunks become
// StartServerTransfer calls, everything else is delivered as server-leg
// chunk bytes. A full peer queue blocks the sending worker; real
// transports decouple the two sides.
type initiatorLink struct {
	peer    *transfer.Worker
	timeout time.Duration
}

func (l *initiatorLink) Send(chunk []byte) error {
	c, err := wire.Decode(chunk)
	if err == nil && c.Type == wire.TypeStart {
		params := transfer.Parameters{
			MaxPendingBytes:   c.PendingBytes,
			MaxChunkSizeBytes: c.MaxChunkSizeBytes,
		}
		return l.peer.StartServerTransfer(transfer.TransferTransmit,
			c.TransferID, c.TransferID, params, l.timeout, c.Offset)
	}
	return l.peer.ProcessServerChunk(chunk)
}

func runCopy(cmd *cobra.Command, args []string) error {
	source, destination := args[0], args[1]
	session := uuid.NewString()

	params := transfer.Parameters{
		MaxPendingBytes:   viper.GetUint32("pending-bytes"),
		MaxChunkSizeBytes: viper.GetUint32("chunk-size"),
	}
	if err := params.Validate(); err != nil {
		return err
	}
	timeout := viper.GetDuration("chunk-timeout")

	log := logrus.WithFields(logrus.Fields{
		"function":    "runCopy",
		"session":     session,
		"source":      source,
		"destination": destination,
	})
	log.Info("Starting loopback copy")

	cfg := transfer.DefaultConfig()
	if timeout > 0 {
		cfg.ChunkTimeout = timeout
	}

	// The responder transmits the source file on its server leg; its
	// outbound chunks land on the initiator's client leg.
	var initiator *transfer.Worker
	responder, err := transfer.NewWorker(cfg, nil, transfer.SenderFunc(func(chunk []byte) error {
		return initiator.ProcessClientChunk(chunk)
	}))
	if err != nil {
		return err
	}

	initiator, err = transfer.NewWorker(cfg, &initiatorLink{peer: responder, timeout: timeout}, nil)
	if err != nil {
		return err
	}

	go responder.Run()
	go initiator.Run()
	defer responder.Terminate()
	defer initiator.Terminate()

	if err := responder.AddTransferHandler(demoTransferID, resource.NewFileReader(source)); err != nil {
		return err
	}

	writer := resource.NewFileWriter(destination)
	done := make(chan wire.Status, 1)
	writer.OnFinalize(func(status wire.Status) { done <- status })
	if err := initiator.AddTransferHandler(demoTransferID, writer); err != nil {
		return err
	}

	if err := initiator.StartClientTransfer(transfer.TransferReceive,
		demoTransferID, demoTransferID, params, timeout, 0); err != nil {
		return err
	}

	select {
	case status := <-done:
		if !status.OK() {
			return fmt.Errorf("transfer failed: %s", status)
		}
		log.Info("Copy complete")
		return nil
	case <-time.After(time.Minute):
		return fmt.Errorf("transfer timed out")
	}
}

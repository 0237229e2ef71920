package resource

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chunkflow/transfer"
	"github.com/opd-ai/chunkflow/wire"
)

// FileReader is a transmit handler serving a file. The file is opened by
// PrepareRead and closed by FinalizeRead, so the handler holds no
// descriptor between transfers.
type FileReader struct {
	transfer.ReadOnlyHandler

	path       string
	file       *os.File
	onFinalize func(wire.Status)
}

// NewFileReader creates a handler serving the file at path.
func NewFileReader(path string) *FileReader {
	return &FileReader{path: path}
}

// OnFinalize sets a callback invoked with the terminal status when a
// transfer using this handler ends.
func (f *FileReader) OnFinalize(fn func(wire.Status)) { f.onFinalize = fn }

// PrepareRead opens the file. A missing file surfaces to the peer as
// NotFound via the error's status classification.
func (f *FileReader) PrepareRead() error {
	file, err := os.Open(f.path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "PrepareRead",
			"path":     f.path,
			"error":    err.Error(),
		}).Warn("Failed to open file for transmit")
		return err
	}
	f.file = file
	return nil
}

// Reader returns the open file.
func (f *FileReader) Reader() io.ReadSeeker { return f.file }

// FinalizeRead closes the file and reports the terminal status.
func (f *FileReader) FinalizeRead(status wire.Status) {
	if f.file != nil {
		if err := f.file.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "FinalizeRead",
				"path":     f.path,
				"error":    err.Error(),
			}).Warn("Failed to close file after transmit")
		}
		f.file = nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "FinalizeRead",
		"path":     f.path,
		"status":   status,
	}).Info("File read transfer finalized")

	if f.onFinalize != nil {
		f.onFinalize(status)
	}
}

// FileWriter is a receive handler writing into a file. The file is
// created by PrepareWrite; FinalizeWrite closes it and removes the partial
// output when the transfer did not complete successfully.
type FileWriter struct {
	transfer.WriteOnlyHandler

	path       string
	file       *os.File
	onFinalize func(wire.Status)
}

// NewFileWriter creates a handler writing to the file at path.
func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

// OnFinalize sets a callback invoked with the terminal status when a
// transfer using this handler ends.
func (f *FileWriter) OnFinalize(fn func(wire.Status)) { f.onFinalize = fn }

// PrepareWrite creates (or truncates) the output file.
func (f *FileWriter) PrepareWrite() error {
	file, err := os.Create(f.path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "PrepareWrite",
			"path":     f.path,
			"error":    err.Error(),
		}).Warn("Failed to create file for receive")
		return err
	}
	f.file = file
	return nil
}

// Writer returns the open file.
func (f *FileWriter) Writer() io.Writer { return f.file }

// FinalizeWrite closes the file, removing it when the transfer failed.
func (f *FileWriter) FinalizeWrite(status wire.Status) error {
	var closeErr error
	if f.file != nil {
		closeErr = f.file.Close()
		f.file = nil
	}

	if !status.OK() {
		if err := os.Remove(f.path); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "FinalizeWrite",
				"path":     f.path,
				"error":    err.Error(),
			}).Warn("Failed to remove partial output file")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "FinalizeWrite",
		"path":     f.path,
		"status":   status,
	}).Info("File write transfer finalized")

	if f.onFinalize != nil {
		f.onFinalize(status)
	}
	return closeErr
}

package resource

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/chunkflow/wire"
)

func TestMemoryReaderLifecycle(t *testing.T) {
	src := []byte("the quick brown fox")
	r := NewMemoryReader(src)

	var finalStatus wire.Status
	finalized := 0
	r.OnFinalize(func(s wire.Status) {
		finalized++
		finalStatus = s
	})

	require.NoError(t, r.PrepareRead())
	got, err := io.ReadAll(r.Reader())
	require.NoError(t, err)
	assert.Equal(t, src, got)

	r.FinalizeRead(wire.StatusOk)
	assert.Equal(t, 1, finalized)
	assert.Equal(t, wire.StatusOk, finalStatus)

	// Reusable: a second prepare rebinds at the start.
	require.NoError(t, r.PrepareRead())
	got, err = io.ReadAll(r.Reader())
	require.NoError(t, err)
	assert.Equal(t, src, got)
	r.FinalizeRead(wire.StatusAborted)
	assert.Equal(t, 2, finalized)
	assert.Equal(t, wire.StatusAborted, finalStatus)
}

func TestMemoryReaderRejectsWrites(t *testing.T) {
	r := NewMemoryReader(nil)
	err := r.PrepareWrite()
	require.Error(t, err)
	assert.Equal(t, wire.StatusUnimplemented, wire.StatusFromError(err))
}

func TestMemoryWriterLifecycle(t *testing.T) {
	w := NewMemoryWriter()

	var finalStatus wire.Status
	w.OnFinalize(func(s wire.Status) { finalStatus = s })

	require.NoError(t, w.PrepareWrite())
	_, err := w.Writer().Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Writer().Write([]byte("world"))
	require.NoError(t, err)

	require.NoError(t, w.FinalizeWrite(wire.StatusOk))
	assert.Equal(t, wire.StatusOk, finalStatus)
	assert.Equal(t, []byte("hello world"), w.Bytes())

	// PrepareWrite resets the sink for the next transfer.
	require.NoError(t, w.PrepareWrite())
	assert.Empty(t, w.Bytes())
}

func TestMemoryWriterRejectsReads(t *testing.T) {
	w := NewMemoryWriter()
	err := w.PrepareRead()
	require.Error(t, err)
	assert.Equal(t, wire.StatusUnimplemented, wire.StatusFromError(err))
}

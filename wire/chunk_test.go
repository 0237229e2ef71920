package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		build func() Chunk
	}{
		{
			name: "start_with_window_parameters",
			build: func() Chunk {
				c := Chunk{Type: TypeStart, TransferID: 3}
				c.SetOffset(0)
				c.SetWindowEndOffset(8192)
				c.SetPendingBytes(8192)
				c.SetMaxChunkSize(512)
				return c
			},
		},
		{
			name: "data_with_payload",
			build: func() Chunk {
				c := Chunk{Type: TypeData, TransferID: 7}
				c.SetOffset(1024)
				c.SetData([]byte("hello, transfer"))
				return c
			},
		},
		{
			name: "data_with_empty_payload",
			build: func() Chunk {
				c := Chunk{Type: TypeData, TransferID: 7}
				c.SetOffset(0)
				c.SetData([]byte{})
				return c
			},
		},
		{
			name: "parameters_retransmit_without_max_chunk",
			build: func() Chunk {
				c := Chunk{Type: TypeParametersRetransmit, TransferID: 9}
				c.SetOffset(4096)
				c.SetWindowEndOffset(12288)
				c.SetPendingBytes(8192)
				return c
			},
		},
		{
			name: "completion_with_status",
			build: func() Chunk {
				c := Chunk{Type: TypeCompletion, TransferID: 3}
				c.SetStatus(StatusNotFound)
				return c
			},
		},
		{
			name: "completion_ack_bare",
			build: func() Chunk {
				return Chunk{Type: TypeCompletionAck, TransferID: 12}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.build()

			buf := make([]byte, original.EncodedSize())
			n, err := original.Encode(buf)
			require.NoError(t, err)
			assert.Equal(t, original.EncodedSize(), n)

			decoded, err := Decode(buf[:n])
			require.NoError(t, err)
			assert.Equal(t, original, decoded)
		})
	}
}

func TestDecodeRejectsMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		build func() Chunk
	}{
		{
			name: "start_without_pending_bytes",
			build: func() Chunk {
				c := Chunk{Type: TypeStart, TransferID: 3}
				c.SetOffset(0)
				c.SetWindowEndOffset(8192)
				c.SetMaxChunkSize(512)
				return c
			},
		},
		{
			name: "data_without_offset",
			build: func() Chunk {
				c := Chunk{Type: TypeData, TransferID: 3}
				c.SetData([]byte("payload"))
				return c
			},
		},
		{
			name: "data_without_payload",
			build: func() Chunk {
				c := Chunk{Type: TypeData, TransferID: 3}
				c.SetOffset(0)
				return c
			},
		},
		{
			name: "retransmit_without_window_end",
			build: func() Chunk {
				c := Chunk{Type: TypeParametersRetransmit, TransferID: 3}
				c.SetOffset(0)
				c.SetPendingBytes(512)
				return c
			},
		},
		{
			name: "continue_without_pending_bytes",
			build: func() Chunk {
				c := Chunk{Type: TypeParametersContinue, TransferID: 3}
				c.SetOffset(0)
				c.SetWindowEndOffset(512)
				return c
			},
		},
		{
			name: "completion_without_status",
			build: func() Chunk {
				return Chunk{Type: TypeCompletion, TransferID: 3}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.build()
			buf := make([]byte, c.EncodedSize())
			n, err := c.Encode(buf)
			require.NoError(t, err)

			_, err = Decode(buf[:n])
			require.Error(t, err)
			assert.Equal(t, StatusInvalidArgument, StatusFromError(err))
		})
	}
}

func TestDecodeStructuralFailures(t *testing.T) {
	valid := Chunk{Type: TypeData, TransferID: 3}
	valid.SetOffset(64)
	valid.SetData([]byte("0123456789"))
	buf := make([]byte, valid.EncodedSize())
	n, err := valid.Encode(buf)
	require.NoError(t, err)
	encoded := buf[:n]

	t.Run("empty_input", func(t *testing.T) {
		_, err := Decode(nil)
		require.Error(t, err)
		assert.Equal(t, StatusDataLoss, StatusFromError(err))
	})

	t.Run("truncated_header", func(t *testing.T) {
		_, err := Decode(encoded[:4])
		require.Error(t, err)
		assert.Equal(t, StatusDataLoss, StatusFromError(err))
	})

	t.Run("truncated_payload", func(t *testing.T) {
		_, err := Decode(encoded[:len(encoded)-3])
		require.Error(t, err)
		assert.Equal(t, StatusDataLoss, StatusFromError(err))
	})

	t.Run("unknown_type", func(t *testing.T) {
		bad := append([]byte(nil), encoded...)
		bad[0] = 200
		_, err := Decode(bad)
		require.Error(t, err)
		assert.Equal(t, StatusInvalidArgument, StatusFromError(err))
	})

	t.Run("unknown_flag_bits", func(t *testing.T) {
		bad := append([]byte(nil), encoded...)
		bad[1] |= 0x80
		_, err := Decode(bad)
		require.Error(t, err)
		assert.Equal(t, StatusInvalidArgument, StatusFromError(err))
	})

	t.Run("trailing_garbage", func(t *testing.T) {
		bad := append(append([]byte(nil), encoded...), 0xde, 0xad)
		_, err := Decode(bad)
		require.Error(t, err)
		assert.Equal(t, StatusInvalidArgument, StatusFromError(err))
	})
}

func TestDecodeAcceptsOddButWellFormedValues(t *testing.T) {
	// Offset zero and a zero window are semantically odd, not structural
	// violations; Decode must not reject them.
	c := Chunk{Type: TypeParametersRetransmit, TransferID: 0}
	c.SetOffset(0)
	c.SetWindowEndOffset(0)
	c.SetPendingBytes(0)

	buf := make([]byte, c.EncodedSize())
	n, err := c.Encode(buf)
	require.NoError(t, err)

	decoded, err := Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint64(0), decoded.Offset)
	assert.True(t, decoded.HasOffset)
}

func TestEncodeBufferTooSmall(t *testing.T) {
	c := Chunk{Type: TypeData, TransferID: 3}
	c.SetOffset(0)
	c.SetData(make([]byte, 128))

	buf := make([]byte, c.EncodedSize()-1)
	_, err := c.Encode(buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBufferTooSmall))
	assert.Equal(t, StatusResourceExhausted, StatusFromError(err))
}

func TestEncodeRejectsInvalidChunks(t *testing.T) {
	t.Run("unknown_type", func(t *testing.T) {
		c := Chunk{Type: Type(99), TransferID: 1}
		_, err := c.Encode(make([]byte, 64))
		require.Error(t, err)
		assert.Equal(t, StatusInvalidArgument, StatusFromError(err))
	})

	t.Run("oversized_payload", func(t *testing.T) {
		c := Chunk{Type: TypeData, TransferID: 1}
		c.SetOffset(0)
		c.SetData(make([]byte, MaxDataLen+1))
		_, err := c.Encode(make([]byte, MaxDataLen+64))
		require.Error(t, err)
		assert.Equal(t, StatusInvalidArgument, StatusFromError(err))
	})
}

func TestDecodeCopiesPayload(t *testing.T) {
	c := Chunk{Type: TypeData, TransferID: 3}
	c.SetOffset(0)
	c.SetData([]byte{1, 2, 3, 4})

	buf := make([]byte, c.EncodedSize())
	n, err := c.Encode(buf)
	require.NoError(t, err)

	decoded, err := Decode(buf[:n])
	require.NoError(t, err)

	// Clobbering the input must not change the decoded payload.
	for i := range buf {
		buf[i] = 0xff
	}
	assert.Equal(t, []byte{1, 2, 3, 4}, decoded.Data)
}

func TestRecoverTransferID(t *testing.T) {
	c := Chunk{Type: TypeData, TransferID: 42}
	c.SetOffset(0)
	c.SetData([]byte("abc"))
	buf := make([]byte, c.EncodedSize())
	n, err := c.Encode(buf)
	require.NoError(t, err)

	t.Run("from_truncated_chunk", func(t *testing.T) {
		// Header survives, payload does not.
		id, ok := RecoverTransferID(buf[:n-2])
		require.True(t, ok)
		assert.Equal(t, uint32(42), id)
	})

	t.Run("header_destroyed", func(t *testing.T) {
		_, ok := RecoverTransferID(buf[:3])
		assert.False(t, ok)
	})
}

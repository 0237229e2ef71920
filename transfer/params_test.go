package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opd-ai/chunkflow/wire"
)

func TestParametersValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Parameters
		wantErr bool
	}{
		{name: "valid", params: Parameters{MaxPendingBytes: 8192, MaxChunkSizeBytes: 512}},
		{name: "chunk_equals_pending", params: Parameters{MaxPendingBytes: 512, MaxChunkSizeBytes: 512}},
		{name: "zero_pending", params: Parameters{MaxPendingBytes: 0, MaxChunkSizeBytes: 512}, wantErr: true},
		{name: "zero_chunk", params: Parameters{MaxPendingBytes: 512, MaxChunkSizeBytes: 0}, wantErr: true},
		{name: "chunk_exceeds_pending", params: Parameters{MaxPendingBytes: 256, MaxChunkSizeBytes: 512}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, wire.StatusInvalidArgument, wire.StatusFromError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNextPayloadLen(t *testing.T) {
	tests := []struct {
		name      string
		offset    uint64
		windowEnd uint64
		maxChunk  uint32
		want      int
	}{
		{name: "window_larger_than_chunk", offset: 0, windowEnd: 100, maxChunk: 16, want: 16},
		{name: "window_smaller_than_chunk", offset: 90, windowEnd: 100, maxChunk: 16, want: 10},
		{name: "window_exhausted", offset: 100, windowEnd: 100, maxChunk: 16, want: 0},
		{name: "offset_past_window", offset: 120, windowEnd: 100, maxChunk: 16, want: 0},
		{name: "exact_chunk_remaining", offset: 84, windowEnd: 100, maxChunk: 16, want: 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextPayloadLen(tt.offset, tt.windowEnd, tt.maxChunk))
		})
	}
}

func TestClampWindowEnd(t *testing.T) {
	// A peer that announces a window end beyond its own pending capacity
	// is clamped to what it can actually buffer.
	assert.Equal(t, uint64(96), clampWindowEnd(32, 200, 64))
	assert.Equal(t, uint64(80), clampWindowEnd(32, 80, 64))
	assert.Equal(t, uint64(32), clampWindowEnd(32, 32, 64))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero_transfers", mutate: func(c *Config) { c.MaxConcurrentTransfers = 0 }},
		{name: "zero_queue", mutate: func(c *Config) { c.EventQueueSize = 0 }},
		{name: "zero_chunk_data", mutate: func(c *Config) { c.MaxChunkDataSize = 0 }},
		{name: "oversized_chunk_data", mutate: func(c *Config) { c.MaxChunkDataSize = wire.MaxDataLen + 1 }},
		{name: "zero_timeout", mutate: func(c *Config) { c.ChunkTimeout = 0 }},
		{name: "negative_retries", mutate: func(c *Config) { c.MaxRetries = -1 }},
		{name: "zero_history", mutate: func(c *Config) { c.TerminatedHistory = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

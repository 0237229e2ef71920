package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddLookup(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Lookup(7)
	assert.False(t, ok, "empty registry must not resolve any id")

	h := newReadHandler([]byte("payload"))
	r.Add(7, h)

	got, ok := r.Lookup(7)
	require.True(t, ok)
	assert.Same(t, h, got.(*readHandler))
}

func TestRegistryAddReplaces(t *testing.T) {
	r := NewRegistry()

	first := newReadHandler(nil)
	second := newReadHandler(nil)
	r.Add(7, first)
	r.Add(7, second)

	got, ok := r.Lookup(7)
	require.True(t, ok)
	assert.Same(t, second, got.(*readHandler), "later registration must win")
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.Add(7, newReadHandler(nil))

	r.Remove(7)
	_, ok := r.Lookup(7)
	assert.False(t, ok)

	// Removing an unknown id is a no-op.
	r.Remove(99)
	r.Remove(7)
}

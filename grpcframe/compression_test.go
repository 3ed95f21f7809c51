package grpcframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGetIdentity(t *testing.T) {
	reg := NewRegistry()
	c, ok := reg.Get("")
	assert.True(t, ok)
	assert.Nil(t, c)

	c, ok = reg.Get("identity")
	assert.True(t, ok)
	assert.Nil(t, c)
}

func TestRegistryGetGzip(t *testing.T) {
	reg := NewRegistry()
	c, ok := reg.Get("gzip")
	require.True(t, ok)
	require.NotNil(t, c)
	assert.Equal(t, "gzip", c.Name())
}

func TestRegistryGetUnknown(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Get("brotli")
	assert.False(t, ok)
}

func TestGzipCompressorRoundTrip(t *testing.T) {
	c := &GzipCompressor{}
	data := []byte("the quick brown fox jumps over the lazy dog")
	compressed, err := c.Compress(data)
	require.NoError(t, err)
	decompressed, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, decompressed)
}

func TestRegistryNamesIncludesGzip(t *testing.T) {
	reg := NewRegistry()
	assert.Contains(t, reg.Names(), "gzip")
}

package grpcframe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessageUncompressedSmallPayload(t *testing.T) {
	payload := []byte("hello")
	framed := EncodeMessage(payload, &GzipCompressor{})
	assert.Equal(t, byte(0), framed[0]) // below compressionThreshold: identity regardless of compressor
	assert.Equal(t, payload, framed[5:])
}

func TestEncodeMessageCompressesLargePayload(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), compressionThreshold+1)
	framed := EncodeMessage(payload, &GzipCompressor{})
	assert.Equal(t, byte(1), framed[0])
	assert.Less(t, len(framed)-5, len(payload))
}

func TestMessageReaderReassemblesAcrossFeeds(t *testing.T) {
	reg := NewRegistry()
	framed := EncodeMessage([]byte("request"), nil)

	r := NewMessageReader(reg.Get)
	r.Feed(framed[:3])
	_, ok, err := r.Next("")
	require.NoError(t, err)
	require.False(t, ok)

	r.Feed(framed[3:])
	payload, ok, err := r.Next("")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "request", string(payload))
}

func TestMessageReaderDecompressesGzip(t *testing.T) {
	reg := NewRegistry()
	payload := bytes.Repeat([]byte("z"), compressionThreshold+10)
	framed := EncodeMessage(payload, &GzipCompressor{})

	r := NewMessageReader(reg.Get)
	r.Feed(framed)
	out, ok, err := r.Next("gzip")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, out)
}

func TestMessageReaderUnknownEncodingErrors(t *testing.T) {
	reg := NewRegistry()
	framed := EncodeMessage(bytes.Repeat([]byte("x"), compressionThreshold+1), &GzipCompressor{})

	r := NewMessageReader(reg.Get)
	r.Feed(framed)
	_, _, err := r.Next("snappy")
	assert.Error(t, err)
}

func TestMessageReaderHandlesMultipleMessagesInOneFeed(t *testing.T) {
	reg := NewRegistry()
	first := EncodeMessage([]byte("one"), nil)
	second := EncodeMessage([]byte("two"), nil)

	r := NewMessageReader(reg.Get)
	r.Feed(append(append([]byte{}, first...), second...))

	p1, ok, err := r.Next("")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", string(p1))

	p2, ok, err := r.Next("")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", string(p2))
}

// Package grpcframe implements spec.md §4.6: the gRPC message framing
// layer that rides on top of HTTP/2 DATA frames (length-prefixed message
// codec, per-message compression, request header validation, and
// trailer synthesis). It has no notion of HTTP/2 frames itself — the
// transport package feeds it raw DATA-frame bytes and takes raw bytes
// back to write.
package grpcframe

import (
	"encoding/binary"
	"fmt"
)

// headerSize is the 1-byte compressed flag + 4-byte big-endian length
// prefix every gRPC message on the wire carries (spec §4.6).
const headerSize = 5

// compressionThreshold matches the teacher's rpc/compression.go: messages
// smaller than this are sent as identity even when a compressor is
// configured, since the gzip frame overhead would exceed the savings.
const compressionThreshold = 1024

// EncodeMessage frames one decoded message for the wire. If compress is
// non-nil and payload is large enough to be worth it, the payload is
// compressed and the compressed-flag bit is set.
func EncodeMessage(payload []byte, compress Compressor) []byte {
	compressed := false
	body := payload
	if compress != nil && len(payload) >= compressionThreshold {
		if out, err := compress.Compress(payload); err == nil {
			body = out
			compressed = true
		}
	}

	framed := make([]byte, headerSize+len(body))
	if compressed {
		framed[0] = 1
	}
	binary.BigEndian.PutUint32(framed[1:5], uint32(len(body)))
	copy(framed[5:], body)
	return framed
}

// MessageReader incrementally reassembles length-prefixed gRPC messages
// out of a stream of DATA frame payloads, since a single message may span
// several frames and a single frame may hold several messages (spec §4.6:
// "message boundaries are independent of frame boundaries").
type MessageReader struct {
	buf                 []byte
	resolveCompressorFn func(name string) (Compressor, bool)
}

// NewMessageReader creates a reader that decompresses every message whose
// compressed flag is set, using the algorithm named by the encoding passed
// to Next, resolved against resolveCompressor (typically Registry.Get).
func NewMessageReader(resolveCompressor func(name string) (Compressor, bool)) *MessageReader {
	return &MessageReader{resolveCompressorFn: resolveCompressor}
}

// Feed appends newly-received bytes to the reassembly buffer.
func (r *MessageReader) Feed(data []byte) {
	r.buf = append(r.buf, data...)
}

// Next pops one complete message off the front of the buffer, if one is
// available. ok is false when more bytes are needed before a full
// message can be decoded; it is not an error condition.
func (r *MessageReader) Next(encoding string) (payload []byte, ok bool, err error) {
	if len(r.buf) < headerSize {
		return nil, false, nil
	}
	compressedFlag := r.buf[0]
	length := binary.BigEndian.Uint32(r.buf[1:5])
	total := headerSize + int(length)
	if len(r.buf) < total {
		return nil, false, nil
	}

	body := make([]byte, length)
	copy(body, r.buf[headerSize:total])
	r.buf = r.buf[total:]

	if compressedFlag == 0 {
		return body, true, nil
	}

	compressor, found := r.resolveCompressorFn(encoding)
	if !found {
		return nil, true, fmt.Errorf("grpcframe: unsupported grpc-encoding %q", encoding)
	}
	decompressed, err := compressor.Decompress(body)
	if err != nil {
		return nil, true, fmt.Errorf("grpcframe: decompress: %w", err)
	}
	return decompressed, true, nil
}

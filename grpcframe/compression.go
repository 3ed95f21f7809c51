package grpcframe

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sync"
)

// Compressor names and implements one grpc-encoding algorithm, grounded
// on the teacher's rpc/compression.go Compressor interface.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Registry holds the compressors a connection is willing to negotiate,
// keyed by grpc-encoding name.
type Registry struct {
	mu          sync.RWMutex
	compressors map[string]Compressor
}

// NewRegistry returns a Registry pre-populated with gzip, matching the
// teacher's default registration in rpc/compression.go's init().
func NewRegistry() *Registry {
	r := &Registry{compressors: make(map[string]Compressor)}
	r.Register(&GzipCompressor{})
	return r
}

// Register adds or replaces a compressor.
func (r *Registry) Register(c Compressor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compressors[c.Name()] = c
}

// Get resolves a compressor by grpc-encoding name. "identity" always
// resolves to (nil, true): identity framing needs no Compressor.
func (r *Registry) Get(name string) (Compressor, bool) {
	if name == "" || name == "identity" {
		return nil, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.compressors[name]
	return c, ok
}

// Names returns the registered algorithm names, used to build the
// grpc-accept-encoding response header.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.compressors))
	for name := range r.compressors {
		names = append(names, name)
	}
	return names
}

// gzipWriterPool and gzipReaderPool amortize gzip's allocation cost
// across messages, mirroring the teacher's pools in rpc/compression.go.
var gzipWriterPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

var gzipReaderPool = sync.Pool{
	New: func() any { return new(gzip.Reader) },
}

// GzipCompressor implements the "gzip" grpc-encoding.
type GzipCompressor struct{}

func (g *GzipCompressor) Name() string { return "gzip" }

func (g *GzipCompressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	gz := gzipWriterPool.Get().(*gzip.Writer)
	gz.Reset(&buf)
	defer gzipWriterPool.Put(gz)

	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("gzip compress write: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress close: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	gz := gzipReaderPool.Get().(*gzip.Reader)
	defer gzipReaderPool.Put(gz)

	if err := gz.Reset(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("gzip decompress reset: %w", err)
	}
	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress read: %w", err)
	}
	return out, nil
}

// Package rpcctx implements the per-RPC request context described in
// spec.md §3 ("Request context") and §4.7 (timeout parsing, cancellation):
// a fresh request id, method path, peer info, deadline, metadata, and a
// cooperative cancellation flag that survives across the handler and any
// interceptor wrapping it.
package rpcctx

import (
	"context"
	"crypto/x509"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Peer describes the remote side of a connection.
type Peer struct {
	Address     string
	Port        int
	Certificate *x509.Certificate
}

// Metadata is an ordered, case-insensitive-lookup header multimap. Names
// are stored lower-cased on the wire (spec §4.6 "Metadata rules"); the
// caller's original case is not preserved here because gRPC metadata,
// unlike HTTP/2 request headers, has no case-preservation requirement.
type Metadata map[string][]string

// Get returns the first value for name, if any.
func (m Metadata) Get(name string) (string, bool) {
	values := m[strings.ToLower(name)]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Add appends a value, preserving insertion order for repeated names.
func (m Metadata) Add(name, value string) {
	name = strings.ToLower(name)
	m[name] = append(m[name], value)
}

// Clone returns an independent copy.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Context is the request-scoped state threaded through the interceptor
// chain and handed to handlers. It embeds a context.Context so it can be
// passed to anything that accepts one, while still exposing gRPC-specific
// fields (spec §3 "Request context").
type Context struct {
	context.Context

	RequestID        string
	MethodPath       string
	Authority        string
	Peer             Peer
	RequestMetadata  Metadata
	ResponseHeaders  Metadata
	ResponseTrailers Metadata

	deadline  time.Time
	hasDeadline bool
	cancelled atomic.Bool
	cancel    context.CancelFunc
}

// New creates a Context for one RPC. If deadline is the zero Value,
// the RPC has no deadline (spec: "deadline (optional)").
func New(parent context.Context, methodPath, authority string, peer Peer, md Metadata, deadline time.Time) *Context {
	ctx := parent
	var cancel context.CancelFunc
	hasDeadline := !deadline.IsZero()
	if hasDeadline {
		ctx, cancel = context.WithDeadline(ctx, deadline)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	return &Context{
		Context:          ctx,
		RequestID:        uuid.NewString(),
		MethodPath:       methodPath,
		Authority:        authority,
		Peer:             peer,
		RequestMetadata:  md,
		ResponseHeaders:  Metadata{},
		ResponseTrailers: Metadata{},
		deadline:         deadline,
		hasDeadline:      hasDeadline,
		cancel:           cancel,
	}
}

// Deadline returns the absolute deadline and whether one was set.
func (c *Context) Deadline() (time.Time, bool) {
	return c.deadline, c.hasDeadline
}

// Remaining returns the time left until the deadline; it may be negative.
// Calling this with no deadline set returns a very large duration.
func (c *Context) Remaining() time.Duration {
	if !c.hasDeadline {
		return time.Duration(1<<63 - 1)
	}
	return time.Until(c.deadline)
}

// Cancel marks the context cancelled and unblocks any pending I/O
// (spec §4.7 "Cancellation sources").
func (c *Context) Cancel() {
	c.cancelled.Store(true)
	if c.cancel != nil {
		c.cancel()
	}
}

// Cancelled reports whether the RPC has been cancelled, by client reset,
// deadline expiry, or server shutdown.
func (c *Context) Cancelled() bool {
	return c.cancelled.Load() || c.Context.Err() != nil
}

// timeoutUnits maps a grpc-timeout unit byte to its nanosecond size, per
// spec §4.7.
var timeoutUnits = map[byte]time.Duration{
	'H': 3600 * time.Second,
	'M': 60 * time.Second,
	'S': time.Second,
	'm': time.Millisecond,
	'u': time.Microsecond,
	'n': time.Nanosecond,
}

// ParseGRPCTimeout parses a grpc-timeout header value of the form
// "<positive-int><unit>" into an absolute deadline relative to now.
// Empty, malformed, or non-positive values are treated as "no deadline
// parsed" (spec §4.7), returning ok=false rather than an error: a
// malformed grpc-timeout is not itself a protocol violation.
func ParseGRPCTimeout(header string, now time.Time) (deadline time.Time, ok bool) {
	if len(header) < 2 {
		return time.Time{}, false
	}
	unitByte := header[len(header)-1]
	unit, known := timeoutUnits[unitByte]
	if !known {
		return time.Time{}, false
	}
	numPart := header[:len(header)-1]
	value, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil || value <= 0 {
		return time.Time{}, false
	}
	return now.Add(time.Duration(value) * unit), true
}

// FormatGRPCTimeout renders a deadline relative to now as a grpc-timeout
// header value, choosing the finest unit that still fits in the 8
// significant digits gRPC implementations commonly cap timeout values to.
func FormatGRPCTimeout(deadline, now time.Time) string {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return "1n"
	}
	units := []struct {
		suffix byte
		size   time.Duration
	}{
		{'n', time.Nanosecond},
		{'u', time.Microsecond},
		{'m', time.Millisecond},
		{'S', time.Second},
		{'M', time.Minute},
		{'H', time.Hour},
	}
	for _, u := range units {
		value := remaining / u.size
		if value < 100000000 {
			return fmt.Sprintf("%d%c", value, u.suffix)
		}
	}
	value := remaining / time.Hour
	return fmt.Sprintf("%d%c", value, 'H')
}

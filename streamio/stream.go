// Package streamio implements the handler-facing stream adapters of
// spec.md §4.8: typed Sender/Receiver wrappers over a raw, cancellation-
// aware message pipe, one per active stream.
package streamio

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/wireloop/wireloop/rpcctx"
)

// ErrCancelled is returned by Send/Recv once the stream has been reset or
// its deadline has expired (spec §4.7 "Cancellation sources").
var ErrCancelled = errors.New("wireloop: stream cancelled")

// RawStream is the transport-facing side of one stream: opaque decoded
// messages in, opaque messages out. The dispatcher constructs one per
// RPC and hands typed wrappers (below) to the handler, resolving spec
// §9's open question in favor of typed handlers over an erased payload
// at the transport boundary.
type RawStream struct {
	ctx *rpcctx.Context

	out      chan any
	in       chan any
	outErr   chan error
	inErr    chan error
	closeOut sync.Once
	closeIn  sync.Once
	done     chan struct{}
}

// NewRawStream creates a stream pipe bound to ctx. Buffer sizes of 1 match
// the teacher's streamImpl and are adequate because the transport layer
// pumps messages in under HTTP/2 flow control, not unbounded buffering.
func NewRawStream(ctx *rpcctx.Context) *RawStream {
	return &RawStream{
		ctx:    ctx,
		out:    make(chan any, 1),
		in:     make(chan any, 1),
		outErr: make(chan error, 1),
		inErr:  make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Context returns the owning RPC context.
func (s *RawStream) Context() *rpcctx.Context { return s.ctx }

// SendMsg is called by the handler side to hand a response message to the
// transport/writer goroutine.
func (s *RawStream) SendMsg(msg any) error {
	select {
	case s.out <- msg:
		return nil
	case err := <-s.outErr:
		return err
	case <-s.ctx.Done():
		return ErrCancelled
	case <-s.done:
		return io.EOF
	}
}

// RecvMsg is called by the handler side to pull the next request message.
func (s *RawStream) RecvMsg() (any, error) {
	select {
	case msg, ok := <-s.in:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case err := <-s.inErr:
		return nil, err
	case <-s.ctx.Done():
		return nil, ErrCancelled
	}
}

// PushIn is called by the transport read side to deliver a decoded
// request message; it blocks (bounded by the stream's receive window)
// until the handler consumes the previous one.
func (s *RawStream) PushIn(msg any) error {
	select {
	case s.in <- msg:
		return nil
	case <-s.ctx.Done():
		return ErrCancelled
	}
}

// CloseIn signals end-of-stream to RecvMsg (transport saw END_STREAM).
func (s *RawStream) CloseIn() {
	s.closeIn.Do(func() { close(s.in) })
}

// PullOut is called by the transport write side to retrieve the next
// response message the handler produced.
func (s *RawStream) PullOut(ctx context.Context) (any, bool, error) {
	select {
	case msg := <-s.out:
		return msg, true, nil
	case <-s.done:
		// A message the handler sent before CloseOut is still delivered,
		// unless the stream has been cancelled.
		if ctx.Err() == nil {
			select {
			case msg := <-s.out:
				return msg, true, nil
			default:
			}
		}
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// CloseOut signals the handler's Send calls should now fail (used after a
// RST_STREAM or connection teardown, spec §4.8 "cancellation is sticky").
func (s *RawStream) CloseOut(err error) {
	s.closeOut.Do(func() {
		if err == nil {
			err = ErrCancelled
		}
		s.outErr <- err
		close(s.done)
	})
}

// --- typed wrappers -------------------------------------------------

// ServerStream is the handler-facing API for server-streaming RPCs.
type ServerStream[T any] struct{ raw *RawStream }

// NewServerStream wraps a RawStream for a server-streaming handler.
func NewServerStream[T any](raw *RawStream) ServerStream[T] { return ServerStream[T]{raw: raw} }

// Send sends one response message; it may suspend under flow control.
func (s ServerStream[T]) Send(msg *T) error { return s.raw.SendMsg(msg) }

// Context returns the stream's RPC context.
func (s ServerStream[T]) Context() *rpcctx.Context { return s.raw.Context() }

// ClientStream is the handler-facing API for client-streaming RPCs.
type ClientStream[T any] struct{ raw *RawStream }

// NewClientStream wraps a RawStream for a client-streaming handler.
func NewClientStream[T any](raw *RawStream) ClientStream[T] { return ClientStream[T]{raw: raw} }

// Recv returns the next request message, or io.EOF once the client has
// sent END_STREAM.
func (c ClientStream[T]) Recv() (*T, error) {
	msg, err := c.raw.RecvMsg()
	if err != nil {
		return nil, err
	}
	typed, ok := msg.(*T)
	if !ok {
		return nil, errors.New("wireloop: unexpected message type on client stream")
	}
	return typed, nil
}

// Context returns the stream's RPC context.
func (c ClientStream[T]) Context() *rpcctx.Context { return c.raw.Context() }

// BidiStream is the handler-facing API for bidirectional-streaming RPCs.
// Send and Recv are independent: closing one side never closes the other
// (spec §4.8).
type BidiStream[TIn, TOut any] struct{ raw *RawStream }

// NewBidiStream wraps a RawStream for a bidi-streaming handler.
func NewBidiStream[TIn, TOut any](raw *RawStream) BidiStream[TIn, TOut] {
	return BidiStream[TIn, TOut]{raw: raw}
}

// Send sends one response message.
func (b BidiStream[TIn, TOut]) Send(msg *TOut) error { return b.raw.SendMsg(msg) }

// Recv returns the next request message.
func (b BidiStream[TIn, TOut]) Recv() (*TIn, error) {
	msg, err := b.raw.RecvMsg()
	if err != nil {
		return nil, err
	}
	typed, ok := msg.(*TIn)
	if !ok {
		return nil, errors.New("wireloop: unexpected message type on bidi stream")
	}
	return typed, nil
}

// Context returns the stream's RPC context.
func (b BidiStream[TIn, TOut]) Context() *rpcctx.Context { return b.raw.Context() }

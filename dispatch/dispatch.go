// Package dispatch implements the request routing algorithm of spec.md
// §4.9: resolve the wire path to a method, build the per-call interceptor
// chain, and invoke the handler against a freshly primed stream.
package dispatch

import (
	"google.golang.org/grpc/codes"

	"github.com/wireloop/wireloop/interceptor"
	"github.com/wireloop/wireloop/registry"
	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
	"github.com/wireloop/wireloop/streamio"
)

// Dispatcher resolves method paths against a frozen Registry and invokes
// them through a fixed, server-wide interceptor chain.
type Dispatcher struct {
	registry     *registry.Registry
	interceptors interceptor.Interceptor
}

// New builds a Dispatcher. registry must already be frozen (spec §4.9:
// "dispatch only happens against a frozen registry").
func New(reg *registry.Registry, interceptors ...interceptor.Interceptor) *Dispatcher {
	return &Dispatcher{
		registry:     reg,
		interceptors: interceptor.Chain(interceptors...),
	}
}

// Dispatch implements spec §4.9's six-step algorithm:
//  1. look up the method by path
//  2. verify the transport's observed stream pattern matches the method's
//  3. build the per-call interceptor chain around the method invocation
//  4. the innermost step decodes the request (for Unary/ServerStreaming)
//     via RawStream.RecvMsg before calling the handler
//  5. the handler is invoked through the chain
//  6. whatever it sends is already flowing out through raw's out channel
//
// Dispatch itself never touches wire bytes: the transport has already
// decoded frames into raw's in channel using the method's DecodeRequest,
// and will encode whatever arrives on raw's out channel using
// EncodeResponse. This split keeps routing independent of the wire codec.
func (d *Dispatcher) Dispatch(ctx *rpcctx.Context, observedPattern registry.Pattern, raw *streamio.RawStream) *status.Status {
	method, ok := d.registry.Lookup(ctx.MethodPath)
	if !ok {
		return status.Newf(codes.Unimplemented, "method %s not implemented", ctx.MethodPath)
	}
	if method.Pattern != observedPattern {
		return status.Newf(codes.Internal, "method %s is %s, got %s stream", ctx.MethodPath, method.Pattern, observedPattern)
	}

	return d.interceptors.Intercept(ctx, ctx.MethodPath, func(ctx *rpcctx.Context) *status.Status {
		return method.Invoke(ctx, raw)
	})
}

// Lookup exposes the underlying registry lookup for transport code that
// needs a method's codec/pattern before a RawStream exists yet (e.g. to
// decide whether END_STREAM is expected after one message or many).
func (d *Dispatcher) Lookup(path string) (*registry.Method, bool) {
	return d.registry.Lookup(path)
}

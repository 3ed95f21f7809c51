// Package interceptor implements the interceptor chain of spec.md §5:
// a capability interface any cross-cutting concern implements, composed
// innermost-to-outermost around the dispatcher's call into the method
// handler.
package interceptor

import (
	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
)

// Next invokes the remainder of the chain (either the next interceptor or,
// at the innermost position, the method handler itself).
type Next func(ctx *rpcctx.Context) *status.Status

// Interceptor wraps a single RPC invocation. method is the dispatch path
// ("/package.Service/Method") so an interceptor can special-case by
// service or method without a type switch on the request.
type Interceptor interface {
	Intercept(ctx *rpcctx.Context, method string, next Next) *status.Status
}

// Func adapts a plain function to the Interceptor interface, mirroring
// http.HandlerFunc's role for http.Handler.
type Func func(ctx *rpcctx.Context, method string, next Next) *status.Status

func (f Func) Intercept(ctx *rpcctx.Context, method string, next Next) *status.Status {
	return f(ctx, method, next)
}

// Chain composes interceptors into a single Interceptor. Per spec §5,
// composition folds from the last element inward, so the first
// interceptor in the slice is the outermost: it sees the request first
// and the response/status last.
func Chain(interceptors ...Interceptor) Interceptor {
	if len(interceptors) == 0 {
		return Func(func(ctx *rpcctx.Context, method string, next Next) *status.Status {
			return next(ctx)
		})
	}
	return Func(func(ctx *rpcctx.Context, method string, next Next) *status.Status {
		return foldFrom(0, interceptors, ctx, method, next)
	})
}

func foldFrom(i int, interceptors []Interceptor, ctx *rpcctx.Context, method string, final Next) *status.Status {
	if i == len(interceptors) {
		return final(ctx)
	}
	return interceptors[i].Intercept(ctx, method, func(ctx *rpcctx.Context) *status.Status {
		return foldFrom(i+1, interceptors, ctx, method, final)
	})
}

package interceptor

import (
	"time"

	"google.golang.org/grpc/codes"

	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
)

// Timeout enforces a default deadline on RPCs that arrived without a
// grpc-timeout header, grounded on the teacher's TimeoutInterceptor.
// Unlike the teacher's version, it never shortens a deadline the client
// already set (spec §4.7: the client's grpc-timeout always wins).
type Timeout struct {
	Default time.Duration
}

// NewTimeout builds a Timeout interceptor applying d when the request
// carries no deadline of its own.
func NewTimeout(d time.Duration) *Timeout {
	return &Timeout{Default: d}
}

func (t *Timeout) Intercept(ctx *rpcctx.Context, method string, next Next) *status.Status {
	if t.Default <= 0 {
		return next(ctx)
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return next(ctx)
	}

	type result struct{ st *status.Status }
	done := make(chan result, 1)
	deadline := time.Now().Add(t.Default)
	childCtx := rpcctx.New(ctx.Context, ctx.MethodPath, ctx.Authority, ctx.Peer, ctx.RequestMetadata, deadline)
	childCtx.RequestID = ctx.RequestID
	childCtx.ResponseHeaders = ctx.ResponseHeaders
	childCtx.ResponseTrailers = ctx.ResponseTrailers

	go func() {
		done <- result{st: next(childCtx)}
	}()

	select {
	case res := <-done:
		return res.st
	case <-childCtx.Done():
		return status.Newf(codes.DeadlineExceeded, "request timed out after %v", t.Default)
	}
}

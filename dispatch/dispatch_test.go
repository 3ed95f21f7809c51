package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/wireloop/wireloop/interceptor"
	"github.com/wireloop/wireloop/registry"
	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
	"github.com/wireloop/wireloop/streamio"
)

type pingRequest struct{ Nonce string }
type pingResponse struct{ Nonce string }

func newFrozenRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	svc := registry.NewService("demo.v1.PingService", "demo.v1")
	registry.RegisterUnary(svc, "Ping", func(ctx *rpcctx.Context, req *pingRequest) (*pingResponse, *status.Status) {
		return &pingResponse{Nonce: req.Nonce}, nil
	})
	reg := registry.New()
	reg.Register(svc)
	reg.Freeze()
	return reg
}

func newCallContext(t *testing.T, path string) *rpcctx.Context {
	t.Helper()
	return rpcctx.New(t.Context(), path, "localhost", rpcctx.Peer{}, rpcctx.Metadata{}, time.Time{})
}

func TestDispatchUnknownMethod(t *testing.T) {
	d := New(newFrozenRegistry(t))
	ctx := newCallContext(t, "/demo.v1.PingService/Missing")
	raw := streamio.NewRawStream(ctx)

	st := d.Dispatch(ctx, registry.Unary, raw)
	require.NotNil(t, st)
	assert.Equal(t, codes.Unimplemented, st.Code())
}

func TestDispatchPatternMismatch(t *testing.T) {
	d := New(newFrozenRegistry(t))
	ctx := newCallContext(t, "/demo.v1.PingService/Ping")
	raw := streamio.NewRawStream(ctx)

	st := d.Dispatch(ctx, registry.BidiStreaming, raw)
	require.NotNil(t, st)
	assert.Equal(t, codes.Internal, st.Code())
}

func TestDispatchUnaryRoundTripThroughInterceptors(t *testing.T) {
	var seen []string
	mark := interceptor.Func(func(ctx *rpcctx.Context, method string, next interceptor.Next) *status.Status {
		seen = append(seen, method)
		return next(ctx)
	})
	d := New(newFrozenRegistry(t), mark)

	ctx := newCallContext(t, "/demo.v1.PingService/Ping")
	raw := streamio.NewRawStream(ctx)

	go func() {
		require.NoError(t, raw.PushIn(&pingRequest{Nonce: "abc"}))
		raw.CloseIn()
	}()

	st := d.Dispatch(ctx, registry.Unary, raw)
	assert.Nil(t, st)
	assert.Equal(t, []string{"/demo.v1.PingService/Ping"}, seen)

	resp, ok, err := raw.PullOut(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", resp.(*pingResponse).Nonce)
}

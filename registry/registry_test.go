package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
	"github.com/wireloop/wireloop/streamio"
)

type echoRequest struct{ Message string }
type echoResponse struct{ Message string }

func TestRegistryLookupAfterFreeze(t *testing.T) {
	reg := New()
	svc := NewService("demo.v1.EchoService", "demo.v1")
	RegisterUnary(svc, "Echo", func(ctx *rpcctx.Context, req *echoRequest) (*echoResponse, *status.Status) {
		return &echoResponse{Message: req.Message}, nil
	})
	reg.Register(svc)
	reg.Freeze()

	m, ok := reg.Lookup("/demo.v1.EchoService/Echo")
	require.True(t, ok)
	assert.Equal(t, Unary, m.Pattern)
	assert.Equal(t, "demo.v1.echoRequest", m.InputTypeName)

	_, ok = reg.Lookup("/demo.v1.EchoService/Missing")
	assert.False(t, ok)
}

func TestRegisterAfterFreezePanics(t *testing.T) {
	reg := New()
	svc := NewService("demo.v1.EchoService", "demo.v1")
	reg.Register(svc)
	reg.Freeze()

	assert.Panics(t, func() {
		RegisterUnary(svc, "Late", func(ctx *rpcctx.Context, req *echoRequest) (*echoResponse, *status.Status) {
			return nil, nil
		})
	})
	assert.Panics(t, func() {
		reg.Register(NewService("demo.v1.OtherService", "demo.v1"))
	})
}

func TestUnaryInvokeRoundTrip(t *testing.T) {
	svc := NewService("demo.v1.EchoService", "demo.v1")
	RegisterUnary(svc, "Echo", func(ctx *rpcctx.Context, req *echoRequest) (*echoResponse, *status.Status) {
		return &echoResponse{Message: "hello " + req.Message}, nil
	})
	reg := New()
	reg.Register(svc)
	reg.Freeze()

	m, ok := reg.Lookup("/demo.v1.EchoService/Echo")
	require.True(t, ok)

	rpcCtx := rpcctx.New(t.Context(), "/demo.v1.EchoService/Echo", "localhost", rpcctx.Peer{}, rpcctx.Metadata{}, time.Time{})
	raw := streamio.NewRawStream(rpcCtx)

	go func() {
		require.NoError(t, raw.PushIn(&echoRequest{Message: "world"}))
		raw.CloseIn()
	}()

	st := m.Invoke(rpcCtx, raw)
	assert.Nil(t, st)

	resp, ok, err := raw.PullOut(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello world", resp.(*echoResponse).Message)
}

func TestUnaryInvokeWrongType(t *testing.T) {
	svc := NewService("demo.v1.EchoService", "demo.v1")
	RegisterUnary(svc, "Echo", func(ctx *rpcctx.Context, req *echoRequest) (*echoResponse, *status.Status) {
		return &echoResponse{Message: req.Message}, nil
	})
	reg := New()
	reg.Register(svc)
	reg.Freeze()

	m, ok := reg.Lookup("/demo.v1.EchoService/Echo")
	require.True(t, ok)

	rpcCtx := rpcctx.New(t.Context(), "/demo.v1.EchoService/Echo", "localhost", rpcctx.Peer{}, rpcctx.Metadata{}, time.Time{})
	raw := streamio.NewRawStream(rpcCtx)
	go func() { _ = raw.PushIn("not a pointer to echoRequest") }()

	st := m.Invoke(rpcCtx, raw)
	require.NotNil(t, st)
	assert.Equal(t, codes.Internal, st.Code())
}

func TestServiceNamesSorted(t *testing.T) {
	reg := New()
	reg.Register(NewService("b.Service", "b"))
	reg.Register(NewService("a.Service", "a"))
	reg.Freeze()
	assert.Equal(t, []string{"a.Service", "b.Service"}, reg.ServiceNames())
}

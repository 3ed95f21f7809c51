package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/streamio"
)

func newCtx(t *testing.T) *rpcctx.Context {
	t.Helper()
	return rpcctx.New(t.Context(), "/grpc.health.v1.Health/Check", "localhost", rpcctx.Peer{}, rpcctx.Metadata{}, time.Time{})
}

func TestCheckOverallStatusDefaultsToServing(t *testing.T) {
	svc := New()
	resp, st := svc.Check(newCtx(t), &healthpb.HealthCheckRequest{Service: ""})
	require.Nil(t, st)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestCheckUnknownServiceReturnsNotFound(t *testing.T) {
	svc := New()
	_, st := svc.Check(newCtx(t), &healthpb.HealthCheckRequest{Service: "unregistered.Service"})
	require.NotNil(t, st)
	assert.Equal(t, codes.NotFound, st.Code())
}

func TestSetServingStatusAffectsCheck(t *testing.T) {
	svc := New()
	svc.SetServingStatus("inventory.v1.InventoryService", healthpb.HealthCheckResponse_SERVING)
	resp, st := svc.Check(newCtx(t), &healthpb.HealthCheckRequest{Service: "inventory.v1.InventoryService"})
	require.Nil(t, st)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	svc.SetServingStatus("inventory.v1.InventoryService", healthpb.HealthCheckResponse_NOT_SERVING)
	resp, st = svc.Check(newCtx(t), &healthpb.HealthCheckRequest{Service: "inventory.v1.InventoryService"})
	require.Nil(t, st)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestWatchSendsCurrentStatusThenUpdates(t *testing.T) {
	svc := New()
	svc.SetServingStatus("inventory.v1.InventoryService", healthpb.HealthCheckResponse_SERVING)

	ctx := newCtx(t)
	raw := streamio.NewRawStream(ctx)
	stream := streamio.NewServerStream[healthpb.HealthCheckResponse](raw)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Watch(ctx, &healthpb.HealthCheckRequest{Service: "inventory.v1.InventoryService"}, stream)
	}()

	first, ok, err := raw.PullOut(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, first.(*healthpb.HealthCheckResponse).Status)

	svc.SetServingStatus("inventory.v1.InventoryService", healthpb.HealthCheckResponse_NOT_SERVING)

	second, ok, err := raw.PullOut(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, second.(*healthpb.HealthCheckResponse).Status)

	ctx.Cancel()
	<-done
}

package server_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wireloop/wireloop/config"
	"github.com/wireloop/wireloop/registry"
	"github.com/wireloop/wireloop/server"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0 // let the OS pick a free port
	return cfg
}

func TestNewAutoRegistersHealthAndReflection(t *testing.T) {
	reg := registry.New()
	_, err := server.New(testConfig(t), reg, nil)
	require.NoError(t, err)

	names := reg.ServiceNames()
	assert.Contains(t, names, "grpc.health.v1.Health")
	assert.Contains(t, names, "grpc.reflection.v1.ServerReflection")
}

func TestNewSkipsHealthAndReflectionWhenDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnableHealthCheck = false
	cfg.EnableReflection = false

	reg := registry.New()
	_, err := server.New(cfg, reg, nil)
	require.NoError(t, err)
	assert.Empty(t, reg.ServiceNames())
}

func TestStartThenStopRunsLifecycleTransitions(t *testing.T) {
	reg := registry.New()
	srv, err := server.New(testConfig(t), reg, nil)
	require.NoError(t, err)

	assert.Equal(t, server.Stopped, srv.State())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, srv.Start(ctx))
	assert.Equal(t, server.Running, srv.State())
	require.NotNil(t, srv.Addr())

	// The bound address must actually accept TCP connections.
	conn, dialErr := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, dialErr)
	conn.Close()

	require.NoError(t, srv.Stop(true, 0))
	assert.Equal(t, server.Stopped, srv.State())
}

func TestStartTwiceFails(t *testing.T) {
	reg := registry.New()
	srv, err := server.New(testConfig(t), reg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, srv.Start(ctx))
	defer srv.Stop(true, 0)

	assert.Error(t, srv.Start(ctx))
}

func TestStopBeforeStartFails(t *testing.T) {
	reg := registry.New()
	srv, err := server.New(testConfig(t), reg, nil)
	require.NoError(t, err)

	assert.Error(t, srv.Stop(false, time.Second))
}

func TestReloadTLSRequiresRunningAndTLS(t *testing.T) {
	reg := registry.New()
	srv, err := server.New(testConfig(t), reg, nil)
	require.NoError(t, err)

	assert.Error(t, srv.ReloadTLS("cert.pem", "key.pem"))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop(true, 0)

	// Running, but no TLS configured: still an error.
	assert.Error(t, srv.ReloadTLS("cert.pem", "key.pem"))
}

func TestGracefulStopWaitsForListenerClose(t *testing.T) {
	reg := registry.New()
	srv, err := server.New(testConfig(t), reg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	require.NoError(t, srv.Start(ctx))

	require.NoError(t, srv.Stop(false, 100*time.Millisecond))
	assert.Equal(t, server.Stopped, srv.State())

	_, dialErr := net.DialTimeout("tcp", srv.Addr().String(), 100*time.Millisecond)
	assert.Error(t, dialErr)
}

func TestBuildTLSConfigRejectsMissingFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.TLS = &config.TLS{CertFile: "does-not-exist.pem", KeyFile: "does-not-exist-key.pem"}

	reg := registry.New()
	_, err := server.New(cfg, reg, nil)
	assert.Error(t, err)
}

// ABOUTME: Tests for the Gateway orchestrator lifecycle and gRPC health service
// ABOUTME: Uses real listeners and a loopback gRPC client to check host serving status

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/coven-hostd/internal/config"
	"github.com/2389/coven-hostd/internal/host"
)

// freeAddr reserves a loopback port and releases it for the server to bind.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// testConfig creates a minimal config for testing with available ports.
func testConfig(t *testing.T, hosts ...config.HostConfig) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			GRPCAddr: freeAddr(t),
			HTTPAddr: freeAddr(t),
		},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Pool:     config.PoolConfig{Workers: 4},
		Agents: config.AgentsConfig{
			PingInterval:       time.Minute,
			InvestigationDelay: 10 * time.Millisecond,
			SweepInterval:      time.Minute,
		},
		Hosts: hosts,
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, hosts ...config.HostConfig) *Gateway {
	t.Helper()
	gw, err := New(testConfig(t, hosts...), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

func TestGatewayNew_ConnectsConfiguredHosts(t *testing.T) {
	gw := newTestGateway(t,
		config.HostConfig{ID: 1, Name: "node-1"},
		config.HostConfig{ID: 2, Name: "node-2", Maintenance: true},
	)

	assert.Equal(t, 2, gw.Manager().ConnectedCount())
	assert.True(t, gw.Manager().IsOnline(1))

	h, err := gw.Manager().GetHost(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, h.Maintenance)
	assert.Equal(t, host.StatusMaintenance, h.Status)

	res, ok := gw.Resource(1)
	require.True(t, ok)
	assert.NotNil(t, res.GetCurrentStatus(1))
}

func TestGatewayShutdown_Idempotent(t *testing.T) {
	gw, err := New(testConfig(t, config.HostConfig{ID: 1, Name: "node-1"}), testLogger())
	require.NoError(t, err)

	res, ok := gw.Resource(1)
	require.True(t, ok)

	require.NoError(t, gw.Shutdown(context.Background()))
	require.NoError(t, gw.Shutdown(context.Background()))

	assert.True(t, res.IsDisconnected())
	assert.Zero(t, gw.Manager().ConnectedCount())
}

func TestGatewayRun_ServesHTTPAndGRPCHealth(t *testing.T) {
	cfg := testConfig(t, config.HostConfig{ID: 1, Name: "node-1"})
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- gw.Run(ctx) }()

	// Wait for the HTTP server
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		cctx, ccancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer ccancel()
		resp, err := client.Check(cctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(HostServiceName(1)))

	require.NoError(t, gw.Manager().Disconnect(context.Background(), 1, host.EventShutdownRequested))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(HostServiceName(1)))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGatewayRun_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Server.HTTPAddr = ln.Addr().String()
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	err = gw.Run(context.Background())
	assert.ErrorContains(t, err, "listening on HTTP address")
}

func TestPublishHealth_TracksHostStatus(t *testing.T) {
	gw := newTestGateway(t,
		config.HostConfig{ID: 1, Name: "node-1"},
		config.HostConfig{ID: 2, Name: "node-2", Maintenance: true},
	)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := gw.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(HostServiceName(1)))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(HostServiceName(2)), "maintenance hosts keep a live attache")

	rec := doRequest(t, gw, http.MethodPost, "/api/hosts/1/disconnect", `{"event":"agent_connected"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(HostServiceName(1)))

	require.NoError(t, gw.Manager().Disconnect(context.Background(), 1, host.EventAgentDisconnected))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(HostServiceName(1)))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
}

package api

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"secsync/internal/config"
	"secsync/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startHealthServer(t *testing.T, online bool) (*GRPCServer, healthpb.HealthClient) {
	t.Helper()
	cfg := &config.APIConfig{GRPC: config.APIGRPCConfig{Enabled: true, Port: 0}}
	srv, err := NewGRPCServer(cfg, online, nil)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	port := srv.listener.Addr().(*net.TCPAddr).Port
	conn, err := grpc.NewClient(fmt.Sprintf("127.0.0.1:%d", port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, healthpb.NewHealthClient(conn)
}

func checkStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestGRPCHealthFollowsConnectivity(t *testing.T) {
	srv, client := startHealthServer(t, false)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, client, RemoteServiceName))

	bus := events.NewEventBus()
	bus.Subscribe(events.EventConnectivity, srv.ConnectivityHandler())
	require.NoError(t, bus.PublishJSON(events.EventConnectivity, events.ConnectivityPayload{Online: true, At: time.Now()}))

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, client, RemoteServiceName))
}

func TestConnectivityHandlerRejectsBadPayload(t *testing.T) {
	cfg := &config.APIConfig{GRPC: config.APIGRPCConfig{Port: 0}}
	srv, err := NewGRPCServer(cfg, true, nil)
	require.NoError(t, err)
	defer srv.listener.Close()

	err = srv.ConnectivityHandler()(&events.Event{Type: events.EventConnectivity, Payload: []byte(`not json`)})
	assert.Error(t, err)
}

func TestBuildTLSConfigErrors(t *testing.T) {
	_, err := buildTLSConfig(config.APITLSConfig{Enabled: true})
	assert.Error(t, err)

	_, err = buildTLSConfig(config.APITLSConfig{Enabled: true, CertFile: "missing.crt", KeyFile: "missing.key"})
	assert.Error(t, err)
}

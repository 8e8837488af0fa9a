// ABOUTME: Tests for the Gateway orchestrator: app wiring, server lifecycle and gRPC health.
// ABOUTME: Runs real listeners on loopback ports and a miniredis-backed session store.

package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cappelaere/wai/internal/config"
)

// freeAddr returns a loopback address with a currently unused port.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// testConfig creates a loadable config on free loopback ports.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg, err := config.Parse([]byte(`
server:
  grpc_addr: "`+freeAddr(t)+`"
  http_addr: "`+freeAddr(t)+`"
records:
  root: "`+t.TempDir()+`"
  watch: false
metrics:
  enabled: true
mcp:
  enabled: true
`), false)
	require.NoError(t, err)
	return cfg
}

func TestNewAppContext_Memory(t *testing.T) {
	cfg := testConfig(t)

	app, err := NewAppContext(context.Background(), cfg, "test", testLogger())
	require.NoError(t, err)
	defer app.Close()

	assert.True(t, app.Dispatcher.Ready())
	assert.Positive(t, app.Registry.Len())
	assert.False(t, app.Model.Ready(), "no API key configured")
	assert.NotNil(t, app.Engine)
	assert.NotNil(t, app.MCP)
	assert.Equal(t, app.Registry.Len(), app.MCP.ToolCount())
}

func TestNewAppContext_SQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sessions.Backend = config.BackendSQLite
	cfg.Sessions.Path = filepath.Join(t.TempDir(), "sessions.db")

	app, err := NewAppContext(context.Background(), cfg, "test", testLogger())
	require.NoError(t, err)
	defer app.Close()

	s, err := app.Sessions.Create(context.Background(), "reviewer-1")
	require.NoError(t, err)
	_, err = app.Sessions.Load(context.Background(), s.ID)
	require.NoError(t, err)

	_, err = os.Stat(cfg.Sessions.Path)
	assert.NoError(t, err)
}

func TestNewAppContext_FailedBootClosesStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sessions.Backend = config.BackendSQLite
	cfg.Sessions.Path = filepath.Join(t.TempDir(), "sessions.db")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	app, err := NewAppContext(ctx, cfg, "test", testLogger())
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, app)

	assert.FileExists(t, cfg.Sessions.Path)
	assert.NoFileExists(t, cfg.Sessions.Path+"-wal", "the store must be closed when boot fails")
}

func TestAppContextClose_PartiallyBuilt(t *testing.T) {
	mr := miniredis.RunT(t)
	store, _, err := openSessions(context.Background(), config.SessionsConfig{
		Backend:     config.BackendRedis,
		RedisURL:    "redis://" + mr.Addr() + "/0",
		RedisPrefix: "wai-test:",
		Timeout:     time.Hour,
	}, testLogger())
	require.NoError(t, err)

	app := &AppContext{Sessions: store}
	require.NoError(t, app.Close())

	_, err = store.Create(context.Background(), "reviewer-1")
	assert.Error(t, err, "the Redis client must be closed")
	assert.Eventually(t, func() bool { return mr.CurrentConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOpenSessions_RedisWithLock(t *testing.T) {
	mr := miniredis.RunT(t)

	store, locker, err := openSessions(context.Background(), config.SessionsConfig{
		Backend:         config.BackendRedis,
		RedisURL:        "redis://" + mr.Addr() + "/0",
		RedisPrefix:     "wai-test:",
		DistributedLock: true,
		Timeout:         time.Hour,
	}, testLogger())
	require.NoError(t, err)
	defer store.Close()

	assert.NotNil(t, locker)
	s, err := store.Create(context.Background(), "reviewer-1")
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())
	assert.NotEmpty(t, s.ID)
}

func TestOpenSessions_RedisUnreachable(t *testing.T) {
	_, _, err := openSessions(context.Background(), config.SessionsConfig{
		Backend:  config.BackendRedis,
		RedisURL: "redis://127.0.0.1:1/0",
	}, testLogger())
	assert.Error(t, err)
}

func TestNewWithApp_ReportsServing(t *testing.T) {
	cfg := testConfig(t)
	app := newTestApp(t, &scriptedModel{})

	gw, err := NewWithApp(cfg, app, testLogger())
	require.NoError(t, err)

	resp, err := gw.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	require.NoError(t, gw.Shutdown(context.Background()))

	resp, err = gw.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestGatewayRun(t *testing.T) {
	cfg := testConfig(t)
	gw, err := New(context.Background(), cfg, "test", testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	healthURL := "http://" + cfg.Server.HTTPAddr + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer checkCancel()
	hr, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hr.Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}

func TestGatewayRun_AddressInUse(t *testing.T) {
	cfg := testConfig(t)
	ln, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	require.NoError(t, err)
	defer ln.Close()

	gw, err := NewWithApp(cfg, newTestApp(t, &scriptedModel{}), testLogger())
	require.NoError(t, err)

	err = gw.Run(context.Background())
	assert.ErrorContains(t, err, "listening on gRPC address")
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/wai/ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/wai/ts", dir)

	home := t.TempDir()
	t.Setenv("HOME", home)
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "wai-gateway", "tailscale"), dir)
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.ErrorContains(t, err, "tailscale auth key required")

	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestAppendCloseError(t *testing.T) {
	var errs []error
	errs = appendCloseError(errs, "first", nil)
	assert.Empty(t, errs)

	cause := errors.New("boom")
	errs = appendCloseError(errs, "second", cause)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], cause)
	assert.EqualError(t, errs[0], "second: boom")
}

func TestTailscaleTLSConfig_MissingCertificate(t *testing.T) {
	g := &Gateway{logger: testLogger()}
	dir := t.TempDir()

	_, err := g.tailscaleTLSConfig(config.TailscaleConfig{
		CertFile: filepath.Join(dir, "tls.crt"),
		KeyFile:  filepath.Join(dir, "tls.key"),
	})
	assert.ErrorContains(t, err, "loading TLS certificate")
}

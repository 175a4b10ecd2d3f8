package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/schur/internal/cluster"
	"github.com/dreamware/schur/internal/config"
	"github.com/dreamware/schur/internal/registry"
)

func noEnv(string) string { return "" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServe(t *testing.T, cfg *config.Config) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, cfg, discardLogger()) }()
	base := "http://" + ln.Addr().String()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	return base, cancel, done
}

func TestServeRegisterAndList(t *testing.T) {
	cfg := config.Default()
	cfg.Registry.HealthInterval = 0
	base, cancel, done := startServe(t, cfg)

	c := registry.NewClient(base)
	ctx := context.Background()
	require.NoError(t, c.Register(ctx, cluster.WorkerInfo{Name: "matrix.calculator.b", Addr: "http://b"}))
	require.NoError(t, c.Register(ctx, cluster.WorkerInfo{Name: "matrix.calculator.a", Addr: "http://a"}))
	require.NoError(t, c.Register(ctx, cluster.WorkerInfo{Name: "other.x", Addr: "http://x"}))

	workers, err := c.List(ctx, config.DefaultPrefix)
	require.NoError(t, err)
	require.Len(t, workers, 2)
	assert.Equal(t, "matrix.calculator.a", workers[0].Name)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServeRemovesUnhealthyWorkers(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	dead := httptest.NewServer(http.NotFoundHandler())
	deadAddr := dead.URL
	dead.Close()

	cfg := config.Default()
	cfg.Registry.HealthInterval = 20 * time.Millisecond
	cfg.Registry.MaxFailures = 2
	base, cancel, done := startServe(t, cfg)
	defer func() {
		cancel()
		<-done
	}()

	c := registry.NewClient(base)
	ctx := context.Background()
	require.NoError(t, c.Register(ctx, cluster.WorkerInfo{Name: "m.live", Addr: healthy.URL}))
	require.NoError(t, c.Register(ctx, cluster.WorkerInfo{Name: "m.dead", Addr: deadAddr}))

	assert.Eventually(t, func() bool {
		workers, err := c.List(ctx, "m.")
		return err == nil && len(workers) == 1 && workers[0].Name == "m.live"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServeReturnsWhenListenerFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	cfg := config.Default()
	cfg.Registry.HealthInterval = 10 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- serve(context.Background(), ln, cfg, discardLogger()) }()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve hung after Serve failed")
	}
}

func TestRunFlagErrors(t *testing.T) {
	err := run(context.Background(), []string{"--bogus"}, noEnv)
	assert.Error(t, err)

	err = run(context.Background(), []string{"--log-level", "shouty"}, noEnv)
	assert.Error(t, err)

	err = run(context.Background(), []string{"--help"}, noEnv)
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestRunListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = run(context.Background(), []string{"--listen", ln.Addr().String(), "--health-interval=0"}, noEnv)
	assert.Error(t, err)
}

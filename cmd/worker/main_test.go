package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/schur/internal/cluster"
	"github.com/dreamware/schur/internal/config"
	"github.com/dreamware/schur/internal/kernel"
	"github.com/dreamware/schur/internal/matrix"
	"github.com/dreamware/schur/internal/registry"
	"github.com/dreamware/schur/internal/worker"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadConfigRequiresID(t *testing.T) {
	var out bytes.Buffer
	_, err := loadConfig(nil, env(nil), &out)
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, out.String(), "Usage: worker")
	assert.Contains(t, out.String(), "--advertise")
}

func TestLoadConfigID(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
		want string
	}{
		{"positional", []string{"7"}, nil, config.DefaultPrefix + "7"},
		{"flag", []string{"--id", "alpha"}, nil, config.DefaultPrefix + "alpha"},
		{"env", nil, map[string]string{"SCHUR_WORKER_ID": "fromenv"}, config.DefaultPrefix + "fromenv"},
		{"positional beats env", []string{"pos"}, map[string]string{"SCHUR_WORKER_ID": "fromenv"}, config.DefaultPrefix + "pos"},
		{"custom prefix", []string{"--prefix", "bench.", "3"}, nil, "bench.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(tt.args, env(tt.env), io.Discard)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.WorkerName())
		})
	}
}

func TestLoadConfigRejects(t *testing.T) {
	var out bytes.Buffer
	_, err := loadConfig([]string{"a", "b"}, env(nil), &out)
	assert.ErrorIs(t, err, errUsage)

	_, err = loadConfig([]string{"--threshold", "0", "a"}, env(nil), io.Discard)
	assert.Error(t, err)

	_, err = loadConfig([]string{"--codec", "xml", "a"}, env(nil), io.Discard)
	assert.Error(t, err)
}

func TestAdvertiseFlag(t *testing.T) {
	cfg, err := loadConfig([]string{"--advertise", "http://10.1.2.3:9101", "--listen", ":9101", "w"}, env(nil), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "http://10.1.2.3:9101", cfg.AdvertiseAddr())
}

func TestServeRegistersAndComputes(t *testing.T) {
	reg := registry.New(discardLogger())
	regSrv := httptest.NewServer(reg.Handler())
	defer regSrv.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Registry.Addr = regSrv.URL
	cfg.Worker.ID = "t1"
	cfg.Worker.Listen = ln.Addr().String()
	cfg.Worker.Advertise = "http://" + ln.Addr().String()
	cfg.Worker.Threshold = 2
	require.NoError(t, cfg.ValidateWorker())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, cfg, discardLogger()) }()

	require.Eventually(t, func() bool {
		return len(reg.List(config.DefaultPrefix)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	client := worker.NewClient(reg.List(config.DefaultPrefix)[0], cluster.NewTransport(nil, 10*time.Second, true))
	m, _ := matrix.FromRows([][]float64{
		{4, 1, 0, 0},
		{1, 4, 1, 0},
		{0, 1, 4, 1},
		{0, 0, 1, 4},
	})
	inv, err := client.Invert(context.Background(), m)
	require.NoError(t, err)
	want, _ := kernel.Gonum{}.Invert(m)
	assert.True(t, matrix.AllClose(inv, want, 1e-9, 1e-12))

	resp, err := http.Get(cfg.AdvertiseAddr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "schur_worker_calls_total")
	assert.Contains(t, string(body), "go_goroutines")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Empty(t, reg.List(config.DefaultPrefix), "worker deregisters on shutdown")
}

func TestServeRegistrationFailure(t *testing.T) {
	gone := httptest.NewServer(http.NotFoundHandler())
	addr := gone.URL
	gone.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Registry.Addr = addr
	cfg.Worker.ID = "t2"
	cfg.Worker.RegisterAttempts = 1

	err = serve(context.Background(), ln, cfg, discardLogger())
	assert.Error(t, err)
}

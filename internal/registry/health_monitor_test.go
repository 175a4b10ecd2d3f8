package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/schur/internal/cluster"
)

// TestHealthMonitorMarksUnhealthy verifies the failure threshold and the
// unhealthy callback.
func TestHealthMonitorMarksUnhealthy(t *testing.T) {
	monitor := NewHealthMonitor(time.Hour, 3, discardLogger())

	var mu sync.Mutex
	failing := map[string]bool{"http://w1": true}
	monitor.SetCheckFunction(func(addr string) error {
		mu.Lock()
		defer mu.Unlock()
		if failing[addr] {
			return errors.New("worker is down")
		}
		return nil
	})

	removed := make(chan string, 1)
	monitor.SetOnUnhealthy(func(name string) { removed <- name })

	workers := []cluster.WorkerInfo{
		{Name: "w.1", Addr: "http://w1"},
		{Name: "w.2", Addr: "http://w2"},
	}

	monitor.checkAll(workers)
	monitor.checkAll(workers)
	assert.Equal(t, StatusUnknown, monitor.Health("w.1").Status)
	assert.Equal(t, 2, monitor.Health("w.1").ConsecutiveFails)
	assert.True(t, monitor.IsHealthy("w.2"))

	monitor.checkAll(workers)
	assert.Equal(t, StatusUnhealthy, monitor.Health("w.1").Status)

	select {
	case name := <-removed:
		assert.Equal(t, "w.1", name)
	case <-time.After(time.Second):
		t.Fatal("onUnhealthy was not called")
	}

	// Recovery resets the counter.
	mu.Lock()
	failing["http://w1"] = false
	mu.Unlock()
	monitor.checkAll(workers)
	assert.True(t, monitor.IsHealthy("w.1"))
	assert.Zero(t, monitor.Health("w.1").ConsecutiveFails)
}

func TestHealthMonitorForgetsDepartedWorkers(t *testing.T) {
	monitor := NewHealthMonitor(time.Hour, 3, discardLogger())
	monitor.SetCheckFunction(func(string) error { return nil })

	monitor.checkAll([]cluster.WorkerInfo{{Name: "w.1", Addr: "a"}, {Name: "w.2", Addr: "b"}})
	require.NotNil(t, monitor.Health("w.2"))

	monitor.checkAll([]cluster.WorkerInfo{{Name: "w.1", Addr: "a"}})
	assert.Nil(t, monitor.Health("w.2"))
	assert.False(t, monitor.IsHealthy("w.2"))
}

func TestHealthMonitorRunRemovesDeadWorker(t *testing.T) {
	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer alive.Close()
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer dead.Close()

	r := New(discardLogger())
	r.Register(cluster.WorkerInfo{Name: "w.alive", Addr: alive.URL})
	r.Register(cluster.WorkerInfo{Name: "w.dead", Addr: dead.URL})

	monitor := NewHealthMonitor(20*time.Millisecond, 2, discardLogger())
	monitor.SetOnUnhealthy(func(name string) { r.Remove(name) })

	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx, func() []cluster.WorkerInfo { return r.List("w.") })

	assert.Eventually(t, func() bool { return len(r.List("w.")) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	monitor.Wait()

	assert.Equal(t, "w.alive", r.List("w.")[0].Name)
}

func TestHealthMonitorWaitAfterStart(t *testing.T) {
	monitor := NewHealthMonitor(time.Hour, 1, discardLogger())
	var rounds atomic.Int32
	monitor.SetCheckFunction(func(string) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx, func() []cluster.WorkerInfo {
		rounds.Add(1)
		return nil
	})
	cancel()
	monitor.Wait()

	// Wait only returns once Run has gone through its first round.
	assert.Equal(t, int32(1), rounds.Load())
}

func TestDefaultHealthCheckAddressForms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	monitor := NewHealthMonitor(time.Hour, 1, discardLogger())
	assert.NoError(t, monitor.defaultHealthCheck(srv.URL))
	assert.NoError(t, monitor.defaultHealthCheck(srv.URL+"/"))
	assert.NoError(t, monitor.defaultHealthCheck(srv.Listener.Addr().String()))
	assert.Error(t, monitor.defaultHealthCheck("http://127.0.0.1:1"))
}

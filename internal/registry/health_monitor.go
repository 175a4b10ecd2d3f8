package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/schur/internal/cluster"
)

// Health states reported by WorkerHealth.Status.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// WorkerHealth tracks the probe history of one registered worker.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type WorkerHealth struct {
	LastCheck        time.Time // Timestamp of the last probe
	LastHealthy      time.Time // Timestamp of the last successful probe
	Name             string    // Registered worker name
	Status           string    // StatusUnknown, StatusHealthy or StatusUnhealthy
	ConsecutiveFails int       // Failed probes since the last success
}

// HealthMonitor periodically probes every registered worker's /health
// endpoint and reports workers that fail maxFailures probes in a row.
//
// The registry wires onUnhealthy to Registry.Remove, so a dead worker stops
// being handed out to new top-level requests. Requests that already hold a
// pool snapshot are unaffected.
type HealthMonitor struct {
	workers     map[string]*WorkerHealth
	httpClient  *http.Client
	checkFunc   func(addr string) error
	onUnhealthy func(name string)
	logger      *slog.Logger
	interval    time.Duration
	maxFailures int
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

// NewHealthMonitor creates a monitor probing every interval and declaring a
// worker unhealthy after maxFailures consecutive failures.
func NewHealthMonitor(interval time.Duration, maxFailures int, logger *slog.Logger) *HealthMonitor {
	if maxFailures < 1 {
		maxFailures = 1
	}
	h := &HealthMonitor{
		workers:     make(map[string]*WorkerHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		logger:      logger,
		interval:    interval,
		maxFailures: maxFailures,
	}
	h.checkFunc = h.defaultHealthCheck
	return h
}

// SetOnUnhealthy sets the callback invoked (in its own goroutine) when a
// worker transitions to unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(name string)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the probe, mainly for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}

// Start runs Run on a new goroutine; Wait blocks until it returns.
func (h *HealthMonitor) Start(ctx context.Context, provider func() []cluster.WorkerInfo) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.Run(ctx, provider)
	}()
}

// Run probes the workers returned by provider until ctx is cancelled.
// It performs one round immediately and then one per interval.
func (h *HealthMonitor) Run(ctx context.Context, provider func() []cluster.WorkerInfo) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("health monitor started", slog.Duration("interval", h.interval))
	h.checkAll(provider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(provider())
		case <-ctx.Done():
			h.logger.Info("health monitor stopped")
			return
		}
	}
}

// Wait blocks until the goroutine launched by Start has returned.
func (h *HealthMonitor) Wait() { h.wg.Wait() }

func (h *HealthMonitor) checkAll(workers []cluster.WorkerInfo) {
	current := make(map[string]bool, len(workers))
	for _, w := range workers {
		current[w.Name] = true
		h.check(w)
	}

	// Forget workers that left the registry.
	h.mu.Lock()
	for name := range h.workers {
		if !current[name] {
			delete(h.workers, name)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) check(w cluster.WorkerInfo) {
	h.mu.Lock()
	health, ok := h.workers[w.Name]
	if !ok {
		health = &WorkerHealth{Name: w.Name, Status: StatusUnknown}
		h.workers[w.Name] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(w.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()
	health.LastCheck = time.Now()

	if err == nil {
		if health.Status == StatusUnhealthy {
			h.logger.Info("worker recovered", slog.String("name", w.Name))
		}
		health.Status = StatusHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = health.LastCheck
		return
	}

	health.ConsecutiveFails++
	h.logger.Warn("health check failed",
		slog.String("name", w.Name),
		slog.Int("attempt", health.ConsecutiveFails),
		slog.Int("max", h.maxFailures),
		slog.String("error", err.Error()),
	)
	if health.ConsecutiveFails >= h.maxFailures && health.Status != StatusUnhealthy {
		health.Status = StatusUnhealthy
		h.logger.Warn("worker marked unhealthy", slog.String("name", w.Name))
		if h.onUnhealthy != nil {
			go h.onUnhealthy(w.Name)
		}
	}
}

func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	url = strings.TrimRight(url, "/") + "/health"

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Health returns a copy of name's health record, or nil if unknown.
func (h *HealthMonitor) Health(name string) *WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.workers[name]
	if !ok {
		return nil
	}
	cp := *health
	return &cp
}

// IsHealthy reports whether name's last probe succeeded.
func (h *HealthMonitor) IsHealthy(name string) bool {
	health := h.Health(name)
	return health != nil && health.Status == StatusHealthy
}

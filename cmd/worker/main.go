// Command worker runs one computation worker. It serves Invert, LogDet and
// ClearCache over HTTP, registers itself with the registry under
// <prefix><id>, and delegates sub-problems to randomly picked members of
// the registered pool, itself included.
//
// Usage:
//
//	worker [flags] <id>
//	worker --id 1 --listen :9101 --advertise http://10.0.0.5:9101
//
// Configuration (flags override env, env overrides --config file):
//   - id (positional or --id) / SCHUR_WORKER_ID: required
//   - --listen / SCHUR_WORKER_LISTEN: listen address (default ":9100")
//   - --advertise / SCHUR_WORKER_ADVERTISE: URL registered for peers
//   - --registry / SCHUR_REGISTRY_ADDR: registry base URL
//   - --threshold / SCHUR_THRESHOLD: base-case side (default 64)
//   - --cache-max-entries: per-table cache bound, 0 for unbounded
//   - --call-timeout, --retry-attempts, --retry-backoff: delegation policy
//   - --codec, --compress: wire format of delegated calls
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/dreamware/schur/internal/backoff"
	"github.com/dreamware/schur/internal/cache"
	"github.com/dreamware/schur/internal/cluster"
	"github.com/dreamware/schur/internal/config"
	"github.com/dreamware/schur/internal/directory"
	"github.com/dreamware/schur/internal/kernel"
	"github.com/dreamware/schur/internal/registry"
	"github.com/dreamware/schur/internal/worker"
)

// errUsage marks configuration errors that should print usage.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(2)
	}
}

func bindFlags(fs *pflag.FlagSet, c *config.Config) {
	w := &c.Worker
	fs.StringVar(&w.ID, "id", w.ID, "unique worker id (or first positional argument)")
	fs.StringVar(&w.Listen, "listen", w.Listen, "listen address")
	fs.StringVar(&w.Advertise, "advertise", w.Advertise, "URL peers use to reach this worker (default http://127.0.0.1:<port>)")
	fs.IntVar(&w.Threshold, "threshold", w.Threshold, "side at or below which the dense kernel is used")
	fs.IntVar(&w.CacheMaxEntries, "cache-max-entries", w.CacheMaxEntries, "bound per cache table, 0 for unbounded")
	fs.DurationVar(&w.CallTimeout, "call-timeout", w.CallTimeout, "timeout per delegated call, 0 for none")
	fs.IntVar(&w.RetryAttempts, "retry-attempts", w.RetryAttempts, "tries per delegated call")
	fs.DurationVar(&w.RetryBackoff, "retry-backoff", w.RetryBackoff, "initial delay between tries")
	fs.IntVar(&w.RegisterAttempts, "register-attempts", w.RegisterAttempts, "registration tries at startup")
	config.BindCodec(fs, c)
}

func usage(out io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(out, "Usage: worker [flags] <id>\n\n%s", fs.FlagUsages())
}

// loadConfig resolves and validates the worker configuration. A missing
// id is reported as errUsage after printing usage to out.
func loadConfig(args []string, getenv func(string) string, out io.Writer) (*config.Config, error) {
	cfg, rest, fs, err := config.Parse("worker", args, getenv, bindFlags)
	if err != nil {
		if fs != nil {
			usage(out, fs)
		}
		return nil, err
	}
	switch {
	case len(rest) > 1:
		usage(out, fs)
		return nil, fmt.Errorf("%w: unexpected arguments %v", errUsage, rest[1:])
	case len(rest) == 1:
		cfg.Worker.ID = rest[0]
	}
	if cfg.Worker.ID == "" {
		usage(out, fs)
		return nil, fmt.Errorf("%w: worker id is required", errUsage)
	}
	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	cfg, err := loadConfig(args, getenv, out)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Worker.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Worker.Listen, err)
	}
	return serve(ctx, ln, cfg, cfg.NewLogger("worker"))
}

// newService wires a worker.Service from cfg against the registry at
// cfg.Registry.Addr.
func newService(cfg *config.Config, logger *slog.Logger) (*worker.Service, *prometheus.Registry, error) {
	codec, err := cluster.GetCodec(cfg.Codec)
	if err != nil {
		return nil, nil, err
	}
	transport := cluster.NewTransport(codec, 0, cfg.Compress)
	dial := worker.RetryDialer(worker.NewDialer(transport), worker.RetryPolicy{
		Attempts: cfg.Worker.RetryAttempts,
		Timeout:  cfg.Worker.CallTimeout,
		Backoff:  backoff.Exponential{Initial: cfg.Worker.RetryBackoff, Max: 10 * cfg.Worker.RetryBackoff, Jitter: true},
	})

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := worker.NewService(worker.Config{
		Name:      cfg.WorkerName(),
		Threshold: cfg.Worker.Threshold,
		Cache:     cache.New(cfg.Worker.CacheMaxEntries),
		Kernel:    kernel.Gonum{},
		Directory: directory.New(registry.NewClient(cfg.Registry.Addr), cfg.Prefix),
		Dial:      dial,
		Logger:    logger,
		Metrics:   worker.NewMetrics(promReg),
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, promReg, nil
}

// serve runs the worker on ln, registers it, and blocks until ctx ends.
func serve(ctx context.Context, ln net.Listener, cfg *config.Config, logger *slog.Logger) error {
	svc, promReg, err := newService(cfg, logger)
	if err != nil {
		ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           worker.NewHandler(svc, promReg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("worker listening",
			slog.String("name", svc.Name()),
			slog.String("addr", ln.Addr().String()),
			slog.String("advertise", cfg.AdvertiseAddr()),
			slog.Int("threshold", cfg.Worker.Threshold),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	regClient := registry.NewClient(cfg.Registry.Addr)
	info := cluster.WorkerInfo{Name: svc.Name(), Addr: cfg.AdvertiseAddr()}
	delay := backoff.Exponential{Initial: 200 * time.Millisecond, Max: 2 * time.Second}
	if err := registry.Register(ctx, regClient, info, cfg.Worker.RegisterAttempts, delay, logger); err != nil {
		shutdown(srv, logger)
		return err
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	deregCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := regClient.Deregister(deregCtx, info.Name); err != nil {
		logger.Warn("deregister failed", slog.String("error", err.Error()))
	}
	shutdown(srv, logger)
	return nil
}

func shutdown(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", slog.String("error", err.Error()))
	}
	logger.Info("worker stopped")
}

// Command registry runs the worker directory: workers register a name and
// an address, and clients list the names under a prefix to find the pool.
//
// Configuration (flags override env, env overrides --config file):
//   - --listen / SCHUR_REGISTRY_LISTEN: listen address (default ":9090")
//   - --health-interval: probe period for registered workers, 0 disables
//   - --max-failures: consecutive failed probes before a worker is dropped
//   - --log-level / SCHUR_LOG_LEVEL
//
// Example:
//
//	registry --listen :9090
//	curl 'localhost:9090/workers?prefix=matrix.calculator.'
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dreamware/schur/internal/cluster"
	"github.com/dreamware/schur/internal/config"
	"github.com/dreamware/schur/internal/registry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "registry: %v\n", err)
		os.Exit(1)
	}
}

func bindFlags(fs *pflag.FlagSet, c *config.Config) {
	fs.StringVar(&c.Registry.Listen, "listen", c.Registry.Listen, "listen address")
	fs.DurationVar(&c.Registry.HealthInterval, "health-interval", c.Registry.HealthInterval, "worker probe period (0 disables)")
	fs.IntVar(&c.Registry.MaxFailures, "max-failures", c.Registry.MaxFailures, "failed probes before a worker is removed")
}

func run(ctx context.Context, args []string, getenv func(string) string) error {
	cfg, _, fs, err := config.Parse("registry", args, getenv, bindFlags)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) && fs != nil {
			fmt.Fprintf(os.Stderr, "Usage: registry [flags]\n\n%s", fs.FlagUsages())
		}
		return err
	}
	if err := cfg.ValidateRegistry(); err != nil {
		return err
	}
	logger := cfg.NewLogger("registry")

	ln, err := net.Listen("tcp", cfg.Registry.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Registry.Listen, err)
	}
	return serve(ctx, ln, cfg, logger)
}

// serve runs the registry on ln until ctx is cancelled, then shuts down
// gracefully.
func serve(ctx context.Context, ln net.Listener, cfg *config.Config, logger *slog.Logger) error {
	reg := registry.New(logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Registry.HealthInterval > 0 {
		monitor := registry.NewHealthMonitor(cfg.Registry.HealthInterval, cfg.Registry.MaxFailures, logger)
		monitor.SetOnUnhealthy(func(name string) {
			if reg.Remove(name) {
				logger.Warn("removed unhealthy worker", slog.String("name", name))
			}
		})
		monitor.Start(ctx, func() []cluster.WorkerInfo { return reg.List("") })
		defer func() {
			cancel()
			monitor.Wait()
		}()
	}

	srv := &http.Server{
		Handler:           reg.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("registry listening", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.String("error", err.Error()))
	}
	logger.Info("registry stopped")
	return nil
}

// Command client runs one benchmark against the worker pool: it generates a
// diagonally dominant matrix, times a local baseline against the
// distributed inverse and log-determinant, validates the inverse and writes
// a report plus the original and inverse matrices.
//
// Usage:
//
//	client --size 1024 --registry http://127.0.0.1:9090 --out-dir ./out
//
// A size that is not a power of two is rejected before the registry is
// contacted. Any failure exits non-zero and writes no files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/dreamware/schur/internal/cluster"
	"github.com/dreamware/schur/internal/config"
	"github.com/dreamware/schur/internal/directory"
	"github.com/dreamware/schur/internal/kernel"
	"github.com/dreamware/schur/internal/orchestrator"
	"github.com/dreamware/schur/internal/registry"
	"github.com/dreamware/schur/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}
}

func bindFlags(fs *pflag.FlagSet, c *config.Config) {
	cl := &c.Client
	fs.IntVar(&cl.Size, "size", cl.Size, "matrix side, a power of two")
	fs.Uint64Var(&cl.Seed, "seed", cl.Seed, "random seed for the generated matrix")
	fs.StringVar(&cl.OutDir, "out-dir", cl.OutDir, "directory for the report and matrix dumps")
	fs.BoolVar(&cl.ClearCaches, "clear-caches", cl.ClearCaches, "clear every worker's cache before timing")
	fs.Float64Var(&cl.RTol, "rtol", cl.RTol, "relative tolerance for inverse validation")
	fs.Float64Var(&cl.ATol, "atol", cl.ATol, "absolute tolerance for inverse validation")
	config.BindCodec(fs, c)
}

func run(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	cfg, rest, fs, err := config.Parse("client", args, getenv, bindFlags)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) && fs != nil {
			fmt.Fprintf(os.Stderr, "Usage: client [flags]\n\n%s", fs.FlagUsages())
		}
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("unexpected arguments %v", rest)
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}
	logger := cfg.NewLogger("client")

	codec, err := cluster.GetCodec(cfg.Codec)
	if err != nil {
		return err
	}
	m, err := orchestrator.GenerateInvertible(cfg.Client.Size, cfg.Client.Seed)
	if err != nil {
		return err
	}

	session := &orchestrator.Session{
		Directory:   directory.New(registry.NewClient(cfg.Registry.Addr), cfg.Prefix),
		Dial:        worker.NewDialer(cluster.NewTransport(codec, 0, cfg.Compress)),
		Kernel:      kernel.Gonum{},
		Logger:      logger,
		ClearCaches: cfg.Client.ClearCaches,
		RTol:        cfg.Client.RTol,
		ATol:        cfg.Client.ATol,
	}
	rep, err := session.Execute(ctx, m, cfg.Client.OutDir)
	if err != nil {
		return err
	}
	if err := rep.Render(out); err != nil {
		return err
	}
	fmt.Fprintf(out, "Report written to %s\n", cfg.Client.OutDir)
	return nil
}

// Package orchestrator drives one benchmark run from the client side: it
// finds the workers, times a local baseline against the distributed inverse
// and log-determinant, checks the two inverses agree and reports.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/schur/internal/cluster"
	"github.com/dreamware/schur/internal/kernel"
	"github.com/dreamware/schur/internal/matrix"
	"github.com/dreamware/schur/internal/worker"
)

// Default comparison tolerances, matching numpy.allclose.
const (
	DefaultRTol = 1e-5
	DefaultATol = 1e-8
)

// Session holds what a run needs. Directory, Dial and Kernel are required.
type Session struct {
	Directory   worker.Resolver
	Dial        worker.Dialer
	Kernel      kernel.Kernel
	Logger      *slog.Logger
	ClearCaches bool
	RTol        float64
	ATol        float64
}

// GenerateInvertible returns an n×n matrix of uniform [0,1) entries plus
// n·I. The result is strictly diagonally dominant with a positive diagonal,
// hence invertible with a positive determinant. The same seed always gives
// the same matrix.
func GenerateInvertible(n int, seed uint64) (matrix.Matrix, error) {
	if err := matrix.ValidateSide(n); err != nil {
		return matrix.Matrix{}, err
	}
	r := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d)) //nolint:gosec // test data
	data := make([]float64, n*n)
	for i := range data {
		data[i] = r.Float64()
	}
	for i := 0; i < n; i++ {
		data[i*n+i] += float64(n)
	}
	return matrix.New(n, data)
}

// Run benchmarks m against the cluster.
//
// Steps, in order: validate m's side; resolve the pool once; optionally
// clear every worker's cache; time the local log-determinant and inverse;
// send the inverse to the next round-robin worker and the log-determinant
// to the one after, timing each; compare the inverses.
//
// Any failure aborts the run and no Report is produced. A Report whose
// inverses disagree is still a successful run; InverseOK records the
// verdict.
func (s *Session) Run(ctx context.Context, m matrix.Matrix) (*Report, error) {
	if err := matrix.ValidateSide(m.Side()); err != nil {
		return nil, err
	}
	if s.Directory == nil || s.Dial == nil || s.Kernel == nil {
		return nil, errors.New("orchestrator: directory, dialer and kernel are required")
	}
	log := s.logger()

	if cluster.RequestID(ctx) == "" {
		ctx = cluster.WithRequestID(ctx, cluster.NewRequestID())
	}
	rep := &Report{
		RequestID: cluster.RequestID(ctx),
		Started:   time.Now(),
		Size:      m.Side(),
		Original:  m,
	}

	pool, err := s.Directory.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range pool.Workers() {
		rep.Workers = append(rep.Workers, w.Name)
	}
	log.Info("workers found", slog.Any("workers", rep.Workers), slog.String("request_id", rep.RequestID))

	if s.ClearCaches {
		if err := s.clearAll(ctx, pool.Workers()); err != nil {
			return nil, err
		}
		rep.CachesCleared = true
	}

	log.Info("local baseline", slog.Int("size", m.Side()))
	start := time.Now()
	rep.LocalLogDet, err = s.Kernel.LogDet(m)
	if err != nil {
		return nil, fmt.Errorf("local logdet: %w", err)
	}
	rep.LocalLogDetTime = time.Since(start)

	start = time.Now()
	localInv, err := s.Kernel.Invert(m)
	if err != nil {
		return nil, fmt.Errorf("local invert: %w", err)
	}
	rep.LocalInverseTime = time.Since(start)

	invTarget := pool.NextRoundRobin()
	ldTarget := pool.NextRoundRobin()
	rep.InverseWorker, rep.LogDetWorker = invTarget.Name, ldTarget.Name

	log.Info("distributed inverse", slog.String("worker", invTarget.Name))
	start = time.Now()
	rep.Inverse, err = s.Dial(invTarget).Invert(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("distributed invert: %w", err)
	}
	rep.DistInverseTime = time.Since(start)

	log.Info("distributed logdet", slog.String("worker", ldTarget.Name))
	start = time.Now()
	rep.DistLogDet, err = s.Dial(ldTarget).LogDet(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("distributed logdet: %w", err)
	}
	rep.DistLogDetTime = time.Since(start)

	rtol, atol := s.tolerances()
	rep.RTol, rep.ATol = rtol, atol
	rep.InverseOK = matrix.AllClose(localInv, rep.Inverse, rtol, atol)
	rep.MaxAbsDiff = matrix.MaxAbsDiff(localInv, rep.Inverse)
	rep.Residual = matrix.InverseResidual(m, rep.Inverse)

	log.Info("run complete",
		slog.Bool("inverse_ok", rep.InverseOK),
		slog.Float64("max_abs_diff", rep.MaxAbsDiff),
		slog.Duration("dist_inverse", rep.DistInverseTime),
		slog.Duration("dist_logdet", rep.DistLogDetTime),
	)
	return rep, nil
}

func (s *Session) clearAll(ctx context.Context, workers []cluster.WorkerInfo) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			if err := s.Dial(w).ClearCache(gctx); err != nil {
				return fmt.Errorf("clear cache on %s: %w", w.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger().Info("worker caches cleared", slog.Int("workers", len(workers)))
	return nil
}

func (s *Session) tolerances() (float64, float64) {
	rtol, atol := s.RTol, s.ATol
	if rtol == 0 && atol == 0 {
		rtol, atol = DefaultRTol, DefaultATol
	}
	return rtol, atol
}

func (s *Session) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Execute runs m and, only if the run succeeds, writes its artifacts into
// outDir. A failed run leaves outDir untouched.
func (s *Session) Execute(ctx context.Context, m matrix.Matrix, outDir string) (*Report, error) {
	rep, err := s.Run(ctx, m)
	if err != nil {
		return nil, err
	}
	if err := rep.WriteArtifacts(outDir); err != nil {
		return nil, err
	}
	return rep, nil
}

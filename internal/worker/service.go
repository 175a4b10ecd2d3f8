package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/schur/internal/cache"
	"github.com/dreamware/schur/internal/cluster"
	"github.com/dreamware/schur/internal/directory"
	"github.com/dreamware/schur/internal/kernel"
	"github.com/dreamware/schur/internal/matrix"
)

// DefaultThreshold is the side length at or below which matrices are handed
// to the dense kernel instead of being split further.
const DefaultThreshold = 64

const (
	opInvert = "invert"
	opLogDet = "logdet"
	opClear  = "clear_cache"
)

// Peer is anything that can run the worker operations: a local Service, a
// remote Client, or a Client wrapped in a retry policy.
type Peer interface {
	Invert(ctx context.Context, m matrix.Matrix) (matrix.Matrix, error)
	LogDet(ctx context.Context, m matrix.Matrix) (matrix.LogDet, error)
	ClearCache(ctx context.Context) error
}

// Resolver yields a snapshot of the current worker pool.
type Resolver interface {
	Resolve(ctx context.Context) (*directory.Pool, error)
}

// Dialer turns a registered worker into a Peer that calls it.
type Dialer func(cluster.WorkerInfo) Peer

// Config collects a Service's collaborators. Cache, Kernel, Directory and
// Dial are required; zero Threshold means DefaultThreshold.
type Config struct {
	Cache     *cache.Cache
	Kernel    kernel.Kernel
	Directory Resolver
	Dial      Dialer
	Logger    *slog.Logger
	Metrics   *Metrics
	Name      string
	Threshold int
}

// Service is the unit of remote computation. It answers Invert and LogDet
// for power-of-two square matrices, recursing through the Schur complement
// and delegating sub-problems to randomly picked peers.
//
// One Service exists per worker process and owns that process's cache.
// Calls run concurrently; the cache is the only shared mutable state.
type Service struct {
	cache     *cache.Cache
	kernel    kernel.Kernel
	directory Resolver
	dial      Dialer
	logger    *slog.Logger
	metrics   *Metrics
	name      string
	threshold int
}

// Info describes a running worker for GET /info.
type Info struct {
	Name      string      `json:"name" msgpack:"name"`
	Threshold int         `json:"threshold" msgpack:"threshold"`
	Cache     cache.Stats `json:"cache" msgpack:"cache"`
}

// NewService validates cfg and builds a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Cache == nil || cfg.Kernel == nil || cfg.Directory == nil || cfg.Dial == nil {
		return nil, errors.New("worker: cache, kernel, directory and dialer are required")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Threshold < 1 {
		return nil, fmt.Errorf("worker: threshold %d must be at least 1", cfg.Threshold)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	return &Service{
		cache:     cfg.Cache,
		kernel:    cfg.Kernel,
		directory: cfg.Directory,
		dial:      cfg.Dial,
		logger:    cfg.Logger.With(slog.String("worker", cfg.Name)),
		metrics:   cfg.Metrics,
		name:      cfg.Name,
		threshold: cfg.Threshold,
	}, nil
}

// Name returns the worker's registered name.
func (s *Service) Name() string { return s.name }

// Info reports the worker's identity and cache statistics.
func (s *Service) Info() Info {
	return Info{Name: s.name, Threshold: s.threshold, Cache: s.cache.Stats()}
}

// Invert returns m⁻¹.
//
// Algorithm, for m = [A B; C D]:
//  1. Return the cached inverse if m's fingerprint is known.
//  2. If side(m) <= threshold, invert with the dense kernel.
//  3. Otherwise delegate A⁻¹ to a random peer, form S = D - C·A⁻¹·B locally,
//     delegate S⁻¹ to another random peer and assemble
//     [A⁻¹ + A⁻¹B·S⁻¹·CA⁻¹, -A⁻¹B·S⁻¹; -S⁻¹·CA⁻¹, S⁻¹].
//  4. Cache the result under m's fingerprint.
//
// A singular A or S surfaces as kernel.ErrNumericalFailure from wherever the
// kernel hit it. Peer failures are returned unchanged.
func (s *Service) Invert(ctx context.Context, m matrix.Matrix) (matrix.Matrix, error) {
	start := time.Now()
	inv, err := s.invert(ctx, m)
	s.observe(ctx, opInvert, m.Side(), start, err)
	return inv, err
}

func (s *Service) invert(ctx context.Context, m matrix.Matrix) (matrix.Matrix, error) {
	log := s.requestLogger(ctx).With(slog.String("op", opInvert), slog.Int("side", m.Side()))
	log.Debug("task received")

	fp := m.Fingerprint()
	if inv, ok := s.cache.Inverse(fp); ok {
		s.metrics.cacheLookup(opInvert, true)
		log.Debug("cache hit", slog.String("fingerprint", fp.String()))
		return inv, nil
	}
	s.metrics.cacheLookup(opInvert, false)

	if m.Side() <= s.threshold {
		log.Debug("base case")
		inv, err := s.kernel.Invert(m)
		if err != nil {
			return matrix.Matrix{}, err
		}
		s.cache.PutInverse(fp, inv)
		return inv, nil
	}

	pool, err := s.directory.Resolve(ctx)
	if err != nil {
		return matrix.Matrix{}, err
	}
	a, b, c, d := m.Quadrants()

	aInv, err := s.pick(ctx, pool, opInvert).Invert(ctx, a)
	if err != nil {
		return matrix.Matrix{}, err
	}

	ca := matrix.Mul(c, aInv) // C·A⁻¹
	schur := matrix.Sub(d, matrix.Mul(ca, b))

	sInv, err := s.pick(ctx, pool, opInvert).Invert(ctx, schur)
	if err != nil {
		return matrix.Matrix{}, err
	}

	tr := matrix.Neg(matrix.Mul(matrix.Mul(aInv, b), sInv)) // -A⁻¹·B·S⁻¹
	bl := matrix.Neg(matrix.Mul(sInv, ca))                  // -S⁻¹·C·A⁻¹
	tl := matrix.Sub(aInv, matrix.Mul(tr, ca))              // A⁻¹ + A⁻¹·B·S⁻¹·C·A⁻¹
	inv := matrix.Assemble(tl, tr, bl, sInv)

	s.cache.PutInverse(fp, inv)
	return inv, nil
}

// LogDet returns the sign and log-magnitude of det(m), using
// det(M) = det(A)·det(S) with S = D - C·A⁻¹·B.
//
// LogDet(A) and Invert(A) are independent and are issued concurrently to two
// randomly picked peers; both must finish before S can be formed. LogDet(S)
// then goes to a third random pick. If either of the concurrent calls fails
// the other is cancelled and the first error is returned.
func (s *Service) LogDet(ctx context.Context, m matrix.Matrix) (matrix.LogDet, error) {
	start := time.Now()
	ld, err := s.logDet(ctx, m)
	s.observe(ctx, opLogDet, m.Side(), start, err)
	return ld, err
}

func (s *Service) logDet(ctx context.Context, m matrix.Matrix) (matrix.LogDet, error) {
	log := s.requestLogger(ctx).With(slog.String("op", opLogDet), slog.Int("side", m.Side()))
	log.Debug("task received")

	fp := m.Fingerprint()
	if ld, ok := s.cache.LogDet(fp); ok {
		s.metrics.cacheLookup(opLogDet, true)
		log.Debug("cache hit", slog.String("fingerprint", fp.String()))
		return ld, nil
	}
	s.metrics.cacheLookup(opLogDet, false)

	if m.Side() <= s.threshold {
		log.Debug("base case")
		ld, err := s.kernel.LogDet(m)
		if err != nil {
			return matrix.LogDet{}, err
		}
		s.cache.PutLogDet(fp, ld)
		return ld, nil
	}

	pool, err := s.directory.Resolve(ctx)
	if err != nil {
		return matrix.LogDet{}, err
	}
	a, b, c, d := m.Quadrants()

	var (
		ldA  matrix.LogDet
		aInv matrix.Matrix
	)
	g, gctx := errgroup.WithContext(ctx)
	logDetPeer := s.pick(ctx, pool, opLogDet)
	invertPeer := s.pick(ctx, pool, opInvert)
	g.Go(func() (err error) {
		ldA, err = logDetPeer.LogDet(gctx, a)
		return err
	})
	g.Go(func() (err error) {
		aInv, err = invertPeer.Invert(gctx, a)
		return err
	})
	if err := g.Wait(); err != nil {
		return matrix.LogDet{}, err
	}

	schur := matrix.Sub(d, matrix.Mul(matrix.Mul(c, aInv), b))

	ldS, err := s.pick(ctx, pool, opLogDet).LogDet(ctx, schur)
	if err != nil {
		return matrix.LogDet{}, err
	}

	ld := ldA.Combine(ldS)
	s.cache.PutLogDet(fp, ld)
	return ld, nil
}

// ClearCache drops every cached inverse and log-determinant.
func (s *Service) ClearCache(ctx context.Context) error {
	s.cache.Clear()
	s.metrics.calls.WithLabelValues(opClear, outcomeOK).Inc()
	s.requestLogger(ctx).Info("cache cleared")
	return nil
}

func (s *Service) pick(ctx context.Context, pool *directory.Pool, op string) Peer {
	target := pool.PickRandom()
	s.metrics.delegations.WithLabelValues(op).Inc()
	s.requestLogger(ctx).Debug("delegating", slog.String("op", op), slog.String("target", target.Name))
	return s.dial(target)
}

func (s *Service) requestLogger(ctx context.Context) *slog.Logger {
	if id := cluster.RequestID(ctx); id != "" {
		return s.logger.With(slog.String("request_id", id))
	}
	return s.logger
}

func (s *Service) observe(ctx context.Context, op string, side int, start time.Time, err error) {
	s.metrics.observeCall(op, start, err)
	if err != nil {
		s.requestLogger(ctx).Warn("task failed",
			slog.String("op", op),
			slog.Int("side", side),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
	}
}

package worker

import (
	"context"
	"errors"
	"time"

	"github.com/dreamware/schur/internal/backoff"
	"github.com/dreamware/schur/internal/cluster"
	"github.com/dreamware/schur/internal/directory"
	"github.com/dreamware/schur/internal/kernel"
	"github.com/dreamware/schur/internal/matrix"
)

// RetryPolicy bounds and repeats calls to a peer. The zero value makes one
// attempt with no deadline, which is the default fail-fast behaviour.
type RetryPolicy struct {
	// Backoff is waited between attempts. Nil means retry immediately.
	Backoff backoff.Strategy
	// Attempts is the total number of tries. Values below 1 mean 1.
	Attempts int
	// Timeout bounds each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration
}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// WithRetry wraps peer so that every call follows p. Failures the peer
// reported deterministically (numerical failure, invalid matrix, no
// workers) are returned at once; a second try would fail the same way.
func WithRetry(peer Peer, p RetryPolicy) Peer {
	if p.attempts() == 1 && p.Timeout == 0 {
		return peer
	}
	return &retryPeer{peer: peer, policy: p}
}

// RetryDialer applies WithRetry to every Peer d produces.
func RetryDialer(d Dialer, p RetryPolicy) Dialer {
	return func(info cluster.WorkerInfo) Peer { return WithRetry(d(info), p) }
}

type retryPeer struct {
	peer   Peer
	policy RetryPolicy
}

func (r *retryPeer) Invert(ctx context.Context, m matrix.Matrix) (matrix.Matrix, error) {
	var out matrix.Matrix
	err := r.run(ctx, func(ctx context.Context) (err error) {
		out, err = r.peer.Invert(ctx, m)
		return err
	})
	return out, err
}

func (r *retryPeer) LogDet(ctx context.Context, m matrix.Matrix) (matrix.LogDet, error) {
	var out matrix.LogDet
	err := r.run(ctx, func(ctx context.Context) (err error) {
		out, err = r.peer.LogDet(ctx, m)
		return err
	})
	return out, err
}

func (r *retryPeer) ClearCache(ctx context.Context) error {
	return r.run(ctx, r.peer.ClearCache)
}

func (r *retryPeer) run(ctx context.Context, call func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= r.policy.attempts(); attempt++ {
		if attempt > 1 && r.policy.Backoff != nil {
			if serr := backoff.Sleep(ctx, r.policy.Backoff, attempt-1); serr != nil {
				return err
			}
		}
		err = r.once(ctx, call)
		if err == nil || !retryable(ctx, err) {
			return err
		}
	}
	return err
}

func (r *retryPeer) once(ctx context.Context, call func(context.Context) error) error {
	if r.policy.Timeout <= 0 {
		return call(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
	defer cancel()
	return call(ctx)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, kernel.ErrNumericalFailure) &&
		!errors.Is(err, matrix.ErrInvalidSize) &&
		!errors.Is(err, matrix.ErrShape) &&
		!errors.Is(err, directory.ErrNoWorkersAvailable)
}

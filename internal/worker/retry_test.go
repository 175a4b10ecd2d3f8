package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/schur/internal/backoff"
	"github.com/dreamware/schur/internal/cluster"
	"github.com/dreamware/schur/internal/kernel"
	"github.com/dreamware/schur/internal/matrix"
)

// scriptedPeer fails with errs in order, then succeeds.
type scriptedPeer struct {
	errs  []error
	calls atomic.Int64
	block bool
}

func (p *scriptedPeer) next(ctx context.Context) error {
	n := int(p.calls.Add(1))
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if n <= len(p.errs) {
		return p.errs[n-1]
	}
	return nil
}

func (p *scriptedPeer) Invert(ctx context.Context, m matrix.Matrix) (matrix.Matrix, error) {
	if err := p.next(ctx); err != nil {
		return matrix.Matrix{}, err
	}
	return m, nil
}

func (p *scriptedPeer) LogDet(ctx context.Context, _ matrix.Matrix) (matrix.LogDet, error) {
	if err := p.next(ctx); err != nil {
		return matrix.LogDet{}, err
	}
	return matrix.LogDet{Sign: 1, LogAbs: 2}, nil
}

func (p *scriptedPeer) ClearCache(ctx context.Context) error { return p.next(ctx) }

func transient() error {
	return &RemoteError{Worker: "m.b", Op: opInvert, Err: errors.New("connection reset")}
}

func TestWithRetryZeroPolicyIsIdentity(t *testing.T) {
	p := &scriptedPeer{}
	assert.Same(t, Peer(p), WithRetry(p, RetryPolicy{}))
	assert.Same(t, Peer(p), WithRetry(p, RetryPolicy{Attempts: 1}))
}

func TestWithRetryRecovers(t *testing.T) {
	p := &scriptedPeer{errs: []error{transient(), transient()}}
	peer := WithRetry(p, RetryPolicy{Attempts: 3, Backoff: backoff.Constant{Interval: time.Millisecond}})

	got, err := peer.Invert(context.Background(), matrix.Identity(2))
	require.NoError(t, err)
	assert.True(t, got.Equal(matrix.Identity(2)))
	assert.EqualValues(t, 3, p.calls.Load())
}

func TestWithRetryGivesUp(t *testing.T) {
	p := &scriptedPeer{errs: []error{transient(), transient(), transient()}}
	peer := WithRetry(p, RetryPolicy{Attempts: 2})

	_, err := peer.LogDet(context.Background(), matrix.Identity(2))
	var remote *RemoteError
	assert.ErrorAs(t, err, &remote)
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestWithRetrySkipsDeterministicFailures(t *testing.T) {
	tests := []error{
		fmt.Errorf("%w: singular", kernel.ErrNumericalFailure),
		&RemoteError{Worker: "m.b", Op: opInvert, Err: kernel.ErrNumericalFailure},
		matrix.ErrInvalidSize,
	}
	for _, failure := range tests {
		t.Run(failure.Error(), func(t *testing.T) {
			p := &scriptedPeer{errs: []error{failure, failure}}
			peer := WithRetry(p, RetryPolicy{Attempts: 5})

			_, err := peer.Invert(context.Background(), matrix.Identity(2))
			assert.ErrorIs(t, err, failure)
			assert.EqualValues(t, 1, p.calls.Load())
		})
	}
}

func TestWithRetryTimeout(t *testing.T) {
	p := &scriptedPeer{block: true}
	peer := WithRetry(p, RetryPolicy{Attempts: 2, Timeout: 10 * time.Millisecond})

	start := time.Now()
	err := peer.ClearCache(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 2, p.calls.Load())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWithRetryStopsWhenParentCancelled(t *testing.T) {
	p := &scriptedPeer{errs: []error{transient(), transient(), transient()}}
	peer := WithRetry(p, RetryPolicy{Attempts: 3, Backoff: backoff.Constant{Interval: time.Hour}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := peer.Invert(ctx, matrix.Identity(2))
	assert.Error(t, err)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestRetryDialer(t *testing.T) {
	p := &scriptedPeer{errs: []error{transient()}}
	dial := RetryDialer(func(cluster.WorkerInfo) Peer { return p }, RetryPolicy{Attempts: 2})

	_, err := dial(cluster.WorkerInfo{Name: "m.b"}).Invert(context.Background(), matrix.Identity(2))
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.calls.Load())
}

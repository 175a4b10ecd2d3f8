package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dreamware/schur/internal/cluster"
	"github.com/dreamware/schur/internal/directory"
	"github.com/dreamware/schur/internal/kernel"
	"github.com/dreamware/schur/internal/matrix"
)

// RemoteError reports a failed call to another worker. When the peer
// answered with a known error code, Err also matches the corresponding
// sentinel, so errors.Is(err, kernel.ErrNumericalFailure) holds across any
// number of hops.
type RemoteError struct {
	Err    error
	Worker string
	Op     string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("worker %s %s: %v", e.Worker, e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Client calls one remote worker over HTTP. It implements Peer.
type Client struct {
	transport *cluster.Transport
	info      cluster.WorkerInfo
}

// NewClient returns a client for the worker described by info.
func NewClient(info cluster.WorkerInfo, transport *cluster.Transport) *Client {
	return &Client{info: info, transport: transport}
}

// NewDialer returns a Dialer that builds Clients sharing transport.
func NewDialer(transport *cluster.Transport) Dialer {
	return func(info cluster.WorkerInfo) Peer { return NewClient(info, transport) }
}

// Worker returns the worker this client targets.
func (c *Client) Worker() cluster.WorkerInfo { return c.info }

// Invert asks the worker for m⁻¹.
func (c *Client) Invert(ctx context.Context, m matrix.Matrix) (matrix.Matrix, error) {
	var out cluster.WireMatrix
	if err := c.do(ctx, http.MethodPost, "/invert", opInvert, cluster.EncodeMatrix(m), &out); err != nil {
		return matrix.Matrix{}, err
	}
	inv, err := out.Matrix()
	if err != nil {
		return matrix.Matrix{}, c.wrap(opInvert, fmt.Errorf("decode inverse: %w", err))
	}
	return inv, nil
}

// LogDet asks the worker for the log-determinant of m.
func (c *Client) LogDet(ctx context.Context, m matrix.Matrix) (matrix.LogDet, error) {
	var out cluster.LogDetResponse
	if err := c.do(ctx, http.MethodPost, "/logdet", opLogDet, cluster.EncodeMatrix(m), &out); err != nil {
		return matrix.LogDet{}, err
	}
	return out.LogDet(), nil
}

// ClearCache empties the worker's cache.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/cache/clear", opClear, nil, nil)
}

// Info fetches the worker's identity and cache statistics.
func (c *Client) Info(ctx context.Context) (Info, error) {
	var out Info
	err := c.do(ctx, http.MethodGet, "/info", "info", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path, op string, in, out any) error {
	if err := c.transport.Do(ctx, method, c.info.Addr+path, in, out); err != nil {
		return c.wrap(op, err)
	}
	return nil
}

func (c *Client) wrap(op string, err error) error {
	var serr *cluster.StatusError
	if errors.As(err, &serr) {
		if sentinel := sentinelFor(serr.Code); sentinel != nil {
			err = fmt.Errorf("%w: %w", sentinel, serr)
		}
	}
	return &RemoteError{Worker: c.info.Name, Op: op, Err: err}
}

// sentinelFor maps a wire error code back to the local sentinel it encodes.
func sentinelFor(code string) error {
	switch code {
	case cluster.CodeNumericalFailure:
		return kernel.ErrNumericalFailure
	case cluster.CodeInvalidMatrix:
		return matrix.ErrInvalidSize
	case cluster.CodeNoWorkers:
		return directory.ErrNoWorkersAvailable
	}
	return nil
}

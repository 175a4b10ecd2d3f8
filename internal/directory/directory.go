// Package directory resolves the current worker pool from the registry and
// picks a target worker per call.
//
// Two selection policies exist and each has exactly one user:
//   - NextRoundRobin, for the client's two coarse top-level calls, so that
//     with more than one worker they land on different workers.
//   - PickRandom, for delegation from inside a worker's recursion, chosen
//     independently at every delegation point to avoid hot-spotting one
//     worker as call volume multiplies with depth. The caller itself is an
//     eligible target.
package directory

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/schur/internal/cluster"
)

// ErrNoWorkersAvailable is returned when the registry lists no worker under
// the expected prefix. It is fatal to the request that needed the pool.
var ErrNoWorkersAvailable = errors.New("no workers available")

// Lister is the registry capability the directory needs.
type Lister interface {
	List(ctx context.Context, prefix string) ([]cluster.WorkerInfo, error)
}

// Directory resolves pools of workers sharing a name prefix.
type Directory struct {
	lister Lister
	prefix string
}

// New returns a directory over the workers lister reports under prefix.
func New(lister Lister, prefix string) *Directory {
	return &Directory{lister: lister, prefix: prefix}
}

// Prefix returns the name prefix this directory filters on.
func (d *Directory) Prefix() string { return d.prefix }

// Resolve snapshots the current pool, sorted by name. Each call returns a
// new Pool whose round-robin cursor starts at the first worker.
func (d *Directory) Resolve(ctx context.Context) (*Pool, error) {
	workers, err := d.lister.List(ctx, d.prefix)
	if err != nil {
		return nil, fmt.Errorf("resolve workers %q: %w", d.prefix, err)
	}
	if len(workers) == 0 {
		return nil, fmt.Errorf("prefix %q: %w", d.prefix, ErrNoWorkersAvailable)
	}
	return NewPool(workers), nil
}

// Pool is an immutable, name-sorted snapshot of workers plus the selection
// state over it. Safe for concurrent use.
type Pool struct {
	workers []cluster.WorkerInfo
	mu      sync.Mutex
	cursor  int
}

// NewPool builds a pool over a copy of workers, sorted by name.
func NewPool(workers []cluster.WorkerInfo) *Pool {
	ws := append([]cluster.WorkerInfo(nil), workers...)
	slices.SortFunc(ws, func(a, b cluster.WorkerInfo) int { return strings.Compare(a.Name, b.Name) })
	return &Pool{workers: ws}
}

// Len returns the number of workers in the pool.
func (p *Pool) Len() int { return len(p.workers) }

// Workers returns a copy of the pool's members in name order.
func (p *Pool) Workers() []cluster.WorkerInfo {
	return append([]cluster.WorkerInfo(nil), p.workers...)
}

// NextRoundRobin returns the worker under the cursor and advances it,
// wrapping at the end.
func (p *Pool) NextRoundRobin() cluster.WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.workers[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.workers)
	return w
}

// PickRandom returns a uniformly random member of the pool.
func (p *Pool) PickRandom() cluster.WorkerInfo {
	return p.workers[rand.IntN(len(p.workers))] //nolint:gosec // load spreading, not security
}

// Static is a Lister over a fixed set of workers, for single-process
// deployments and tests.
type Static []cluster.WorkerInfo

// List returns the members of s whose names start with prefix.
func (s Static) List(_ context.Context, prefix string) ([]cluster.WorkerInfo, error) {
	var out []cluster.WorkerInfo
	for _, w := range s {
		if strings.HasPrefix(w.Name, prefix) {
			out = append(out, w)
		}
	}
	return out, nil
}

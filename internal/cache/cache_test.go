package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/schur/internal/matrix"
)

func scalar(v float64) matrix.Matrix {
	m, _ := matrix.New(1, []float64{v})
	return m
}

// TestCache exercises the unbounded cache the solver runs with by default.
func TestCache(t *testing.T) {
	t.Run("new cache is empty", func(t *testing.T) {
		c := New(0)
		_, ok := c.Inverse(scalar(1).Fingerprint())
		assert.False(t, ok)
		_, ok = c.LogDet(scalar(1).Fingerprint())
		assert.False(t, ok)

		stats := c.Stats()
		assert.Zero(t, stats.Inverses)
		assert.Equal(t, uint64(2), stats.Misses)
	})

	t.Run("store and lookup", func(t *testing.T) {
		c := New(0)
		m := scalar(4)
		fp := m.Fingerprint()

		c.PutInverse(fp, scalar(0.25))
		c.PutLogDet(fp, matrix.LogDet{Sign: 1, LogAbs: 1.386})

		inv, ok := c.Inverse(fp)
		require.True(t, ok)
		assert.Equal(t, 0.25, inv.At(0, 0))

		ld, ok := c.LogDet(fp)
		require.True(t, ok)
		assert.Equal(t, 1, ld.Sign)

		assert.Equal(t, uint64(2), c.Stats().Hits)
	})

	t.Run("inverse and logdet tables are separate", func(t *testing.T) {
		c := New(0)
		fp := scalar(2).Fingerprint()
		c.PutInverse(fp, scalar(0.5))
		_, ok := c.LogDet(fp)
		assert.False(t, ok)
	})

	t.Run("clear wipes both tables", func(t *testing.T) {
		c := New(0)
		fp := scalar(2).Fingerprint()
		c.PutInverse(fp, scalar(0.5))
		c.PutLogDet(fp, matrix.LogDet{Sign: 1})

		c.Clear()

		_, ok := c.Inverse(fp)
		assert.False(t, ok)
		_, ok = c.LogDet(fp)
		assert.False(t, ok)
		assert.Zero(t, c.Stats().Inverses)
		assert.Zero(t, c.Stats().LogDets)
	})
}

func TestCacheBounded(t *testing.T) {
	c := New(2)
	for i := 1; i <= 3; i++ {
		m := scalar(float64(i))
		c.PutInverse(m.Fingerprint(), m)
	}

	_, ok := c.Inverse(scalar(1).Fingerprint())
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Inverse(scalar(3).Fingerprint())
	assert.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Inverses)
	assert.Equal(t, uint64(1), stats.Evicted)

	// Overwriting an existing key does not evict.
	c.PutInverse(scalar(3).Fingerprint(), scalar(3))
	assert.Equal(t, uint64(1), c.Stats().Evicted)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New(0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m := scalar(float64(g*1000 + i))
				fp := m.Fingerprint()
				c.PutInverse(fp, m)
				// A concurrent Clear may remove the entry, but a hit must
				// never return another matrix's value.
				if got, ok := c.Inverse(fp); ok && !got.Equal(m) {
					panic(fmt.Sprintf("wrong entry %d/%d", g, i))
				}
				if i%25 == 0 {
					c.Clear()
				}
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Stats().Inverses, uint64(800))
}

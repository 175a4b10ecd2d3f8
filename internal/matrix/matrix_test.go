package matrix

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int) Matrix {
	data := make([]float64, n*n)
	for i := range data {
		data[i] = float64(i + 1)
	}
	m, _ := New(n, data)
	return m
}

func TestNew(t *testing.T) {
	t.Run("copies input", func(t *testing.T) {
		data := []float64{1, 2, 3, 4}
		m, err := New(2, data)
		require.NoError(t, err)
		data[0] = 99
		assert.Equal(t, 1.0, m.At(0, 0))
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := New(2, []float64{1, 2, 3})
		assert.ErrorIs(t, err, ErrShape)
	})

	t.Run("rejects side whose square overflows", func(t *testing.T) {
		_, err := New(1<<32, nil)
		assert.ErrorIs(t, err, ErrShape)
	})

	t.Run("from ragged rows", func(t *testing.T) {
		_, err := FromRows([][]float64{{1, 2}, {3}})
		assert.ErrorIs(t, err, ErrShape)
	})
}

func TestValidateSide(t *testing.T) {
	tests := []struct {
		side int
		ok   bool
	}{
		{1, true}, {2, true}, {64, true}, {1024, true},
		{0, false}, {-4, false}, {3, false}, {100, false},
	}
	for _, tt := range tests {
		err := ValidateSide(tt.side)
		if tt.ok {
			assert.NoError(t, err, "side %d", tt.side)
		} else {
			assert.ErrorIs(t, err, ErrInvalidSize, "side %d", tt.side)
		}
	}
}

func TestQuadrantsAndAssemble(t *testing.T) {
	m := seq(4)
	a, b, c, d := m.Quadrants()

	assert.Equal(t, [][]float64{{1, 2}, {5, 6}}, a.Rows())
	assert.Equal(t, [][]float64{{3, 4}, {7, 8}}, b.Rows())
	assert.Equal(t, [][]float64{{9, 10}, {13, 14}}, c.Rows())
	assert.Equal(t, [][]float64{{11, 12}, {15, 16}}, d.Rows())

	assert.True(t, Assemble(a, b, c, d).Equal(m))

	// Quadrants own their storage.
	a.data[0] = -1
	assert.Equal(t, 1.0, m.At(0, 0))
}

func TestQuadrantsOfSideTwo(t *testing.T) {
	a, b, c, d := seq(2).Quadrants()
	assert.Equal(t, 1, a.Side())
	assert.Equal(t, []float64{1, 2, 3, 4}, []float64{a.At(0, 0), b.At(0, 0), c.At(0, 0), d.At(0, 0)})
}

func TestArithmetic(t *testing.T) {
	a, _ := FromRows([][]float64{{1, 2}, {3, 4}})
	b, _ := FromRows([][]float64{{0, 1}, {1, 0}})

	assert.Equal(t, [][]float64{{2, 1}, {4, 3}}, Mul(a, b).Rows())
	assert.Equal(t, [][]float64{{1, 3}, {4, 4}}, Add(a, b).Rows())
	assert.Equal(t, [][]float64{{1, 1}, {2, 4}}, Sub(a, b).Rows())
	assert.Equal(t, [][]float64{{-1, -2}, {-3, -4}}, Neg(a).Rows())
	assert.True(t, Mul(a, Identity(2)).Equal(a))

	assert.Panics(t, func() { Mul(a, Identity(4)) })
}

func TestFingerprint(t *testing.T) {
	m := seq(4)
	same, _ := New(4, m.Data())
	assert.Equal(t, m.Fingerprint(), same.Fingerprint())

	other := Add(m, Identity(4))
	assert.NotEqual(t, m.Fingerprint(), other.Fingerprint())

	// Same bytes, different shape.
	flat, _ := New(1, []float64{1})
	assert.NotEqual(t, flat.Fingerprint(), Zeros(0).Fingerprint())
	assert.Len(t, m.Fingerprint().String(), 16)
}

func TestLogDet(t *testing.T) {
	a := LogDet{Sign: -1, LogAbs: math.Log(2)}
	s := LogDet{Sign: -1, LogAbs: math.Log(3)}
	got := a.Combine(s)
	assert.Equal(t, 1, got.Sign)
	assert.InDelta(t, 6.0, got.Det(), 1e-12)

	assert.Equal(t, 0.0, LogDet{Sign: 0, LogAbs: math.Inf(-1)}.Det())
	assert.Equal(t, "0.0", LogDet{}.Scientific())
	assert.Equal(t, "1.5000e+3", LogDet{Sign: 1, LogAbs: math.Log(1500)}.Scientific())
	assert.Equal(t, "-2.0000e-2", LogDet{Sign: -1, LogAbs: math.Log(0.02)}.Scientific())
	assert.Equal(t, "3.0000e+12345", LogDet{Sign: 1, LogAbs: math.Log(3) + 12345*math.Ln10}.Scientific())
}

func TestAllClose(t *testing.T) {
	a, _ := FromRows([][]float64{{1, 2}, {3, 4}})
	b, _ := FromRows([][]float64{{1, 2}, {3, 4 + 1e-9}})
	c, _ := FromRows([][]float64{{1, 2}, {3, 4.1}})

	assert.True(t, AllClose(a, b, 1e-5, 1e-8))
	assert.False(t, AllClose(a, c, 1e-5, 1e-8))
	assert.False(t, AllClose(a, Identity(4), 1e-5, 1e-8))
	assert.InDelta(t, 0.1, MaxAbsDiff(a, c), 1e-12)
	assert.Equal(t, 0.0, InverseResidual(Identity(3), Identity(3)))
}

func TestWriteText(t *testing.T) {
	m, _ := FromRows([][]float64{{1, -0.5}, {2.25, 100}})
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, m, 4))
	assert.Equal(t, "1.0000 -0.5000\n2.2500 100.0000\n", buf.String())
}

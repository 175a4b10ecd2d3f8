// Package kernel is the dense linear-algebra primitive the recursive solver
// bottoms out in: once a matrix is at or below the recursion threshold it is
// inverted or factorised here in one piece.
package kernel

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/dreamware/schur/internal/matrix"
)

// ErrNumericalFailure is returned when a matrix is singular to working
// precision and has no inverse.
var ErrNumericalFailure = errors.New("numerical failure: matrix is singular")

// Kernel computes inverses and log-determinants of whole matrices.
// Implementations must be safe for concurrent use.
type Kernel interface {
	Invert(m matrix.Matrix) (matrix.Matrix, error)
	LogDet(m matrix.Matrix) (matrix.LogDet, error)
}

// Gonum is the LU based kernel backed by gonum/mat.
type Gonum struct{}

// Invert returns m⁻¹. An ill-conditioned but non-singular matrix still yields
// its (inaccurate) inverse; only exact singularity is an error.
func (Gonum) Invert(m matrix.Matrix) (matrix.Matrix, error) {
	if m.Side() == 0 {
		return matrix.Matrix{}, nil
	}
	var inv mat.Dense
	if err := inv.Inverse(m.Dense()); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return matrix.Matrix{}, fmt.Errorf("invert %dx%d: %w (%v)", m.Side(), m.Side(), ErrNumericalFailure, err)
		}
	}
	return matrix.FromDense(&inv)
}

// LogDet returns the sign and log-magnitude of det(m). A singular matrix
// reports sign 0 and -Inf rather than an error.
func (Gonum) LogDet(m matrix.Matrix) (matrix.LogDet, error) {
	if m.Side() == 0 {
		return matrix.LogDet{Sign: 1}, nil
	}
	logAbs, sign := mat.LogDet(m.Dense())
	if math.IsNaN(logAbs) {
		return matrix.LogDet{}, fmt.Errorf("logdet %dx%d: %w", m.Side(), m.Side(), ErrNumericalFailure)
	}
	if math.IsInf(logAbs, -1) || sign == 0 {
		return matrix.LogDet{Sign: 0, LogAbs: math.Inf(-1)}, nil
	}
	s := 1
	if sign < 0 {
		s = -1
	}
	return matrix.LogDet{Sign: s, LogAbs: logAbs}, nil
}

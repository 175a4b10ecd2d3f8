// Package matrix provides the dense square matrix value used by every
// component of the solver: quadrant partitioning and reassembly, the local
// products needed for Schur complements, content fingerprints and text dumps.
//
// A Matrix is immutable. Every operation that produces a matrix, including
// quadrant extraction, returns a freshly allocated copy, so a parent and its
// quadrants never share storage.
package matrix

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidSize is returned when a side length is zero, negative or
	// not a power of two.
	ErrInvalidSize = errors.New("matrix side must be a positive power of two")

	// ErrShape is returned (or panicked with, inside arithmetic helpers)
	// when operand dimensions do not agree.
	ErrShape = errors.New("matrix shape mismatch")
)

// Matrix is a dense square matrix of float64 values stored row-major.
// The zero value is the empty 0x0 matrix.
type Matrix struct {
	data []float64
	n    int
}

// New returns an n×n matrix holding a copy of data, which must contain
// exactly n*n row-major elements.
func New(n int, data []float64) (Matrix, error) {
	if n < 0 {
		return Matrix{}, fmt.Errorf("new %dx%d: %w", n, n, ErrShape)
	}
	// n*n may overflow for a hostile n, so check the quotient as well.
	if len(data) != n*n || (n != 0 && len(data)/n != n) {
		return Matrix{}, fmt.Errorf("new %dx%d from %d elements: %w", n, n, len(data), ErrShape)
	}
	out := make([]float64, len(data))
	copy(out, data)
	return Matrix{n: n, data: out}, nil
}

// FromRows builds a matrix from a square slice of rows.
func FromRows(rows [][]float64) (Matrix, error) {
	n := len(rows)
	data := make([]float64, 0, n*n)
	for i, row := range rows {
		if len(row) != n {
			return Matrix{}, fmt.Errorf("row %d has %d columns, want %d: %w", i, len(row), n, ErrShape)
		}
		data = append(data, row...)
	}
	return Matrix{n: n, data: data}, nil
}

// Zeros returns the n×n zero matrix.
func Zeros(n int) Matrix {
	return Matrix{n: n, data: make([]float64, n*n)}
}

// Identity returns the n×n identity matrix.
func Identity(n int) Matrix {
	m := Zeros(n)
	for i := 0; i < n; i++ {
		m.data[i*n+i] = 1
	}
	return m
}

// Side returns the side length of the matrix.
func (m Matrix) Side() int { return m.n }

// At returns the element at row i, column j.
func (m Matrix) At(i, j int) float64 { return m.data[i*m.n+j] }

// Data returns a copy of the row-major element slice.
func (m Matrix) Data() []float64 {
	out := make([]float64, len(m.data))
	copy(out, m.data)
	return out
}

// Rows returns a copy of the matrix as a slice of rows.
func (m Matrix) Rows() [][]float64 {
	rows := make([][]float64, m.n)
	for i := range rows {
		rows[i] = append([]float64(nil), m.data[i*m.n:(i+1)*m.n]...)
	}
	return rows
}

// Equal reports whether m and o are bit-for-bit identical.
func (m Matrix) Equal(o Matrix) bool {
	if m.n != o.n {
		return false
	}
	for i, v := range m.data {
		if v != o.data[i] {
			return false
		}
	}
	return true
}

// String renders small matrices for debugging.
func (m Matrix) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Matrix(%dx%d)", m.n, m.n)
	if m.n > 8 {
		return b.String()
	}
	for i := 0; i < m.n; i++ {
		b.WriteString("\n")
		for j := 0; j < m.n; j++ {
			fmt.Fprintf(&b, " %8.4f", m.At(i, j))
		}
	}
	return b.String()
}

// ValidateSide reports whether n is usable as a side length for the
// recursive solver.
func ValidateSide(n int) error {
	if n <= 0 || n&(n-1) != 0 {
		return fmt.Errorf("side %d: %w", n, ErrInvalidSize)
	}
	return nil
}

// Quadrants splits m into its top-left, top-right, bottom-left and
// bottom-right blocks of side n/2. The side of m must be even.
func (m Matrix) Quadrants() (a, b, c, d Matrix) {
	if m.n%2 != 0 {
		panic(fmt.Errorf("quadrants of %dx%d: %w", m.n, m.n, ErrShape))
	}
	h := m.n / 2
	return m.block(0, 0, h), m.block(0, h, h), m.block(h, 0, h), m.block(h, h, h)
}

func (m Matrix) block(row, col, h int) Matrix {
	out := Zeros(h)
	for i := 0; i < h; i++ {
		src := (row+i)*m.n + col
		copy(out.data[i*h:(i+1)*h], m.data[src:src+h])
	}
	return out
}

// Assemble joins four equally sized blocks into one matrix of twice the side.
func Assemble(tl, tr, bl, br Matrix) Matrix {
	h := tl.n
	if tr.n != h || bl.n != h || br.n != h {
		panic(fmt.Errorf("assemble %d/%d/%d/%d: %w", tl.n, tr.n, bl.n, br.n, ErrShape))
	}
	n := 2 * h
	out := Zeros(n)
	for i := 0; i < h; i++ {
		copy(out.data[i*n:i*n+h], tl.data[i*h:(i+1)*h])
		copy(out.data[i*n+h:(i+1)*n], tr.data[i*h:(i+1)*h])
		copy(out.data[(i+h)*n:(i+h)*n+h], bl.data[i*h:(i+1)*h])
		copy(out.data[(i+h)*n+h:(i+h+1)*n], br.data[i*h:(i+1)*h])
	}
	return out
}

// Dense exposes m as a gonum matrix. The returned value shares storage with
// m and must be treated as read-only.
func (m Matrix) Dense() *mat.Dense {
	if m.n == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(m.n, m.n, m.data)
}

// FromDense copies a square gonum matrix into a Matrix.
func FromDense(d mat.Matrix) (Matrix, error) {
	r, c := d.Dims()
	if r != c {
		return Matrix{}, fmt.Errorf("from %dx%d: %w", r, c, ErrShape)
	}
	out := Zeros(r)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.data[i*r+j] = d.At(i, j)
		}
	}
	return out, nil
}

func (m Matrix) mustMatch(o Matrix, op string) {
	if m.n != o.n {
		panic(fmt.Errorf("%s %dx%d by %dx%d: %w", op, m.n, m.n, o.n, o.n, ErrShape))
	}
}

// Mul returns the product a·b.
func Mul(a, b Matrix) Matrix {
	a.mustMatch(b, "mul")
	if a.n == 0 {
		return Matrix{}
	}
	out := Zeros(a.n)
	dst := mat.NewDense(a.n, a.n, out.data)
	dst.Mul(a.Dense(), b.Dense())
	return out
}

// Add returns a+b.
func Add(a, b Matrix) Matrix {
	a.mustMatch(b, "add")
	out := Zeros(a.n)
	for i := range out.data {
		out.data[i] = a.data[i] + b.data[i]
	}
	return out
}

// Sub returns a-b.
func Sub(a, b Matrix) Matrix {
	a.mustMatch(b, "sub")
	out := Zeros(a.n)
	for i := range out.data {
		out.data[i] = a.data[i] - b.data[i]
	}
	return out
}

// Neg returns -a.
func Neg(a Matrix) Matrix {
	out := Zeros(a.n)
	for i, v := range a.data {
		out.data[i] = -v
	}
	return out
}

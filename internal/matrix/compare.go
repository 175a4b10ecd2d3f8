package matrix

import (
	"bufio"
	"fmt"
	"io"
	"math"
)

// AllClose reports whether |a-b| <= atol + rtol·|b| holds for every element,
// the same test numpy.allclose applies. NaNs never compare close.
func AllClose(a, b Matrix, rtol, atol float64) bool {
	if a.n != b.n {
		return false
	}
	for i, x := range a.data {
		y := b.data[i]
		if math.IsNaN(x) || math.IsNaN(y) {
			return false
		}
		if math.Abs(x-y) > atol+rtol*math.Abs(y) {
			return false
		}
	}
	return true
}

// MaxAbsDiff returns the largest elementwise |a-b|.
func MaxAbsDiff(a, b Matrix) float64 {
	a.mustMatch(b, "diff")
	var worst float64
	for i, x := range a.data {
		if d := math.Abs(x - b.data[i]); d > worst || math.IsNaN(d) {
			worst = d
		}
	}
	return worst
}

// InverseResidual returns max|inv·m - I|, the error of inv as an inverse of m.
func InverseResidual(m, inv Matrix) float64 {
	return MaxAbsDiff(Mul(inv, m), Identity(m.n))
}

// WriteText dumps m one row per line with space separated fixed-precision
// values, the layout numpy.savetxt produces with fmt='%.<precision>f'.
func WriteText(w io.Writer, m Matrix, precision int) error {
	bw := bufio.NewWriter(w)
	format := fmt.Sprintf("%%.%df", precision)
	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			if j > 0 {
				if err := bw.WriteByte(' '); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(bw, format, m.At(i, j)); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

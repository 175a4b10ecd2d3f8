package matrix

import (
	"fmt"
	"math"
)

// LogDet is a determinant expressed as a sign and the natural logarithm of
// its magnitude, so that products of many large determinants stay
// representable. Sign is -1, 0 or 1; a zero sign means a singular matrix and
// LogAbs is then -Inf.
type LogDet struct {
	Sign   int
	LogAbs float64
}

// Combine applies det(M) = det(A)·det(S).
func (l LogDet) Combine(o LogDet) LogDet {
	return LogDet{Sign: l.Sign * o.Sign, LogAbs: l.LogAbs + o.LogAbs}
}

// Det returns sign·exp(LogAbs). It overflows to ±Inf for large matrices.
func (l LogDet) Det() float64 {
	if l.Sign == 0 {
		return 0
	}
	return float64(l.Sign) * math.Exp(l.LogAbs)
}

// Scientific renders the determinant as mantissa and base-10 exponent
// without ever materialising the (possibly overflowing) value.
func (l LogDet) Scientific() string {
	if l.Sign == 0 {
		return "0.0"
	}
	log10 := l.LogAbs / math.Ln10
	exp := math.Floor(log10)
	mantissa := math.Pow(10, log10-exp)
	return fmt.Sprintf("%.4fe%+d", float64(l.Sign)*mantissa, int64(exp))
}

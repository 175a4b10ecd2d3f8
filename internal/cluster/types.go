package cluster

import (
	"fmt"
	"math"

	"github.com/dreamware/schur/internal/matrix"
)

// WorkerInfo identifies one worker process: the logical name it chose at
// startup and the base URL other processes reach it on.
type WorkerInfo struct {
	Name string `json:"name" msgpack:"name"`
	Addr string `json:"addr" msgpack:"addr"`
}

// RegisterRequest is the body of POST /register on the registry.
type RegisterRequest struct {
	Worker WorkerInfo `json:"worker" msgpack:"worker"`
}

// ListResponse is the body returned by GET /workers on the registry.
type ListResponse struct {
	Workers []WorkerInfo `json:"workers" msgpack:"workers"`
}

// ElementFloat64 is the only element type the wire schema carries today.
const ElementFloat64 = "float64"

// WireMatrix is the statically typed wire form of a dense matrix: element
// type, dimensions and the row-major payload.
type WireMatrix struct {
	DType string    `json:"dtype" msgpack:"dtype"`
	Rows  int       `json:"rows" msgpack:"rows"`
	Cols  int       `json:"cols" msgpack:"cols"`
	Data  []float64 `json:"data" msgpack:"data"`
}

// EncodeMatrix converts m to its wire form.
func EncodeMatrix(m matrix.Matrix) WireMatrix {
	return WireMatrix{
		DType: ElementFloat64,
		Rows:  m.Side(),
		Cols:  m.Side(),
		Data:  m.Data(),
	}
}

// Matrix validates the wire form and converts it back to a Matrix.
func (w WireMatrix) Matrix() (matrix.Matrix, error) {
	if w.DType != ElementFloat64 {
		return matrix.Matrix{}, fmt.Errorf("unsupported dtype %q", w.DType)
	}
	if w.Rows != w.Cols {
		return matrix.Matrix{}, fmt.Errorf("wire matrix %dx%d: %w", w.Rows, w.Cols, matrix.ErrShape)
	}
	return matrix.New(w.Rows, w.Data)
}

// LogDetResponse is the wire form of a signed log-determinant. A singular
// result travels as sign 0 with log_abs 0 since JSON has no -Inf.
type LogDetResponse struct {
	Sign   int     `json:"sign" msgpack:"sign"`
	LogAbs float64 `json:"log_abs" msgpack:"log_abs"`
}

// EncodeLogDet converts l to its wire form.
func EncodeLogDet(l matrix.LogDet) LogDetResponse {
	if l.Sign == 0 {
		return LogDetResponse{}
	}
	return LogDetResponse{Sign: l.Sign, LogAbs: l.LogAbs}
}

// LogDet restores the log-determinant, mapping sign 0 back to -Inf.
func (r LogDetResponse) LogDet() matrix.LogDet {
	if r.Sign == 0 {
		return matrix.LogDet{Sign: 0, LogAbs: math.Inf(-1)}
	}
	return matrix.LogDet{Sign: r.Sign, LogAbs: r.LogAbs}
}

// Error codes carried in ErrorResponse.
const (
	CodeBadRequest       = "bad_request"
	CodeInvalidMatrix    = "invalid_matrix"
	CodeNumericalFailure = "numerical_failure"
	CodeNoWorkers        = "no_workers"
	CodeRemoteFailure    = "remote_failure"
	CodeInternal         = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL     string
	Code    string
	Message string
	Status  int
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Status)
	}
	return fmt.Sprintf("http %s: %d %s: %s", e.URL, e.Status, e.Code, e.Message)
}

package orchestrator

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dreamware/schur/internal/matrix"
)

// Artifact file names written by WriteArtifacts.
const (
	ReportFile   = "performance_report.txt"
	OriginalFile = "original_matrix.txt"
	InverseFile  = "inverse_matrix.txt"
)

// matrixPrecision is the number of decimals in the matrix dumps.
const matrixPrecision = 4

// Report is the outcome of one Session.Run.
type Report struct {
	Started   time.Time
	RequestID string
	Size      int
	Workers   []string

	CachesCleared bool
	InverseWorker string
	LogDetWorker  string

	LocalLogDetTime  time.Duration
	LocalInverseTime time.Duration
	DistLogDetTime   time.Duration
	DistInverseTime  time.Duration

	LocalLogDet matrix.LogDet
	DistLogDet  matrix.LogDet

	InverseOK  bool
	MaxAbsDiff float64
	Residual   float64
	RTol       float64
	ATol       float64

	Original matrix.Matrix
	Inverse  matrix.Matrix
}

// LogDetSpeedup is local time over distributed time, or 0 when the
// distributed time is not positive.
func (r *Report) LogDetSpeedup() float64 { return speedup(r.LocalLogDetTime, r.DistLogDetTime) }

// InverseSpeedup is local time over distributed time, or 0 when the
// distributed time is not positive.
func (r *Report) InverseSpeedup() float64 { return speedup(r.LocalInverseTime, r.DistInverseTime) }

func speedup(local, dist time.Duration) float64 {
	if dist <= 0 {
		return 0
	}
	return local.Seconds() / dist.Seconds()
}

// Verdict is "OK" when the distributed inverse matched the local one.
func (r *Report) Verdict() string {
	if r.InverseOK {
		return "OK"
	}
	return "FAILED"
}

// Render writes the human-readable report.
func (r *Report) Render(w io.Writer) error {
	rule := strings.Repeat("=", 60)
	var b strings.Builder
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "    PERFORMANCE ANALYSIS - DISTRIBUTED MATRICES")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Date:       %s\n", r.Started.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Request id: %s\n\n", r.RequestID)

	fmt.Fprintln(&b, "MATRIX:")
	fmt.Fprintf(&b, "  - Size:    %dx%d\n", r.Size, r.Size)
	fmt.Fprintf(&b, "  - Workers: %d (%s)\n", len(r.Workers), strings.Join(r.Workers, ", "))
	fmt.Fprintf(&b, "  - Caches cleared: %t\n\n", r.CachesCleared)

	fmt.Fprintf(&b, "TIMES (log-determinant, %s):\n", r.LogDetWorker)
	fmt.Fprintf(&b, "  - Serial:   %.6fs\n", r.LocalLogDetTime.Seconds())
	fmt.Fprintf(&b, "  - Parallel: %.6fs\n", r.DistLogDetTime.Seconds())
	fmt.Fprintf(&b, "  - Speedup:  %.2fx\n\n", r.LogDetSpeedup())

	fmt.Fprintf(&b, "TIMES (inverse, %s):\n", r.InverseWorker)
	fmt.Fprintf(&b, "  - Serial:   %.6fs\n", r.LocalInverseTime.Seconds())
	fmt.Fprintf(&b, "  - Parallel: %.6fs\n", r.DistInverseTime.Seconds())
	fmt.Fprintf(&b, "  - Speedup:  %.2fx\n\n", r.InverseSpeedup())

	fmt.Fprintln(&b, "RESULTS:")
	fmt.Fprintf(&b, "  - Log-determinant serial:   (sign: %d, log: %.4f)\n", r.LocalLogDet.Sign, r.LocalLogDet.LogAbs)
	fmt.Fprintf(&b, "  - Log-determinant parallel: (sign: %d, log: %.4f)\n", r.DistLogDet.Sign, r.DistLogDet.LogAbs)
	fmt.Fprintf(&b, "  - Determinant (approx.):    %s\n", r.DistLogDet.Scientific())
	fmt.Fprintf(&b, "  - Inverse validation:       %s (rtol %g, atol %g)\n", r.Verdict(), r.RTol, r.ATol)
	fmt.Fprintf(&b, "  - Max |serial - parallel|:  %.3e\n", r.MaxAbsDiff)
	fmt.Fprintf(&b, "  - Max |inv·M - I|:          %.3e\n\n", r.Residual)

	fmt.Fprintf(&b, "Files: '%s', '%s'\n", OriginalFile, InverseFile)
	fmt.Fprintln(&b, rule)

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteArtifacts writes the report and the original and inverse matrix
// dumps into dir, creating it if needed.
func (r *Report) WriteArtifacts(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := writeFile(filepath.Join(dir, OriginalFile), func(w io.Writer) error {
		return matrix.WriteText(w, r.Original, matrixPrecision)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, InverseFile), func(w io.Writer) error {
		return matrix.WriteText(w, r.Inverse, matrixPrecision)
	}); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, ReportFile), r.Render)
}

func writeFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, 1<<16)
	if err := fill(bw); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

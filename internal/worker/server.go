package worker

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamware/schur/internal/cluster"
	"github.com/dreamware/schur/internal/directory"
	"github.com/dreamware/schur/internal/kernel"
	"github.com/dreamware/schur/internal/matrix"
)

// NewHandler exposes svc over HTTP.
//
// Routes:
//
//	POST /invert       WireMatrix -> WireMatrix
//	POST /logdet       WireMatrix -> LogDetResponse
//	POST /cache/clear  -> 204
//	GET  /info         -> Info
//	GET  /health       -> 200
//	GET  /metrics      Prometheus exposition of gatherer
//
// Errors are answered with cluster.ErrorResponse. The status and code follow
// the error's sentinel, not the hop it came from: a numerical failure three
// workers away is still 422 numerical_failure here.
//
// Request bodies are capped at cluster.MaxBodyBytes unless WithMaxBodyBytes
// says otherwise; an oversized body is answered with 413.
func NewHandler(svc *Service, gatherer prometheus.Gatherer, logger *slog.Logger, opts ...HandlerOption) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: svc, logger: logger, maxBody: cluster.MaxBodyBytes}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /invert", h.invert)
	mux.HandleFunc("POST /logdet", h.logDet)
	mux.HandleFunc("POST /cache/clear", h.clearCache)
	mux.HandleFunc("GET /info", h.info)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return cluster.RequestIDMiddleware(cluster.RecoverMiddleware(logger, cluster.LimitBody(h.maxBody, mux)))
}

// HandlerOption adjusts NewHandler.
type HandlerOption func(*handler)

// WithMaxBodyBytes caps request bodies at n bytes.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

type handler struct {
	svc     *Service
	logger  *slog.Logger
	maxBody int64
}

func (h *handler) invert(w http.ResponseWriter, r *http.Request) {
	m, ok := h.readMatrix(w, r)
	if !ok {
		return
	}
	inv, err := h.svc.Invert(r.Context(), m)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	cluster.WriteResponse(w, r, http.StatusOK, cluster.EncodeMatrix(inv))
}

func (h *handler) logDet(w http.ResponseWriter, r *http.Request) {
	m, ok := h.readMatrix(w, r)
	if !ok {
		return
	}
	ld, err := h.svc.LogDet(r.Context(), m)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	cluster.WriteResponse(w, r, http.StatusOK, cluster.EncodeLogDet(ld))
}

func (h *handler) clearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCache(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) info(w http.ResponseWriter, r *http.Request) {
	cluster.WriteResponse(w, r, http.StatusOK, h.svc.Info())
}

// readMatrix decodes and validates the request body. On failure it has
// already written the response.
func (h *handler) readMatrix(w http.ResponseWriter, r *http.Request) (matrix.Matrix, bool) {
	var wm cluster.WireMatrix
	if err := cluster.ReadRequest(r, &wm); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		cluster.WriteError(w, r, status, cluster.CodeBadRequest, err.Error())
		return matrix.Matrix{}, false
	}
	m, err := wm.Matrix()
	if err != nil {
		cluster.WriteError(w, r, http.StatusBadRequest, cluster.CodeInvalidMatrix, err.Error())
		return matrix.Matrix{}, false
	}
	if err := matrix.ValidateSide(m.Side()); err != nil {
		cluster.WriteError(w, r, http.StatusBadRequest, cluster.CodeInvalidMatrix, err.Error())
		return matrix.Matrix{}, false
	}
	return m, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	cluster.WriteError(w, r, status, code, err.Error())
}

// classify maps an error to the HTTP status and wire code it is reported
// with. Sentinels take precedence over RemoteError so codes survive hops.
func classify(err error) (int, string) {
	var remote *RemoteError
	switch {
	case errors.Is(err, kernel.ErrNumericalFailure):
		return http.StatusUnprocessableEntity, cluster.CodeNumericalFailure
	case errors.Is(err, matrix.ErrInvalidSize), errors.Is(err, matrix.ErrShape):
		return http.StatusBadRequest, cluster.CodeInvalidMatrix
	case errors.Is(err, directory.ErrNoWorkersAvailable):
		return http.StatusServiceUnavailable, cluster.CodeNoWorkers
	case errors.As(err, &remote):
		return http.StatusBadGateway, cluster.CodeRemoteFailure
	default:
		return http.StatusInternalServerError, cluster.CodeInternal
	}
}

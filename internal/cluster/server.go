package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// MaxBodyBytes bounds a request body on the wire and after zstd decoding.
// A 4096×4096 float64 matrix is 128 MiB.
const MaxBodyBytes = 512 << 20

// RequestIDHeader carries the id of the top-level request a call belongs to.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NewRequestID returns a fresh random request id.
func NewRequestID() string { return uuid.NewString() }

// RequestIDMiddleware puts the caller's X-Request-ID (or a new one) into the
// request context and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = NewRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// RecoverMiddleware turns a handler panic into a 500 so one bad request
// cannot take the process down.
func RecoverMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("handler panic",
					slog.String("path", r.URL.Path),
					slog.String("request_id", RequestID(r.Context())),
					slog.Any("panic", rec),
				)
				WriteError(w, r, http.StatusInternalServerError, CodeInternal, fmt.Sprint(rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// LimitBody caps every request body at limit bytes. Reads past the cap fail
// with *http.MaxBytesError.
func LimitBody(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// ReadRequest decodes the request body into v using the codec named by its
// Content-Type, undoing zstd content encoding first.
func ReadRequest(r *http.Request, v any) error {
	raw, err := readBody(r.Body, r.Header.Get("Content-Encoding"))
	if err != nil {
		return err
	}
	return codecFor(r.Header.Get("Content-Type")).Unmarshal(raw, v)
}

// WriteResponse encodes v with the codec the caller asked for (Accept, else
// the request's Content-Type) and compresses it when the caller accepts zstd.
func WriteResponse(w http.ResponseWriter, r *http.Request, status int, v any) {
	codec := responseCodec(r)
	raw, err := codec.Marshal(v)
	if err != nil {
		http.Error(w, "encode response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(raw) >= minCompressSize && strings.Contains(r.Header.Get("Accept-Encoding"), "zstd") {
		raw = zstdEncoder.EncodeAll(raw, nil)
		w.Header().Set("Content-Encoding", "zstd")
	}
	w.Header().Set("Content-Type", codec.ContentType())
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// WriteError sends an ErrorResponse.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteResponse(w, r, status, ErrorResponse{Code: code, Message: message})
}

func responseCodec(r *http.Request) Codec {
	if accept := r.Header.Get("Accept"); accept != "" {
		return codecFor(accept)
	}
	return codecFor(r.Header.Get("Content-Type"))
}

// Package registry implements the worker directory service: workers register
// a logical name and the address they can be reached on, and clients list
// the names sharing a prefix to discover the current pool.
//
// The registry is the single source of truth for which workers exist. It
// does not track in-flight work; a client takes one snapshot of the pool
// per top-level request and never consults the registry again for it.
package registry

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/schur/internal/cluster"
)

// Registry is the in-memory name → address table behind the HTTP API.
// Thread-safe: all methods may be called concurrently.
type Registry struct {
	logger  *slog.Logger
	workers []cluster.WorkerInfo // sorted by Name
	mu      sync.RWMutex
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds info or replaces the address of an existing name.
// It reports whether the name was new.
func (r *Registry) Register(info cluster.WorkerInfo) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, found := slices.BinarySearchFunc(r.workers, info.Name, func(w cluster.WorkerInfo, name string) int {
		return strings.Compare(w.Name, name)
	})
	if found {
		r.workers[idx] = info
		return false
	}
	r.workers = slices.Insert(r.workers, idx, info)
	return true
}

// Remove drops name from the registry. It reports whether it was present.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.workers, func(w cluster.WorkerInfo) bool { return w.Name == name })
	if idx < 0 {
		return false
	}
	r.workers = slices.Delete(r.workers, idx, idx+1)
	return true
}

// List returns the workers whose names start with prefix, sorted by name.
// The returned slice is a copy.
func (r *Registry) List(prefix string) []cluster.WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]cluster.WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		if strings.HasPrefix(w.Name, prefix) {
			out = append(out, w)
		}
	}
	return out
}

// Handler returns the registry's HTTP API:
//
//	POST   /register        {worker: {name, addr}}  → 204
//	GET    /workers?prefix= → {workers: [...]}
//	DELETE /workers/{name}  → 204 or 404
//	GET    /health          → 200
func (r *Registry) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", r.handleRegister)
	mux.HandleFunc("GET /workers", r.handleList)
	mux.HandleFunc("DELETE /workers/{name}", r.handleRemove)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return cluster.RequestIDMiddleware(mux)
}

func (r *Registry) handleRegister(w http.ResponseWriter, req *http.Request) {
	var body cluster.RegisterRequest
	if err := cluster.ReadRequest(req, &body); err != nil {
		cluster.WriteError(w, req, http.StatusBadRequest, cluster.CodeBadRequest, "bad body: "+err.Error())
		return
	}
	if body.Worker.Name == "" || body.Worker.Addr == "" {
		cluster.WriteError(w, req, http.StatusBadRequest, cluster.CodeBadRequest, "missing name/addr")
		return
	}
	if r.Register(body.Worker) {
		r.logger.Info("worker registered", slog.String("name", body.Worker.Name), slog.String("addr", body.Worker.Addr))
	} else {
		r.logger.Info("worker re-registered", slog.String("name", body.Worker.Name), slog.String("addr", body.Worker.Addr))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Registry) handleList(w http.ResponseWriter, req *http.Request) {
	workers := r.List(req.URL.Query().Get("prefix"))
	cluster.WriteResponse(w, req, http.StatusOK, cluster.ListResponse{Workers: workers})
}

func (r *Registry) handleRemove(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	if !r.Remove(name) {
		cluster.WriteError(w, req, http.StatusNotFound, cluster.CodeBadRequest, "unknown worker "+name)
		return
	}
	r.logger.Info("worker deregistered", slog.String("name", name))
	w.WriteHeader(http.StatusNoContent)
}

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dreamware/schur/internal/backoff"
	"github.com/dreamware/schur/internal/cluster"
)

// Client talks to a registry over HTTP.
type Client struct {
	base string
}

// NewClient returns a client for the registry at base (e.g.
// "http://127.0.0.1:9090").
func NewClient(base string) *Client {
	return &Client{base: strings.TrimRight(base, "/")}
}

// Register announces info to the registry.
func (c *Client) Register(ctx context.Context, info cluster.WorkerInfo) error {
	return cluster.PostJSON(ctx, c.base+"/register", cluster.RegisterRequest{Worker: info}, nil)
}

// List returns the registered workers whose names start with prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]cluster.WorkerInfo, error) {
	var resp cluster.ListResponse
	if err := cluster.GetJSON(ctx, c.base+"/workers?prefix="+url.QueryEscape(prefix), &resp); err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	return resp.Workers, nil
}

// Deregister removes name from the registry.
func (c *Client) Deregister(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/workers/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &cluster.StatusError{URL: req.URL.String(), Status: resp.StatusCode}
	}
	return nil
}

// Register announces info through c, retrying to ride out registry startup
// delays and transient network errors. It gives up after attempts tries and
// returns the last error.
func Register(ctx context.Context, c *Client, info cluster.WorkerInfo, attempts int, delay backoff.Strategy, logger *slog.Logger) error {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		lastErr = c.Register(ctx, info)
		if lastErr == nil {
			logger.Info("registered with registry", slog.String("registry", c.base), slog.String("name", info.Name))
			return nil
		}
		logger.Warn("register retry", slog.Int("attempt", i), slog.String("error", lastErr.Error()))
		if i == attempts {
			break
		}
		if err := backoff.Sleep(ctx, delay, i); err != nil {
			return err
		}
	}
	return fmt.Errorf("register %s after %d attempts: %w", info.Name, attempts, lastErr)
}

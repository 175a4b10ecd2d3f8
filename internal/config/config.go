// Package config loads settings for the registry, worker and client
// binaries.
//
// Values are layered in this order, each overriding the last:
//  1. Default()
//  2. an optional YAML file named by --config
//  3. SCHUR_* environment variables
//  4. command-line flags
//
// One file can carry the settings of all three binaries; each binary reads
// only its own section plus the shared top-level keys.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/schur/internal/cluster"
	"github.com/dreamware/schur/internal/matrix"
)

// DefaultPrefix is the name prefix shared by every worker of one cluster.
const DefaultPrefix = "matrix.calculator."

// Config is the full configuration of one deployment.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Prefix filters registry entries down to this cluster's workers.
	Prefix string `yaml:"prefix"`

	// Codec names the body encoding for worker calls: msgpack, cbor or json.
	Codec string `yaml:"codec"`

	// Compress enables zstd for large worker call bodies.
	Compress bool `yaml:"compress"`

	Registry RegistryConfig `yaml:"registry"`
	Worker   WorkerConfig   `yaml:"worker"`
	Client   ClientConfig   `yaml:"client"`
}

// RegistryConfig configures the registry process and how others reach it.
type RegistryConfig struct {
	// Addr is the base URL workers and clients use.
	Addr string `yaml:"addr"`

	// Listen is the registry server's own listen address.
	Listen string `yaml:"listen"`

	// HealthInterval is how often registered workers are probed.
	// Zero disables health checking.
	HealthInterval time.Duration `yaml:"health_interval"`

	// MaxFailures is the number of consecutive failed probes after which a
	// worker is removed.
	MaxFailures int `yaml:"max_failures"`
}

// WorkerConfig configures a worker process.
type WorkerConfig struct {
	// ID is the worker's unique identifier; its registered name is Prefix+ID.
	ID string `yaml:"id"`

	// Listen is the local listen address.
	Listen string `yaml:"listen"`

	// Advertise is the base URL registered for other processes to call.
	// Empty means http://127.0.0.1 plus the listen port.
	Advertise string `yaml:"advertise"`

	// Threshold is the side at or below which the dense kernel is used.
	Threshold int `yaml:"threshold"`

	// CacheMaxEntries bounds each cache table. Zero means unbounded.
	CacheMaxEntries int `yaml:"cache_max_entries"`

	// CallTimeout bounds each delegated call. Zero means no timeout.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// RetryAttempts is the number of tries per delegated call.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryBackoff is the initial delay between tries; it doubles per try.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// RegisterAttempts bounds startup registration retries.
	RegisterAttempts int `yaml:"register_attempts"`
}

// ClientConfig configures one benchmark run.
type ClientConfig struct {
	Size        int     `yaml:"size"`
	Seed        uint64  `yaml:"seed"`
	OutDir      string  `yaml:"out_dir"`
	ClearCaches bool    `yaml:"clear_caches"`
	RTol        float64 `yaml:"rtol"`
	ATol        float64 `yaml:"atol"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Prefix:   DefaultPrefix,
		Codec:    "msgpack",
		Compress: true,
		Registry: RegistryConfig{
			Addr:           "http://127.0.0.1:9090",
			Listen:         ":9090",
			HealthInterval: 5 * time.Second,
			MaxFailures:    3,
		},
		Worker: WorkerConfig{
			Listen:           ":9100",
			Threshold:        64,
			RetryAttempts:    1,
			RetryBackoff:     100 * time.Millisecond,
			RegisterAttempts: 10,
		},
		Client: ClientConfig{
			Size:        1024,
			Seed:        1,
			OutDir:      ".",
			ClearCaches: true,
			RTol:        1e-5,
			ATol:        1e-8,
		},
	}
}

// LoadFile merges the YAML file at path into c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides c from SCHUR_* variables looked up through getenv.
// Malformed numeric values are reported rather than ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString("SCHUR_LOG_LEVEL", &c.LogLevel)
	setString("SCHUR_PREFIX", &c.Prefix)
	setString("SCHUR_CODEC", &c.Codec)
	setString("SCHUR_REGISTRY_ADDR", &c.Registry.Addr)
	setString("SCHUR_REGISTRY_LISTEN", &c.Registry.Listen)
	setString("SCHUR_WORKER_ID", &c.Worker.ID)
	setString("SCHUR_WORKER_LISTEN", &c.Worker.Listen)
	setString("SCHUR_WORKER_ADVERTISE", &c.Worker.Advertise)

	if v := getenv("SCHUR_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCHUR_THRESHOLD: %w", err)
		}
		c.Worker.Threshold = n
	}
	if v := getenv("SCHUR_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCHUR_SIZE: %w", err)
		}
		c.Client.Size = n
	}
	return nil
}

// ValidateCommon checks the keys every binary uses.
func (c *Config) ValidateCommon() error {
	var errs []error
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := cluster.GetCodec(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.Prefix == "" {
		errs = append(errs, errors.New("prefix must not be empty"))
	}
	if err := validateURL("registry.addr", c.Registry.Addr); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateRegistry checks the registry section.
func (c *Config) ValidateRegistry() error {
	var errs []error
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Registry.Listen == "" {
		errs = append(errs, errors.New("registry.listen must not be empty"))
	}
	if c.Registry.HealthInterval < 0 {
		errs = append(errs, errors.New("registry.health_interval must not be negative"))
	}
	if c.Registry.HealthInterval > 0 && c.Registry.MaxFailures < 1 {
		errs = append(errs, errors.New("registry.max_failures must be at least 1"))
	}
	return errors.Join(errs...)
}

// ValidateWorker checks the shared keys and the worker section.
func (c *Config) ValidateWorker() error {
	errs := []error{c.ValidateCommon()}
	w := c.Worker
	if w.ID == "" {
		errs = append(errs, errors.New("worker.id is required"))
	}
	if strings.ContainsAny(w.ID, "/ ") {
		errs = append(errs, fmt.Errorf("worker.id %q must not contain spaces or slashes", w.ID))
	}
	if w.Listen == "" {
		errs = append(errs, errors.New("worker.listen must not be empty"))
	}
	if w.Advertise != "" {
		if err := validateURL("worker.advertise", w.Advertise); err != nil {
			errs = append(errs, err)
		}
	}
	if w.Threshold < 1 {
		errs = append(errs, fmt.Errorf("worker.threshold %d must be at least 1", w.Threshold))
	}
	if w.CacheMaxEntries < 0 {
		errs = append(errs, errors.New("worker.cache_max_entries must not be negative"))
	}
	if w.CallTimeout < 0 || w.RetryBackoff < 0 {
		errs = append(errs, errors.New("worker durations must not be negative"))
	}
	if w.RetryAttempts < 1 {
		errs = append(errs, errors.New("worker.retry_attempts must be at least 1"))
	}
	if w.RegisterAttempts < 1 {
		errs = append(errs, errors.New("worker.register_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// ValidateClient checks the shared keys and the client section. An invalid
// matrix size wraps matrix.ErrInvalidSize.
func (c *Config) ValidateClient() error {
	errs := []error{c.ValidateCommon()}
	if err := matrix.ValidateSide(c.Client.Size); err != nil {
		errs = append(errs, fmt.Errorf("client.size: %w", err))
	}
	if c.Client.RTol < 0 || c.Client.ATol < 0 {
		errs = append(errs, errors.New("client tolerances must not be negative"))
	}
	if c.Client.OutDir == "" {
		errs = append(errs, errors.New("client.out_dir must not be empty"))
	}
	return errors.Join(errs...)
}

// WorkerName is the name the worker registers under.
func (c *Config) WorkerName() string { return c.Prefix + c.Worker.ID }

// AdvertiseAddr is the URL the worker registers, defaulting to loopback on
// the listen port.
func (c *Config) AdvertiseAddr() string {
	if c.Worker.Advertise != "" {
		return strings.TrimRight(c.Worker.Advertise, "/")
	}
	port := c.Worker.Listen
	if i := strings.LastIndex(port, ":"); i >= 0 {
		port = port[i+1:]
	}
	return "http://127.0.0.1:" + port
}

// ParseLevel converts a level name to an slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log level %q: want debug, info, warn or error", name)
	}
	return l, nil
}

// NewLogger builds the text logger a binary hands to its components.
func (c *Config) NewLogger(component string) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h).With(slog.String("component", component))
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%s %q must be an http(s) URL", key, raw)
	}
	return nil
}

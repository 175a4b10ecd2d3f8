package config

import (
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// Binder adds a binary's own flags to fs, bound to fields of c.
type Binder func(fs *pflag.FlagSet, c *Config)

// Parse builds the configuration for one binary from defaults, the file
// named by --config, the environment and finally args. It returns the
// remaining positional arguments and the flag set, for usage output.
//
// Flags are bound after the file and environment are applied, so a flag's
// default shown in --help is the value it would override.
func Parse(name string, args []string, getenv func(string) string, bind Binder) (*Config, []string, *pflag.FlagSet, error) {
	cfg := Default()
	if path := configPath(args, getenv); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, nil, nil, err
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, nil, nil, err
	}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.String("config", "", "YAML config file (also SCHUR_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.Registry.Addr, "registry", cfg.Registry.Addr, "registry base URL")
	fs.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "worker name prefix")
	if bind != nil {
		bind(fs, cfg)
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, fs, err
	}
	return cfg, fs.Args(), fs, nil
}

// BindCodec adds the wire codec flags shared by workers and clients.
func BindCodec(fs *pflag.FlagSet, c *Config) {
	fs.StringVar(&c.Codec, "codec", c.Codec, "worker call encoding: msgpack, cbor, json")
	fs.BoolVar(&c.Compress, "compress", c.Compress, "zstd-compress large worker call bodies")
}

// configPath finds --config in args before flags are bound, falling back to
// SCHUR_CONFIG.
func configPath(args []string, getenv func(string) string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return getenv("SCHUR_CONFIG")
}

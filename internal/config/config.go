// Package config loads cachekit configuration from YAML and validates it
// against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Defaults.
const (
	DefaultDatabase    = "cachekit.db"
	DefaultPageSize    = 20
	DefaultSwapDelay   = 5 * time.Millisecond
	DefaultSwapTimeout = 5 * time.Second
	DefaultKVCapacity  = 100
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
)

// Config is the full cachekit configuration.
type Config struct {
	Database string     `yaml:"database" json:"database"`
	List     ListConfig `yaml:"list" json:"list"`
	KV       KVConfig   `yaml:"kv" json:"kv"`
	Log      LogConfig  `yaml:"log" json:"log"`
}

// ListConfig configures list caches.
type ListConfig struct {
	PageSize    int           `yaml:"page_size" json:"page_size"`
	SwapDelay   time.Duration `yaml:"swap_delay" json:"swap_delay"`
	SwapTimeout time.Duration `yaml:"swap_timeout" json:"swap_timeout"`
}

// KVConfig configures key/value caches.
type KVConfig struct {
	Capacity int `yaml:"capacity" json:"capacity"`
}

// LogConfig configures the default slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database: DefaultDatabase,
		List: ListConfig{
			PageSize:    DefaultPageSize,
			SwapDelay:   DefaultSwapDelay,
			SwapTimeout: DefaultSwapTimeout,
		},
		KV:  KVConfig{Capacity: DefaultKVCapacity},
		Log: LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
}

// Load reads and validates the config file at path. An empty path yields
// the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Fields
// absent from data keep their default; unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	value := ctx.Encode(c.schemaView())
	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: cueerrors.Details(err, nil)}
	}
	return nil
}

// schemaView is the shape the schema constrains; durations are
// nanoseconds.
func (c *Config) schemaView() map[string]any {
	return map[string]any{
		"database": c.Database,
		"list": map[string]any{
			"page_size":    c.List.PageSize,
			"swap_delay":   int64(c.List.SwapDelay),
			"swap_timeout": int64(c.List.SwapTimeout),
		},
		"kv": map[string]any{
			"capacity": c.KV.Capacity,
		},
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
	}
}

// ValidationError reports a config that does not satisfy the schema.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.TrimSpace(e.Details)
}

// SlogLevel maps Log.Level to a slog level.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds a logger writing to w in the configured format.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

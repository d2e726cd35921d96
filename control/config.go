// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Probe configuration and a thread-safe store with reload propagation.

package control

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/internal/logging"
)

// Config is the on-disk configuration. Durations use Go syntax ("5s").
type Config struct {
	PlainTimeout   time.Duration `yaml:"plain_timeout"`
	TLSTimeout     time.Duration `yaml:"tls_timeout"`
	RetryWait      time.Duration `yaml:"retry_wait"`
	ChunkSize      int           `yaml:"chunk_size"`
	BulkBufferSize int           `yaml:"bulk_buffer_size"`
	SupervisorTick time.Duration `yaml:"supervisor_tick"`
	GracePeriod    time.Duration `yaml:"grace_period"`
	LogLevel       string        `yaml:"log_level"`
	KeyLogFile     string        `yaml:"key_log_file"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	ALPN           []string      `yaml:"alpn"`
	Ciphers        []string      `yaml:"ciphers"`
	MaxWorkers     int           `yaml:"max_workers"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		PlainTimeout:   api.DefaultPlainTimeout,
		TLSTimeout:     api.DefaultTLSTimeout,
		RetryWait:      api.DefaultRetryWait,
		ChunkSize:      api.DefaultChunkSize,
		BulkBufferSize: api.DefaultBulkBufferSize,
		SupervisorTick: api.DefaultSupervisorTick,
		GracePeriod:    api.DefaultGracePeriod,
		LogLevel:       "information",
		ALPN:           []string{"h2", "http/1.1"},
	}
}

// Load reads path over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"plain_timeout":   c.PlainTimeout,
		"tls_timeout":     c.TLSTimeout,
		"retry_wait":      c.RetryWait,
		"supervisor_tick": c.SupervisorTick,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	if c.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("grace_period must not be negative, got %v", c.GracePeriod))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize))
	}
	if c.BulkBufferSize < c.ChunkSize {
		errs = append(errs, fmt.Errorf("bulk_buffer_size %d is smaller than chunk_size %d", c.BulkBufferSize, c.ChunkSize))
	}
	if c.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("max_workers must not be negative, got %d", c.MaxWorkers))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if err := multierr.Combine(errs...); err != nil {
		return fmt.Errorf("%w: %w", api.ErrInvalidArgument, err)
	}
	return nil
}

// ConfigStore holds the active Config and notifies listeners on change.
type ConfigStore struct {
	mu        sync.RWMutex
	config    Config
	listeners []func(Config)
}

// NewConfigStore initializes a store with cfg.
func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{config: cfg}
}

// GetSnapshot returns a copy of the active config.
func (cs *ConfigStore) GetSnapshot() Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := cs.config
	out.ALPN = append([]string(nil), cs.config.ALPN...)
	out.Ciphers = append([]string(nil), cs.config.Ciphers...)
	return out
}

// SetConfig validates and installs cfg, then runs every listener with it.
func (cs *ConfigStore) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.config = cfg
	listeners := append([]func(Config){}, cs.listeners...)
	cs.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// OnReload registers a listener called after every SetConfig.
func (cs *ConfigStore) OnReload(fn func(Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

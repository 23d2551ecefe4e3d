// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Context configuration: YAML file format, defaults and validation, plus
// a thread-safe store with hot-reload propagation.

package control

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-mq/api"
)

// Config holds context-wide settings and the defaults applied to new sockets.
type Config struct {
	// IOThreads is the reactor count; 0 derives it from the CPU count.
	IOThreads int `yaml:"io_threads"`
	// PinCPUs pins reactor i to PinCPUs[i % len(PinCPUs)].
	PinCPUs []int `yaml:"pin_cpus,omitempty"`
	// MaxSockets bounds open sockets per context; 0 is unlimited.
	MaxSockets int `yaml:"max_sockets"`

	SndHWM int `yaml:"sndhwm"`
	RcvHWM int `yaml:"rcvhwm"`
	// Linger is the default flush grace period; negative waits forever.
	Linger          time.Duration `yaml:"linger"`
	ReconnectIvl    time.Duration `yaml:"reconnect_ivl"`
	ReconnectIvlMax time.Duration `yaml:"reconnect_ivl_max"`
	// MaxMsgSize limits inbound frames; non-positive is unlimited.
	MaxMsgSize int64 `yaml:"max_msg_size"`
	// ReadBuffer is the reactor read chunk size in bytes.
	ReadBuffer int `yaml:"read_buffer"`
	// InprocBuffer bounds bytes in flight per inproc pipe direction.
	InprocBuffer int `yaml:"inproc_buffer"`

	LogLevel string `yaml:"log_level"`
}

// DefaultHWM is the default send and receive high-water mark.
const DefaultHWM = 1000

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		MaxSockets:   1024,
		SndHWM:       DefaultHWM,
		RcvHWM:       DefaultHWM,
		Linger:       api.Infinite,
		ReconnectIvl: 100 * time.Millisecond,
		MaxMsgSize:   -1,
		ReadBuffer:   64 * 1024,
		InprocBuffer: 256 * 1024,
		LogLevel:     "info",
	}
}

// Validate rejects values no component can honour.
func (c Config) Validate() error {
	switch {
	case c.IOThreads < 0:
		return invalid("io_threads must not be negative, got %d", c.IOThreads)
	case c.MaxSockets < 0:
		return invalid("max_sockets must not be negative, got %d", c.MaxSockets)
	case c.SndHWM < 0 || c.RcvHWM < 0:
		return invalid("high-water marks must not be negative")
	case c.ReconnectIvl < 0 || c.ReconnectIvlMax < 0:
		return invalid("reconnect intervals must not be negative")
	case c.ReconnectIvlMax > 0 && c.ReconnectIvlMax < c.ReconnectIvl:
		return invalid("reconnect_ivl_max %s is below reconnect_ivl %s", c.ReconnectIvlMax, c.ReconnectIvl)
	case c.ReadBuffer < 256:
		return invalid("read_buffer must be at least 256 bytes, got %d", c.ReadBuffer)
	case c.InprocBuffer < 0:
		return invalid("inproc_buffer must not be negative, got %d", c.InprocBuffer)
	}
	for _, cpu := range c.PinCPUs {
		if cpu < 0 {
			return invalid("pin_cpus entries must not be negative, got %d", cpu)
		}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func invalid(format string, args ...any) error {
	return api.Errorf(api.KindInvalidArgument, "config", format, args...)
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, invalid("unknown log_level %q", s)
}

// Level returns the configured slog level.
func (c Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseConfig decodes YAML over the defaults. Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, api.Wrap(api.KindInvalidArgument, "config", fmt.Errorf("failed to parse YAML: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ConfigStore holds the live configuration snapshot and notifies
// listeners when it is replaced.
type ConfigStore struct {
	mu        sync.RWMutex
	config    Config
	listeners []func(Config)
}

// NewConfigStore initializes a store with cfg.
func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{config: cfg}
}

// Get returns the current snapshot.
func (cs *ConfigStore) Get() Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// Set validates and installs cfg, then runs the reload listeners.
func (cs *ConfigStore) Set(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.config = cfg
	listeners := slices.Clone(cs.listeners)
	cs.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func(Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

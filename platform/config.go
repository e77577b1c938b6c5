package platform

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds process-wide settings for the runtime. It is created once,
// handed to New, and never read from globals by the bridge packages.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	EventLoop EventLoopConfig `yaml:"event_loop"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	// Level is any zerolog level name. Default: "info".
	Level string `yaml:"level"`

	// Format is "json" or "text". Default: "json".
	Format string `yaml:"format"`
}

// EventLoopConfig sizes the event loop group.
type EventLoopConfig struct {
	// Threads is the number of loops. Zero means one per CPU.
	Threads int `yaml:"threads"`

	// QueueHint pre-sizes each loop's task queue. The queue grows past it.
	QueueHint int `yaml:"queue_hint"`
}

// MetricsConfig controls Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Configuration errors.
var (
	// ErrInvalidLogFormat is returned when the log format is neither json nor text.
	ErrInvalidLogFormat = errors.New("platform: log format must be json or text")

	// ErrInvalidThreads is returned for a negative event loop size.
	ErrInvalidThreads = errors.New("platform: event loop threads must not be negative")
)

// DefaultConfig returns built-in defaults.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		EventLoop: EventLoopConfig{
			QueueHint: 64,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "crtbridge",
		},
	}
}

// LoadConfig builds a Config from defaults, an optional YAML file and
// environment overrides, then validates it.
//
// The file is taken from path, or from CRTBRIDGE_CONFIG when path is empty.
// No file at all is not an error. Environment variables
// CRTBRIDGE_LOG_LEVEL, CRTBRIDGE_LOG_FORMAT, CRTBRIDGE_EVENT_LOOP_THREADS and
// CRTBRIDGE_METRICS_NAMESPACE override the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("CRTBRIDGE_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CRTBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("CRTBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("CRTBRIDGE_EVENT_LOOP_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CRTBRIDGE_EVENT_LOOP_THREADS: %w", err)
		}

		cfg.EventLoop.Threads = n
	}

	if v := os.Getenv("CRTBRIDGE_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}

	return nil
}

// Validate checks the configuration for values the runtime cannot use.
func (c Config) Validate() error {
	if c.Logging.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	if c.EventLoop.Threads < 0 {
		return ErrInvalidThreads
	}

	return nil
}

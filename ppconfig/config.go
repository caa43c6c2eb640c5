// Package ppconfig provides the YAML configuration structures and the
// comma-separated controller-parameter string parser described in spec
// §6. Grounded on
// Lincyaw-OpenERP/tools/loadgen/internal/config/config.go's sentinel-error
// and Validate/ApplyDefaults style, trimmed to this module's much smaller
// surface.
package ppconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Errors returned by this package.
var (
	// ErrInvalidConfig is returned when a configuration file or string
	// fails validation (spec §7's InvalidArgument).
	ErrInvalidConfig = errors.New("ppconfig: invalid configuration")
	// ErrConfigNotFound is returned when a config file path doesn't exist.
	ErrConfigNotFound = errors.New("ppconfig: configuration file not found")
)

// AdapterConfig is the YAML-facing mirror of adapter.Params: syscall
// numbers and callback selection are named, not functions, since YAML
// can't carry code.
type AdapterConfig struct {
	// IntervalMS is the minimum time between adapter snapshots.
	IntervalMS uint64 `yaml:"intervalMs" json:"intervalMs"`

	// StepSize is the default scaling step.
	StepSize uint32 `yaml:"stepSize" json:"stepSize"`

	// SyscallNRs lists the syscall numbers the trace capability observes.
	SyscallNRs []int32 `yaml:"syscallNumbers" json:"syscallNumbers"`

	// ScaleMetric labels the scale metric. ApplyDefaults sets it to
	// "bytes-per-ms". Nothing in this module reads it to choose a metric
	// callback; the command always uses bytes written per millisecond.
	ScaleMetric string `yaml:"scaleMetric,omitempty" json:"scaleMetric,omitempty"`

	// IdleMetric labels the idle metric. Nothing in this module reads it;
	// the command's idle metric is always 0.
	IdleMetric string `yaml:"idleMetric,omitempty" json:"idleMetric,omitempty"`
}

// Config is the root configuration for a pool run.
type Config struct {
	// Name is a descriptive label for this run.
	Name string `yaml:"name" json:"name"`

	// InitialSize is the pool's starting worker count.
	InitialSize int `yaml:"initialSize" json:"initialSize"`

	// Adapter configures adaptive scaling. Nil means a static pool.
	Adapter *AdapterConfig `yaml:"adapter,omitempty" json:"adapter,omitempty"`

	// ControllerParams is the comma-separated override string from spec
	// §6, applied over Adapter in field order:
	// intervalMs,stepSize,nr1|nr2|... (syscall numbers).
	ControllerParams string `yaml:"controllerParams,omitempty" json:"controllerParams,omitempty"`

	// MetricsAddr, if non-empty, serves Prometheus metrics at this
	// address (e.g. ":9090").
	MetricsAddr string `yaml:"metricsAddr,omitempty" json:"metricsAddr,omitempty"`
}

// LoadFromFile loads and validates configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads and validates configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Validate checks required fields and bounds.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if c.InitialSize < 1 {
		return fmt.Errorf("%w: initialSize must be >= 1", ErrInvalidConfig)
	}
	if c.Adapter != nil && len(c.Adapter.SyscallNRs) == 0 {
		return fmt.Errorf("%w: adapter.syscallNumbers must be non-empty", ErrInvalidConfig)
	}
	return nil
}

// ApplyDefaults fills in zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.Adapter != nil {
		if c.Adapter.ScaleMetric == "" {
			c.Adapter.ScaleMetric = "bytes-per-ms"
		}
	}
}

// ParseControllerString parses spec §6's comma-separated
// controller-parameter override string
// ("intervalMs,stepSize,nr1|nr2|...") and applies it over cfg in field
// order. The third field, if present, replaces cfg.SyscallNRs wholesale
// with the pipe-separated syscall numbers. A malformed string is a fatal
// construction error (ErrInvalidConfig), matching spec §7.
func ParseControllerString(cfg *AdapterConfig, s string) error {
	if s == "" {
		return nil
	}
	fields := strings.Split(s, ",")
	if len(fields) > 3 {
		return fmt.Errorf("%w: controller-parameter string has too many fields: %q", ErrInvalidConfig, s)
	}
	if len(fields) >= 1 && fields[0] != "" {
		v, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: intervalMs field %q: %v", ErrInvalidConfig, fields[0], err)
		}
		cfg.IntervalMS = v
	}
	if len(fields) >= 2 && fields[1] != "" {
		v, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 32)
		if err != nil {
			return fmt.Errorf("%w: stepSize field %q: %v", ErrInvalidConfig, fields[1], err)
		}
		cfg.StepSize = uint32(v)
	}
	if len(fields) >= 3 && fields[2] != "" {
		nrs, err := parseSyscallNRs(fields[2])
		if err != nil {
			return fmt.Errorf("%w: syscall numbers field %q: %v", ErrInvalidConfig, fields[2], err)
		}
		cfg.SyscallNRs = nrs
	}
	return nil
}

// parseSyscallNRs parses a pipe-separated list of syscall numbers
// ("nr1|nr2|...").
func parseSyscallNRs(s string) ([]int32, error) {
	parts := strings.Split(s, "|")
	nrs := make([]int32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, err
		}
		nrs = append(nrs, int32(v))
	}
	return nrs, nil
}

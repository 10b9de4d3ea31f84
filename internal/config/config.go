package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"os"
	"strconv"
	"time"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes written as "1GiB", "64MiB" or a plain number.
type ByteSize uint64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseByteSize(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = v
	return nil
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// ParseByteSize parses a binary size such as "512MiB" or "2g".
func ParseByteSize(s string) (ByteSize, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", s)
	}
	return ByteSize(n), nil
}

type MemoryConfig struct {
	Multiplier uint64   `yaml:"multiplier"`
	BaseUnit   ByteSize `yaml:"base_unit"`
	BlockSize  ByteSize `yaml:"block_size"`
	Floor      ByteSize `yaml:"floor"` // headroom the allocator never eats into
	Limit      ByteSize `yaml:"limit"` // 0 = no artificial limit
}

type CPUConfig struct {
	Workers        int           `yaml:"workers"` // 0 = one per detected core
	BatchSize      int           `yaml:"batch_size"`
	ExponentScale  int           `yaml:"exponent_scale"`
	Elastic        bool          `yaml:"elastic"`
	ManageInterval time.Duration `yaml:"manage_interval"`
	LoadEstimator  string        `yaml:"load_estimator"` // rate | system
}

type BandwidthConfig struct {
	BufferSize ByteSize      `yaml:"buffer_size"`
	Iterations int           `yaml:"iterations"`
	Interval   time.Duration `yaml:"interval"`
	Stride     int           `yaml:"stride"`
}

type Config struct {
	Duration        time.Duration   `yaml:"duration"`
	Memory          MemoryConfig    `yaml:"memory"`
	CPU             CPUConfig       `yaml:"cpu"`
	Bandwidth       BandwidthConfig `yaml:"bandwidth"`
	RefreshInterval time.Duration   `yaml:"refresh_interval"`
	JoinTimeout     time.Duration   `yaml:"join_timeout"` // 0 = wait forever
	HistoryDB       string          `yaml:"history_db"`
	LockPath        string          `yaml:"lock_path"`
	LogLevel        string          `yaml:"log_level"`
}

const (
	EstimatorRate   = "rate"
	EstimatorSystem = "system"
)

func Default() *Config {
	return &Config{
		Duration: 30 * time.Second,
		Memory: MemoryConfig{
			Multiplier: 2,
			BaseUnit:   1 << 30,
			BlockSize:  1 << 20,
			Floor:      256 << 20,
		},
		CPU: CPUConfig{
			BatchSize:      1024,
			ExponentScale:  1,
			ManageInterval: 2 * time.Second,
			LoadEstimator:  EstimatorRate,
		},
		Bandwidth: BandwidthConfig{
			BufferSize: 64 << 20,
			Iterations: 5,
			Interval:   2 * time.Second,
			Stride:     64,
		},
		RefreshInterval: 250 * time.Millisecond,
		LogLevel:        "warn",
	}
}

func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SYSSTRESS_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Duration = d
		}
	}
	if v := os.Getenv("SYSSTRESS_MEMORY_MULTIPLIER"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Memory.Multiplier = n
		}
	}
	if v := os.Getenv("SYSSTRESS_MEMORY_BASE_UNIT"); v != "" {
		if b, err := ParseByteSize(v); err == nil {
			cfg.Memory.BaseUnit = b
		}
	}
	if v := os.Getenv("SYSSTRESS_MEMORY_FLOOR"); v != "" {
		if b, err := ParseByteSize(v); err == nil {
			cfg.Memory.Floor = b
		}
	}
	if v := os.Getenv("SYSSTRESS_MEMORY_LIMIT"); v != "" {
		if b, err := ParseByteSize(v); err == nil {
			cfg.Memory.Limit = b
		}
	}
	if v := os.Getenv("SYSSTRESS_CPU_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CPU.Workers = n
		}
	}
	if v := os.Getenv("SYSSTRESS_CPU_ELASTIC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CPU.Elastic = b
		}
	}
	if v := os.Getenv("SYSSTRESS_CPU_LOAD_ESTIMATOR"); v != "" {
		cfg.CPU.LoadEstimator = v
	}
	if v := os.Getenv("SYSSTRESS_BANDWIDTH_BUFFER_SIZE"); v != "" {
		if b, err := ParseByteSize(v); err == nil {
			cfg.Bandwidth.BufferSize = b
		}
	}
	if v := os.Getenv("SYSSTRESS_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RefreshInterval = d
		}
	}
	if v := os.Getenv("SYSSTRESS_JOIN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.JoinTimeout = d
		}
	}
	if v := os.Getenv("SYSSTRESS_HISTORY_DB"); v != "" {
		cfg.HistoryDB = v
	}
	if v := os.Getenv("SYSSTRESS_LOCK_PATH"); v != "" {
		cfg.LockPath = v
	}
	if v := os.Getenv("SYSSTRESS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Duration <= 0 {
		add("duration must be positive, got %s", c.Duration)
	}
	if c.Memory.Multiplier == 0 {
		add("memory.multiplier must be at least 1")
	}
	if c.Memory.BaseUnit == 0 {
		add("memory.base_unit must be positive")
	}
	if hi, _ := bits.Mul64(c.Memory.Multiplier, uint64(c.Memory.BaseUnit)); hi != 0 {
		add("memory.multiplier × memory.base_unit overflows (%d × %s)", c.Memory.Multiplier, c.Memory.BaseUnit)
	}
	if c.Memory.BlockSize == 0 {
		add("memory.block_size must be positive")
	}
	if c.CPU.Workers < 0 {
		add("cpu.workers must not be negative, got %d", c.CPU.Workers)
	}
	if c.CPU.BatchSize <= 0 {
		add("cpu.batch_size must be positive, got %d", c.CPU.BatchSize)
	}
	if c.CPU.ExponentScale <= 0 {
		add("cpu.exponent_scale must be positive, got %d", c.CPU.ExponentScale)
	}
	if c.CPU.Elastic && c.CPU.ManageInterval <= 0 {
		add("cpu.manage_interval must be positive in elastic mode")
	}
	switch c.CPU.LoadEstimator {
	case EstimatorRate, EstimatorSystem:
	default:
		add("cpu.load_estimator must be %q or %q, got %q", EstimatorRate, EstimatorSystem, c.CPU.LoadEstimator)
	}
	if c.Bandwidth.Stride <= 0 {
		add("bandwidth.stride must be positive, got %d", c.Bandwidth.Stride)
	} else if uint64(c.Bandwidth.BufferSize) < uint64(c.Bandwidth.Stride) {
		add("bandwidth.buffer_size must be at least one stride")
	}
	if c.Bandwidth.Iterations <= 0 {
		add("bandwidth.iterations must be positive, got %d", c.Bandwidth.Iterations)
	}
	if c.Bandwidth.Interval <= 0 {
		add("bandwidth.interval must be positive")
	}
	if c.RefreshInterval <= 0 {
		add("refresh_interval must be positive")
	}
	if c.JoinTimeout < 0 {
		add("join_timeout must not be negative")
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// Target is multiplier × base unit, saturating instead of wrapping.
func (c *Config) Target() uint64 {
	hi, lo := bits.Mul64(c.Memory.Multiplier, uint64(c.Memory.BaseUnit))
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

// Ceiling is the allocator's stop point: the target minus the bandwidth
// buffer, or the whole target when the buffer would cover it.
func (c *Config) Ceiling() uint64 {
	total := c.Target()
	if uint64(c.Bandwidth.BufferSize) >= total {
		return total
	}
	return total - uint64(c.Bandwidth.BufferSize)
}

package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ChuLiYu/deadlock-sim/internal/policy"
	"github.com/ChuLiYu/deadlock-sim/pkg/types"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig 配置內容不合法
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the complete system configuration structure.
// YAML is the primary format; a file ending in .toml is decoded as TOML.
type Config struct {
	Simulation struct {
		Policies        []string `yaml:"policies" toml:"policies"`
		MaxCycles       int      `yaml:"max_cycles" toml:"max_cycles"`
		CheckInvariants bool     `yaml:"check_invariants" toml:"check_invariants"`
	} `yaml:"simulation" toml:"simulation"`

	Worker struct {
		WorkerCount int           `yaml:"worker_count" toml:"worker_count"`
		TaskTimeout time.Duration `yaml:"task_timeout" toml:"task_timeout"`
	} `yaml:"worker" toml:"worker"`

	Output struct {
		Dir             string `yaml:"dir" toml:"dir"`
		Journal         string `yaml:"journal" toml:"journal"`
		Snapshot        string `yaml:"snapshot" toml:"snapshot"`
		SnapshotBackups int    `yaml:"snapshot_backups" toml:"snapshot_backups"`
	} `yaml:"output" toml:"output"`

	Metrics struct {
		Enabled  bool   `yaml:"enabled" toml:"enabled"`
		Textfile string `yaml:"textfile" toml:"textfile"`
	} `yaml:"metrics" toml:"metrics"`

	Tracing struct {
		Enabled bool   `yaml:"enabled" toml:"enabled"`
		File    string `yaml:"file" toml:"file"`
	} `yaml:"tracing" toml:"tracing"`

	Logging struct {
		Level string `yaml:"level" toml:"level"`
	} `yaml:"logging" toml:"logging"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Simulation.Policies = []string{string(types.PolicyOptimistic), string(types.PolicyConservative)}
	cfg.Simulation.MaxCycles = 100000
	cfg.Worker.WorkerCount = 4
	cfg.Worker.TaskTimeout = 30 * time.Second
	cfg.Output.Dir = "."
	cfg.Output.SnapshotBackups = 3
	cfg.Metrics.Textfile = "deadlock-sim.prom"
	cfg.Logging.Level = "info"
	return cfg
}

// loadConfig reads path over the defaults. A missing file is an error only
// when required is set.
func loadConfig(path string, required bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Simulation.Policies) == 0 {
		return fmt.Errorf("%w: simulation.policies is empty", ErrInvalidConfig)
	}
	for _, name := range c.Simulation.Policies {
		if _, err := policy.New(types.PolicyName(name)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if c.Simulation.MaxCycles < 0 {
		return fmt.Errorf("%w: simulation.max_cycles must not be negative", ErrInvalidConfig)
	}
	if c.Worker.WorkerCount < 1 {
		return fmt.Errorf("%w: worker.worker_count must be at least 1", ErrInvalidConfig)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// outputPath resolves name under output.dir; empty name disables the output.
func (c *Config) outputPath(name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Output.Dir, name)
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return lvl, fmt.Errorf("%w: logging.level %q", ErrInvalidConfig, s)
	}
	return lvl, nil
}

// setupLogging installs a text handler at the configured level.
func setupLogging(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

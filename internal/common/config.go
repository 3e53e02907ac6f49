// Package common provides shared utilities for orcapipe: configuration
// and structured logging, following the same shape the rest of the
// pipeline's dependency injection relies on.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the pipeline, loaded from a TOML
// file with environment-variable overrides layered on top.
type Config struct {
	Environment string      `toml:"environment"`
	Paths       PathsConfig `toml:"paths"`
	Orca        OrcaConfig  `toml:"orca"`
	Notifier    NotifierCfg `toml:"notification"`
	Mail        MailConfig  `toml:"gmail"`
	Logging     LoggingCfg  `toml:"logging"`
}

// PathsConfig holds the watched/working directory roots (§6).
type PathsConfig struct {
	InputDir    string `toml:"input_dir"`
	WaitingDir  string `toml:"waiting_dir"`
	WorkingDir  string `toml:"working_dir"`
	ProductsDir string `toml:"products_dir"`
	StateDir    string `toml:"state_dir"`
	LogsDir     string `toml:"logs_dir"`
}

// OrcaConfig holds solver invocation and chemistry parameters (§6).
type OrcaConfig struct {
	OrcaPath       string `toml:"orca_path"`
	Orca2MklPath   string `toml:"orca_2mkl_path"`
	GenerateMolden bool   `toml:"generate_molden"`

	Method       string `toml:"method"`
	BasisSet     string `toml:"basis_set"`
	Charge       int    `toml:"charge"`
	Multiplicity int    `toml:"multiplicity"`
	NProcs       string `toml:"nprocs"`
	MaxCore      string `toml:"maxcore"`

	MaxParallelJobs int `toml:"max_parallel_jobs"`
	MaxRetries      int `toml:"max_retries"`

	SolventModel  string `toml:"solvent_model"` // none, CPCM, SMD, COSMO
	SolventName   string `toml:"solvent_name"`
	ExtraKeywords string `toml:"extra_keywords"`
}

// NotifierCfg holds workload-drain notification parameters.
type NotifierCfg struct {
	Threshold       int `toml:"threshold"`
	DebounceSeconds int `toml:"debounce_seconds"`
}

// MailConfig holds SMTP notification parameters (best-effort, non-core).
type MailConfig struct {
	User        string `toml:"user"`
	AppPassword string `toml:"app_password"`
	Recipient   string `toml:"recipient"`
}

// LoggingCfg controls the rotating file log and console verbosity.
type LoggingCfg struct {
	Level      string `toml:"level"`
	FilePath   string `toml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// GetMaxRetries returns the configured retry budget; 0 disables retries
// and a negative value falls back to the default of 2 (§6 default).
func (c *OrcaConfig) GetMaxRetries() int {
	if c.MaxRetries < 0 {
		return 2
	}
	return c.MaxRetries
}

// GetMaxParallelJobs returns the configured worker-pool size,
// defaulting to 1 (strictly sequential) when unset.
func (c *OrcaConfig) GetMaxParallelJobs() int {
	if c.MaxParallelJobs <= 0 {
		return 1
	}
	return c.MaxParallelJobs
}

// NormalizedSolventModel returns the upper-cased solvent model, or ""
// when it is not one of the three supported implicit-solvent models.
func (c *OrcaConfig) NormalizedSolventModel() string {
	m := strings.ToUpper(strings.TrimSpace(c.SolventModel))
	switch m {
	case "CPCM", "SMD", "COSMO":
		return m
	default:
		return ""
	}
}

// NewDefaultConfig returns a Config with sensible defaults rooted at
// ./folders, mirroring the original pipeline's directory bootstrap.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Paths: PathsConfig{
			InputDir:    "folders/input",
			WaitingDir:  "folders/waiting",
			WorkingDir:  "folders/working",
			ProductsDir: "folders/products",
			StateDir:    "folders/state",
			LogsDir:     "folders/logs",
		},
		Orca: OrcaConfig{
			OrcaPath:        "/usr/local/bin/orca",
			Orca2MklPath:    "/usr/local/bin/orca_2mkl",
			Method:          "B3LYP",
			BasisSet:        "def2-SVP",
			Charge:          0,
			Multiplicity:    1,
			NProcs:          "4",
			MaxCore:         "2000",
			MaxParallelJobs: 2,
			MaxRetries:      2,
			SolventModel:    "none",
		},
		Notifier: NotifierCfg{
			Threshold:       2,
			DebounceSeconds: 300,
		},
		Logging: LoggingCfg{
			Level:      "info",
			FilePath:   "folders/logs/pipeline.log",
			MaxSizeMB:  5,
			MaxBackups: 5,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later paths override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config,
// following the ORCAPIPE_* convention.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ORCAPIPE_ENV"); env != "" {
		config.Environment = env
	}
	if v := os.Getenv("ORCAPIPE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("ORCAPIPE_ORCA_PATH"); v != "" {
		config.Orca.OrcaPath = v
	}
	if v := os.Getenv("ORCAPIPE_MAX_PARALLEL_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Orca.MaxParallelJobs = n
		}
	}
	if v := os.Getenv("ORCAPIPE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Orca.MaxRetries = n
		}
	}
	if v := os.Getenv("ORCAPIPE_DATA_ROOT"); v != "" {
		config.Paths.InputDir = v + "/input"
		config.Paths.WaitingDir = v + "/waiting"
		config.Paths.WorkingDir = v + "/working"
		config.Paths.ProductsDir = v + "/products"
		config.Paths.StateDir = v + "/state"
		config.Paths.LogsDir = v + "/logs"
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// WatcherDequeueTimeout is the fixed ~1s poll interval workers use so
// that fatal_seen and shutdown are observed promptly (§4.5).
const WatcherDequeueTimeout = 1 * time.Second

// Package config loads bridge configuration from environment variables
// (prefix BRIDGE_) with an optional YAML pool-options file layered on top
// for settings too structured to live comfortably in a single env var
// (warm-up commands), which can also set the strategy and worker counts.
//
// The getEnv/getEnvInt/getEnvBool pattern generalizes a flat
// single-prefix settings style to the bridge's env-plus-YAML-overlay
// shape; the YAML layer is modeled on gopkg.in/yaml.v3's ordinary
// struct-tag unmarshaling.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tywrap/hostbridge/internal/pool"
	"github.com/tywrap/hostbridge/internal/pyenv"
	"github.com/tywrap/hostbridge/pkg/bridgeerr"
)

// Config is the bridge's full runtime configuration.
type Config struct {
	Python    PythonConfig
	Pool      PoolConfig
	Transport TransportConfig
	Audit     AuditConfig
	Monitor   MonitorConfig
}

// PythonConfig selects the worker interpreter.
type PythonConfig struct {
	VirtualEnv string `yaml:"virtualEnv"`
	PythonPath string `yaml:"pythonPath"`
	Cwd        string `yaml:"cwd"`
}

func (p PythonConfig) ToOptions() pyenv.Options {
	return pyenv.Options{VirtualEnv: p.VirtualEnv, PythonPath: p.PythonPath, Cwd: p.Cwd}
}

// PoolConfig mirrors internal/pool.Config with YAML tags and string
// durations, since env vars and YAML files can't carry a time.Duration
// directly.
type PoolConfig struct {
	MinWorkers              int              `yaml:"minWorkers"`
	MaxWorkers              int              `yaml:"maxWorkers"`
	MaxConcurrentPerProcess int              `yaml:"maxConcurrentPerProcess"`
	Strategy                string           `yaml:"strategy"`
	MaxRequestsPerProcess   int              `yaml:"maxRequestsPerProcess"`
	MaxIdleTime             string           `yaml:"maxIdleTime"`
	SpawnRate               float64          `yaml:"spawnRate"`
	SpawnBurst              int              `yaml:"spawnBurst"`
	CircuitMaxFailures      uint32           `yaml:"circuitMaxFailures"`
	CircuitTimeout          string           `yaml:"circuitTimeout"`
	WarmupCommands          []WarmupCommand  `yaml:"warmupCommands"`
}

// WarmupCommand mirrors internal/pool.WarmupCommand for YAML decoding.
type WarmupCommand struct {
	Module       string         `yaml:"module"`
	FunctionName string         `yaml:"functionName"`
	Args         []any          `yaml:"args"`
	Kwargs       map[string]any `yaml:"kwargs"`
}

// ToPoolConfig converts PoolConfig into internal/pool.Config, parsing its
// string durations and validating the scheduling strategy.
func (c PoolConfig) ToPoolConfig() (pool.Config, error) {
	cfg := pool.DefaultConfig()
	if c.MinWorkers > 0 {
		cfg.MinWorkers = c.MinWorkers
	}
	if c.MaxWorkers > 0 {
		cfg.MaxWorkers = c.MaxWorkers
	}
	if c.MaxConcurrentPerProcess > 0 {
		cfg.MaxConcurrentPerProcess = c.MaxConcurrentPerProcess
	}
	if c.Strategy != "" {
		strategy := pool.SchedulingStrategy(c.Strategy)
		switch strategy {
		case pool.RoundRobin, pool.LeastLoaded, pool.Weighted:
			cfg.Strategy = strategy
		default:
			return pool.Config{}, bridgeerr.Config("unknown pool strategy %q", c.Strategy)
		}
	}
	cfg.MaxRequestsPerProcess = c.MaxRequestsPerProcess
	if c.MaxIdleTime != "" {
		d, err := time.ParseDuration(c.MaxIdleTime)
		if err != nil {
			return pool.Config{}, bridgeerr.Config("invalid pool.maxIdleTime %q: %v", c.MaxIdleTime, err)
		}
		cfg.MaxIdleTime = d
	}
	if c.SpawnRate > 0 {
		cfg.SpawnRate = c.SpawnRate
	}
	if c.SpawnBurst > 0 {
		cfg.SpawnBurst = c.SpawnBurst
	}
	if c.CircuitMaxFailures > 0 {
		cfg.CircuitMaxFailures = c.CircuitMaxFailures
	}
	if c.CircuitTimeout != "" {
		d, err := time.ParseDuration(c.CircuitTimeout)
		if err != nil {
			return pool.Config{}, bridgeerr.Config("invalid pool.circuitTimeout %q: %v", c.CircuitTimeout, err)
		}
		cfg.CircuitTimeout = d
	}
	for _, w := range c.WarmupCommands {
		cfg.WarmupCommands = append(cfg.WarmupCommands, pool.WarmupCommand{
			Module: w.Module, FunctionName: w.FunctionName, Args: w.Args, Kwargs: w.Kwargs,
		})
	}
	return cfg, nil
}

// TransportConfig selects which Transport variant the bridge drives.
type TransportConfig struct {
	Kind        string `yaml:"kind"` // "subprocess", "http", "embedded"
	HTTPAddr    string `yaml:"httpAddr"`
	MaxLineBytes int   `yaml:"maxLineBytes"`
}

// AuditConfig configures the optional call audit log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"` // "sqlite" or "postgres"
	DSN     string `yaml:"dsn"`
}

// MonitorConfig configures the optional live pool monitor.
type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads environment variables (BRIDGE_ prefix) for scalar settings and,
// if path is non-empty, layers a YAML pool-options file on top. Only
// pool.warmupCommands, pool.strategy, pool.minWorkers and pool.maxWorkers
// are taken from that file, each only when set; every other key in it is
// ignored.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Python: PythonConfig{
			VirtualEnv: getEnv("BRIDGE_VIRTUALENV", ""),
			PythonPath: getEnv("BRIDGE_PYTHON_PATH", ""),
			Cwd:        getEnv("BRIDGE_CWD", ""),
		},
		Pool: PoolConfig{
			MinWorkers:              getEnvInt("BRIDGE_POOL_MIN_WORKERS", 1),
			MaxWorkers:              getEnvInt("BRIDGE_POOL_MAX_WORKERS", 4),
			MaxConcurrentPerProcess: getEnvInt("BRIDGE_POOL_MAX_CONCURRENT_PER_PROCESS", 1),
			Strategy:                getEnv("BRIDGE_POOL_STRATEGY", string(pool.LeastLoaded)),
			MaxRequestsPerProcess:   getEnvInt("BRIDGE_POOL_MAX_REQUESTS_PER_PROCESS", 0),
			MaxIdleTime:             getEnv("BRIDGE_POOL_MAX_IDLE_TIME", ""),
			SpawnRate:               getEnvFloat("BRIDGE_POOL_SPAWN_RATE", 2),
			SpawnBurst:              getEnvInt("BRIDGE_POOL_SPAWN_BURST", 4),
			CircuitMaxFailures:      uint32(getEnvInt("BRIDGE_POOL_CIRCUIT_MAX_FAILURES", 3)),
			CircuitTimeout:          getEnv("BRIDGE_POOL_CIRCUIT_TIMEOUT", "30s"),
		},
		Transport: TransportConfig{
			Kind:         getEnv("BRIDGE_TRANSPORT", "subprocess"),
			HTTPAddr:     getEnv("BRIDGE_TRANSPORT_HTTP_ADDR", ""),
			MaxLineBytes: getEnvInt("BRIDGE_MAX_LINE_BYTES", 0),
		},
		Audit: AuditConfig{
			Enabled: getEnvBool("BRIDGE_AUDIT_ENABLED", false),
			Backend: getEnv("BRIDGE_AUDIT_BACKEND", "sqlite"),
			DSN:     getEnv("BRIDGE_AUDIT_DSN", "./bridge-audit.db"),
		},
		Monitor: MonitorConfig{
			Enabled: getEnvBool("BRIDGE_MONITOR_ENABLED", false),
			Addr:    getEnv("BRIDGE_MONITOR_ADDR", ":7777"),
		},
	}

	if path != "" {
		if err := overlayYAML(cfg, path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func overlayYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.KindConfig, err, "read pool options file %q", path)
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindConfig, err, "parse pool options file %q", path)
	}
	if len(overlay.Pool.WarmupCommands) > 0 {
		cfg.Pool.WarmupCommands = overlay.Pool.WarmupCommands
	}
	if overlay.Pool.Strategy != "" {
		cfg.Pool.Strategy = overlay.Pool.Strategy
	}
	if overlay.Pool.MaxWorkers > 0 {
		cfg.Pool.MaxWorkers = overlay.Pool.MaxWorkers
	}
	if overlay.Pool.MinWorkers > 0 {
		cfg.Pool.MinWorkers = overlay.Pool.MinWorkers
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		switch v {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

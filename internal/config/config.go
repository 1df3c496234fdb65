// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. SCALPEL_ENGINE_WORKER_CONCURRENCY.
const EnvPrefix = "SCALPEL"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Discovery() DiscoveryConfig
	Rules() RulesConfig
	Metrics() MetricsConfig
	Scan() ScanConfig
	SetScanConfig(sc ScanConfig)

	// Engine Setters
	SetEngineWorkerConcurrency(int)
	SetEnginePairTimeout(time.Duration)

	SetRulesPath(string)
	AddDiscoveryExcludes(...string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	EngineCfg    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	DiscoveryCfg DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	RulesCfg     RulesConfig     `mapstructure:"rules" yaml:"rules"`
	MetricsCfg   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	// ScanCfg gets its marching orders from CLI flags, not the config file.
	ScanCfg ScanConfig `mapstructure:"-" yaml:"-"`
}

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig   { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig       { return c.EngineCfg }
func (c *Config) Discovery() DiscoveryConfig { return c.DiscoveryCfg }
func (c *Config) Rules() RulesConfig         { return c.RulesCfg }
func (c *Config) Metrics() MetricsConfig     { return c.MetricsCfg }
func (c *Config) Scan() ScanConfig           { return c.ScanCfg }

// SetScanConfig replaces the per-invocation scan settings.
func (c *Config) SetScanConfig(sc ScanConfig) { c.ScanCfg = sc }

func (c *Config) SetEngineWorkerConcurrency(w int)     { c.EngineCfg.WorkerConcurrency = w }
func (c *Config) SetEnginePairTimeout(d time.Duration) { c.EngineCfg.PairTimeout = d }
func (c *Config) SetRulesPath(p string)                { c.RulesCfg.Path = p }

// AddDiscoveryExcludes appends exclude globs without aliasing the defaults.
func (c *Config) AddDiscoveryExcludes(globs ...string) {
	c.DiscoveryCfg.Excludes = append(append([]string{}, c.DiscoveryCfg.Excludes...), globs...)
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names the console color of each log level: red, green,
// yellow, blue or cyan.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
}

// DatabaseConfig holds the database connection details. The URL is only
// required when results are persisted.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures preparation and evaluation.
type EngineConfig struct {
	WorkerConcurrency int `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	// PairTimeout bounds the evaluation of one rule over one file.
	PairTimeout time.Duration `mapstructure:"pair_timeout" yaml:"pair_timeout"`
	// ParseTimeout bounds the parsing of one file.
	ParseTimeout time.Duration `mapstructure:"parse_timeout" yaml:"parse_timeout"`
	MaxSteps     int           `mapstructure:"max_steps" yaml:"max_steps"`
	MaxPaths     int           `mapstructure:"max_paths" yaml:"max_paths"`
	MaxCallDepth int           `mapstructure:"max_call_depth" yaml:"max_call_depth"`
}

// DiscoveryConfig controls which files are loaded.
type DiscoveryConfig struct {
	Excludes    []string `mapstructure:"excludes" yaml:"excludes"`
	MaxFileSize int      `mapstructure:"max_file_size" yaml:"max_file_size"`
	MaxFiles    int      `mapstructure:"max_files" yaml:"max_files"`
}

// RulesConfig locates the rule catalog. An empty path selects the embedded one.
type RulesConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MetricsConfig controls the Prometheus metrics written at the end of a scan.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// TextfilePath is where the metrics are written in the text exposition
	// format, for the node exporter's textfile collector.
	TextfilePath string `mapstructure:"textfile_path" yaml:"textfile_path"`
}

// ScanConfig holds the settings of one scan invocation.
type ScanConfig struct {
	Path     string
	Repo     string
	Revision string
	RuleIDs  []string
	Format   string
	Output   string
	Persist  bool
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scalpel-sast")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 8)
	v.SetDefault("engine.pair_timeout", "60s")
	v.SetDefault("engine.parse_timeout", "30s")
	v.SetDefault("engine.max_steps", 500000)
	v.SetDefault("engine.max_paths", 64)
	v.SetDefault("engine.max_call_depth", 8)

	// -- Discovery --
	v.SetDefault("discovery.excludes", []string{".git", "node_modules", "vendor", "__pycache__", ".venv"})
	v.SetDefault("discovery.max_file_size", 4<<20)
	v.SetDefault("discovery.max_files", 50000)

	// -- Rules --
	// Empty selects the embedded catalog.
	v.SetDefault("rules.path", "")

	// -- Database --
	v.SetDefault("database.url", "")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.textfile_path", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Secrets are never expected in the config file.
	_ = v.BindEnv("database.url", "SCALPEL_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in configured file paths.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.LoggerCfg.LogFile, &c.RulesCfg.Path, &c.MetricsCfg.TextfilePath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.EngineCfg.PairTimeout < 0 || c.EngineCfg.ParseTimeout < 0 {
		return fmt.Errorf("engine timeouts must not be negative")
	}
	if c.EngineCfg.MaxSteps < 0 || c.EngineCfg.MaxPaths < 0 || c.EngineCfg.MaxCallDepth < 0 {
		return fmt.Errorf("engine budgets must not be negative")
	}
	if c.DiscoveryCfg.MaxFileSize <= 0 {
		return fmt.Errorf("discovery.max_file_size must be a positive integer")
	}
	if c.MetricsCfg.Enabled && c.MetricsCfg.TextfilePath == "" {
		return fmt.Errorf("metrics.textfile_path is required when metrics are enabled")
	}
	switch c.LoggerCfg.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.LoggerCfg.Format)
	}
	return nil
}

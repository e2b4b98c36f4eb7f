package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration for the host database runtime.
// It is read once at startup; nothing in this struct is mutated after
// Load returns.
type Config struct {
	LogLevel  string `mapstructure:"log_level" default:"info"`
	LogFormat string `mapstructure:"log_format" default:"json"`

	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
	Security   Security   `mapstructure:"security"`
	Monitoring Monitoring `mapstructure:"monitoring"`
	Migrations Migrations `mapstructure:"migrations"`
}

// Server configures the diagnostics HTTP API.
type Server struct {
	Enabled bool   `mapstructure:"enabled" default:"true"`
	Mode    string `mapstructure:"mode" default:"dev"`
	Address string `mapstructure:"address" default:":8090"`
}

// Database configures the physical connection source shared by all
// logical databases.
type Database struct {
	// Driver selects the backing engine: "sqlite", "mysql" or
	// "postgres". Only the SQLite driver is compiled into this binary;
	// hosts using a networked engine import its driver in their own
	// main package.
	Driver string `mapstructure:"driver" default:"sqlite"`

	// DataDir holds one database file per plugin for embedded drivers.
	DataDir string `mapstructure:"data_dir" default:"data"`

	Host     string `mapstructure:"host" default:"127.0.0.1"`
	Port     int    `mapstructure:"port" default:"3306"`
	Name     string `mapstructure:"name" default:"hostdb"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	Pool Pool `mapstructure:"pool"`
}

// Pool sizes the connection pool of every logical database.
type Pool struct {
	MaxOpen        int           `mapstructure:"max_open" default:"10"`
	MaxIdle        int           `mapstructure:"max_idle" default:"2"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime" default:"1h"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" default:"5s"`
	BatchSize      int           `mapstructure:"batch_size" default:"100"`
	Workers        int           `mapstructure:"workers" default:"4"`
}

// Security toggles the query validation pipeline.
type Security struct {
	EnableValidation   bool `mapstructure:"enable_validation" default:"true"`
	BlockDangerous     bool `mapstructure:"block_dangerous" default:"true"`
	ScreenParameters   bool `mapstructure:"screen_parameters" default:"false"`
	MaxQueryLength     int  `mapstructure:"max_query_length" default:"8192"`
	MaxParameterLength int  `mapstructure:"max_parameter_length" default:"2048"`
}

// Monitoring toggles query statistics collection.
type Monitoring struct {
	EnableStatistics   bool          `mapstructure:"enable_statistics" default:"true"`
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold" default:"250ms"`
	SlowQueryCapacity  int           `mapstructure:"slow_query_capacity" default:"100"`
}

// Migrations configures the schema migration runner.
type Migrations struct {
	AutoMigrate       bool `mapstructure:"auto_migrate" default:"true"`
	RollbackOnFailure bool `mapstructure:"rollback_on_failure" default:"true"`
	SingleTransaction bool `mapstructure:"single_transaction" default:"false"`
}

// Load reads configuration from the given file (optional) and from
// HOSTDB_* environment variables, applies defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("hostdb")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying config defaults: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Pool.MaxOpen < 1 {
		return fmt.Errorf("pool.max_open must be at least 1, got %d", c.Database.Pool.MaxOpen)
	}
	if c.Database.Pool.MaxIdle > c.Database.Pool.MaxOpen {
		return fmt.Errorf("pool.max_idle (%d) cannot exceed pool.max_open (%d)",
			c.Database.Pool.MaxIdle, c.Database.Pool.MaxOpen)
	}
	if c.Database.Pool.AcquireTimeout <= 0 {
		return fmt.Errorf("pool.acquire_timeout must be positive")
	}
	if c.Database.Pool.BatchSize < 1 {
		return fmt.Errorf("pool.batch_size must be at least 1, got %d", c.Database.Pool.BatchSize)
	}
	if c.Monitoring.SlowQueryCapacity < 1 {
		return fmt.Errorf("monitoring.slow_query_capacity must be at least 1")
	}
	return nil
}

// BuildLogger constructs the zap logger used everywhere in the runtime.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	var zc zap.Config
	if c.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", c.LogLevel, err)
	}
	zc.Level = level

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

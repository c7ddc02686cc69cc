// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Proximity  ProximityConfig  `mapstructure:"proximity"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Retry      RetryConfig      `mapstructure:"retry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// ProximityConfig holds the location verification budget.
type ProximityConfig struct {
	MaxDistanceMeters float64       `mapstructure:"max_distance_meters"`
	MaxFixAge         time.Duration `mapstructure:"max_fix_age"`
	MaxAccuracyMeters float64       `mapstructure:"max_accuracy_meters"`
	MaxClockSkew      time.Duration `mapstructure:"max_clock_skew"`
}

// LedgerConfig holds ledger gateway configuration.
type LedgerConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// SettlementConfig holds reward settlement configuration.
type SettlementConfig struct {
	StreakWindow time.Duration `mapstructure:"streak_window"`
}

// RetryConfig holds backoff parameters for transient store and ledger
// failures.
type RetryConfig struct {
	BaseInterval time.Duration `mapstructure:"base_interval"`
	MaxInterval  time.Duration `mapstructure:"max_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase
	// e.g., DATABASE_HOST, LEDGER_ENDPOINT, SERVER_LISTEN_ADDR
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "geohunt")
	v.SetDefault("database.name", "geohunt")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.query_timeout", "10s")

	// Proximity defaults
	v.SetDefault("proximity.max_distance_meters", 100.0)
	v.SetDefault("proximity.max_fix_age", "120s")
	v.SetDefault("proximity.max_accuracy_meters", 50.0)
	v.SetDefault("proximity.max_clock_skew", "30s")

	// Ledger defaults
	v.SetDefault("ledger.endpoint", "http://localhost:9090")
	v.SetDefault("ledger.call_timeout", "30s")

	// Settlement defaults
	v.SetDefault("settlement.streak_window", "24h")

	// Retry defaults
	v.SetDefault("retry.base_interval", "500ms")
	v.SetDefault("retry.max_interval", "8s")
	v.SetDefault("retry.max_attempts", 4)
}

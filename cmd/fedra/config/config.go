// Package config provides configuration structures for the query
// engine CLI.
package config

import (
	"fmt"
	"time"
)

// Config represents the engine configuration.
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Backend connections
	Mongo      MongoConfig      `yaml:"mongo" json:"mongo"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse" json:"clickhouse"`

	// Security policy
	Policy PolicyConfig `yaml:"policy" json:"policy"`

	// Schema cache
	Schema SchemaConfig `yaml:"schema" json:"schema"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// MongoConfig represents the document store connection.
type MongoConfig struct {
	URI      string        `yaml:"uri" json:"uri"`
	Database string        `yaml:"database" json:"database"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// ClickHouseConfig represents the columnar store connection.
type ClickHouseConfig struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Database string        `yaml:"database" json:"database"`
	Username string        `yaml:"username" json:"username"`
	Password string        `yaml:"password" json:"password"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// PolicyConfig represents the validation policy.
type PolicyConfig struct {
	MaxQuerySize      int           `yaml:"max_query_size" json:"max_query_size"`
	AllowedOperations []string      `yaml:"allowed_operations" json:"allowed_operations"`
	EnableWrites      bool          `yaml:"enable_writes" json:"enable_writes"`
	QueryTimeout      time.Duration `yaml:"query_timeout" json:"query_timeout"`
}

// SchemaConfig represents schema cache behavior.
type SchemaConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	SnapshotPath    string        `yaml:"snapshot_path" json:"snapshot_path"`
	SampleSize      int           `yaml:"sample_size" json:"sample_size"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

// DefaultConfig returns the shipped defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "fedra",
			Timeout:  5 * time.Second,
		},
		ClickHouse: ClickHouseConfig{
			Addr:     "localhost:9000",
			Database: "default",
			Username: "default",
			Timeout:  5 * time.Second,
		},
		Policy: PolicyConfig{
			MaxQuerySize:      10000,
			AllowedOperations: []string{"find", "aggregate", "count"},
			EnableWrites:      false,
			QueryTimeout:      30 * time.Second,
		},
		Schema: SchemaConfig{
			RefreshInterval: time.Hour,
			SnapshotPath:    "fedra_schema.snap",
			SampleSize:      100,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
	}
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo URI is required")
	}
	if c.Mongo.Database == "" {
		return fmt.Errorf("mongo database is required")
	}
	if c.Mongo.Timeout <= 0 {
		c.Mongo.Timeout = 5 * time.Second
	}

	if c.ClickHouse.Addr == "" {
		return fmt.Errorf("clickhouse address is required")
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "default"
	}
	if c.ClickHouse.Timeout <= 0 {
		c.ClickHouse.Timeout = 5 * time.Second
	}

	if c.Policy.MaxQuerySize <= 0 {
		c.Policy.MaxQuerySize = 10000
	}
	if len(c.Policy.AllowedOperations) == 0 {
		c.Policy.AllowedOperations = []string{"find", "aggregate", "count"}
	}
	if c.Policy.QueryTimeout <= 0 {
		c.Policy.QueryTimeout = 30 * time.Second
	}

	if c.Schema.RefreshInterval <= 0 {
		c.Schema.RefreshInterval = time.Hour
	}
	if c.Schema.SampleSize <= 0 {
		c.Schema.SampleSize = 100
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}
	return nil
}

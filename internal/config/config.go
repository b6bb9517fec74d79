package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	pkgerrors "github.com/pkgraph/pkgraph-go/internal/errors"
)

// Config holds all configuration settings
type Config struct {
	// Path to the declarative mapping specification
	Schema SchemaConfig `yaml:"schema"`

	// Graph storage backend
	Graph GraphConfig `yaml:"graph"`

	// Raw record staging area
	Staging StagingConfig `yaml:"staging"`

	// Version-history arena
	History HistoryConfig `yaml:"history"`

	// Pipeline behavior
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type SchemaConfig struct {
	Path string `yaml:"path"`
}

type GraphConfig struct {
	// Backend type: "neo4j" or "memory"
	Type     string `yaml:"type"`
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	// Retry behavior for transient storage failures
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	WritesPerSec float64       `yaml:"writes_per_sec"`
}

type StagingConfig struct {
	Type      string `yaml:"type"` // "postgres", "sqlite"
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Database  string `yaml:"database"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	LocalPath string `yaml:"local_path"`
}

type HistoryConfig struct {
	Path string `yaml:"path"`
}

type PipelineConfig struct {
	// Merge policy for conflicting scalar attributes:
	// "last-writer-wins" or "first-writer-wins"
	MergePolicy string `yaml:"merge_policy"`

	// Source types whose batches are full snapshots
	SnapshotSources []string `yaml:"snapshot_sources"`

	// Records drained from staging per run
	BatchSize int `yaml:"batch_size"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	JSONFormat bool   `yaml:"json_format"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Schema: SchemaConfig{
			Path: filepath.Join("configs", "schema.yaml"),
		},
		Graph: GraphConfig{
			Type:         "neo4j",
			URI:          "bolt://localhost:7687",
			Username:     "neo4j",
			Database:     "neo4j",
			MaxRetries:   4,
			RetryBackoff: 250 * time.Millisecond,
			WritesPerSec: 20,
		},
		Staging: StagingConfig{
			Type:      "sqlite",
			Port:      5432,
			LocalPath: filepath.Join(homeDir, ".pkgraph", "staging.db"),
		},
		History: HistoryConfig{
			Path: filepath.Join(homeDir, ".pkgraph", "history.db"),
		},
		Pipeline: PipelineConfig{
			MergePolicy:     "last-writer-wins",
			SnapshotSources: []string{"package-index"},
			BatchSize:       5000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from file, environment and keychain. Missing
// config file falls back to defaults; a malformed one is a fatal
// configuration error.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("schema", cfg.Schema)
	v.SetDefault("graph", cfg.Graph)
	v.SetDefault("staging", cfg.Staging)
	v.SetDefault("history", cfg.History)
	v.SetDefault("pipeline", cfg.Pipeline)
	v.SetDefault("logging", cfg.Logging)

	v.SetEnvPrefix("PKGRAPH")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".pkgraph")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".pkgraph"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrorTypeConfig, pkgerrors.SeverityCritical,
				"failed to read config")
		}
		// no config file is fine, defaults apply
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrorTypeConfig, pkgerrors.SeverityCritical,
			"failed to unmarshal config")
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	envFiles := []string{
		".env.local",
		".env",
	}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".pkgraph", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config.
// Precedence for the graph password: env var, then OS keychain, then
// config file.
func applyEnvOverrides(cfg *Config) {
	if path := os.Getenv("PKGRAPH_SCHEMA_PATH"); path != "" {
		cfg.Schema.Path = expandPath(path)
	}

	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Graph.URI = uri
	}
	if user := os.Getenv("NEO4J_USERNAME"); user != "" {
		cfg.Graph.Username = user
	}
	if db := os.Getenv("NEO4J_DATABASE"); db != "" {
		cfg.Graph.Database = db
	}
	if password := os.Getenv("NEO4J_PASSWORD"); password != "" {
		cfg.Graph.Password = password
	} else if cfg.Graph.Password == "" {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if key, err := km.GetGraphPassword(); err == nil && key != "" {
				cfg.Graph.Password = key
			}
		}
	}

	if stagingType := os.Getenv("STAGING_TYPE"); stagingType != "" {
		cfg.Staging.Type = stagingType
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		cfg.Staging.Host = host
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Staging.Port = p
		}
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		cfg.Staging.Database = db
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		cfg.Staging.User = user
	}
	if password := os.Getenv("POSTGRES_PASSWORD"); password != "" {
		cfg.Staging.Password = password
	}
	if path := os.Getenv("STAGING_DB_PATH"); path != "" {
		cfg.Staging.LocalPath = expandPath(path)
	}

	if path := os.Getenv("PKGRAPH_HISTORY_PATH"); path != "" {
		cfg.History.Path = expandPath(path)
	}

	if policy := os.Getenv("PKGRAPH_MERGE_POLICY"); policy != "" {
		cfg.Pipeline.MergePolicy = policy
	}
	if size := os.Getenv("PKGRAPH_BATCH_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			cfg.Pipeline.BatchSize = n
		}
	}

	if level := os.Getenv("PKGRAPH_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if file := os.Getenv("PKGRAPH_LOG_FILE"); file != "" {
		cfg.Logging.File = expandPath(file)
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate checks settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Schema.Path == "" {
		return pkgerrors.ConfigError("schema path is required")
	}
	switch c.Graph.Type {
	case "neo4j", "memory":
	default:
		return pkgerrors.ConfigErrorf("unknown graph backend type %q", c.Graph.Type)
	}
	switch c.Staging.Type {
	case "postgres", "sqlite":
	default:
		return pkgerrors.ConfigErrorf("unknown staging type %q", c.Staging.Type)
	}
	switch c.Pipeline.MergePolicy {
	case "last-writer-wins", "first-writer-wins":
	default:
		return pkgerrors.ConfigErrorf("unknown merge policy %q", c.Pipeline.MergePolicy)
	}
	return nil
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/finledger/finledger/internal/domain"
)

// Config represents the top-level finledger.yaml configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Model      ModelConfig      `yaml:"model"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Categories []CategoryConfig `yaml:"categories,omitempty"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// StorageConfig selects and parameterizes the persistence backend.
type StorageConfig struct {
	// Backend is "sqlite" or "bigquery".
	Backend string `yaml:"backend"`
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path,omitempty"`
	// ProjectID and Dataset parameterize the bigquery backend.
	ProjectID string `yaml:"project_id,omitempty"`
	Dataset   string `yaml:"dataset,omitempty"`
	// Bucket, when set, enables archiving of uploaded PDFs to GCS.
	Bucket string `yaml:"bucket,omitempty"`
}

// ModelConfig parameterizes the LLM segmenter.
type ModelConfig struct {
	Name           string `yaml:"name"`
	MaxPromptBytes int    `yaml:"max_prompt_bytes"`
	MaxRetries     int    `yaml:"max_retries"`
}

// PipelineConfig holds the tunable thresholds of the deterministic stages.
// The exact values are policy, not law; they are deliberately configuration.
type PipelineConfig struct {
	// LookAheadRows is how many lines after a transaction row the cleaner
	// scans for fee lines. Too small misses multi-line fee blocks, too
	// large absorbs the next transaction.
	LookAheadRows int `yaml:"look_ahead_rows"`
	// OutlierMultiple flags amounts beyond this multiple of the batch median.
	OutlierMultiple int `yaml:"outlier_multiple"`
	// MaxBatchSize caps one bulk import.
	MaxBatchSize int `yaml:"max_batch_size"`
}

// CategoryConfig is a catalog entry carried in configuration, used when no
// catalog store is available (cmd/ingest, tests).
type CategoryConfig struct {
	Value  string `yaml:"value"`
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Active *bool  `yaml:"active,omitempty"`
}

// Load reads a finledger.yaml file from disk and applies defaults for
// anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a Config with sensible defaults for a new deployment.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

// applyEnv lets the environment override the file. Takes precedence over
// YAML values, loses to command-line flags.
func (c *Config) applyEnv() {
	setIfEnv := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setIfEnv(&c.Server.Port, "PORT")
	setIfEnv(&c.Storage.Backend, "FINLEDGER_STORAGE_BACKEND")
	setIfEnv(&c.Storage.SQLitePath, "FINLEDGER_SQLITE_PATH")
	setIfEnv(&c.Storage.ProjectID, "GOOGLE_CLOUD_PROJECT")
	setIfEnv(&c.Storage.Dataset, "FINLEDGER_DATASET")
	setIfEnv(&c.Storage.Bucket, "GCS_BUCKET")
	setIfEnv(&c.Model.Name, "FINLEDGER_MODEL")
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "finledger.db"
	}
	if c.Storage.Dataset == "" {
		c.Storage.Dataset = "finledger"
	}
	if c.Model.Name == "" {
		c.Model.Name = "gemini-2.5-flash"
	}
	if c.Model.MaxPromptBytes == 0 {
		c.Model.MaxPromptBytes = 120000
	}
	if c.Model.MaxRetries == 0 {
		c.Model.MaxRetries = 3
	}
	if c.Pipeline.LookAheadRows == 0 {
		c.Pipeline.LookAheadRows = 3
	}
	if c.Pipeline.OutlierMultiple == 0 {
		c.Pipeline.OutlierMultiple = 10
	}
	if c.Pipeline.MaxBatchSize == 0 {
		c.Pipeline.MaxBatchSize = 1000
	}
	if len(c.Categories) == 0 {
		c.Categories = defaultCategories()
	}
}

// Catalog converts the configured categories into a domain catalog.
func (c *Config) Catalog() domain.Catalog {
	catalog := make(domain.Catalog, 0, len(c.Categories))
	for _, cc := range c.Categories {
		active := true
		if cc.Active != nil {
			active = *cc.Active
		}
		catalog = append(catalog, domain.Category{
			Value:  cc.Value,
			Name:   cc.Name,
			Type:   cc.Type,
			Active: active,
		})
	}
	return catalog
}

func defaultCategories() []CategoryConfig {
	mk := func(value, name, typ string) CategoryConfig {
		return CategoryConfig{Value: value, Name: name, Type: typ}
	}
	return []CategoryConfig{
		mk("salary", "Salary", "income"),
		mk("business", "Business Income", "income"),
		mk("groceries", "Groceries", "expense"),
		mk("dining", "Dining Out", "expense"),
		mk("transport", "Transport", "expense"),
		mk("utilities", "Utilities", "expense"),
		mk("rent", "Rent", "expense"),
		mk("transfers", "Transfers", "expense"),
		mk("airtime", "Airtime & Data", "expense"),
		mk("bank_charges", "Bank Charges", "expense"),
		mk("entertainment", "Entertainment", "expense"),
		mk("health", "Health", "expense"),
		mk("shopping", "Shopping", "expense"),
		mk(domain.CategoryMiscellaneous, "Miscellaneous", "expense"),
	}
}

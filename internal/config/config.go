package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/tally/internal/guard"
	"github.com/cleared-dev/tally/internal/model"
)

// FileName is the workspace configuration file.
const FileName = "tally.yaml"

// Environment overrides applied by LoadWithEnv.
const (
	EnvLogLevel                = "TALLY_LOG_LEVEL"
	EnvDuplicatesEnabled       = "TALLY_DUPLICATES_ENABLED"
	EnvDuplicatesShowWarnings  = "TALLY_DUPLICATES_SHOW_WARNINGS"
	EnvDuplicatesTransactional = "TALLY_DUPLICATES_TRANSACTION_LEVEL"
	EnvServerAddr              = "TALLY_SERVER_ADDR"
)

// Config represents the top-level tally.yaml configuration.
type Config struct {
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Import     ImportConfig     `yaml:"import"`
	Duplicates DuplicatesConfig `yaml:"duplicates"`
	Categories []model.Category `yaml:"categories"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
	Git        GitConfig        `yaml:"git"`
}

// WorkspaceConfig identifies the workspace owner.
type WorkspaceConfig struct {
	Name     string `yaml:"name"`
	Currency string `yaml:"currency"`
}

// ImportConfig tunes statement parsing.
type ImportConfig struct {
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	HeaderScanRows int      `yaml:"header_scan_rows"`
	DateFormats    []string `yaml:"date_formats,omitempty"` // Go layouts tried before the built-in ones
}

// DuplicatesConfig controls duplicate detection.
type DuplicatesConfig struct {
	Enabled          bool `yaml:"enabled"`
	ShowFileWarnings bool `yaml:"show_file_warnings"`
	TransactionLevel bool `yaml:"transaction_level"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ServerConfig configures the upload server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// GitConfig controls git integration.
type GitConfig struct {
	AutoCommit  bool   `yaml:"auto_commit"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// GuardPrefs returns the duplicate-detection preferences.
func (c *Config) GuardPrefs() guard.Prefs {
	return guard.Prefs{
		Enabled:          c.Duplicates.Enabled,
		ShowFileWarnings: c.Duplicates.ShowFileWarnings,
		TransactionLevel: c.Duplicates.TransactionLevel,
	}
}

// HasCategory reports whether id is a configured category.
func (c *Config) HasCategory(id string) bool {
	for _, cat := range c.Categories {
		if strings.EqualFold(cat.ID, id) {
			return true
		}
	}
	return false
}

// Load reads a tally.yaml file from disk. Sections missing from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default("")
	cfg.Categories = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Categories == nil {
		cfg.Categories = DefaultCategories()
	}
	return cfg, nil
}

// LoadWithEnv loads path and then applies overrides from envFile and the
// process environment. Process variables win over the file. A missing
// envFile is ignored.
func LoadWithEnv(path, envFile string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fileEnv := map[string]string{}
	if envFile != "" {
		fileEnv, err = godotenv.Read(envFile)
		if errors.Is(err, fs.ErrNotExist) {
			fileEnv = map[string]string{}
		} else if err != nil {
			return nil, fmt.Errorf("reading %s: %w", envFile, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvServerAddr); ok && v != "" {
		c.Server.Addr = v
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{EnvDuplicatesEnabled, &c.Duplicates.Enabled},
		{EnvDuplicatesShowWarnings, &c.Duplicates.ShowFileWarnings},
		{EnvDuplicatesTransactional, &c.Duplicates.TransactionLevel},
	}
	for _, b := range bools {
		v, ok := lookup(b.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", b.key, err)
		}
		*b.dst = parsed
	}
	return nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new workspace.
func Default(name string) *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Name:     name,
			Currency: model.DefaultCurrency,
		},
		Import: ImportConfig{
			MaxUploadBytes: 10 << 20,
			HeaderScanRows: 30,
		},
		Duplicates: DuplicatesConfig{
			Enabled:          true,
			ShowFileWarnings: true,
		},
		Categories: DefaultCategories(),
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8420",
		},
		Git: GitConfig{
			AutoCommit:  true,
			AuthorName:  "Tally",
			AuthorEmail: "tally@localhost",
		},
	}
}

// DefaultCategories returns the categories a new workspace starts with.
func DefaultCategories() []model.Category {
	return []model.Category{
		{ID: "salary", Name: "Salary", Type: model.TxnIncome},
		{ID: "interest", Name: "Interest", Type: model.TxnIncome},
		{ID: "food", Name: "Food & Dining", Type: model.TxnExpense},
		{ID: "groceries", Name: "Groceries", Type: model.TxnExpense},
		{ID: "fuel", Name: "Fuel", Type: model.TxnExpense},
		{ID: "transport", Name: "Transport", Type: model.TxnExpense},
		{ID: "shopping", Name: "Shopping", Type: model.TxnExpense},
		{ID: "subscriptions", Name: "Subscriptions", Type: model.TxnExpense},
		{ID: "utilities", Name: "Utilities", Type: model.TxnExpense},
		{ID: "rent", Name: "Rent", Type: model.TxnExpense},
		{ID: "investments", Name: "Investments", Type: model.TxnInvestment},
		{ID: "insurance", Name: "Insurance", Type: model.TxnInsurance},
		{ID: "other", Name: "Other"},
		{ID: "uncategorized", Name: "Uncategorized"},
	}
}

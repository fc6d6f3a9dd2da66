// Manages the recdb.yaml configuration file.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the default configuration file name.
const FileName = "recdb.yaml"

// Config stores all process-wide configuration.
type Config struct {
	// DataDir holds the table files. Relative table files resolve against it.
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	History History `yaml:"history"`

	HTTP HTTP `yaml:"http"`

	// Tables maps a table name to its definition.
	Tables map[string]Table `yaml:"tables"`
}

// History configures git version history of table files.
type History struct {
	Enabled     bool   `yaml:"enabled"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// HTTP configures the serve command.
type HTTP struct {
	Addr string `yaml:"addr"`

	// RequestsPerMinute limits requests per client IP. 0 means unlimited.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Burst is the number of requests allowed at once.
	Burst int `yaml:"burst"`

	// Auth requires HTTP Basic credentials checked against the users table.
	Auth bool `yaml:"auth"`
}

// Table defines one table.
type Table struct {
	File               string `yaml:"file"`
	PrimaryKey         string `yaml:"primary_key"`
	AllowDuplicateKeys bool   `yaml:"allow_duplicate_keys,omitempty"`
}

// UsersTable is the table backing the users repository.
const UsersTable = "users"

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DataDir:  "./data",
		LogLevel: "info",
		History: History{
			AuthorName:  "recdb",
			AuthorEmail: "recdb@localhost",
		},
		HTTP: HTTP{
			Addr:              "localhost:8080",
			RequestsPerMinute: 600,
			Burst:             60,
		},
		Tables: map[string]Table{
			UsersTable: {File: "users.jsonl", PrimaryKey: "id"},
		},
	}
}

// Load reads the configuration at path. A missing file yields Default().
// Fields absent from the file keep their default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the -config flag
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	// Tables from the file replace the default set.
	cfg.Tables = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cfg.Tables == nil {
		cfg.Tables = Default().Tables
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if c.History.Enabled && (c.History.AuthorName == "" || c.History.AuthorEmail == "") {
		return errors.New("history: author_name and author_email are required")
	}
	if c.HTTP.RequestsPerMinute < 0 {
		return errors.New("http: requests_per_minute must be non-negative")
	}
	if c.HTTP.Burst < 0 {
		return errors.New("http: burst must be non-negative")
	}
	files := map[string]string{}
	for _, name := range c.TableNames() {
		t := c.Tables[name]
		if name == "" {
			return errors.New("tables: name is required")
		}
		if t.PrimaryKey == "" {
			return fmt.Errorf("tables.%s: primary_key is required", name)
		}
		if t.File == "" {
			return fmt.Errorf("tables.%s: file is required", name)
		}
		clean := filepath.Clean(t.File)
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return fmt.Errorf("tables.%s: file must be relative to data_dir", name)
		}
		if other, ok := files[clean]; ok {
			return fmt.Errorf("tables.%s: file %s already used by %s", name, t.File, other)
		}
		files[clean] = name
	}
	if c.HTTP.Auth {
		if _, ok := c.Tables[UsersTable]; !ok {
			return fmt.Errorf("http: auth requires a %q table", UsersTable)
		}
	}
	return nil
}

// TableNames returns the configured table names, sorted.
func (c *Config) TableNames() []string {
	names := make([]string, 0, len(c.Tables))
	for name := range c.Tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// TablePath returns the absolute path of the table file.
func (c *Config) TablePath(name string) (string, error) {
	t, ok := c.Tables[name]
	if !ok {
		return "", fmt.Errorf("unknown table %q", name)
	}
	return filepath.Abs(filepath.Join(c.DataDir, t.File))
}

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment variables (and an optional .env file) override
// a few deployment-specific fields after the YAML is loaded.

// SourceConfig describes a single timetable spreadsheet. Exactly one of
// Path or URL is expected; Path wins if both are set.
type SourceConfig struct {
	// ID is an internal identifier used for logging.
	ID string `yaml:"id" json:"id"`
	// Path is a local .xlsx/.csv file.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// URL is a remote .xlsx/.csv location, downloaded with HTTP caching.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Institution and Year name the output file: {institution}_{year}.json.
	Institution string `yaml:"institution" json:"institution"`
	Year        string `yaml:"year" json:"year"`

	// Sources are imported in order; a later file overwrites earlier
	// entries for the same (course code, term).
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// OutputDir is where the catalog (and optional .ics) is written.
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// CacheDir stores downloaded spreadsheets for URL sources.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// ICSExport additionally writes {institution}_{year}.ics.
	ICSExport bool `yaml:"ics_export" json:"ics_export"`

	// Listen is the HTTP listen address for the API in daemon mode.
	Listen string `yaml:"listen" json:"listen"`

	// RefreshCron is a cron-style schedule string (e.g. "0 6 * * *")
	// used to re-run the import in daemon mode.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFormat is "json" or "pretty".
	LogFormat string `yaml:"log_format" json:"log_format"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Institution: "hku",
		Year:        "2022-2023",
		Sources:     []SourceConfig{},
		OutputDir:   ".",
		CacheDir:    "./var/sheet-cache",
		ICSExport:   false,
		Listen:      "127.0.0.1:8080",
		RefreshCron: "0 6 * * *",
		LogLevel:    "info",
		LogFormat:   "pretty",
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Institution == "" {
		c.Institution = def.Institution
	}
	if c.Year == "" {
		c.Year = def.Year
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
	if c.OutputDir == "" {
		c.OutputDir = def.OutputDir
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = def.LogLevel
	}
	switch c.LogFormat {
	case "json", "pretty":
		// ok
	default:
		c.LogFormat = def.LogFormat
	}
}

// OutputBase returns the output file name without extension.
func (c *Config) OutputBase() string {
	return c.Institution + "_" + c.Year
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//   - In both cases environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// ApplyEnv overrides fields from TTCATALOG_* environment variables. A .env
// file in the working directory is loaded first if present; variables that
// are already set are not replaced by it.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load() // .env is optional

	if v := os.Getenv("TTCATALOG_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("TTCATALOG_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("TTCATALOG_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("TTCATALOG_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TTCATALOG_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("TTCATALOG_ICS_EXPORT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ICSExport = b
		}
	}
	user, pass := os.Getenv("TTCATALOG_BASIC_AUTH_USER"), os.Getenv("TTCATALOG_BASIC_AUTH_PASSWORD")
	if user != "" && pass != "" {
		c.BasicAuth = &BasicAuthConfig{Username: user, Password: pass}
	}
	c.Normalize()
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ttcatalog-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Institution != "hku" || cfg.RefreshCron == "" {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
}

func TestLoadYAMLAndNormalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `institution: cuhk
year: 2023-2024
sources:
  - id: aug
    path: ./2023-24_class_timetable_20230801.xlsx
  - id: jan
    url: https://example.com/2023-24_class_timetable_20240112.xlsx
log_level: DEBUG
log_format: xml
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OutputBase() != "cuhk_2023-2024" {
		t.Fatalf("unexpected output base %q", cfg.OutputBase())
	}
	if len(cfg.Sources) != 2 || cfg.Sources[1].URL == "" || cfg.Sources[0].ID != "aug" {
		t.Fatalf("unexpected sources: %#v", cfg.Sources)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "pretty" {
		t.Fatalf("unexpected log settings: %q %q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.OutputDir != "." || cfg.Listen == "" {
		t.Fatalf("defaults not filled: %#v", cfg)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TTCATALOG_OUTPUT_DIR", "/tmp/out")
	t.Setenv("TTCATALOG_ICS_EXPORT", "true")
	t.Setenv("TTCATALOG_BASIC_AUTH_USER", "admin")
	t.Setenv("TTCATALOG_BASIC_AUTH_PASSWORD", "secret")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.OutputDir != "/tmp/out" || !cfg.ICSExport {
		t.Fatalf("env not applied: %#v", cfg)
	}
	if cfg.BasicAuth == nil || cfg.BasicAuth.Username != "admin" {
		t.Fatalf("basic auth not applied: %#v", cfg.BasicAuth)
	}
}

func TestSaveRejectsEmptyInput(t *testing.T) {
	if err := Save("", DefaultConfig()); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if err := Save(filepath.Join(t.TempDir(), "c.yaml"), nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

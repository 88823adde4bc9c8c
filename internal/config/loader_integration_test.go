package config

import (
	"os"
	"path/filepath"
	"testing"
)

// Integration tests that exercise the full pipeline:
// defaults < YAML < environment variables < flags.

func TestLoadFrom_FullHierarchy(t *testing.T) {
	// YAML sets the command, env overrides it. Env must win.
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  command: "from-yaml"
logging:
  level: "debug"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LSPHOST_SERVER_COMMAND", "from-env")
	t.Setenv("LSPHOST_LOG_LEVEL", "warn")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Server.Command != "from-env" {
		t.Errorf("env should override YAML: got command %q", cfg.Server.Command)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("env should override YAML: got level %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadFrom_InvalidFails(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
bridge:
  queue_size: 0
`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(yamlPath); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadWithFlags_FlagsWin(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  command: "from-yaml"
http:
  port: "1111"
`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LSPHOST_HTTP_PORT", "2222")

	flags, err := ParseFlags([]string{"-config", yamlPath, "-port", "3333", "-command", "from-flag"})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadWithFlags(flags)
	if err != nil {
		t.Fatalf("LoadWithFlags: %v", err)
	}
	if cfg.HTTP.Port != "3333" {
		t.Errorf("flag should override env and YAML: got port %q", cfg.HTTP.Port)
	}
	if cfg.Server.Command != "from-flag" {
		t.Errorf("flag should override YAML: got command %q", cfg.Server.Command)
	}
}

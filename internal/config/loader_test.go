package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.LogEnv != "RUST_LOG" {
		t.Errorf("expected log env RUST_LOG, got %s", cfg.Server.LogEnv)
	}
	if cfg.Session.InitTimeout != 10*time.Second {
		t.Errorf("expected init timeout 10s, got %v", cfg.Session.InitTimeout)
	}
	if cfg.Bridge.QueueSize != 64 {
		t.Errorf("expected queue size 64, got %d", cfg.Bridge.QueueSize)
	}
	if !cfg.Selector.Matches("file", "anything") {
		t.Error("default selector should match everything")
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  command: "/opt/foam/bin/openfoam-ls"
  args: ["--stdio"]
  env:
    FOAM_INST_DIR: "/opt/foam"
  log_level: "debug"
session:
  init_timeout: 3s
selector:
  - scheme: file
    language: openfoam
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Command != "/opt/foam/bin/openfoam-ls" {
		t.Errorf("expected command override, got %s", cfg.Server.Command)
	}
	if len(cfg.Server.Args) != 1 || cfg.Server.Args[0] != "--stdio" {
		t.Errorf("expected args [--stdio], got %v", cfg.Server.Args)
	}
	if cfg.Session.InitTimeout != 3*time.Second {
		t.Errorf("expected init timeout 3s, got %v", cfg.Session.InitTimeout)
	}
	want := lspDomain.DocumentSelector{{Scheme: "file", Language: "openfoam"}}
	if len(cfg.Selector) != 1 || cfg.Selector[0] != want[0] {
		t.Errorf("expected selector %v, got %v", want, cfg.Selector)
	}
	// Unchanged fields keep defaults
	if cfg.Session.ShutdownTimeout != 5*time.Second {
		t.Errorf("expected default shutdown timeout, got %v", cfg.Session.ShutdownTimeout)
	}

	spec := cfg.Server.LaunchSpec()
	if spec.Env["RUST_LOG"] != "debug" || spec.Env["FOAM_INST_DIR"] != "/opt/foam" {
		t.Errorf("unexpected launch env: %v", spec.Env)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("LSPHOST_SERVER_COMMAND", "mock-server")
	t.Setenv("LSPHOST_SERVER_ARGS", "--stdio  --verbose")
	t.Setenv("LSPHOST_INIT_TIMEOUT", "750ms")
	t.Setenv("LSPHOST_BRIDGE_QUEUE_SIZE", "8")
	t.Setenv("LSPHOST_LOG_LEVEL", "warn")
	t.Setenv("LSPHOST_WATCH_ENABLED", "true")
	t.Setenv("NATS_URL", "nats://bus:4222")

	loadEnv(&cfg)

	if cfg.Server.Command != "mock-server" {
		t.Errorf("expected mock-server, got %s", cfg.Server.Command)
	}
	if len(cfg.Server.Args) != 2 || cfg.Server.Args[1] != "--verbose" {
		t.Errorf("expected two args, got %v", cfg.Server.Args)
	}
	if cfg.Session.InitTimeout != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %v", cfg.Session.InitTimeout)
	}
	if cfg.Bridge.QueueSize != 8 {
		t.Errorf("expected queue size 8, got %d", cfg.Bridge.QueueSize)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if !cfg.Watch.Enabled {
		t.Error("expected watcher enabled")
	}
	if cfg.NATS.URL != "nats://bus:4222" {
		t.Errorf("expected NATS URL override, got %s", cfg.NATS.URL)
	}
}

func TestEnvOverrideIgnoresInvalid(t *testing.T) {
	cfg := Defaults()
	t.Setenv("LSPHOST_INIT_TIMEOUT", "soon")
	t.Setenv("LSPHOST_BRIDGE_QUEUE_SIZE", "many")
	loadEnv(&cfg)
	if cfg.Session.InitTimeout != 10*time.Second {
		t.Errorf("invalid duration should be ignored, got %v", cfg.Session.InitTimeout)
	}
	if cfg.Bridge.QueueSize != 64 {
		t.Errorf("invalid int should be ignored, got %d", cfg.Bridge.QueueSize)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty command",
			modify: func(c *Config) { c.Server.Command = "" },
			errMsg: "server.command is required",
		},
		{
			name:   "zero init timeout",
			modify: func(c *Config) { c.Session.InitTimeout = 0 },
			errMsg: "session.init_timeout must be > 0",
		},
		{
			name:   "zero shutdown timeout",
			modify: func(c *Config) { c.Session.ShutdownTimeout = 0 },
			errMsg: "session.shutdown_timeout must be > 0",
		},
		{
			name:   "negative grace",
			modify: func(c *Config) { c.Session.TerminateGrace = -time.Second },
			errMsg: "session.terminate_grace must be >= 0",
		},
		{
			name:   "zero queue",
			modify: func(c *Config) { c.Bridge.QueueSize = 0 },
			errMsg: "bridge.queue_size must be >= 1",
		},
		{
			name:   "zero inbox",
			modify: func(c *Config) { c.Bridge.InboxSize = 0 },
			errMsg: "bridge.inbox_size must be >= 1",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "bad env name",
			modify: func(c *Config) { c.Server.Env = map[string]string{"A=B": "1"} },
			errMsg: `launch spec: invalid environment variable name "A=B"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"-port", "9090", "-log-level", "debug", "-watch"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	if flags.Watch == nil || !*flags.Watch {
		t.Error("expected watch flag set")
	}
	// Unset flags remain nil
	if flags.Command != nil {
		t.Errorf("expected nil Command, got %v", *flags.Command)
	}
	if flags.ConfigPath != nil {
		t.Errorf("expected nil ConfigPath, got %v", *flags.ConfigPath)
	}
}

func TestParseFlagsUnknown(t *testing.T) {
	if _, err := ParseFlags([]string{"-nope"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

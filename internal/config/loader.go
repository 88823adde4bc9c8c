package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "lsphost.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// LoadWithFlags loads the YAML named by flags (or the default file), then
// overlays ENV and finally the explicitly set flags.
func LoadWithFlags(flags *Flags) (*Config, error) {
	path := DefaultConfigFile
	if flags != nil && flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	flags.apply(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Command, "LSPHOST_SERVER_COMMAND")
	setFields(&cfg.Server.Args, "LSPHOST_SERVER_ARGS")
	setString(&cfg.Server.Dir, "LSPHOST_SERVER_DIR")
	setString(&cfg.Server.LogLevel, "LSPHOST_SERVER_LOG_LEVEL")
	setString(&cfg.Server.LogEnv, "LSPHOST_SERVER_LOG_ENV")

	// Session
	setDuration(&cfg.Session.InitTimeout, "LSPHOST_INIT_TIMEOUT")
	setDuration(&cfg.Session.ShutdownTimeout, "LSPHOST_SHUTDOWN_TIMEOUT")
	setDuration(&cfg.Session.TerminateGrace, "LSPHOST_TERMINATE_GRACE")
	setString(&cfg.Session.RootDir, "LSPHOST_ROOT_DIR")

	// Bridge
	setInt(&cfg.Bridge.QueueSize, "LSPHOST_BRIDGE_QUEUE_SIZE")
	setInt(&cfg.Bridge.InboxSize, "LSPHOST_BRIDGE_INBOX_SIZE")

	// Watch
	setBool(&cfg.Watch.Enabled, "LSPHOST_WATCH_ENABLED")
	setString(&cfg.Watch.Root, "LSPHOST_WATCH_ROOT")

	setString(&cfg.HTTP.Port, "LSPHOST_HTTP_PORT")
	setString(&cfg.HTTP.CORSOrigin, "LSPHOST_HTTP_CORS_ORIGIN")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Subject, "LSPHOST_NATS_SUBJECT")
	setInt(&cfg.Breaker.MaxFailures, "LSPHOST_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "LSPHOST_BREAKER_TIMEOUT")
	setString(&cfg.Logging.Level, "LSPHOST_LOG_LEVEL")
	setString(&cfg.Logging.Service, "LSPHOST_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "LSPHOST_LOG_ASYNC")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	setInt(&cfg.Diagnostics.MaxPerDocument, "LSPHOST_MAX_DIAGNOSTICS")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Server.Command) == "" {
		return errors.New("server.command is required")
	}
	if err := cfg.Server.LaunchSpec().Validate(); err != nil {
		return err
	}
	if cfg.Session.InitTimeout <= 0 {
		return errors.New("session.init_timeout must be > 0")
	}
	if cfg.Session.ShutdownTimeout <= 0 {
		return errors.New("session.shutdown_timeout must be > 0")
	}
	if cfg.Session.TerminateGrace < 0 {
		return errors.New("session.terminate_grace must be >= 0")
	}
	if cfg.Bridge.QueueSize < 1 {
		return errors.New("bridge.queue_size must be >= 1")
	}
	if cfg.Bridge.InboxSize < 1 {
		return errors.New("bridge.inbox_size must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Diagnostics.MaxPerDocument < 0 {
		return errors.New("diagnostics.max_per_document must be >= 0")
	}
	return nil
}

// Flags holds command-line overrides. Nil fields were not set.
type Flags struct {
	ConfigPath *string
	Command    *string
	Port       *string
	LogLevel   *string
	Watch      *bool
}

// ParseFlags parses command-line arguments. Only flags that were explicitly
// set are non-nil, so unset flags never override YAML or ENV.
func ParseFlags(args []string) (*Flags, error) {
	fs := flag.NewFlagSet("lsphost", flag.ContinueOnError)
	configPath := fs.String("config", DefaultConfigFile, "path to the YAML config file")
	command := fs.String("command", "", "language server executable")
	port := fs.String("port", "", "HTTP port for the host API")
	logLevel := fs.String("log-level", "", "log level (debug|info|warn|error)")
	watch := fs.Bool("watch", false, "enable the filesystem watcher")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	flags := &Flags{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config":
			flags.ConfigPath = configPath
		case "command":
			flags.Command = command
		case "port":
			flags.Port = port
		case "log-level":
			flags.LogLevel = logLevel
		case "watch":
			flags.Watch = watch
		}
	})
	return flags, nil
}

func (f *Flags) apply(cfg *Config) {
	if f == nil {
		return
	}
	if f.Command != nil {
		cfg.Server.Command = *f.Command
	}
	if f.Port != nil {
		cfg.HTTP.Port = *f.Port
	}
	if f.LogLevel != nil {
		cfg.Logging.Level = *f.LogLevel
	}
	if f.Watch != nil {
		cfg.Watch.Enabled = *f.Watch
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setFields splits a whitespace-separated list.
func setFields(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.Fields(v)
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

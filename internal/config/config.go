// Package config provides hierarchical configuration loading for lsphost.
// Precedence: defaults < YAML file < environment variables < command-line flags.
package config

import (
	"time"

	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
)

// Config holds all runtime configuration for the lsphost binary.
type Config struct {
	Server      Server                     `yaml:"server"`
	Session     Session                    `yaml:"session"`
	Selector    lspDomain.DocumentSelector `yaml:"selector"`
	Bridge      Bridge                     `yaml:"bridge"`
	Watch       Watch                      `yaml:"watch"`
	HTTP        HTTP                       `yaml:"http"`
	NATS        NATS                       `yaml:"nats"`
	Breaker     Breaker                    `yaml:"breaker"`
	Logging     Logging                    `yaml:"logging"`
	Telemetry   Telemetry                  `yaml:"telemetry"`
	Diagnostics Diagnostics                `yaml:"diagnostics"`
}

// Server describes how to launch the language server.
type Server struct {
	Command  string            `yaml:"command"`
	Args     []string          `yaml:"args"`
	Env      map[string]string `yaml:"env"`
	Dir      string            `yaml:"dir"`
	LogLevel string            `yaml:"log_level"` // injected into Env under LogEnv when set
	LogEnv   string            `yaml:"log_env"`   // verbosity variable read by the server (default: RUST_LOG)
}

// LaunchSpec builds the immutable launch spec handed to the client.
func (s Server) LaunchSpec() lspDomain.LaunchSpec {
	env := make(map[string]string, len(s.Env)+1)
	for k, v := range s.Env {
		env[k] = v
	}
	if s.LogLevel != "" && s.LogEnv != "" {
		env[s.LogEnv] = s.LogLevel
	}
	return lspDomain.LaunchSpec{
		Command: s.Command,
		Args:    append([]string(nil), s.Args...),
		Env:     env,
		Dir:     s.Dir,
	}
}

// Session holds handshake and teardown bounds.
type Session struct {
	InitTimeout     time.Duration `yaml:"init_timeout"`     // bound on the initialize response
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // bound on the shutdown acknowledgment
	TerminateGrace  time.Duration `yaml:"terminate_grace"`  // SIGTERM to SIGKILL grace period
	RootDir         string        `yaml:"root_dir"`         // workspace root sent in initialize; empty = server.dir
	ClientName      string        `yaml:"client_name"`
}

// Bridge holds document event bridge limits.
type Bridge struct {
	QueueSize int `yaml:"queue_size"` // events held while the session is not active
	InboxSize int `yaml:"inbox_size"` // inbound channel capacity
}

// Watch holds filesystem watcher configuration.
type Watch struct {
	Enabled   bool              `yaml:"enabled"`
	Root      string            `yaml:"root"`
	Patterns  []string          `yaml:"patterns"`  // base-name globs; empty = everything
	Languages map[string]string `yaml:"languages"` // extension (".foam") or base name ("controlDict") -> language id
}

// HTTP holds the host API server configuration.
type HTTP struct {
	Port       string `yaml:"port"`        // empty disables the HTTP surface
	CORSOrigin string `yaml:"cors_origin"` // empty disables CORS headers
}

// NATS holds the optional status publisher configuration.
type NATS struct {
	URL     string `yaml:"url"` // empty disables publishing
	Subject string `yaml:"subject"`
}

// Breaker holds circuit breaker configuration for external publishers.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Telemetry holds OpenTelemetry exporter configuration.
type Telemetry struct {
	Endpoint    string `yaml:"endpoint"` // OTLP gRPC endpoint; empty disables export
	ServiceName string `yaml:"service_name"`
}

// Diagnostics holds server diagnostics cache limits.
type Diagnostics struct {
	MaxPerDocument int `yaml:"max_per_document"` // 0 = unlimited
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Command: "openfoam-ls",
			LogEnv:  "RUST_LOG",
		},
		Session: Session{
			InitTimeout:     10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			TerminateGrace:  2 * time.Second,
			ClientName:      "lsphost",
		},
		Selector: lspDomain.MatchAll(),
		Bridge: Bridge{
			QueueSize: 64,
			InboxSize: 256,
		},
		Watch: Watch{
			Root: ".",
		},
		HTTP: HTTP{
			Port: "8642",
		},
		NATS: NATS{
			Subject: "lsphost",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Logging: Logging{
			Level:   "info",
			Service: "lsphost",
		},
		Telemetry: Telemetry{
			ServiceName: "lsphost",
		},
		Diagnostics: Diagnostics{
			MaxPerDocument: 200,
		},
	}
}

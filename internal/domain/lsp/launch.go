package lsp

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// LaunchSpec describes how to start the language server process.
// It is created once per client and never mutated afterwards.
type LaunchSpec struct {
	Command string            // executable name or path
	Args    []string          // arguments passed to the executable
	Env     map[string]string // overlay merged over the inherited environment
	Dir     string            // working directory; empty means the current one
}

// Validate reports whether the launch spec can be handed to the process supervisor.
func (s LaunchSpec) Validate() error {
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("launch spec: command is required")
	}
	for k := range s.Env {
		if k == "" || strings.ContainsRune(k, '=') {
			return fmt.Errorf("launch spec: invalid environment variable name %q", k)
		}
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate a spec held by a client.
func (s LaunchSpec) Clone() LaunchSpec {
	return LaunchSpec{
		Command: s.Command,
		Args:    slices.Clone(s.Args),
		Env:     maps.Clone(s.Env),
		Dir:     s.Dir,
	}
}

// Environ merges the overlay over base ("KEY=value" entries). Overlay values win
// on collision. Base order is preserved; overlay-only keys follow in sorted order.
func (s LaunchSpec) Environ(base []string) []string {
	out := make([]string, 0, len(base)+len(s.Env))
	seen := make(map[string]bool, len(s.Env))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if v, ok := s.Env[key]; ok {
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, key+"="+v)
			continue
		}
		out = append(out, kv)
	}
	for _, key := range slices.Sorted(maps.Keys(s.Env)) {
		if !seen[key] {
			out = append(out, key+"="+s.Env[key])
		}
	}
	return out
}

// String renders the command line for logs and status output.
func (s LaunchSpec) String() string {
	return strings.Join(append([]string{s.Command}, s.Args...), " ")
}

package mcpgateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ferro-labs/mcp-gateway/plugin"
)

// LoadConfig reads and parses a config file from the given path.
// Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	return &cfg, nil
}

// ValidateConfig validates a Config for correctness: unique plugin names,
// registered kinds, known hooks and modes, and per-kind config schemas.
// It reports deployment mistakes before any request is served.
func ValidateConfig(cfg Config) error {
	switch cfg.DecisionLog.Driver {
	case "", "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown decision_log driver: %q", cfg.DecisionLog.Driver)
	}
	if cfg.Settings.PluginTimeoutMS < 0 {
		return fmt.Errorf("plugin_timeout_ms must not be negative")
	}

	seen := make(map[string]bool)
	for _, pc := range cfg.Plugins {
		if pc.Name == "" {
			return fmt.Errorf("plugin of kind %q has no name", pc.Kind)
		}
		if seen[pc.Name] {
			return fmt.Errorf("duplicate plugin name: %q", pc.Name)
		}
		seen[pc.Name] = true

		if _, ok := plugin.Lookup(pc.Kind); !ok {
			return fmt.Errorf("plugin %q: unknown kind %q (registered: %s)",
				pc.Name, pc.Kind, strings.Join(plugin.Kinds(), ", "))
		}
		if len(pc.Hooks) == 0 {
			return fmt.Errorf("plugin %q declares no hooks", pc.Name)
		}
		for _, h := range pc.Hooks {
			if !h.Valid() {
				return fmt.Errorf("plugin %q declares unknown hook %q", pc.Name, h)
			}
		}
		switch pc.Mode {
		case "", plugin.ModeEnforce, plugin.ModePermissive, plugin.ModeDisabled:
		default:
			return fmt.Errorf("plugin %q has unknown mode %q", pc.Name, pc.Mode)
		}
		switch pc.OnError {
		case "", plugin.OnErrorIgnore, plugin.OnErrorBlock:
		default:
			return fmt.Errorf("plugin %q has unknown on_error policy %q", pc.Name, pc.OnError)
		}
		if err := plugin.ValidateConfig(pc); err != nil {
			return err
		}
	}
	return nil
}

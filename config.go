// Package mcpgateway federates downstream MCP tool, prompt, and resource
// servers behind a policy pipeline: every operation runs through an ordered
// chain of configured plugins before and after the downstream call.
//
// The Gateway type is the in-process entry point: register downstream
// invokers, load plugins from configuration, and call InvokeTool /
// FetchPrompt / FetchResource.
package mcpgateway

import (
	"github.com/ferro-labs/mcp-gateway/plugin"
)

// Config holds the configuration for the MCP gateway.
type Config struct {
	// Settings are manager-wide execution options.
	Settings SettingsConfig `json:"settings,omitempty" yaml:"settings,omitempty"`
	// Plugins is the ordered list of policy plugins to load.
	Plugins []plugin.PluginConfig `json:"plugins,omitempty" yaml:"plugins,omitempty"`
	// DecisionLog configures the persistent audit trail of chain outcomes.
	DecisionLog DecisionLogConfig `json:"decision_log,omitempty" yaml:"decision_log,omitempty"`
}

// SettingsConfig mirrors plugin.Settings in config-file-friendly types.
type SettingsConfig struct {
	// PluginTimeoutMS bounds each hook invocation, in milliseconds.
	PluginTimeoutMS int `json:"plugin_timeout_ms,omitempty" yaml:"plugin_timeout_ms,omitempty"`
	// FailClosed makes plugin faults deny the operation for plugins that do
	// not set on_error themselves.
	FailClosed bool `json:"fail_closed,omitempty" yaml:"fail_closed,omitempty"`
	// ServeCachedResults lets the gateway return a cached tool result when
	// the tool-cache plugin reports a hit, skipping the downstream call.
	// Off by default: cache hits are advisory annotations.
	ServeCachedResults bool `json:"serve_cached_results,omitempty" yaml:"serve_cached_results,omitempty"`
}

// DecisionLogConfig selects the decision log backend.
type DecisionLogConfig struct {
	// Driver is "none" (default), "sqlite", or "postgres".
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

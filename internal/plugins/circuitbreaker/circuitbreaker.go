// Package circuitbreaker provides a policy plugin that stops invoking a
// tool after repeated downstream failures and probes recovery after a
// cooldown. Failures are recognized post-invoke from an error marker in the
// result. Register it with a blank import:
//
//	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/circuitbreaker"
package circuitbreaker

import (
	"context"
	"fmt"
	"time"

	internalcb "github.com/ferro-labs/mcp-gateway/internal/circuitbreaker"
	"github.com/ferro-labs/mcp-gateway/plugin"
)

// CodeCircuitOpen is the violation code for calls rejected by an open circuit.
const CodeCircuitOpen = "CIRCUIT_OPEN"

func init() {
	plugin.Register("circuit-breaker", plugin.Factory{New: New, ConfigSchema: configSchema})
}

const configSchema = `{
  "type": "object",
  "properties": {
    "failure_threshold": {"type": "integer", "minimum": 1},
    "success_threshold": {"type": "integer", "minimum": 1},
    "cooldown_seconds":  {"type": "integer", "minimum": 1},
    "error_field":       {"type": "string"}
  },
  "additionalProperties": false
}`

// Plugin maintains one breaker per tool in a shared store.
type Plugin struct {
	plugin.Base
	store      *internalcb.Store
	errorField string
}

// New constructs the plugin from its validated config map.
func New(cfg plugin.PluginConfig) (plugin.Plugin, error) {
	failureThreshold := intOr(cfg.Config["failure_threshold"], 5)
	successThreshold := intOr(cfg.Config["success_threshold"], 2)
	cooldown := time.Duration(intOr(cfg.Config["cooldown_seconds"], 30)) * time.Second

	p := &Plugin{
		Base:       plugin.NewBase(cfg),
		store:      internalcb.NewStore(failureThreshold, successThreshold, cooldown),
		errorField: "is_error",
	}
	if field, ok := cfg.Config["error_field"].(string); ok && field != "" {
		p.errorField = field
	}
	return p, nil
}

// ToolPreInvoke rejects the call while the tool's circuit is open.
func (p *Plugin) ToolPreInvoke(_ context.Context, payload *plugin.ToolPreInvokePayload, _ *plugin.Context) (*plugin.ToolPreInvokeResult, error) {
	breaker := p.store.Get(payload.Name)
	if !breaker.Allow() {
		return plugin.Block[plugin.ToolPreInvokePayload](&plugin.Violation{
			Reason:      "Circuit open",
			Description: fmt.Sprintf("Tool %s is failing; calls are temporarily rejected", payload.Name),
			Code:        CodeCircuitOpen,
			Details:     map[string]any{"tool": payload.Name, "state": breaker.State().String()},
		}), nil
	}
	return plugin.Allow[plugin.ToolPreInvokePayload](), nil
}

// ToolPostInvoke records the call outcome. A map result whose error field
// is truthy counts as a failure; everything else counts as a success.
func (p *Plugin) ToolPostInvoke(_ context.Context, payload *plugin.ToolPostInvokePayload, _ *plugin.Context) (*plugin.ToolPostInvokeResult, error) {
	breaker := p.store.Get(payload.Name)
	if p.isFailure(payload.Result) {
		breaker.RecordFailure()
		return plugin.AllowWithMetadata[plugin.ToolPostInvokePayload](map[string]any{
			"recorded": "failure",
			"state":    breaker.State().String(),
		}), nil
	}
	breaker.RecordSuccess()
	return plugin.AllowWithMetadata[plugin.ToolPostInvokePayload](map[string]any{
		"recorded": "success",
		"state":    breaker.State().String(),
	}), nil
}

func (p *Plugin) isFailure(result any) bool {
	m, ok := result.(map[string]any)
	if !ok {
		return false
	}
	switch v := m[p.errorField].(type) {
	case bool:
		return v
	case string:
		return v != ""
	}
	return false
}

func intOr(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return fallback
}

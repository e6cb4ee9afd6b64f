// Package outputlength provides a policy plugin enforcing character bounds
// on text-shaped tool results, truncating or blocking out-of-bounds output.
// Under the truncate strategy, under-length content is only annotated, never
// blocked. Register it with a blank import:
//
//	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/outputlength"
package outputlength

import (
	"context"
	"fmt"
	"strings"

	"github.com/ferro-labs/mcp-gateway/internal/resulttext"
	"github.com/ferro-labs/mcp-gateway/plugin"
)

// CodeOutputLength is the violation code for blocked out-of-bounds output.
const CodeOutputLength = "OUTPUT_LENGTH_VIOLATION"

func init() {
	plugin.Register("output-length-guard", plugin.Factory{New: New, ConfigSchema: configSchema})
}

const configSchema = `{
  "type": "object",
  "properties": {
    "min_chars": {"type": "integer", "minimum": 0},
    "max_chars": {"type": "integer", "minimum": 1},
    "strategy":  {"type": "string", "enum": ["truncate", "block"]},
    "ellipsis":  {"type": "string"}
  },
  "additionalProperties": false
}`

// Plugin bounds the length of string, {text: string}, and []string results;
// other shapes pass through untouched.
type Plugin struct {
	plugin.Base
	minChars int
	maxChars int // 0 disables the maximum check
	block    bool
	ellipsis string
}

// New constructs the plugin from its validated config map.
func New(cfg plugin.PluginConfig) (plugin.Plugin, error) {
	p := &Plugin{Base: plugin.NewBase(cfg), ellipsis: "…"}
	if n, ok := asInt(cfg.Config["min_chars"]); ok {
		p.minChars = n
	}
	if n, ok := asInt(cfg.Config["max_chars"]); ok {
		if n < 1 {
			return nil, fmt.Errorf("output-length-guard: max_chars must be at least 1")
		}
		p.maxChars = n
	}
	if strategy, ok := cfg.Config["strategy"].(string); ok {
		switch strings.ToLower(strategy) {
		case "truncate":
		case "block":
			p.block = true
		default:
			return nil, fmt.Errorf("output-length-guard: unknown strategy %q", strategy)
		}
	}
	if ell, ok := cfg.Config["ellipsis"].(string); ok {
		p.ellipsis = ell
	}
	return p, nil
}

// truncate cuts value so the final length, including the ellipsis, does not
// exceed maxChars. An ellipsis that does not fit forces a hard cut.
func truncate(value string, maxChars int, ellipsis string) string {
	runes := []rune(value)
	if len(runes) <= maxChars {
		return value
	}
	ell := []rune(ellipsis)
	if len(ell) >= maxChars {
		return string(runes[:maxChars])
	}
	return string(runes[:maxChars-len(ell)]) + ellipsis
}

// handleText evaluates one string, returning the possibly rewritten text,
// its metadata, and a violation under the block strategy.
func (p *Plugin) handleText(text string) (string, map[string]any, *plugin.Violation) {
	length := len([]rune(text))
	meta := map[string]any{"original_length": length}

	belowMin := p.minChars > 0 && length < p.minChars
	aboveMax := p.maxChars > 0 && length > p.maxChars

	if !belowMin && !aboveMax {
		meta["within_bounds"] = true
		return text, meta, nil
	}

	meta["within_bounds"] = false
	meta["min_chars"] = p.minChars
	meta["max_chars"] = p.maxChars

	if p.block {
		meta["strategy"] = "block"
		return text, meta, &plugin.Violation{
			Reason:      "Output length out of bounds",
			Description: fmt.Sprintf("Result length %d not in [%d, %d]", length, p.minChars, p.maxChars),
			Code:        CodeOutputLength,
			Details:     map[string]any{"length": length, "min": p.minChars, "max": p.maxChars, "strategy": "block"},
		}
	}

	meta["strategy"] = "truncate"
	if aboveMax {
		newText := truncate(text, p.maxChars, p.ellipsis)
		meta["truncated"] = true
		meta["new_length"] = len([]rune(newText))
		return newText, meta, nil
	}
	// Under min with truncate: annotate only.
	meta["truncated"] = false
	meta["new_length"] = length
	return text, meta, nil
}

// ToolPostInvoke applies the bounds to each recognized text variant.
func (p *Plugin) ToolPostInvoke(_ context.Context, payload *plugin.ToolPostInvokePayload, _ *plugin.Context) (*plugin.ToolPostInvokeResult, error) {
	value, ok := resulttext.FromResult(payload.Result)
	if !ok {
		return plugin.Allow[plugin.ToolPostInvokePayload](), nil
	}

	texts := value.Strings()
	if len(texts) == 0 {
		// Empty sequences have nothing to bound.
		return plugin.AllowWithMetadata[plugin.ToolPostInvokePayload](map[string]any{"items": []map[string]any{}}), nil
	}
	out := make([]string, len(texts))
	itemMeta := make([]map[string]any, 0, len(texts))
	modified := false

	for i, text := range texts {
		newText, meta, violation := p.handleText(text)
		itemMeta = append(itemMeta, meta)
		if violation != nil {
			return plugin.Block[plugin.ToolPostInvokePayload](violation), nil
		}
		if newText != text {
			modified = true
		}
		out[i] = newText
	}

	metadata := itemMeta[0]
	if value.Kind() == resulttext.Sequence {
		metadata = map[string]any{"items": itemMeta}
	}

	if modified {
		return plugin.Modify(&plugin.ToolPostInvokePayload{
			Name:   payload.Name,
			Result: value.Rebuild(out),
		}, metadata), nil
	}
	return plugin.AllowWithMetadata[plugin.ToolPostInvokePayload](metadata), nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

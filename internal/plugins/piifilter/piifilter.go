// Package piifilter provides a policy plugin that masks personally
// identifiable information (emails, SSNs, card numbers) in tool and prompt
// arguments before they reach downstream servers. The masked copy is
// returned as a modified payload; the original is never mutated. Register
// it with a blank import:
//
//	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/piifilter"
package piifilter

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/ferro-labs/mcp-gateway/plugin"
)

// CodePIIDetected is the violation code used when block_on_detection is set.
const CodePIIDetected = "PII_DETECTED"

func init() {
	plugin.Register("pii-filter", plugin.Factory{New: New, ConfigSchema: configSchema})
}

const configSchema = `{
  "type": "object",
  "properties": {
    "patterns":           {"type": "object", "additionalProperties": {"type": "string"}},
    "mask":               {"type": "string"},
    "block_on_detection": {"type": "boolean"}
  },
  "additionalProperties": false
}`

var defaultPatterns = map[string]string{
	"email":       `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
	"ssn":         `\b\d{3}-\d{2}-\d{4}\b`,
	"credit_card": `\b(?:\d[ \-]?){13,16}\b`,
}

// Plugin masks configured PII patterns in string-valued arguments.
type Plugin struct {
	plugin.Base
	patterns map[string]*regexp.Regexp
	mask     string
	block    bool
}

// New constructs the plugin, compiling patterns up front.
func New(cfg plugin.PluginConfig) (plugin.Plugin, error) {
	p := &Plugin{
		Base:     plugin.NewBase(cfg),
		patterns: make(map[string]*regexp.Regexp),
		mask:     "[REDACTED]",
	}

	specs := defaultPatterns
	if raw, ok := cfg.Config["patterns"].(map[string]any); ok {
		specs = make(map[string]string, len(raw))
		for name, v := range raw {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("pii-filter: patterns.%s must be a string regex", name)
			}
			specs[name] = s
		}
	}
	for name, spec := range specs {
		re, err := regexp.Compile(spec)
		if err != nil {
			return nil, fmt.Errorf("pii-filter: invalid pattern %q: %w", name, err)
		}
		p.patterns[name] = re
	}
	if mask, ok := cfg.Config["mask"].(string); ok && mask != "" {
		p.mask = mask
	}
	if block, ok := cfg.Config["block_on_detection"].(bool); ok {
		p.block = block
	}
	return p, nil
}

// maskText applies every pattern to text, returning the masked text and the
// names of the patterns that matched.
func (p *Plugin) maskText(text string) (string, []string) {
	var matched []string
	for name, re := range p.patterns {
		if re.MatchString(text) {
			text = re.ReplaceAllString(text, p.mask)
			matched = append(matched, name)
		}
	}
	sort.Strings(matched)
	return text, matched
}

// ToolPreInvoke masks string arguments, reporting which fields were
// rewritten. Later plugins in the chain observe the masked copy.
func (p *Plugin) ToolPreInvoke(_ context.Context, payload *plugin.ToolPreInvokePayload, _ *plugin.Context) (*plugin.ToolPreInvokeResult, error) {
	maskedFields := map[string][]string{}
	masked := make(map[string]any, len(payload.Args))
	for key, value := range payload.Args {
		masked[key] = value
		text, ok := value.(string)
		if !ok {
			continue
		}
		newText, matched := p.maskText(text)
		if len(matched) > 0 {
			masked[key] = newText
			maskedFields[key] = matched
		}
	}

	if len(maskedFields) == 0 {
		return plugin.Allow[plugin.ToolPreInvokePayload](), nil
	}
	meta := map[string]any{"masked_fields": maskedFields}
	if p.block {
		return plugin.Block[plugin.ToolPreInvokePayload](&plugin.Violation{
			Reason:      "PII detected",
			Description: "Arguments contain personally identifiable information",
			Code:        CodePIIDetected,
			Details:     map[string]any{"fields": fieldNames(maskedFields)},
		}), nil
	}
	return plugin.Modify(&plugin.ToolPreInvokePayload{Name: payload.Name, Args: masked}, meta), nil
}

// PromptPreFetch masks string arguments of prompt fetches the same way.
func (p *Plugin) PromptPreFetch(_ context.Context, payload *plugin.PromptPreFetchPayload, _ *plugin.Context) (*plugin.PromptPreFetchResult, error) {
	maskedFields := map[string][]string{}
	masked := make(map[string]string, len(payload.Args))
	for key, value := range payload.Args {
		masked[key] = value
		newText, matched := p.maskText(value)
		if len(matched) > 0 {
			masked[key] = newText
			maskedFields[key] = matched
		}
	}

	if len(maskedFields) == 0 {
		return plugin.Allow[plugin.PromptPreFetchPayload](), nil
	}
	meta := map[string]any{"masked_fields": maskedFields}
	if p.block {
		return plugin.Block[plugin.PromptPreFetchPayload](&plugin.Violation{
			Reason:      "PII detected",
			Description: "Prompt arguments contain personally identifiable information",
			Code:        CodePIIDetected,
			Details:     map[string]any{"fields": fieldNames(maskedFields)},
		}), nil
	}
	return plugin.Modify(&plugin.PromptPreFetchPayload{PromptID: payload.PromptID, Args: masked}, meta), nil
}

func fieldNames(fields map[string][]string) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

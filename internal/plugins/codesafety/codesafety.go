// Package codesafety provides a policy plugin scanning text-shaped tool
// results for dangerous code constructs (shell exec, eval, destructive
// commands) and blocking on a match. Register it with a blank import:
//
//	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/codesafety"
package codesafety

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ferro-labs/mcp-gateway/internal/resulttext"
	"github.com/ferro-labs/mcp-gateway/plugin"
)

// CodeCodeSafety is the violation code for detected unsafe constructs.
const CodeCodeSafety = "CODE_SAFETY"

func init() {
	plugin.Register("code-safety-linter", plugin.Factory{New: New, ConfigSchema: configSchema})
}

const configSchema = `{
  "type": "object",
  "properties": {
    "blocked_patterns": {"type": "array", "items": {"type": "string"}}
  },
  "additionalProperties": false
}`

// defaultPatterns cover common shell and interpreter escape constructs.
var defaultPatterns = []string{
	`\beval\s*\(`,
	`\bexec\s*\(`,
	`\bos\.system\s*\(`,
	`\bsubprocess\.(Popen|call|run)\s*\(`,
	`\brm\s+-rf\b`,
}

// Plugin scans tool output against a list of compiled patterns.
type Plugin struct {
	plugin.Base
	patterns []*regexp.Regexp
	specs    []string
}

// New constructs the plugin, compiling every pattern up front so invalid
// regexes fail at load time.
func New(cfg plugin.PluginConfig) (plugin.Plugin, error) {
	p := &Plugin{Base: plugin.NewBase(cfg)}

	specs := defaultPatterns
	if raw, ok := cfg.Config["blocked_patterns"].([]any); ok {
		specs = nil
		for _, item := range raw {
			if s, ok := item.(string); ok {
				specs = append(specs, s)
			}
		}
	}
	for _, spec := range specs {
		re, err := regexp.Compile(spec)
		if err != nil {
			return nil, fmt.Errorf("code-safety-linter: invalid pattern %q: %w", spec, err)
		}
		p.patterns = append(p.patterns, re)
		p.specs = append(p.specs, spec)
	}
	return p, nil
}

// ToolPostInvoke blocks when any pattern matches the result text, listing
// the matched patterns in the violation details.
func (p *Plugin) ToolPostInvoke(_ context.Context, payload *plugin.ToolPostInvokePayload, _ *plugin.Context) (*plugin.ToolPostInvokeResult, error) {
	value, ok := resulttext.FromResult(payload.Result)
	if !ok {
		return plugin.Allow[plugin.ToolPostInvokePayload](), nil
	}

	var findings []string
	for _, text := range value.Strings() {
		for i, re := range p.patterns {
			if re.MatchString(text) && !containsString(findings, p.specs[i]) {
				findings = append(findings, p.specs[i])
			}
		}
	}

	if len(findings) > 0 {
		return plugin.Block[plugin.ToolPostInvokePayload](&plugin.Violation{
			Reason:      "Unsafe code pattern",
			Description: "Detected unsafe code constructs",
			Code:        CodeCodeSafety,
			Details:     map[string]any{"patterns": findings},
		}), nil
	}
	return plugin.Allow[plugin.ToolPostInvokePayload](), nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

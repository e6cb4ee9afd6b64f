// Package urlreputation provides a policy plugin blocking resource fetches
// whose hostname matches a blocklist (exact or suffix match) or whose URI
// contains a blocked substring pattern. Register it with a blank import:
//
//	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/urlreputation"
package urlreputation

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ferro-labs/mcp-gateway/plugin"
)

// CodeURLReputation is the violation code for blocked URLs.
const CodeURLReputation = "URL_REPUTATION_BLOCK"

func init() {
	plugin.Register("url-reputation", plugin.Factory{New: New, ConfigSchema: configSchema})
}

const configSchema = `{
  "type": "object",
  "properties": {
    "blocked_domains":  {"type": "array", "items": {"type": "string"}},
    "blocked_patterns": {"type": "array", "items": {"type": "string"}}
  },
  "additionalProperties": false
}`

// Plugin performs static allow/deny URL reputation checks.
type Plugin struct {
	plugin.Base
	blockedDomains  []string
	blockedPatterns []string
}

// New constructs the plugin from its validated config map.
func New(cfg plugin.PluginConfig) (plugin.Plugin, error) {
	p := &Plugin{Base: plugin.NewBase(cfg)}
	p.blockedDomains = stringList(cfg.Config["blocked_domains"])
	p.blockedPatterns = stringList(cfg.Config["blocked_patterns"])
	return p, nil
}

func stringList(v any) []string {
	var out []string
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, list...)
	}
	return out
}

// ResourcePreFetch blocks the fetch when the target host equals or is a
// subdomain of a blocked domain, or the URI contains a blocked pattern.
func (p *Plugin) ResourcePreFetch(_ context.Context, payload *plugin.ResourcePreFetchPayload, _ *plugin.Context) (*plugin.ResourcePreFetchResult, error) {
	var host string
	if parsed, err := url.Parse(payload.URI); err == nil {
		host = parsed.Hostname()
	}

	if host != "" {
		for _, domain := range p.blockedDomains {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return plugin.Block[plugin.ResourcePreFetchPayload](&plugin.Violation{
					Reason:      "Blocked domain",
					Description: fmt.Sprintf("Domain %s is blocked", host),
					Code:        CodeURLReputation,
					Details:     map[string]any{"domain": host},
				}), nil
			}
		}
	}

	for _, pattern := range p.blockedPatterns {
		if strings.Contains(payload.URI, pattern) {
			return plugin.Block[plugin.ResourcePreFetchPayload](&plugin.Violation{
				Reason:      "Blocked pattern",
				Description: fmt.Sprintf("URL matches blocked pattern: %s", pattern),
				Code:        CodeURLReputation,
				Details:     map[string]any{"pattern": pattern},
			}), nil
		}
	}

	return plugin.Allow[plugin.ResourcePreFetchPayload](), nil
}

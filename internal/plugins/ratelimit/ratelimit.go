// Package ratelimit provides a policy plugin that rejects operations
// exceeding configured fixed-window rates per user, tenant, and tool.
// Register it with a blank import:
//
//	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/ratelimit"
package ratelimit

import (
	"context"
	"fmt"

	"github.com/ferro-labs/mcp-gateway/internal/ratewindow"
	"github.com/ferro-labs/mcp-gateway/plugin"
)

// CodeRateLimit is the violation code for rate-limit denials.
const CodeRateLimit = "RATE_LIMIT"

func init() {
	plugin.Register("rate-limiter", plugin.Factory{New: New, ConfigSchema: configSchema})
}

const configSchema = `{
  "type": "object",
  "properties": {
    "by_user":   {"type": "string"},
    "by_tenant": {"type": "string"},
    "by_tool":   {"type": "object", "additionalProperties": {"type": "string"}}
  },
  "additionalProperties": false
}`

// Plugin enforces fixed-window rate limits. The window store lives on the
// plugin instance, which is shared by all concurrent operations.
type Plugin struct {
	plugin.Base
	byUser   *ratewindow.Rate
	byTenant *ratewindow.Rate
	byTool   map[string]ratewindow.Rate
	store    *ratewindow.Store
}

// New constructs the plugin, parsing and validating every rate spec up
// front so malformed configuration fails at load time.
func New(cfg plugin.PluginConfig) (plugin.Plugin, error) {
	p := &Plugin{
		Base:   plugin.NewBase(cfg),
		byTool: make(map[string]ratewindow.Rate),
		store:  ratewindow.NewStore(),
	}
	if spec, ok := cfg.Config["by_user"].(string); ok && spec != "" {
		r, err := ratewindow.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("rate-limiter: by_user: %w", err)
		}
		p.byUser = &r
	}
	if spec, ok := cfg.Config["by_tenant"].(string); ok && spec != "" {
		r, err := ratewindow.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("rate-limiter: by_tenant: %w", err)
		}
		p.byTenant = &r
	}
	if byTool, ok := cfg.Config["by_tool"].(map[string]any); ok {
		for tool, v := range byTool {
			spec, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("rate-limiter: by_tool.%s must be a string rate", tool)
			}
			r, err := ratewindow.Parse(spec)
			if err != nil {
				return nil, fmt.Errorf("rate-limiter: by_tool.%s: %w", tool, err)
			}
			p.byTool[tool] = r
		}
	}
	return p, nil
}

// allow checks one scope; a nil rate means the scope is unlimited.
func (p *Plugin) allow(scope string, rate *ratewindow.Rate) (bool, map[string]any) {
	if rate == nil {
		return true, map[string]any{"limited": false}
	}
	d := p.store.Allow(scope, *rate)
	return d.Allowed, map[string]any{"limited": true, "remaining": d.Remaining, "reset_in": d.ResetIn}
}

func identity(pctx *plugin.Context) (user, tenant string) {
	g := pctx.Global()
	user, tenant = g.User, g.TenantID
	if user == "" {
		user = "anonymous"
	}
	if tenant == "" {
		tenant = "default"
	}
	return user, tenant
}

// ToolPreInvoke denies the invocation when any applicable scope (user,
// tenant, or the tool itself) has exhausted its window.
func (p *Plugin) ToolPreInvoke(_ context.Context, payload *plugin.ToolPreInvokePayload, pctx *plugin.Context) (*plugin.ToolPreInvokeResult, error) {
	user, tenant := identity(pctx)

	okUser, metaUser := p.allow("user:"+user, p.byUser)
	okTenant, metaTenant := p.allow("tenant:"+tenant, p.byTenant)
	okTool := true
	var metaTool map[string]any
	if rate, ok := p.byTool[payload.Name]; ok {
		okTool, metaTool = p.allow("tool:"+payload.Name, &rate)
	}

	meta := map[string]any{"by_user": metaUser, "by_tenant": metaTenant}
	if metaTool != nil {
		meta["by_tool"] = metaTool
	}

	if okUser && okTenant && okTool {
		return plugin.AllowWithMetadata[plugin.ToolPreInvokePayload](meta), nil
	}

	scope := "tenant " + tenant
	switch {
	case !okTool:
		scope = "tool " + payload.Name
	case !okUser:
		scope = "user " + user
	}
	return plugin.Block[plugin.ToolPreInvokePayload](&plugin.Violation{
		Reason:      "Rate limit exceeded",
		Description: fmt.Sprintf("Rate limit exceeded for %s", scope),
		Code:        CodeRateLimit,
		Details:     meta,
	}), nil
}

// PromptPreFetch applies the user and tenant scopes to prompt fetches.
func (p *Plugin) PromptPreFetch(_ context.Context, _ *plugin.PromptPreFetchPayload, pctx *plugin.Context) (*plugin.PromptPreFetchResult, error) {
	user, tenant := identity(pctx)

	okUser, metaUser := p.allow("user:"+user, p.byUser)
	if !okUser {
		return plugin.Block[plugin.PromptPreFetchPayload](&plugin.Violation{
			Reason:      "Rate limit exceeded",
			Description: fmt.Sprintf("User %s rate limit exceeded", user),
			Code:        CodeRateLimit,
			Details:     metaUser,
		}), nil
	}

	okTenant, metaTenant := p.allow("tenant:"+tenant, p.byTenant)
	if !okTenant {
		return plugin.Block[plugin.PromptPreFetchPayload](&plugin.Violation{
			Reason:      "Rate limit exceeded",
			Description: fmt.Sprintf("Tenant %s rate limit exceeded", tenant),
			Code:        CodeRateLimit,
			Details:     metaTenant,
		}), nil
	}

	return plugin.AllowWithMetadata[plugin.PromptPreFetchPayload](map[string]any{
		"by_user":   metaUser,
		"by_tenant": metaTenant,
	}), nil
}

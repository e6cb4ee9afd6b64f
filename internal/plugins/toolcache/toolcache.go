// Package toolcache provides a policy plugin that memoizes results of
// configured idempotent tools, keyed by a stable hash of selected argument
// fields. Pre-invoke hits are advisory metadata only: the plugin never skips
// the downstream call itself, because that decision belongs to the caller.
// Register it with a blank import:
//
//	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/toolcache"
package toolcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ferro-labs/mcp-gateway/internal/resultcache"
	"github.com/ferro-labs/mcp-gateway/plugin"
)

// Context state keys shared between the pre- and post-invoke hooks of one
// operation. StateKeyValue additionally hands the cached value to a caller
// that chooses to short-circuit.
const (
	StateKeyCacheKey = "cache_key"
	StateKeyValue    = "cache_value"
)

func init() {
	plugin.Register("tool-cache", plugin.Factory{New: New, ConfigSchema: configSchema})
}

const configSchema = `{
  "type": "object",
  "properties": {
    "cacheable_tools": {"type": "array", "items": {"type": "string"}},
    "ttl":             {"type": "integer", "minimum": 1},
    "max_entries":     {"type": "integer", "minimum": 1},
    "key_fields": {
      "type": "object",
      "additionalProperties": {"type": "array", "items": {"type": "string"}}
    }
  },
  "additionalProperties": false
}`

// Plugin is a write-through result cache for idempotent tools. The cache
// lives on the plugin instance, shared by all concurrent operations.
type Plugin struct {
	plugin.Base
	cacheable map[string]bool
	keyFields map[string][]string
	ttl       time.Duration
	cache     *resultcache.Cache
}

// New constructs the plugin from its validated config map.
func New(cfg plugin.PluginConfig) (plugin.Plugin, error) {
	p := &Plugin{
		Base:      plugin.NewBase(cfg),
		cacheable: make(map[string]bool),
		keyFields: make(map[string][]string),
		ttl:       300 * time.Second,
	}
	if tools, ok := cfg.Config["cacheable_tools"].([]any); ok {
		for _, t := range tools {
			if s, ok := t.(string); ok {
				p.cacheable[s] = true
			}
		}
	}
	if ttl, ok := asInt(cfg.Config["ttl"]); ok {
		if ttl < 1 {
			return nil, fmt.Errorf("tool-cache: ttl must be at least 1 second")
		}
		p.ttl = time.Duration(ttl) * time.Second
	}
	maxEntries := 0
	if n, ok := asInt(cfg.Config["max_entries"]); ok {
		maxEntries = n
	}
	if fields, ok := cfg.Config["key_fields"].(map[string]any); ok {
		for tool, v := range fields {
			list, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("tool-cache: key_fields.%s must be a list of field names", tool)
			}
			for _, f := range list {
				s, ok := f.(string)
				if !ok {
					return nil, fmt.Errorf("tool-cache: key_fields.%s must be a list of field names", tool)
				}
				p.keyFields[tool] = append(p.keyFields[tool], s)
			}
		}
	}
	p.cache = resultcache.New(maxEntries)
	return p, nil
}

// cacheKey hashes the tool name and the selected (or all) argument fields.
// encoding/json writes map keys in sorted order, so the digest is stable
// for equal arguments. Arguments that cannot be marshaled yield no key:
// a coarser key would alias distinct invocations of the same tool.
func cacheKey(tool string, args map[string]any, fields []string) (string, bool) {
	selected := map[string]any{}
	if args != nil {
		if len(fields) > 0 {
			for _, f := range fields {
				selected[f] = args[f]
			}
		} else {
			selected = args
		}
	}
	raw, err := json.Marshal(map[string]any{"tool": tool, "args": selected})
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), true
}

// ToolPreInvoke computes the cache key, leaves it in the operation context
// for the matching post-invoke, and reports hit/miss as metadata.
func (p *Plugin) ToolPreInvoke(_ context.Context, payload *plugin.ToolPreInvokePayload, pctx *plugin.Context) (*plugin.ToolPreInvokeResult, error) {
	if !p.cacheable[payload.Name] {
		return plugin.Allow[plugin.ToolPreInvokePayload](), nil
	}
	key, ok := cacheKey(payload.Name, payload.Args, p.keyFields[payload.Name])
	if !ok {
		// Leave an empty key so the post-invoke hook skips storing rather
		// than falling back to a key shared by every invocation.
		pctx.SetState(StateKeyCacheKey, "")
		return plugin.Allow[plugin.ToolPreInvokePayload](), nil
	}
	pctx.SetState(StateKeyCacheKey, key)

	if value, ok := p.cache.Get(key); ok {
		pctx.SetState(StateKeyValue, value)
		return plugin.AllowWithMetadata[plugin.ToolPreInvokePayload](map[string]any{"cache_hit": true, "key": key}), nil
	}
	return plugin.AllowWithMetadata[plugin.ToolPreInvokePayload](map[string]any{"cache_hit": false, "key": key}), nil
}

// ToolPostInvoke stores the result, reading the key computed pre-invoke
// from the operation context. It falls back to a coarse key only when the
// pre-invoke hook never ran; an empty key left by pre-invoke means the
// arguments could not be keyed and nothing is stored.
func (p *Plugin) ToolPostInvoke(_ context.Context, payload *plugin.ToolPostInvokePayload, pctx *plugin.Context) (*plugin.ToolPostInvokeResult, error) {
	if !p.cacheable[payload.Name] {
		return plugin.Allow[plugin.ToolPostInvokePayload](), nil
	}
	key, found := pctx.GetState(StateKeyCacheKey)
	keyStr, _ := key.(string)
	if found && keyStr == "" {
		// Pre-invoke saw these arguments and could not key them.
		return plugin.Allow[plugin.ToolPostInvokePayload](), nil
	}
	if keyStr == "" {
		keyStr, _ = cacheKey(payload.Name, nil, nil)
	}
	p.cache.Set(keyStr, payload.Result, p.ttl)
	return plugin.AllowWithMetadata[plugin.ToolPostInvokePayload](map[string]any{
		"cache_stored": true,
		"key":          keyStr,
		"ttl":          int(p.ttl / time.Second),
	}), nil
}

func asInt(v any) (int, bool) {
	// JSON delivers numbers as float64; YAML may deliver int. Handle both.
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

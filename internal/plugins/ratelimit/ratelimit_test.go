package ratelimit

import (
	"context"
	"testing"

	"github.com/ferro-labs/mcp-gateway/plugin"
)

func newLimiter(t *testing.T, config map[string]any) *Plugin {
	t.Helper()
	p, err := New(plugin.PluginConfig{Name: "limiter", Kind: "rate-limiter", Config: config})
	if err != nil {
		t.Fatal(err)
	}
	return p.(*Plugin)
}

func pctxFor(user, tenant string) *plugin.Context {
	return plugin.NewContext(plugin.GlobalContext{RequestID: "r1", User: user, TenantID: tenant})
}

func TestNew_RejectsMalformedRates(t *testing.T) {
	bad := []map[string]any{
		{"by_user": "nope"},
		{"by_tenant": "0/s"},
		{"by_tool": map[string]any{"search": "10/day"}},
		{"by_tool": map[string]any{"search": 10}},
	}
	for _, cfg := range bad {
		if _, err := New(plugin.PluginConfig{Name: "l", Kind: "rate-limiter", Config: cfg}); err == nil {
			t.Errorf("config %v should fail at load time", cfg)
		}
	}
}

func TestToolPreInvoke_UserLimit(t *testing.T) {
	p := newLimiter(t, map[string]any{"by_user": "2/m"})
	payload := &plugin.ToolPreInvokePayload{Name: "search"}

	for i := 0; i < 2; i++ {
		res, err := p.ToolPreInvoke(context.Background(), payload, pctxFor("alice", "acme"))
		if err != nil || !res.Continue {
			t.Fatalf("call %d should be admitted: %+v, %v", i, res, err)
		}
	}
	res, _ := p.ToolPreInvoke(context.Background(), payload, pctxFor("alice", "acme"))
	if res.Continue {
		t.Fatal("third call should be denied")
	}
	if res.Violation.Code != CodeRateLimit {
		t.Errorf("got code %q", res.Violation.Code)
	}
	if res.Violation.Description != "Rate limit exceeded for user alice" {
		t.Errorf("got description %q", res.Violation.Description)
	}

	// Another user still gets through.
	res, _ = p.ToolPreInvoke(context.Background(), payload, pctxFor("bob", "acme"))
	if !res.Continue {
		t.Error("other user affected by alice's window")
	}
}

func TestToolPreInvoke_ToolLimitNamesTool(t *testing.T) {
	p := newLimiter(t, map[string]any{"by_tool": map[string]any{"expensive": "1/h"}})
	payload := &plugin.ToolPreInvokePayload{Name: "expensive"}

	res, _ := p.ToolPreInvoke(context.Background(), payload, pctxFor("alice", "acme"))
	if !res.Continue {
		t.Fatal("first call denied")
	}
	res, _ = p.ToolPreInvoke(context.Background(), payload, pctxFor("bob", "acme"))
	if res.Continue {
		t.Fatal("tool window is shared across users")
	}
	if res.Violation.Description != "Rate limit exceeded for tool expensive" {
		t.Errorf("got description %q", res.Violation.Description)
	}

	// Unlimited tools pass untouched.
	res, _ = p.ToolPreInvoke(context.Background(), &plugin.ToolPreInvokePayload{Name: "cheap"}, pctxFor("bob", "acme"))
	if !res.Continue {
		t.Error("unlimited tool denied")
	}
}

func TestToolPreInvoke_AnonymousIdentityDefaults(t *testing.T) {
	p := newLimiter(t, map[string]any{"by_user": "1/h"})
	payload := &plugin.ToolPreInvokePayload{Name: "search"}

	res, _ := p.ToolPreInvoke(context.Background(), payload, pctxFor("", ""))
	if !res.Continue {
		t.Fatal("first anonymous call denied")
	}
	res, _ = p.ToolPreInvoke(context.Background(), payload, pctxFor("", ""))
	if res.Continue {
		t.Fatal("anonymous callers must share the anonymous window")
	}
	if res.Violation.Description != "Rate limit exceeded for user anonymous" {
		t.Errorf("got description %q", res.Violation.Description)
	}
}

func TestPromptPreFetch_TenantLimit(t *testing.T) {
	p := newLimiter(t, map[string]any{"by_tenant": "1/h"})
	payload := &plugin.PromptPreFetchPayload{PromptID: "greeting"}

	res, err := p.PromptPreFetch(context.Background(), payload, pctxFor("alice", "acme"))
	if err != nil || !res.Continue {
		t.Fatalf("first fetch: %+v, %v", res, err)
	}
	res, _ = p.PromptPreFetch(context.Background(), payload, pctxFor("bob", "acme"))
	if res.Continue {
		t.Fatal("tenant window is shared across users")
	}
	if res.Violation.Code != CodeRateLimit {
		t.Errorf("got code %q", res.Violation.Code)
	}
}

func TestToolPreInvoke_NoLimitsConfigured(t *testing.T) {
	p := newLimiter(t, nil)
	for i := 0; i < 100; i++ {
		res, _ := p.ToolPreInvoke(context.Background(), &plugin.ToolPreInvokePayload{Name: "t"}, pctxFor("alice", "acme"))
		if !res.Continue {
			t.Fatal("unlimited plugin denied a call")
		}
	}
}

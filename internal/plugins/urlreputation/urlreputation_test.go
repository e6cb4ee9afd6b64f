package urlreputation

import (
	"context"
	"testing"

	"github.com/ferro-labs/mcp-gateway/plugin"
)

func newChecker(t *testing.T, config map[string]any) *Plugin {
	t.Helper()
	p, err := New(plugin.PluginConfig{Name: "rep", Kind: "url-reputation", Config: config})
	if err != nil {
		t.Fatal(err)
	}
	return p.(*Plugin)
}

func fetch(t *testing.T, p *Plugin, uri string) *plugin.ResourcePreFetchResult {
	t.Helper()
	res, err := p.ResourcePreFetch(context.Background(), &plugin.ResourcePreFetchPayload{URI: uri}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestResourcePreFetch_DomainBlocklist(t *testing.T) {
	p := newChecker(t, map[string]any{"blocked_domains": []any{"bad.example"}})

	tests := []struct {
		uri     string
		allowed bool
	}{
		{"https://bad.example/page", false},
		{"https://api.bad.example/v1", false}, // subdomain
		{"https://good.example/page", true},
		{"https://notbad.example/page", true}, // suffix of the name, not a subdomain
		{"https://bad.example.evil.com/", true},
		{"ftp://bad.example/file", false},
	}
	for _, tt := range tests {
		res := fetch(t, p, tt.uri)
		if res.Continue != tt.allowed {
			t.Errorf("%s: allowed=%v, want %v", tt.uri, res.Continue, tt.allowed)
		}
		if !tt.allowed && res.Violation.Code != CodeURLReputation {
			t.Errorf("%s: got code %q", tt.uri, res.Violation.Code)
		}
	}
}

func TestResourcePreFetch_PatternBlocklist(t *testing.T) {
	p := newChecker(t, map[string]any{"blocked_patterns": []any{"/internal/", "secret"}})

	if res := fetch(t, p, "https://host.example/internal/admin"); res.Continue {
		t.Error("pattern in path not blocked")
	}
	if res := fetch(t, p, "https://host.example/api?key=secret"); res.Continue {
		t.Error("pattern in query not blocked")
	}
	if res := fetch(t, p, "https://host.example/public"); !res.Continue {
		t.Error("clean URI blocked")
	}
}

func TestResourcePreFetch_UnparseableURIStillPatternChecked(t *testing.T) {
	p := newChecker(t, map[string]any{
		"blocked_domains":  []any{"bad.example"},
		"blocked_patterns": []any{"exfil"},
	})

	// No hostname to match, but the substring check still applies.
	if res := fetch(t, p, "::exfil::"); res.Continue {
		t.Error("pattern check skipped for non-URL URI")
	}
}

func TestResourcePreFetch_EmptyConfigAllowsAll(t *testing.T) {
	p := newChecker(t, nil)
	if res := fetch(t, p, "https://anything.example/"); !res.Continue {
		t.Error("empty blocklists must allow everything")
	}
}

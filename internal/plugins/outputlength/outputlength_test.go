package outputlength

import (
	"context"
	"testing"

	"github.com/ferro-labs/mcp-gateway/plugin"
)

func newGuard(t *testing.T, config map[string]any) *Plugin {
	t.Helper()
	p, err := New(plugin.PluginConfig{Name: "len", Kind: "output-length-guard", Config: config})
	if err != nil {
		t.Fatal(err)
	}
	return p.(*Plugin)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		value    string
		max      int
		ellipsis string
		want     string
	}{
		{"short", 10, "...", "short"},
		{"abcdefghijk", 10, "...", "abcdefg..."},
		{"abcdefghijk", 10, "…", "abcdefghi…"},
		{"abcdefghijk", 3, "....", "abc"}, // ellipsis does not fit: hard cut
		{"héllo wörld", 7, "…", "héllo …"},
	}
	for _, tt := range tests {
		if got := truncate(tt.value, tt.max, tt.ellipsis); got != tt.want {
			t.Errorf("truncate(%q, %d, %q) = %q, want %q", tt.value, tt.max, tt.ellipsis, got, tt.want)
		}
	}
}

func TestToolPostInvoke_TruncatesOverlongString(t *testing.T) {
	p := newGuard(t, map[string]any{"max_chars": 10, "ellipsis": "..."})

	res, err := p.ToolPostInvoke(context.Background(), &plugin.ToolPostInvokePayload{
		Name: "t", Result: "abcdefghijklmnop",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Continue {
		t.Fatal("truncate strategy must not block")
	}
	if res.ModifiedPayload == nil || res.ModifiedPayload.Result != "abcdefg..." {
		t.Fatalf("got %+v", res.ModifiedPayload)
	}
	if res.Metadata["truncated"] != true || res.Metadata["new_length"] != 10 {
		t.Errorf("metadata: %v", res.Metadata)
	}
}

func TestToolPostInvoke_WithinBoundsAnnotatesOnly(t *testing.T) {
	p := newGuard(t, map[string]any{"min_chars": 2, "max_chars": 100})

	res, _ := p.ToolPostInvoke(context.Background(), &plugin.ToolPostInvokePayload{Name: "t", Result: "fine"}, nil)
	if !res.Continue || res.ModifiedPayload != nil {
		t.Fatalf("in-bounds result modified: %+v", res)
	}
	if res.Metadata["within_bounds"] != true {
		t.Errorf("metadata: %v", res.Metadata)
	}
}

func TestToolPostInvoke_UnderMinWithTruncateAnnotatesOnly(t *testing.T) {
	p := newGuard(t, map[string]any{"min_chars": 10})

	res, _ := p.ToolPostInvoke(context.Background(), &plugin.ToolPostInvokePayload{Name: "t", Result: "tiny"}, nil)
	if !res.Continue || res.ModifiedPayload != nil {
		t.Fatalf("under-min content must only be annotated: %+v", res)
	}
	if res.Metadata["within_bounds"] != false || res.Metadata["truncated"] != false {
		t.Errorf("metadata: %v", res.Metadata)
	}
}

func TestToolPostInvoke_BlockStrategy(t *testing.T) {
	p := newGuard(t, map[string]any{"max_chars": 5, "strategy": "block"})

	res, _ := p.ToolPostInvoke(context.Background(), &plugin.ToolPostInvokePayload{Name: "t", Result: "much too long"}, nil)
	if res.Continue {
		t.Fatal("block strategy admitted out-of-bounds output")
	}
	if res.Violation.Code != CodeOutputLength {
		t.Errorf("got code %q", res.Violation.Code)
	}

	res, _ = p.ToolPostInvoke(context.Background(), &plugin.ToolPostInvokePayload{Name: "t", Result: "ok"}, nil)
	if !res.Continue {
		t.Error("in-bounds output blocked")
	}
}

func TestToolPostInvoke_KeyedResult(t *testing.T) {
	p := newGuard(t, map[string]any{"max_chars": 4, "ellipsis": "…"})

	res, _ := p.ToolPostInvoke(context.Background(), &plugin.ToolPostInvokePayload{
		Name: "t", Result: map[string]any{"text": "abcdefgh", "source": "x"},
	}, nil)
	out, ok := res.ModifiedPayload.Result.(map[string]any)
	if !ok || out["text"] != "abc…" {
		t.Fatalf("got %+v", res.ModifiedPayload)
	}
	if out["source"] != "x" {
		t.Error("sibling keys dropped during rebuild")
	}
}

func TestToolPostInvoke_SequenceHandledPerItem(t *testing.T) {
	p := newGuard(t, map[string]any{"max_chars": 4, "ellipsis": "…"})

	res, _ := p.ToolPostInvoke(context.Background(), &plugin.ToolPostInvokePayload{
		Name: "t", Result: []string{"ok", "abcdefgh"},
	}, nil)
	out, ok := res.ModifiedPayload.Result.([]string)
	if !ok || out[0] != "ok" || out[1] != "abc…" {
		t.Fatalf("got %+v", res.ModifiedPayload)
	}
	items, _ := res.Metadata["items"].([]map[string]any)
	if len(items) != 2 {
		t.Errorf("per-item metadata missing: %v", res.Metadata)
	}
}

func TestToolPostInvoke_EmptySequenceAllowed(t *testing.T) {
	p := newGuard(t, map[string]any{"min_chars": 2, "max_chars": 10, "strategy": "block"})

	for _, result := range []any{[]string{}, []any{}} {
		res, err := p.ToolPostInvoke(context.Background(), &plugin.ToolPostInvokePayload{
			Name: "t", Result: result,
		}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Continue || res.ModifiedPayload != nil {
			t.Fatalf("empty list result %T touched: %+v", result, res)
		}
		items, ok := res.Metadata["items"].([]map[string]any)
		if !ok || len(items) != 0 {
			t.Errorf("metadata: %v", res.Metadata)
		}
	}
}

func TestToolPostInvoke_UnrecognizedShapePassesThrough(t *testing.T) {
	p := newGuard(t, map[string]any{"max_chars": 1})

	res, _ := p.ToolPostInvoke(context.Background(), &plugin.ToolPostInvokePayload{
		Name: "t", Result: map[string]any{"rows": 12},
	}, nil)
	if !res.Continue || res.ModifiedPayload != nil || res.Metadata != nil {
		t.Errorf("non-text result touched: %+v", res)
	}
}

func TestNew_Validates(t *testing.T) {
	if _, err := New(plugin.PluginConfig{Name: "g", Config: map[string]any{"max_chars": 0}}); err == nil {
		t.Error("max_chars 0 should be rejected")
	}
	if _, err := New(plugin.PluginConfig{Name: "g", Config: map[string]any{"strategy": "redact"}}); err == nil {
		t.Error("unknown strategy should be rejected")
	}
}

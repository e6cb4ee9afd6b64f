package piifilter

import (
	"context"
	"strings"
	"testing"

	"github.com/ferro-labs/mcp-gateway/plugin"
)

func newFilter(t *testing.T, config map[string]any) *Plugin {
	t.Helper()
	p, err := New(plugin.PluginConfig{Name: "pii", Kind: "pii-filter", Config: config})
	if err != nil {
		t.Fatal(err)
	}
	return p.(*Plugin)
}

func TestToolPreInvoke_MasksEmailAndSSN(t *testing.T) {
	p := newFilter(t, nil)
	args := map[string]any{
		"note":  "reach me at alice@example.com",
		"ssn":   "my number is 123-45-6789",
		"count": 3,
	}

	res, err := p.ToolPreInvoke(context.Background(), &plugin.ToolPreInvokePayload{Name: "t", Args: args}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Continue || res.ModifiedPayload == nil {
		t.Fatalf("expected a modified pass-through: %+v", res)
	}

	masked := res.ModifiedPayload.Args
	if masked["note"] != "reach me at [REDACTED]" {
		t.Errorf("email not masked: %q", masked["note"])
	}
	if !strings.Contains(masked["ssn"].(string), "[REDACTED]") {
		t.Errorf("ssn not masked: %q", masked["ssn"])
	}
	if masked["count"] != 3 {
		t.Error("non-string argument touched")
	}

	// The original map is never mutated.
	if args["note"] != "reach me at alice@example.com" {
		t.Error("original arguments mutated")
	}

	fields, _ := res.Metadata["masked_fields"].(map[string][]string)
	if len(fields["note"]) != 1 || fields["note"][0] != "email" {
		t.Errorf("masked_fields: %v", fields)
	}
}

func TestToolPreInvoke_CleanArgsPassUntouched(t *testing.T) {
	p := newFilter(t, nil)
	res, _ := p.ToolPreInvoke(context.Background(), &plugin.ToolPreInvokePayload{
		Name: "t", Args: map[string]any{"q": "nothing sensitive"},
	}, nil)
	if !res.Continue || res.ModifiedPayload != nil || res.Metadata != nil {
		t.Errorf("clean arguments touched: %+v", res)
	}
}

func TestToolPreInvoke_BlockOnDetection(t *testing.T) {
	p := newFilter(t, map[string]any{"block_on_detection": true})

	res, _ := p.ToolPreInvoke(context.Background(), &plugin.ToolPreInvokePayload{
		Name: "t", Args: map[string]any{"email": "bob@example.com"},
	}, nil)
	if res.Continue {
		t.Fatal("block_on_detection must deny")
	}
	if res.Violation.Code != CodePIIDetected {
		t.Errorf("got code %q", res.Violation.Code)
	}
	fields, _ := res.Violation.Details["fields"].([]string)
	if len(fields) != 1 || fields[0] != "email" {
		t.Errorf("got fields %v", fields)
	}
}

func TestPromptPreFetch_MasksArgs(t *testing.T) {
	p := newFilter(t, map[string]any{"mask": "***"})

	res, _ := p.PromptPreFetch(context.Background(), &plugin.PromptPreFetchPayload{
		PromptID: "greeting",
		Args:     map[string]string{"user": "carol@example.com", "tone": "formal"},
	}, nil)
	if res.ModifiedPayload == nil {
		t.Fatalf("expected a modified payload: %+v", res)
	}
	if res.ModifiedPayload.Args["user"] != "***" {
		t.Errorf("got %q", res.ModifiedPayload.Args["user"])
	}
	if res.ModifiedPayload.Args["tone"] != "formal" {
		t.Error("clean argument touched")
	}
}

func TestCustomPatterns(t *testing.T) {
	p := newFilter(t, map[string]any{
		"patterns": map[string]any{"ticket": `TKT-\d{6}`},
	})

	res, _ := p.ToolPreInvoke(context.Background(), &plugin.ToolPreInvokePayload{
		Name: "t", Args: map[string]any{"ref": "see TKT-123456"},
	}, nil)
	if res.ModifiedPayload == nil || res.ModifiedPayload.Args["ref"] != "see [REDACTED]" {
		t.Fatalf("custom pattern not applied: %+v", res.ModifiedPayload)
	}

	// Custom patterns replace the defaults.
	res, _ = p.ToolPreInvoke(context.Background(), &plugin.ToolPreInvokePayload{
		Name: "t", Args: map[string]any{"email": "dave@example.com"},
	}, nil)
	if res.ModifiedPayload != nil {
		t.Error("default patterns should be replaced by custom ones")
	}
}

func TestNew_RejectsInvalidRegex(t *testing.T) {
	if _, err := New(plugin.PluginConfig{Name: "p", Config: map[string]any{
		"patterns": map[string]any{"bad": `(`},
	}}); err == nil {
		t.Error("invalid regex should fail at load time")
	}
}

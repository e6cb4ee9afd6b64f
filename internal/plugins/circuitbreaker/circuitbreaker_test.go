package circuitbreaker

import (
	"context"
	"testing"

	"github.com/ferro-labs/mcp-gateway/plugin"
)

func newBreaker(t *testing.T, config map[string]any) *Plugin {
	t.Helper()
	p, err := New(plugin.PluginConfig{Name: "cb", Kind: "circuit-breaker", Config: config})
	if err != nil {
		t.Fatal(err)
	}
	return p.(*Plugin)
}

func failOnce(t *testing.T, p *Plugin, tool string) {
	t.Helper()
	_, err := p.ToolPostInvoke(context.Background(), &plugin.ToolPostInvokePayload{
		Name: tool, Result: map[string]any{"is_error": true},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	p := newBreaker(t, map[string]any{"failure_threshold": 2})

	pre, _ := p.ToolPreInvoke(context.Background(), &plugin.ToolPreInvokePayload{Name: "flaky"}, nil)
	if !pre.Continue {
		t.Fatal("closed circuit rejected a call")
	}

	failOnce(t, p, "flaky")
	failOnce(t, p, "flaky")

	pre, _ = p.ToolPreInvoke(context.Background(), &plugin.ToolPreInvokePayload{Name: "flaky"}, nil)
	if pre.Continue {
		t.Fatal("open circuit admitted a call")
	}
	if pre.Violation.Code != CodeCircuitOpen {
		t.Errorf("got code %q", pre.Violation.Code)
	}
	if pre.Violation.Details["state"] != "open" {
		t.Errorf("got state %v", pre.Violation.Details["state"])
	}
}

func TestBreakersArePerTool(t *testing.T) {
	p := newBreaker(t, map[string]any{"failure_threshold": 1})
	failOnce(t, p, "flaky")

	pre, _ := p.ToolPreInvoke(context.Background(), &plugin.ToolPreInvokePayload{Name: "steady"}, nil)
	if !pre.Continue {
		t.Error("other tool's failures tripped this breaker")
	}
}

func TestSuccessKeepsCircuitClosed(t *testing.T) {
	p := newBreaker(t, map[string]any{"failure_threshold": 2})

	failOnce(t, p, "flaky")
	post, _ := p.ToolPostInvoke(context.Background(), &plugin.ToolPostInvokePayload{Name: "flaky", Result: "ok"}, nil)
	if post.Metadata["recorded"] != "success" {
		t.Fatalf("metadata: %v", post.Metadata)
	}
	failOnce(t, p, "flaky")

	pre, _ := p.ToolPreInvoke(context.Background(), &plugin.ToolPreInvokePayload{Name: "flaky"}, nil)
	if !pre.Continue {
		t.Error("non-consecutive failures tripped the breaker")
	}
}

func TestCustomErrorField(t *testing.T) {
	p := newBreaker(t, map[string]any{"failure_threshold": 1, "error_field": "failed"})

	post, _ := p.ToolPostInvoke(context.Background(), &plugin.ToolPostInvokePayload{
		Name: "t", Result: map[string]any{"failed": "timeout"},
	}, nil)
	if post.Metadata["recorded"] != "failure" {
		t.Errorf("string error marker not recognized: %v", post.Metadata)
	}

	// The default field name is ignored once overridden.
	post, _ = p.ToolPostInvoke(context.Background(), &plugin.ToolPostInvokePayload{
		Name: "other", Result: map[string]any{"is_error": true},
	}, nil)
	if post.Metadata["recorded"] != "success" {
		t.Errorf("wrong field consulted: %v", post.Metadata)
	}
}

func TestNonMapResultCountsAsSuccess(t *testing.T) {
	p := newBreaker(t, nil)
	post, _ := p.ToolPostInvoke(context.Background(), &plugin.ToolPostInvokePayload{Name: "t", Result: "plain text"}, nil)
	if post.Metadata["recorded"] != "success" {
		t.Errorf("metadata: %v", post.Metadata)
	}
}

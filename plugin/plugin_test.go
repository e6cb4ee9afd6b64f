package plugin

import (
	"strings"
	"sync"
	"testing"
)

func TestHookType_Valid(t *testing.T) {
	for _, h := range []HookType{
		HookToolPreInvoke, HookToolPostInvoke,
		HookPromptPreFetch, HookPromptPostFetch,
		HookResourcePreFetch, HookResourcePostFetch,
	} {
		if !h.Valid() {
			t.Errorf("%s should be valid", h)
		}
	}
	if HookType("tool_mid_invoke").Valid() {
		t.Error("unknown hook should be invalid")
	}
}

func TestBase_Defaults(t *testing.T) {
	b := NewBase(PluginConfig{Name: "p", Kind: "k"})
	if b.Mode() != ModeEnforce {
		t.Errorf("default mode: got %s, want enforce", b.Mode())
	}
	if b.OnError() != OnErrorIgnore {
		t.Errorf("default on_error: got %s, want ignore", b.OnError())
	}

	b = NewBase(PluginConfig{Mode: ModePermissive, OnError: OnErrorBlock, Priority: 7})
	if b.Mode() != ModePermissive || b.OnError() != OnErrorBlock || b.Priority() != 7 {
		t.Error("explicit config values not returned")
	}
}

func TestViolationError(t *testing.T) {
	err := &ViolationError{Violation: &Violation{Code: "RATE_LIMIT", Description: "too fast"}}
	if !strings.Contains(err.Error(), "RATE_LIMIT") || !strings.Contains(err.Error(), "too fast") {
		t.Errorf("got %q", err.Error())
	}
	empty := &ViolationError{}
	if empty.Error() == "" {
		t.Error("nil violation still needs a message")
	}
}

func TestContext_State(t *testing.T) {
	pctx := NewContext(GlobalContext{RequestID: "r1", User: "u", TenantID: "t"})
	if pctx.Global().RequestID != "r1" {
		t.Error("global context not carried")
	}

	if _, ok := pctx.GetState("missing"); ok {
		t.Error("missing key should not resolve")
	}
	pctx.SetState("k", 42)
	if v, ok := pctx.GetState("k"); !ok || v != 42 {
		t.Errorf("got %v, %v", v, ok)
	}
}

func TestContext_ConcurrentState(t *testing.T) {
	pctx := NewContext(GlobalContext{RequestID: "r1"})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			pctx.SetState("shared", n)
			pctx.GetState("shared")
		}(i)
	}
	wg.Wait()
	if _, ok := pctx.GetState("shared"); !ok {
		t.Error("state lost under concurrent access")
	}
}

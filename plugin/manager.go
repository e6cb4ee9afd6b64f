package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ferro-labs/mcp-gateway/internal/logging"
	"github.com/ferro-labs/mcp-gateway/internal/metrics"
)

// CodePluginError is the violation code used when a faulting plugin is
// configured fail-closed.
const CodePluginError = "PLUGIN_ERROR"

// DefaultPluginTimeout bounds a single hook invocation when no timeout is
// configured. A hung plugin must not hang the gateway.
const DefaultPluginTimeout = 5 * time.Second

// Settings holds manager-wide execution options.
type Settings struct {
	// PluginTimeout bounds each handler invocation.
	PluginTimeout time.Duration `json:"plugin_timeout,omitempty" yaml:"plugin_timeout,omitempty"`
	// FailClosed flips the default fault policy to block for plugins that
	// do not set on_error themselves.
	FailClosed bool `json:"fail_closed,omitempty" yaml:"fail_closed,omitempty"`
}

// Manager owns the ordered plugin chains per hook type and executes them
// for each operation. Chains are built once at construction and never
// mutated, so chain reads need no locking; per-operation Contexts are
// tracked in ops so the pre- and post-chains of one operation share state.
type Manager struct {
	settings Settings
	plugins  []Plugin
	chains   map[HookType][]Plugin
	ops      sync.Map // operation key → *Context
}

// NewManager instantiates every configured plugin and builds the per-hook
// chains. Any configuration problem (unknown kind, schema failure,
// constructor error, undeclared capability) aborts startup: deployment
// mistakes must not surface per-request.
func NewManager(settings Settings, configs []PluginConfig) (*Manager, error) {
	if settings.PluginTimeout <= 0 {
		settings.PluginTimeout = DefaultPluginTimeout
	}
	m := &Manager{settings: settings, chains: make(map[HookType][]Plugin)}

	seen := make(map[string]bool)
	for _, cfg := range configs {
		if cfg.Mode == ModeDisabled {
			continue
		}
		if cfg.Name == "" {
			return nil, fmt.Errorf("plugin of kind %q has no name", cfg.Kind)
		}
		if seen[cfg.Name] {
			return nil, fmt.Errorf("duplicate plugin name: %q", cfg.Name)
		}
		seen[cfg.Name] = true
		if len(cfg.Hooks) == 0 {
			return nil, fmt.Errorf("plugin %q declares no hooks", cfg.Name)
		}
		for _, h := range cfg.Hooks {
			if !h.Valid() {
				return nil, fmt.Errorf("plugin %q declares unknown hook %q", cfg.Name, h)
			}
		}
		switch cfg.Mode {
		case "", ModeEnforce, ModePermissive:
		default:
			return nil, fmt.Errorf("plugin %q has unknown mode %q", cfg.Name, cfg.Mode)
		}
		switch cfg.OnError {
		case "", OnErrorIgnore, OnErrorBlock:
		default:
			return nil, fmt.Errorf("plugin %q has unknown on_error policy %q", cfg.Name, cfg.OnError)
		}
		if settings.FailClosed && cfg.OnError == "" {
			cfg.OnError = OnErrorBlock
		}

		if err := ValidateConfig(cfg); err != nil {
			return nil, err
		}
		factory, _ := Lookup(cfg.Kind) // ValidateConfig rejects unknown kinds
		p, err := factory.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("constructing plugin %q: %w", cfg.Name, err)
		}
		for _, h := range cfg.Hooks {
			if !HookSupported(p, h) {
				return nil, fmt.Errorf("plugin %q (kind %q) does not implement hook %s", cfg.Name, cfg.Kind, h)
			}
		}

		m.plugins = append(m.plugins, p)
		for _, h := range cfg.Hooks {
			m.chains[h] = append(m.chains[h], p)
		}
	}

	// Lower priority runs first; ties keep declaration order.
	for h := range m.chains {
		chain := m.chains[h]
		sort.SliceStable(chain, func(i, j int) bool { return chain[i].Priority() < chain[j].Priority() })
	}

	logging.Logger.Info("plugin manager initialized", "plugins", len(m.plugins))
	return m, nil
}

// PluginCount returns the number of loaded plugins.
func (m *Manager) PluginCount() int { return len(m.plugins) }

// PluginInfo describes one loaded plugin for introspection surfaces.
type PluginInfo struct {
	Name     string      `json:"name"`
	Kind     string      `json:"kind"`
	Priority int         `json:"priority"`
	Mode     Mode        `json:"mode"`
	OnError  ErrorPolicy `json:"on_error"`
	Hooks    []HookType  `json:"hooks"`
}

// Plugins returns a description of every loaded plugin in declaration order.
func (m *Manager) Plugins() []PluginInfo {
	infos := make([]PluginInfo, 0, len(m.plugins))
	for _, p := range m.plugins {
		infos = append(infos, PluginInfo{
			Name:     p.Name(),
			Kind:     p.Kind(),
			Priority: p.Priority(),
			Mode:     p.Mode(),
			OnError:  p.OnError(),
			Hooks:    p.Hooks(),
		})
	}
	return infos
}

// Chain returns the plugin names for a hook in execution order.
func (m *Manager) Chain(hook HookType) []string {
	names := make([]string, 0, len(m.chains[hook]))
	for _, p := range m.chains[hook] {
		names = append(names, p.Name())
	}
	return names
}

func opKey(g GlobalContext, operation string) string {
	return g.RequestID + "::" + operation
}

// OperationContext returns the shared Context for one logical operation,
// creating it on first use. The pre- and post-hook chains of the same
// operation receive the same instance.
func (m *Manager) OperationContext(g GlobalContext, operation string) *Context {
	key := opKey(g, operation)
	if v, ok := m.ops.Load(key); ok {
		return v.(*Context)
	}
	actual, _ := m.ops.LoadOrStore(key, NewContext(g))
	return actual.(*Context)
}

// FinishOperation releases the operation's Context. Callers must invoke it
// when the operation completes, including when the pre-chain blocked and no
// post-chain will run.
func (m *Manager) FinishOperation(g GlobalContext, operation string) {
	m.ops.Delete(opKey(g, operation))
}

// ToolPreInvoke runs the tool pre-invoke chain.
func (m *Manager) ToolPreInvoke(ctx context.Context, payload *ToolPreInvokePayload, g GlobalContext) *ToolPreInvokeResult {
	pctx := m.OperationContext(g, "tool:"+payload.Name)
	return runChain(ctx, m, HookToolPreInvoke, payload, g, pctx, payload.Name,
		func(p Plugin) handlerFunc[ToolPreInvokePayload] { return p.(ToolPreInvoker).ToolPreInvoke })
}

// ToolPostInvoke runs the tool post-invoke chain.
func (m *Manager) ToolPostInvoke(ctx context.Context, payload *ToolPostInvokePayload, g GlobalContext) *ToolPostInvokeResult {
	pctx := m.OperationContext(g, "tool:"+payload.Name)
	return runChain(ctx, m, HookToolPostInvoke, payload, g, pctx, payload.Name,
		func(p Plugin) handlerFunc[ToolPostInvokePayload] { return p.(ToolPostInvoker).ToolPostInvoke })
}

// PromptPreFetch runs the prompt pre-fetch chain.
func (m *Manager) PromptPreFetch(ctx context.Context, payload *PromptPreFetchPayload, g GlobalContext) *PromptPreFetchResult {
	pctx := m.OperationContext(g, "prompt:"+payload.PromptID)
	return runChain(ctx, m, HookPromptPreFetch, payload, g, pctx, payload.PromptID,
		func(p Plugin) handlerFunc[PromptPreFetchPayload] { return p.(PromptPreFetcher).PromptPreFetch })
}

// PromptPostFetch runs the prompt post-fetch chain.
func (m *Manager) PromptPostFetch(ctx context.Context, payload *PromptPostFetchPayload, g GlobalContext) *PromptPostFetchResult {
	pctx := m.OperationContext(g, "prompt:"+payload.PromptID)
	return runChain(ctx, m, HookPromptPostFetch, payload, g, pctx, payload.PromptID,
		func(p Plugin) handlerFunc[PromptPostFetchPayload] { return p.(PromptPostFetcher).PromptPostFetch })
}

// ResourcePreFetch runs the resource pre-fetch chain.
func (m *Manager) ResourcePreFetch(ctx context.Context, payload *ResourcePreFetchPayload, g GlobalContext) *ResourcePreFetchResult {
	pctx := m.OperationContext(g, "resource:"+payload.URI)
	return runChain(ctx, m, HookResourcePreFetch, payload, g, pctx, payload.URI,
		func(p Plugin) handlerFunc[ResourcePreFetchPayload] { return p.(ResourcePreFetcher).ResourcePreFetch })
}

// ResourcePostFetch runs the resource post-fetch chain.
func (m *Manager) ResourcePostFetch(ctx context.Context, payload *ResourcePostFetchPayload, g GlobalContext) *ResourcePostFetchResult {
	pctx := m.OperationContext(g, "resource:"+payload.URI)
	return runChain(ctx, m, HookResourcePostFetch, payload, g, pctx, payload.URI,
		func(p Plugin) handlerFunc[ResourcePostFetchPayload] { return p.(ResourcePostFetcher).ResourcePostFetch })
}

type handlerFunc[T any] func(ctx context.Context, payload *T, pctx *Context) (*Result[T], error)

// runChain executes the chain for one hook: conditions filter, priority
// order, payload threading, metadata merge, short-circuit on the first
// enforced violation, and per-plugin fault isolation.
func runChain[T any](
	ctx context.Context,
	m *Manager,
	hook HookType,
	payload *T,
	g GlobalContext,
	pctx *Context,
	subject string,
	handler func(Plugin) handlerFunc[T],
) *Result[T] {
	log := logging.FromContext(ctx).With("hook", string(hook), "request_id", g.RequestID)
	final := &Result[T]{Continue: true, Metadata: make(map[string]any)}
	current := payload

	for _, p := range m.chains[hook] {
		if !applies(p, g, hook, subject) {
			metrics.PluginExecutions.WithLabelValues(p.Name(), string(hook), "skip").Inc()
			continue
		}

		start := time.Now()
		res, err := invokeHandler(ctx, m.settings.PluginTimeout, handler(p), current, pctx)
		metrics.PluginDuration.WithLabelValues(p.Name(), string(hook)).Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.PluginExecutions.WithLabelValues(p.Name(), string(hook), "fault").Inc()
			log.Error("plugin fault", "plugin", p.Name(), "error", err)
			if p.OnError() == OnErrorBlock {
				v := &Violation{
					Reason:      "Plugin error",
					Description: fmt.Sprintf("Plugin %s failed and is configured fail-closed", p.Name()),
					Code:        CodePluginError,
					Details:     map[string]any{"error": err.Error()},
					pluginName:  p.Name(),
				}
				metrics.ViolationsTotal.WithLabelValues(p.Name(), v.Code).Inc()
				metrics.ChainRuns.WithLabelValues(string(hook), "block").Inc()
				final.Continue = false
				final.Violation = v
				return final
			}
			continue
		}
		if res == nil {
			log.Warn("plugin returned a nil result, treating as pass-through", "plugin", p.Name())
			metrics.PluginExecutions.WithLabelValues(p.Name(), string(hook), "allow").Inc()
			continue
		}

		if len(res.Metadata) > 0 {
			if _, dup := final.Metadata[p.Name()]; dup {
				log.Error("metadata collision, keeping first value", "plugin", p.Name())
			} else {
				final.Metadata[p.Name()] = res.Metadata
			}
		}

		if res.ModifiedPayload != nil {
			current = res.ModifiedPayload
			final.ModifiedPayload = current
		}

		if res.Violation != nil && res.Continue {
			log.Warn("plugin set a violation without stopping the chain; normalizing", "plugin", p.Name())
			res.Continue = false
		}

		if !res.Continue {
			v := res.Violation
			if v != nil {
				v.pluginName = p.Name()
				metrics.ViolationsTotal.WithLabelValues(p.Name(), v.Code).Inc()
			}
			if p.Mode() == ModePermissive {
				desc := ""
				if v != nil {
					desc = v.Description
				}
				log.Warn("plugin would block (permissive mode)", "plugin", p.Name(), "description", desc)
				metrics.PluginExecutions.WithLabelValues(p.Name(), string(hook), "block").Inc()
				continue
			}
			metrics.PluginExecutions.WithLabelValues(p.Name(), string(hook), "block").Inc()
			metrics.ChainRuns.WithLabelValues(string(hook), "block").Inc()
			final.Continue = false
			final.Violation = v
			return final
		}

		metrics.PluginExecutions.WithLabelValues(p.Name(), string(hook), "allow").Inc()
	}

	metrics.ChainRuns.WithLabelValues(string(hook), "allow").Inc()
	return final
}

// invokeHandler runs one handler bounded by timeout, converting panics and
// deadline expiry into errors so one misbehaving plugin cannot abort the
// request pipeline.
func invokeHandler[T any](ctx context.Context, timeout time.Duration, h handlerFunc[T], payload *T, pctx *Context) (*Result[T], error) {
	type outcome struct {
		res *Result[T]
		err error
	}

	cctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{nil, fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := h(cctx, payload, pctx)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-cctx.Done():
		return nil, fmt.Errorf("plugin timed out: %w", cctx.Err())
	}
}

// applies reports whether any of the plugin's conditions matches the
// operation subject (tool/prompt name or resource URI) and identity. A
// plugin with no conditions applies everywhere.
func applies(p Plugin, g GlobalContext, hook HookType, subject string) bool {
	conds := p.Conditions()
	if len(conds) == 0 {
		return true
	}
	for _, c := range conds {
		if c.matches(g, hook, subject) {
			return true
		}
	}
	return false
}

func (c Condition) matches(g GlobalContext, hook HookType, subject string) bool {
	var subjects []string
	switch hook {
	case HookToolPreInvoke, HookToolPostInvoke:
		subjects = c.Tools
	case HookPromptPreFetch, HookPromptPostFetch:
		subjects = c.Prompts
	case HookResourcePreFetch, HookResourcePostFetch:
		subjects = c.Resources
	}
	if len(subjects) > 0 && !containsString(subjects, subject) {
		return false
	}
	if len(c.TenantIDs) > 0 && !containsString(c.TenantIDs, g.TenantID) {
		return false
	}
	// User patterns only constrain authenticated operations; an empty
	// user matches regardless.
	if len(c.UserPatterns) > 0 && g.User != "" {
		matched := false
		for _, pat := range c.UserPatterns {
			if strings.Contains(g.User, pat) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Package plugin defines the policy plugin contract and the chain
// orchestrator that mediates every tool invocation, prompt fetch, and
// resource fetch passing through the gateway.
//
// A plugin encapsulates one policy concern (rate limiting, schema
// validation, output guarding, ...). It is configured from a PluginConfig,
// declares the hook points it participates in, and implements one
// capability interface per declared hook (e.g. ToolPreInvoker). Plugins are
// registered by kind via Register and instantiated by the Manager at
// startup.
//
// Built-in plugins live in the internal/plugins/* packages and are
// registered by importing them with a blank import
// (e.g. _ "github.com/ferro-labs/mcp-gateway/internal/plugins/ratelimit").
package plugin

import (
	"context"
	"fmt"
)

// HookType names an interception point in the operation lifecycle.
type HookType string

// Hook points supported by the gateway.
const (
	HookToolPreInvoke     HookType = "tool_pre_invoke"
	HookToolPostInvoke    HookType = "tool_post_invoke"
	HookPromptPreFetch    HookType = "prompt_pre_fetch"
	HookPromptPostFetch   HookType = "prompt_post_fetch"
	HookResourcePreFetch  HookType = "resource_pre_fetch"
	HookResourcePostFetch HookType = "resource_post_fetch"
)

// Valid reports whether h is a known hook point.
func (h HookType) Valid() bool {
	switch h {
	case HookToolPreInvoke, HookToolPostInvoke,
		HookPromptPreFetch, HookPromptPostFetch,
		HookResourcePreFetch, HookResourcePostFetch:
		return true
	}
	return false
}

// Mode controls how a plugin's blocking decisions are applied.
type Mode string

// Plugin execution modes.
const (
	// ModeEnforce — violations stop the chain and deny the operation.
	ModeEnforce Mode = "enforce"
	// ModePermissive — violations are logged but the chain continues.
	ModePermissive Mode = "permissive"
	// ModeDisabled — the plugin is not loaded at all.
	ModeDisabled Mode = "disabled"
)

// ErrorPolicy controls what happens when a plugin handler faults
// (returns an error, panics, or times out).
type ErrorPolicy string

// Fault policies.
const (
	// OnErrorIgnore — fail open: log the fault and continue the chain.
	OnErrorIgnore ErrorPolicy = "ignore"
	// OnErrorBlock — fail closed: the fault denies the operation.
	OnErrorBlock ErrorPolicy = "block"
)

// Condition restricts when a plugin applies. An empty condition list on a
// plugin means it applies to every operation; within one Condition all
// non-empty fields must match, and a plugin applies when any of its
// Conditions matches.
type Condition struct {
	Tools        []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Prompts      []string `json:"prompts,omitempty" yaml:"prompts,omitempty"`
	Resources    []string `json:"resources,omitempty" yaml:"resources,omitempty"`
	TenantIDs    []string `json:"tenant_ids,omitempty" yaml:"tenant_ids,omitempty"`
	UserPatterns []string `json:"user_patterns,omitempty" yaml:"user_patterns,omitempty"`
}

// PluginConfig is one configured plugin instance.
//
//nolint:revive // name kept for symmetry with the config file schema
type PluginConfig struct {
	// Name uniquely identifies this instance; metadata is keyed by it.
	Name string `json:"name" yaml:"name"`
	// Kind selects the registered factory that constructs the plugin.
	Kind string `json:"kind" yaml:"kind"`
	// Hooks lists the hook points this instance participates in.
	Hooks []HookType `json:"hooks" yaml:"hooks"`
	// Mode defaults to enforce.
	Mode Mode `json:"mode,omitempty" yaml:"mode,omitempty"`
	// Priority orders the chain; lower runs first, ties keep declaration order.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`
	// OnError defaults to ignore (fail open).
	OnError ErrorPolicy `json:"on_error,omitempty" yaml:"on_error,omitempty"`
	// Conditions restrict which operations the plugin applies to.
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	// Config holds plugin-specific options, validated at construction.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Violation is a structured denial attached by a plugin when it blocks an
// operation.
type Violation struct {
	Reason      string         `json:"reason"`
	Description string         `json:"description"`
	Code        string         `json:"code"`
	Details     map[string]any `json:"details,omitempty"`

	pluginName string
}

// PluginName returns the name of the plugin that raised the violation.
// It is set by the Manager, not by plugins.
func (v *Violation) PluginName() string { return v.pluginName }

// ViolationError adapts a Violation to the error interface for callers that
// translate denials into protocol-level errors.
type ViolationError struct {
	Violation *Violation
}

func (e *ViolationError) Error() string {
	v := e.Violation
	if v == nil {
		return "policy violation"
	}
	return fmt.Sprintf("policy violation [%s]: %s", v.Code, v.Description)
}

// Result is returned by every hook invocation. The zero value is not
// meaningful; use the constructors below or set Continue explicitly.
type Result[T any] struct {
	// Continue is false when the chain must stop.
	Continue bool
	// Violation is set when the plugin blocks; implies Continue == false.
	Violation *Violation
	// ModifiedPayload, when set, replaces the working payload for the rest
	// of the chain and for the final result.
	ModifiedPayload *T
	// Metadata is merged into the chain result under the plugin's name.
	Metadata map[string]any
}

// Allow returns a permissive pass-through result.
func Allow[T any]() *Result[T] { return &Result[T]{Continue: true} }

// AllowWithMetadata returns a pass-through result carrying metadata.
func AllowWithMetadata[T any](md map[string]any) *Result[T] {
	return &Result[T]{Continue: true, Metadata: md}
}

// Block returns a blocking result carrying the violation.
func Block[T any](v *Violation) *Result[T] {
	return &Result[T]{Continue: false, Violation: v}
}

// Modify returns a pass-through result that rewrites the payload.
func Modify[T any](payload *T, md map[string]any) *Result[T] {
	return &Result[T]{Continue: true, ModifiedPayload: payload, Metadata: md}
}

// ToolPreInvokePayload is the input of a tool invocation.
type ToolPreInvokePayload struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolPostInvokePayload is the result of a tool invocation.
type ToolPostInvokePayload struct {
	Name   string `json:"name"`
	Result any    `json:"result"`
}

// PromptPreFetchPayload identifies a prompt template about to be fetched.
type PromptPreFetchPayload struct {
	PromptID string            `json:"prompt_id"`
	Args     map[string]string `json:"args,omitempty"`
}

// PromptPostFetchPayload carries a rendered prompt.
type PromptPostFetchPayload struct {
	PromptID string `json:"prompt_id"`
	Result   any    `json:"result"`
}

// ResourcePreFetchPayload identifies a resource about to be fetched.
type ResourcePreFetchPayload struct {
	URI      string         `json:"uri"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ResourcePostFetchPayload carries fetched resource content.
type ResourcePostFetchPayload struct {
	URI     string `json:"uri"`
	Content any    `json:"content"`
}

// Per-hook result aliases.
type (
	ToolPreInvokeResult     = Result[ToolPreInvokePayload]
	ToolPostInvokeResult    = Result[ToolPostInvokePayload]
	PromptPreFetchResult    = Result[PromptPreFetchPayload]
	PromptPostFetchResult   = Result[PromptPostFetchPayload]
	ResourcePreFetchResult  = Result[ResourcePreFetchPayload]
	ResourcePostFetchResult = Result[ResourcePostFetchPayload]
)

// Plugin is the base interface all policy plugins implement, usually by
// embedding Base. Hook handlers are declared through the capability
// interfaces below; a plugin constructed for a hook it does not implement
// is a configuration error surfaced at load time.
type Plugin interface {
	Name() string
	Kind() string
	Priority() int
	Mode() Mode
	Hooks() []HookType
	Conditions() []Condition
	OnError() ErrorPolicy
}

// ToolPreInvoker runs before a tool is invoked downstream.
type ToolPreInvoker interface {
	ToolPreInvoke(ctx context.Context, payload *ToolPreInvokePayload, pctx *Context) (*ToolPreInvokeResult, error)
}

// ToolPostInvoker runs on the result of a tool invocation.
type ToolPostInvoker interface {
	ToolPostInvoke(ctx context.Context, payload *ToolPostInvokePayload, pctx *Context) (*ToolPostInvokeResult, error)
}

// PromptPreFetcher runs before a prompt template is fetched.
type PromptPreFetcher interface {
	PromptPreFetch(ctx context.Context, payload *PromptPreFetchPayload, pctx *Context) (*PromptPreFetchResult, error)
}

// PromptPostFetcher runs on a rendered prompt.
type PromptPostFetcher interface {
	PromptPostFetch(ctx context.Context, payload *PromptPostFetchPayload, pctx *Context) (*PromptPostFetchResult, error)
}

// ResourcePreFetcher runs before a resource is fetched.
type ResourcePreFetcher interface {
	ResourcePreFetch(ctx context.Context, payload *ResourcePreFetchPayload, pctx *Context) (*ResourcePreFetchResult, error)
}

// ResourcePostFetcher runs on fetched resource content.
type ResourcePostFetcher interface {
	ResourcePostFetch(ctx context.Context, payload *ResourcePostFetchPayload, pctx *Context) (*ResourcePostFetchResult, error)
}

// Base provides the Plugin accessors from a PluginConfig, applying the
// documented defaults. Concrete plugins embed it.
type Base struct {
	cfg PluginConfig
}

// NewBase wraps cfg for embedding in a concrete plugin.
func NewBase(cfg PluginConfig) Base { return Base{cfg: cfg} }

// Name returns the configured instance name.
func (b *Base) Name() string { return b.cfg.Name }

// Kind returns the registered plugin kind.
func (b *Base) Kind() string { return b.cfg.Kind }

// Priority returns the chain ordering priority (lower runs first).
func (b *Base) Priority() int { return b.cfg.Priority }

// Mode returns the execution mode, defaulting to enforce.
func (b *Base) Mode() Mode {
	if b.cfg.Mode == "" {
		return ModeEnforce
	}
	return b.cfg.Mode
}

// Hooks returns the declared hook points.
func (b *Base) Hooks() []HookType { return b.cfg.Hooks }

// Conditions returns the applicability conditions.
func (b *Base) Conditions() []Condition { return b.cfg.Conditions }

// OnError returns the fault policy, defaulting to ignore (fail open).
func (b *Base) OnError() ErrorPolicy {
	if b.cfg.OnError == "" {
		return OnErrorIgnore
	}
	return b.cfg.OnError
}

// HookSupported reports whether p implements the capability interface for h.
func HookSupported(p Plugin, h HookType) bool {
	switch h {
	case HookToolPreInvoke:
		_, ok := p.(ToolPreInvoker)
		return ok
	case HookToolPostInvoke:
		_, ok := p.(ToolPostInvoker)
		return ok
	case HookPromptPreFetch:
		_, ok := p.(PromptPreFetcher)
		return ok
	case HookPromptPostFetch:
		_, ok := p.(PromptPostFetcher)
		return ok
	case HookResourcePreFetch:
		_, ok := p.(ResourcePreFetcher)
		return ok
	case HookResourcePostFetch:
		_, ok := p.(ResourcePostFetcher)
		return ok
	}
	return false
}

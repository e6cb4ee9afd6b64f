package mcpgateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ferro-labs/mcp-gateway/internal/decisionlog"
	"github.com/ferro-labs/mcp-gateway/internal/logging"
	"github.com/ferro-labs/mcp-gateway/internal/plugins/toolcache"
	"github.com/ferro-labs/mcp-gateway/plugin"
)

// ToolInvoker performs the actual downstream tool call.
type ToolInvoker func(ctx context.Context, name string, args map[string]any) (any, error)

// PromptFetcher fetches and renders a prompt template downstream.
type PromptFetcher func(ctx context.Context, promptID string, args map[string]string) (any, error)

// ResourceFetcher fetches a resource downstream.
type ResourceFetcher func(ctx context.Context, uri string) (any, error)

// Gateway mediates downstream calls through the plugin policy pipeline:
// pre-hook chain, downstream call, post-hook chain. Transport framing and
// authentication happen outside; callers hand in an already-authenticated
// identity and get back either a result or a *plugin.ViolationError.
type Gateway struct {
	manager     *plugin.Manager
	decisions   decisionlog.Writer
	closers     []func() error
	invoker     ToolInvoker
	prompts     PromptFetcher
	resources   ResourceFetcher
	serveCached bool
}

// Identity is the authenticated caller of one operation. RequestID may be
// left empty; the gateway then generates one.
type Identity struct {
	RequestID string
	User      string
	TenantID  string
}

// New validates cfg, loads all configured plugins, and opens the decision
// log backend. Configuration problems abort here, never per-request.
func New(cfg Config) (*Gateway, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	manager, err := plugin.NewManager(plugin.Settings{
		PluginTimeout: time.Duration(cfg.Settings.PluginTimeoutMS) * time.Millisecond,
		FailClosed:    cfg.Settings.FailClosed,
	}, cfg.Plugins)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		manager:     manager,
		decisions:   decisionlog.NoopWriter{},
		serveCached: cfg.Settings.ServeCachedResults,
	}

	switch cfg.DecisionLog.Driver {
	case "sqlite":
		w, err := decisionlog.NewSQLiteWriter(cfg.DecisionLog.DSN)
		if err != nil {
			return nil, err
		}
		g.decisions = w
		g.closers = append(g.closers, w.Close)
	case "postgres":
		w, err := decisionlog.NewPostgresWriter(cfg.DecisionLog.DSN)
		if err != nil {
			return nil, err
		}
		g.decisions = w
		g.closers = append(g.closers, w.Close)
	}

	return g, nil
}

// RegisterToolInvoker sets the downstream tool call function.
func (g *Gateway) RegisterToolInvoker(fn ToolInvoker) { g.invoker = fn }

// RegisterPromptFetcher sets the downstream prompt fetch function.
func (g *Gateway) RegisterPromptFetcher(fn PromptFetcher) { g.prompts = fn }

// RegisterResourceFetcher sets the downstream resource fetch function.
func (g *Gateway) RegisterResourceFetcher(fn ResourceFetcher) { g.resources = fn }

// Manager exposes the plugin manager for introspection surfaces.
func (g *Gateway) Manager() *plugin.Manager { return g.manager }

// Close releases the decision log backend.
func (g *Gateway) Close() error {
	var firstErr error
	for _, closeFn := range g.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (g *Gateway) globalContext(id Identity) plugin.GlobalContext {
	if id.RequestID == "" {
		id.RequestID = uuid.NewString()
	}
	return plugin.GlobalContext{RequestID: id.RequestID, User: id.User, TenantID: id.TenantID}
}

// InvokeTool runs the tool pre-invoke chain, performs the downstream call,
// and runs the post-invoke chain on the result. The returned metadata maps
// plugin names to their reported annotations from both chains. A policy
// denial surfaces as *plugin.ViolationError.
func (g *Gateway) InvokeTool(ctx context.Context, id Identity, name string, args map[string]any) (any, map[string]any, error) {
	gctx := g.globalContext(id)
	ctx = logging.WithRequestID(ctx, gctx.RequestID)
	operation := "tool:" + name
	defer g.manager.FinishOperation(gctx, operation)

	start := time.Now()
	pre := g.manager.ToolPreInvoke(ctx, &plugin.ToolPreInvokePayload{Name: name, Args: args}, gctx)
	g.logDecision(ctx, gctx, plugin.HookToolPreInvoke, name, start, pre.Violation, pre.Continue)
	if !pre.Continue {
		return nil, pre.Metadata, &plugin.ViolationError{Violation: pre.Violation}
	}

	finalArgs := args
	if pre.ModifiedPayload != nil {
		finalArgs = pre.ModifiedPayload.Args
	}

	// Caller-side short-circuit: the tool-cache plugin only annotates hits,
	// but it leaves the cached value in the operation context for us.
	if g.serveCached {
		pctx := g.manager.OperationContext(gctx, operation)
		if value, ok := pctx.GetState(toolcache.StateKeyValue); ok {
			return value, pre.Metadata, nil
		}
	}

	if g.invoker == nil {
		return nil, pre.Metadata, fmt.Errorf("no tool invoker registered")
	}
	result, err := g.invoker(ctx, name, finalArgs)
	if err != nil {
		return nil, pre.Metadata, fmt.Errorf("invoking tool %s: %w", name, err)
	}

	start = time.Now()
	post := g.manager.ToolPostInvoke(ctx, &plugin.ToolPostInvokePayload{Name: name, Result: result}, gctx)
	g.logDecision(ctx, gctx, plugin.HookToolPostInvoke, name, start, post.Violation, post.Continue)
	metadata := mergeMetadata(pre.Metadata, post.Metadata)
	if !post.Continue {
		return nil, metadata, &plugin.ViolationError{Violation: post.Violation}
	}
	if post.ModifiedPayload != nil {
		result = post.ModifiedPayload.Result
	}
	return result, metadata, nil
}

// FetchPrompt runs the prompt pre-fetch chain, fetches the prompt, and runs
// the post-fetch chain on the rendered result.
func (g *Gateway) FetchPrompt(ctx context.Context, id Identity, promptID string, args map[string]string) (any, map[string]any, error) {
	gctx := g.globalContext(id)
	ctx = logging.WithRequestID(ctx, gctx.RequestID)
	operation := "prompt:" + promptID
	defer g.manager.FinishOperation(gctx, operation)

	start := time.Now()
	pre := g.manager.PromptPreFetch(ctx, &plugin.PromptPreFetchPayload{PromptID: promptID, Args: args}, gctx)
	g.logDecision(ctx, gctx, plugin.HookPromptPreFetch, promptID, start, pre.Violation, pre.Continue)
	if !pre.Continue {
		return nil, pre.Metadata, &plugin.ViolationError{Violation: pre.Violation}
	}

	finalArgs := args
	if pre.ModifiedPayload != nil {
		finalArgs = pre.ModifiedPayload.Args
	}

	if g.prompts == nil {
		return nil, pre.Metadata, fmt.Errorf("no prompt fetcher registered")
	}
	result, err := g.prompts(ctx, promptID, finalArgs)
	if err != nil {
		return nil, pre.Metadata, fmt.Errorf("fetching prompt %s: %w", promptID, err)
	}

	start = time.Now()
	post := g.manager.PromptPostFetch(ctx, &plugin.PromptPostFetchPayload{PromptID: promptID, Result: result}, gctx)
	g.logDecision(ctx, gctx, plugin.HookPromptPostFetch, promptID, start, post.Violation, post.Continue)
	metadata := mergeMetadata(pre.Metadata, post.Metadata)
	if !post.Continue {
		return nil, metadata, &plugin.ViolationError{Violation: post.Violation}
	}
	if post.ModifiedPayload != nil {
		result = post.ModifiedPayload.Result
	}
	return result, metadata, nil
}

// FetchResource runs the resource pre-fetch chain, fetches the resource,
// and runs the post-fetch chain on the content.
func (g *Gateway) FetchResource(ctx context.Context, id Identity, uri string) (any, map[string]any, error) {
	gctx := g.globalContext(id)
	ctx = logging.WithRequestID(ctx, gctx.RequestID)
	operation := "resource:" + uri
	defer g.manager.FinishOperation(gctx, operation)

	start := time.Now()
	pre := g.manager.ResourcePreFetch(ctx, &plugin.ResourcePreFetchPayload{URI: uri}, gctx)
	g.logDecision(ctx, gctx, plugin.HookResourcePreFetch, uri, start, pre.Violation, pre.Continue)
	if !pre.Continue {
		return nil, pre.Metadata, &plugin.ViolationError{Violation: pre.Violation}
	}

	finalURI := uri
	if pre.ModifiedPayload != nil {
		finalURI = pre.ModifiedPayload.URI
	}

	if g.resources == nil {
		return nil, pre.Metadata, fmt.Errorf("no resource fetcher registered")
	}
	content, err := g.resources(ctx, finalURI)
	if err != nil {
		return nil, pre.Metadata, fmt.Errorf("fetching resource %s: %w", uri, err)
	}

	start = time.Now()
	post := g.manager.ResourcePostFetch(ctx, &plugin.ResourcePostFetchPayload{URI: finalURI, Content: content}, gctx)
	g.logDecision(ctx, gctx, plugin.HookResourcePostFetch, uri, start, post.Violation, post.Continue)
	metadata := mergeMetadata(pre.Metadata, post.Metadata)
	if !post.Continue {
		return nil, metadata, &plugin.ViolationError{Violation: post.Violation}
	}
	if post.ModifiedPayload != nil {
		content = post.ModifiedPayload.Content
	}
	return content, metadata, nil
}

// logDecision records one chain outcome; the audit trail is best-effort and
// never fails the request.
func (g *Gateway) logDecision(ctx context.Context, gctx plugin.GlobalContext, hook plugin.HookType, subject string, start time.Time, v *plugin.Violation, allowed bool) {
	entry := decisionlog.Entry{
		RequestID:  gctx.RequestID,
		Hook:       string(hook),
		Subject:    subject,
		Outcome:    "allow",
		DurationMS: time.Since(start).Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if !allowed {
		entry.Outcome = "block"
		if v != nil {
			entry.PluginName = v.PluginName()
			entry.ViolationCode = v.Code
		}
	}
	if err := g.decisions.Write(ctx, entry); err != nil {
		logging.FromContext(ctx).Warn("decision log write failed", "error", err)
	}
}

// mergeMetadata combines the pre- and post-chain metadata maps. Both are
// keyed by plugin name; a plugin present in both chains gets its two
// annotation maps folded together.
func mergeMetadata(pre, post map[string]any) map[string]any {
	merged := make(map[string]any, len(pre)+len(post))
	for name, md := range pre {
		merged[name] = md
	}
	for name, md := range post {
		existing, ok := merged[name]
		if !ok {
			merged[name] = md
			continue
		}
		preMap, okPre := existing.(map[string]any)
		postMap, okPost := md.(map[string]any)
		if !okPre || !okPost {
			merged[name] = md
			continue
		}
		folded := make(map[string]any, len(preMap)+len(postMap))
		for k, v := range preMap {
			folded[k] = v
		}
		for k, v := range postMap {
			folded[k] = v
		}
		merged[name] = folded
	}
	return merged
}

package plugin

import "sync"

// GlobalContext carries the immutable identity metadata of one inbound
// operation. It is created once by the routing layer and is read-only to
// plugins; User and TenantID are opaque strings supplied by the auth
// subsystem and may be empty.
type GlobalContext struct {
	RequestID string
	User      string
	TenantID  string
}

// Context is the request-scoped mutable state shared by the pre- and
// post-hook chains of a single operation. A pre-hook can leave data for its
// matching post-hook (e.g. a cache key) via SetState/GetState.
//
// One Context exists per logical operation; it is never shared across
// concurrent operations. The mutex only guards against a timed-out handler
// writing state after the manager has moved on.
type Context struct {
	global GlobalContext

	mu    sync.Mutex
	state map[string]any
}

// NewContext creates a Context for one operation.
func NewContext(global GlobalContext) *Context {
	return &Context{global: global, state: make(map[string]any)}
}

// Global returns the immutable per-request identity metadata.
func (c *Context) Global() GlobalContext { return c.global }

// SetState stores a value for a later hook of the same operation.
func (c *Context) SetState(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = value
}

// GetState returns a value stored earlier in this operation.
func (c *Context) GetState(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.state[key]
	return v, ok
}

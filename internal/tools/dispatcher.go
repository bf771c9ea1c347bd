package tools

import (
	"context"
	"fmt"
	"time"

	"coil/internal/logging"
	"coil/internal/types"
)

// DefaultTimeout bounds one tool execution.
const DefaultTimeout = 60 * time.Second

// cacheableTools is the read-only allowlist. Only these results can be
// served from the cache.
var cacheableTools = map[string]bool{
	"read_file": true,
	"list_dir":  true,
	"grep":      true,
	"glob":      true,
	"web_fetch": true,
}

// invalidatorTools have side effects that can change the result of any
// prior read, so dispatching one clears the whole cache first.
var invalidatorTools = map[string]bool{
	"write_file": true,
	"edit_file":  true,
	"shell":      true,
}

// Dispatcher executes tool-call requests through the registry, consulting
// the cache for read-only tools. Failures of any kind come back as
// responses with Err set; the driver never sees a Go error from dispatch.
type Dispatcher struct {
	registry *Registry
	cache    *Cache
	timeout  time.Duration
}

// NewDispatcher builds a dispatcher. A non-positive timeout selects
// DefaultTimeout; a nil cache gets a default one.
func NewDispatcher(registry *Registry, cache *Cache, timeout time.Duration) *Dispatcher {
	if cache == nil {
		cache = NewCache(DefaultCacheTTL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{registry: registry, cache: cache, timeout: timeout}
}

// Cache exposes the dispatch cache, for explicit invalidation by the
// caller.
func (d *Dispatcher) Cache() *Cache { return d.cache }

// Dispatch resolves and runs one tool call.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.ToolCallRequest) types.ToolCallResponse {
	tool := d.registry.Get(req.Name)
	if tool == nil {
		logging.ToolsWarn("dispatch of unknown tool %q", req.Name)
		return errorResponse(req, fmt.Sprintf("%v: %s", ErrToolNotFound, req.Name))
	}

	if invalidatorTools[req.Name] {
		d.cache.Clear()
	}

	if cacheableTools[req.Name] {
		if key, ok := CacheKey(req.Name, req.Arguments); ok {
			resp := d.cache.Do(key, func() types.ToolCallResponse {
				return d.execute(ctx, tool, req)
			})
			// A shared or cached result carries the call id of whoever
			// populated it.
			resp.CallID = req.CallID
			if len(resp.Fragments) == 1 && resp.Fragments[0].Kind == types.FragmentToolResult {
				resp.Fragments[0].CallID = req.CallID
			}
			return resp
		}
		logging.ToolsDebug("%s arguments not serializable, skipping cache", req.Name)
	}

	return d.execute(ctx, tool, req)
}

func (d *Dispatcher) execute(ctx context.Context, tool *Tool, req types.ToolCallRequest) types.ToolCallResponse {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	out, err := tool.Execute(ctx, req.Arguments)
	if err != nil {
		logging.ToolsWarn("%s failed after %v: %v", req.Name, time.Since(start), err)
		logging.Audit().ToolExec(req.Name, time.Since(start), false, err.Error())
		return errorResponse(req, err.Error())
	}

	logging.Tools("%s done in %v (%d bytes)", req.Name, time.Since(start), len(out))
	logging.Audit().ToolExec(req.Name, time.Since(start), true, "")
	return types.ToolCallResponse{
		CallID:    req.CallID,
		Name:      req.Name,
		Fragments: []types.Fragment{types.ToolResultFragment(req.CallID, req.Name, out, false)},
	}
}

func errorResponse(req types.ToolCallRequest, msg string) types.ToolCallResponse {
	return types.ToolCallResponse{
		CallID:    req.CallID,
		Name:      req.Name,
		Fragments: []types.Fragment{types.ToolResultFragment(req.CallID, req.Name, msg, true)},
		Err:       msg,
	}
}

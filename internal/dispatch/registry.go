// Package dispatch implements the action dispatch engine: a tool registry
// with a single uniform invocation path, and the per-batch pipeline that
// filters, limits, reorders, gates, and executes the actions proposed by
// the policy.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"helmsman/internal/logging"
)

// Registry errors.
var (
	// ErrUnknownTool is returned when invoking a name that was never registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrToolNameEmpty is returned when registering a tool without a name.
	ErrToolNameEmpty = errors.New("tool name cannot be empty")

	// ErrToolFuncNil is returned when registering a tool without a body.
	ErrToolFuncNil = errors.New("tool function cannot be nil")

	// ErrToolAlreadyRegistered is returned when registering a duplicate name.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrInvalidParams marks a tool failure caused by missing or mismatched
	// arguments. The dispatcher turns these into correction hints for the
	// next policy call.
	ErrInvalidParams = errors.New("invalid parameters")
)

// SyncFunc is a synchronous tool body.
type SyncFunc func(ctx context.Context, args map[string]any) (string, error)

// AsyncFunc starts a tool and returns a channel that delivers exactly one
// outcome when the tool finishes.
type AsyncFunc func(ctx context.Context, args map[string]any) (<-chan Outcome, error)

// Outcome is the completion value of an async tool.
type Outcome struct {
	Result string
	Err    error
}

type toolKind int

const (
	kindSync toolKind = iota
	kindAsync
)

// Tool is a registered callable. The sync/async distinction is resolved
// once at registration; invocation is uniform.
type Tool struct {
	Name        string
	Description string

	kind  toolKind
	sync  SyncFunc
	async AsyncFunc
}

// NewSyncTool wraps a synchronous function as a tool.
func NewSyncTool(name, description string, fn SyncFunc) *Tool {
	return &Tool{Name: name, Description: description, kind: kindSync, sync: fn}
}

// NewAsyncTool wraps an asynchronous function as a tool.
func NewAsyncTool(name, description string, fn AsyncFunc) *Tool {
	return &Tool{Name: name, Description: description, kind: kindAsync, async: fn}
}

func (t *Tool) validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.kind == kindSync && t.sync == nil {
		return ErrToolFuncNil
	}
	if t.kind == kindAsync && t.async == nil {
		return ErrToolFuncNil
	}
	return nil
}

// invoke runs the tool and blocks until it completes, regardless of kind.
func (t *Tool) invoke(ctx context.Context, args map[string]any) (string, error) {
	if t.kind == kindSync {
		return t.sync(ctx, args)
	}

	ch, err := t.async(ctx, args)
	if err != nil {
		return "", err
	}
	select {
	case out := <-ch:
		return out.Result, out.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Registry maps action names to tools. Thread-safe; tools may be
// registered at runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Duplicate names are rejected.
func (r *Registry) Register(t *Tool) error {
	if t == nil {
		return ErrToolFuncNil
	}
	if err := t.validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, t.Name)
	}
	r.tools[t.Name] = t
	logging.ToolsDebug("registered tool %s (async=%v)", t.Name, t.kind == kindAsync)
	return nil
}

// MustRegister registers a tool and panics on error. For static
// registration at startup.
func (r *Registry) MustRegister(t *Tool) {
	if err := r.Register(t); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", t.Name, err))
	}
}

// Has reports whether a name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke runs a registered tool by name and blocks until it completes.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	start := time.Now()
	result, err := t.invoke(ctx, args)
	elapsed := time.Since(start)
	if err != nil {
		logging.ToolsError("tool %s failed after %v: %v", name, elapsed, err)
		return result, err
	}
	logging.Tools("tool %s completed in %v (%d chars)", name, elapsed, len(result))
	return result, nil
}

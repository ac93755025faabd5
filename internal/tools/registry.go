// Package tools adapts the scheduling engine for a language-model
// tool-calling layer. The engine stays unaware of the calling convention;
// the registry maps stable tool names to handlers and the protocol
// adapter at the boundary does the rest.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Handler is a tool entry point: raw JSON arguments in, JSON-shapeable
// result or error out
type Handler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Registry maps stable tool names to handlers
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler under a stable tool name
func (r *Registry) Register(name string, handler Handler) {
	r.handlers[name] = handler
}

// Get retrieves a handler by tool name
func (r *Registry) Get(name string) (Handler, bool) {
	handler, exists := r.handlers[name]
	return handler, exists
}

// Names returns the registered tool names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	return len(r.handlers)
}

// Invoke runs the named tool with raw JSON arguments
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	handler, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("no tool registered for name: %s", name)
	}
	return handler(ctx, args)
}

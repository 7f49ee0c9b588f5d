package tool

import (
	"fmt"
	"sort"
	"sync"
)

// Definition is the externally visible identity of a tool.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type entry struct {
	tool     Tool
	settings map[string]any
	once     sync.Once
	err      error
}

// Registry is an explicit, caller-owned set of tools. It is safe for
// concurrent use and may be shared read-only across runs.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
	order []string
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: map[string]*entry{}}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Tool) error {
	return r.RegisterWithSettings(t, nil)
}

// RegisterWithSettings adds t together with the settings passed to
// Configure before its first use.
func (r *Registry) RegisterWithSettings(t Tool, settings map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
	}
	r.tools[t.Name()] = &entry{tool: t, settings: settings}
	r.order = append(r.order, t.Name())
	return nil
}

// Get looks up a tool by exact name without configuring it.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Resolve looks up a tool and runs its Configure step once. The boolean
// reports whether the name is registered; the error is the configure failure.
func (r *Registry) Resolve(name string) (Tool, bool, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	e.once.Do(func() {
		if c, ok := e.tool.(Configurable); ok {
			if err := c.Configure(e.settings); err != nil {
				e.err = fmt.Errorf("configure %s: %w", name, err)
			}
		}
	})
	return e.tool, true, e.err
}

// List returns the tools in registration order.
func (r *Registry) List() []Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].tool)
	}
	return out
}

// Names returns the registered names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Definitions describes every tool in registration order.
func (r *Registry) Definitions() []Definition {
	if r == nil {
		return nil
	}
	tools := r.List()
	out := make([]Definition, 0, len(tools))
	for _, t := range tools {
		out = append(out, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema().Describe(),
		})
	}
	return out
}

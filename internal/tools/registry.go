package tools

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry maps tool names to handlers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("register tool: empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("register %s: nil handler", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("register %s: already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered names, sorted.
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

// Validate checks that every declared tool has a handler and every handler
// is declared. Background tools must be declared non-blocking and the
// reverse.
func (r *Registry) Validate(c *Catalog) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, d := range c.Declarations() {
		t, ok := r.tools[d.Name]
		if !ok {
			errs = append(errs, fmt.Errorf("tool %s: declared but not registered", d.Name))
			continue
		}
		if d.NonBlocking() != (t.Shape == Background) {
			errs = append(errs, fmt.Errorf("tool %s: behavior %q does not match shape %s", d.Name, d.Behavior, t.Shape))
		}
	}
	for name := range r.tools {
		if _, ok := c.Lookup(name); !ok {
			errs = append(errs, fmt.Errorf("tool %s: registered but not declared", name))
		}
	}
	return errors.Join(errs...)
}

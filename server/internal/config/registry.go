package config

import (
	"fmt"
	"sync"
)

// Registry binds external option names to key paths on a Store, registers
// their defaults and wires each path to the handler for its effect.
type Registry struct {
	store *Store

	mu     sync.RWMutex
	byName map[string]Option
	order  []Option
}

// NewRegistry returns a Registry writing to st.
func NewRegistry(st *Store) *Registry {
	return &Registry{
		store:  st,
		byName: make(map[string]Option),
	}
}

// Register records opts and registers their defaults on the store.
// Registering a name twice with a different path is an error; the same
// name and path again is a no-op.
func (r *Registry) Register(opts ...Option) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, opt := range opts {
		if opt.Name == "" || opt.Path == "" {
			return fmt.Errorf("config: option %q: name and path are required", opt.Name)
		}
		if prev, ok := r.byName[opt.Name]; ok {
			if prev.Path != opt.Path {
				return fmt.Errorf("config: option %q already bound to %s", opt.Name, prev.Path)
			}
			continue
		}
		r.byName[opt.Name] = opt
		r.order = append(r.order, opt)
		r.store.RegisterDefault(opt.Path, opt.Default)
	}
	return nil
}

// Bind subscribes h to the path of every registered option with the given
// effect, in registration order. It returns the number of paths bound.
func (r *Registry) Bind(effect Effect, h Handler) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, opt := range r.order {
		if opt.Effect != effect {
			continue
		}
		r.store.On(opt.Path, h)
		n++
	}
	return n
}

// Lookup returns the option registered under name.
func (r *Registry) Lookup(name string) (Option, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	opt, ok := r.byName[name]
	return opt, ok
}

// Options returns the registered options in registration order.
func (r *Registry) Options() []Option {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Option(nil), r.order...)
}

// Apply writes value to the path bound to the option called name.
func (r *Registry) Apply(name string, value any) error {
	opt, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("config: unknown option %q", name)
	}
	r.store.Set(opt.Path, value)
	return nil
}

package backend

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ResolutionError is returned when a backend module name is not registered.
type ResolutionError struct {
	Name  string
	Known []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("backend: cannot resolve backend module %q (available: %s)",
		e.Name, strings.Join(e.Known, ", "))
}

// Registry maps alternate backend module names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Builtin returns a Registry holding every engine compiled into sofa.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register("memdown", OpenMemory)
	r.Register("boltdown", OpenBolt)
	r.Register("sqldown", OpenSQLite)
	r.Register("redisdown", OpenRedis)
	return r
}

// Register binds name to f, replacing any previous binding.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Resolve returns the factory for name or a *ResolutionError.
func (r *Registry) Resolve(name string) (Factory, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ResolutionError{Name: name, Known: r.Names()}
	}
	return f, nil
}

// Names returns the registered module names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

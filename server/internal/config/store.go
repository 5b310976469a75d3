package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cast"
)

// Path is a dot-joined configuration key path such as "httpd.port".
type Path string

// Join builds a Path from its segments.
func Join(segments ...string) Path {
	return Path(strings.Join(segments, "."))
}

// Segments splits p into its ordered segments.
func (p Path) Segments() []string {
	return strings.Split(string(p), ".")
}

// Section returns the first segment of p ("httpd" for "httpd.port").
func (p Path) Section() string {
	section, _, _ := strings.Cut(string(p), ".")
	return section
}

// Key returns everything after the first segment ("port" for "httpd.port").
func (p Path) Key() string {
	_, key, _ := strings.Cut(string(p), ".")
	return key
}

type unset struct{}

func (unset) String() string { return "<unset>" }

// Unset is returned by Get for a path that has neither a value nor a default.
var Unset any = unset{}

// IsUnset reports whether v is the Unset sentinel.
func IsUnset(v any) bool {
	_, ok := v.(unset)
	return ok
}

// Handler is invoked with the new value whenever its bound path is written.
// Handlers must not call Set; dispatch is serialized and Set would deadlock.
type Handler func(value any)

type option struct {
	def      any
	hasDef   bool
	cur      any
	hasCur   bool
	handlers []Handler
}

// Store is an in-process key-path table with defaults and per-path change
// notification. It is constructed once and passed to every component that
// needs configuration.
//
// Handlers for a single Set run synchronously, in subscription order, and
// never concurrently with handlers of another Set.
type Store struct {
	mu   sync.RWMutex
	opts map[Path]*option

	// dispatchMu serializes Set calls end to end, so the order in which
	// values are stored is the order in which handlers observe them.
	dispatchMu sync.Mutex
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{opts: make(map[Path]*option)}
}

// entry returns the option for p, creating it. Callers must hold s.mu.
func (s *Store) entry(p Path) *option {
	o, ok := s.opts[p]
	if !ok {
		o = &option{}
		s.opts[p] = o
	}
	return o
}

// RegisterDefault sets the default for p unless one is already registered.
// An explicit value set earlier is left untouched.
func (s *Store) RegisterDefault(p Path, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.entry(p)
	if o.hasDef {
		return
	}
	o.def = value
	o.hasDef = true
}

// Get resolves p to its current value, else its default, else Unset.
func (s *Store) Get(p Path) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.opts[p]
	if !ok {
		return Unset
	}
	return o.value()
}

// value resolves the current value, then the default. Callers hold mu.
func (o *option) value() any {
	switch {
	case o.hasCur:
		return o.cur
	case o.hasDef:
		return o.def
	}
	return Unset
}

// Set stores value as the current value of p, then calls every handler
// subscribed to exactly p in the order they were subscribed.
func (s *Store) Set(p Path, value any) {
	s.Swap(p, value)
}

// Swap is Set returning the value p resolved to just before the write.
// Concurrent swaps of p each see the value the previous one wrote.
func (s *Store) Swap(p Path, value any) (old any) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	o := s.entry(p)
	old = o.value()
	o.cur = value
	o.hasCur = true
	handlers := append([]Handler(nil), o.handlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(value)
	}
	return old
}

// On subscribes h to changes of exactly p. Prefixes and wildcards are not
// matched.
func (s *Store) On(p Path, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.entry(p)
	o.handlers = append(o.handlers, h)
}

// Paths returns every known path in lexical order.
func (s *Store) Paths() []Path {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Path, 0, len(s.opts))
	for p := range s.opts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String returns the value at p rendered as a string. Unset and nil values
// yield "".
func (s *Store) String(p Path) string {
	v := s.Get(p)
	if IsUnset(v) || v == nil {
		return ""
	}
	return cast.ToString(v)
}

// Bool returns the value at p as a boolean. Values that do not parse as a
// boolean are false.
func (s *Store) Bool(p Path) bool {
	v := s.Get(p)
	if IsUnset(v) || v == nil {
		return false
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false
	}
	return b
}

package dbswitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sofadb/sofa/server/internal/backend"
	"github.com/sofadb/sofa/server/internal/serial"
)

// ErrNoBackend is returned by Acquire before the first successful swap.
var ErrNoBackend = errors.New("dbswitch: no active backend")

// DirectoryCreateError reports a storage directory that could not be
// created. The pending swap is abandoned.
type DirectoryCreateError struct {
	Dir string
	Err error
}

func (e *DirectoryCreateError) Error() string {
	return fmt.Sprintf("dbswitch: create storage directory %s: %v", e.Dir, e.Err)
}

func (e *DirectoryCreateError) Unwrap() error { return e.Err }

// handle is an open backend shared by every instance built on it. The
// backend closes when the last instance owning it has closed.
type handle struct {
	backend backend.Backend

	mu     sync.Mutex
	owners int
}

func (h *handle) own() {
	h.mu.Lock()
	h.owners++
	h.mu.Unlock()
}

func (h *handle) disown(spec Spec) {
	h.mu.Lock()
	h.owners--
	last := h.owners == 0
	h.mu.Unlock()
	if !last {
		slog.Debug("dbswitch: retired backend still shared", "spec", spec.String())
		return
	}
	if err := h.backend.Close(); err != nil {
		slog.Warn("dbswitch: close retired backend", "spec", spec.String(), "err", err)
		return
	}
	slog.Debug("dbswitch: retired backend closed", "spec", spec.String())
}

// instance is one activated spec plus the requests currently using it.
type instance struct {
	spec Spec
	h    *handle

	mu      sync.Mutex
	refs    int
	retired bool
}

func newInstance(spec Spec, h *handle) *instance {
	h.own()
	return &instance{spec: spec, h: h}
}

// acquire registers a user. It fails once the instance has been retired.
func (in *instance) acquire() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.retired {
		return false
	}
	in.refs++
	return true
}

func (in *instance) release() {
	in.mu.Lock()
	in.refs--
	last := in.retired && in.refs == 0
	in.mu.Unlock()
	if last {
		in.h.disown(in.spec)
	}
}

// retire stops new users; the instance lets go of its backend once the
// last one releases.
func (in *instance) retire() {
	in.mu.Lock()
	in.retired = true
	idle := in.refs == 0
	in.mu.Unlock()
	if idle {
		in.h.disown(in.spec)
	}
}

// Switcher owns the active backend instance. Swaps replace it with a single
// atomic store; requests that acquired the previous instance keep using it
// until they release it.
type Switcher struct {
	registry *backend.Registry
	queue    serial.Queue
	current  atomic.Pointer[instance]

	// injectable for tests
	mkdirAll  func(string, os.FileMode) error
	factories map[Mode]backend.Factory

	obsMu     sync.RWMutex
	observers []func(Spec, error)
}

// New returns a Switcher resolving alternate modules through reg.
func New(reg *backend.Registry) *Switcher {
	return &Switcher{
		registry: reg,
		mkdirAll: os.MkdirAll,
		factories: map[Mode]backend.Factory{
			ModeProxy:    backend.OpenProxy,
			ModeInMemory: backend.OpenMemory,
			ModeSQLite:   backend.OpenSQLite,
			ModeDefault:  backend.OpenBolt,
		},
	}
}

// OnSwap registers fn to be called after every swap attempt with the spec
// and the resulting error (nil on success).
func (s *Switcher) OnSwap(fn func(Spec, error)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Switcher) notify(spec Spec, err error) {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, fn := range s.observers {
		fn(spec, err)
	}
}

// Schedule queues a swap to spec behind any swap still in progress and
// returns immediately. The channel receives the swap's result.
func (s *Switcher) Schedule(ctx context.Context, spec Spec) <-chan error {
	result := make(chan error, 1)
	s.queue.Go(func() {
		result <- s.activate(ctx, spec)
	})
	return result
}

// Activate swaps to spec and waits for the result.
func (s *Switcher) Activate(ctx context.Context, spec Spec) error {
	select {
	case err := <-s.Schedule(ctx, spec):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Switcher) activate(ctx context.Context, spec Spec) error {
	if cur := s.current.Load(); cur != nil && cur.spec == spec {
		slog.Debug("dbswitch: backend unchanged", "spec", spec.String())
		return nil
	}

	err := s.swap(ctx, spec)
	if err != nil {
		prev := "none"
		if cur := s.current.Load(); cur != nil {
			prev = cur.spec.String()
		}
		slog.Error("dbswitch: backend swap failed, keeping previous backend",
			"mode", spec.Mode, "previous", prev, "err", err)
	}
	s.notify(spec, err)
	return err
}

func (s *Switcher) swap(ctx context.Context, spec Spec) error {
	factory, err := s.factory(spec)
	if err != nil {
		return err
	}

	if spec.FileBased() {
		if err := s.mkdirAll(spec.Dir, 0o755); err != nil {
			return &DirectoryCreateError{Dir: spec.Dir, Err: err}
		}
	}

	cur := s.current.Load()
	var h *handle
	if lock := spec.lockFile(); cur != nil && lock != "" && lock == cur.spec.lockFile() {
		// Opening the file again would wait on the lock the current
		// instance holds.
		slog.Debug("dbswitch: reusing open engine", "file", lock)
		h = cur.h
	} else {
		b, err := factory(ctx, backend.Options{
			Prefix:   spec.Prefix,
			Target:   spec.Target,
			RedisURL: spec.RedisURL,
		})
		if err != nil {
			return fmt.Errorf("dbswitch: open %s: %w", spec.Mode, err)
		}
		h = &handle{backend: b}
	}

	next := newInstance(spec, h)
	if old := s.current.Swap(next); old != nil {
		old.retire()
	}
	slog.Info("dbswitch: backend active", "mode", spec.Mode, "backend", spec.String())
	return nil
}

func (s *Switcher) factory(spec Spec) (backend.Factory, error) {
	if spec.Mode == ModeAlternate {
		return s.registry.Resolve(spec.Module)
	}
	f, ok := s.factories[spec.Mode]
	if !ok {
		return nil, fmt.Errorf("dbswitch: unknown mode %q", spec.Mode)
	}
	return f, nil
}

// Acquire returns the active backend and a release func that must be called
// once the caller is done with it. The backend stays open until released
// even if a swap happens in between.
func (s *Switcher) Acquire() (backend.Backend, func(), error) {
	for {
		in := s.current.Load()
		if in == nil {
			return nil, nil, ErrNoBackend
		}
		if in.acquire() {
			return in.h.backend, in.release, nil
		}
		// Retired between Load and acquire; the replacement is already
		// stored, so the next Load sees it.
	}
}

// Current returns the spec of the active instance.
func (s *Switcher) Current() (Spec, bool) {
	in := s.current.Load()
	if in == nil {
		return Spec{}, false
	}
	return in.spec, true
}

// Idle returns a channel closed once every swap scheduled so far finished.
func (s *Switcher) Idle() <-chan struct{} {
	return s.queue.Idle()
}

// Close retires the active instance.
func (s *Switcher) Close() {
	<-s.queue.Idle()
	if old := s.current.Swap(nil); old != nil {
		old.retire()
	}
}

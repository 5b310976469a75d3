package reconfig

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/sofadb/sofa/pkg/types"
	"github.com/sofadb/sofa/server/internal/config"
	"github.com/sofadb/sofa/server/internal/dbswitch"
	"github.com/sofadb/sofa/server/internal/listener"
	"github.com/sofadb/sofa/server/internal/logging"
	"github.com/sofadb/sofa/server/internal/logtail"
)

// Components are the collaborators an Engine drives.
type Components struct {
	Store    *config.Store
	Registry *config.Registry
	Listener *listener.Listener
	Switcher *dbswitch.Switcher
	Tail     *logtail.Supervisor
	// Log is retargeted and re-leveled on log.file and log.level writes.
	// Optional.
	Log *logging.File
}

// Engine reacts to option writes by rebinding the listener, swapping the
// backend or restarting the log tail. Handlers only queue work on the
// owning component and return.
type Engine struct {
	Components

	ctx  context.Context
	uuid string

	mu      sync.Mutex
	swapErr error
}

// New returns an Engine. ctx bounds backend construction.
func New(ctx context.Context, c Components) *Engine {
	e := &Engine{
		Components: c,
		ctx:        ctx,
		uuid:       uuid.NewString(),
	}
	c.Switcher.OnSwap(func(_ dbswitch.Spec, err error) {
		e.mu.Lock()
		e.swapErr = err
		e.mu.Unlock()
	})
	return e
}

// UUID identifies this server process.
func (e *Engine) UUID() string { return e.uuid }

// Bind subscribes the effect handlers. Options written before Bind take
// effect through Start.
func (e *Engine) Bind() {
	// The logger must point at the new file before the tail reopens it.
	if e.Log != nil {
		e.Store.On(config.PathLogFile, func(any) {
			e.Log.SetFile(e.logFile())
		})
	}

	n := e.Registry.Bind(config.EffectRebind, func(any) {
		host, port := e.Address()
		e.Listener.Rebind(host, port)
	})
	n += e.Registry.Bind(config.EffectSwapBackend, func(any) {
		e.Switcher.Schedule(e.ctx, dbswitch.Derive(e.Store))
	})
	n += e.Registry.Bind(config.EffectRestartTail, func(any) {
		e.Tail.Restart()
	})
	if e.Log != nil {
		n += e.Registry.Bind(config.EffectLogLevel, func(v any) {
			e.Log.SetLevel(cast.ToString(v))
		})
	}
	slog.Debug("reconfig: handlers bound", "paths", n)
}

// Start brings every component up from the current option values: tail,
// then backend, then listener. A backend failure is returned before
// anything is bound. A bind failure has already been reported by the
// listener and is returned as a *listener.BindError.
func (e *Engine) Start() error {
	if err := <-e.Tail.Restart(); err != nil {
		slog.Warn("reconfig: log tail unavailable", "err", err)
	}

	if err := e.Switcher.Activate(e.ctx, dbswitch.Derive(e.Store)); err != nil {
		return err
	}

	host, port := e.Address()
	if err := <-e.Listener.Listen(host, port); err != nil {
		return err
	}
	for _, line := range Summary(e.Store, e.Listener.URL()) {
		slog.Info(line)
	}
	return nil
}

// Address returns the configured bind address. A non-numeric port is
// replaced by the default port with a warning.
func (e *Engine) Address() (string, int) {
	host := e.Store.String(config.PathHost)
	if host == "" {
		host = config.DefaultHost
	}
	port, err := ParsePort(e.Store.Get(config.PathPort))
	if err != nil {
		slog.Warn("reconfig: port is not numeric, using default",
			"value", e.Store.Get(config.PathPort), "default", config.DefaultPort, "err", err)
	}
	return host, port
}

func (e *Engine) logFile() string {
	if p := e.Store.String(config.PathLogFile); p != "" {
		return p
	}
	return config.DefaultLogFile
}

// Idle returns a channel closed once the listener, backend and tail have
// finished everything queued so far.
func (e *Engine) Idle() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-e.Tail.Ready()
		<-e.Switcher.Idle()
		<-e.Listener.Idle()
	}()
	return done
}

// Status returns a snapshot of the reconfigurable components.
func (e *Engine) Status() types.Status {
	host, port := e.Listener.Addr()
	st := types.Status{
		UUID: e.uuid,
		Listener: types.ListenerStatus{
			State: e.Listener.State().String(),
			Host:  host,
			Port:  port,
			URL:   e.Listener.URL(),
		},
		GeneratedAt: time.Now().UTC(),
	}

	if spec, ok := e.Switcher.Current(); ok {
		st.Backend = types.BackendStatus{Active: true, Mode: string(spec.Mode), Detail: spec.String()}
	}
	e.mu.Lock()
	if e.swapErr != nil {
		st.Backend.LastError = e.swapErr.Error()
	}
	e.mu.Unlock()

	ts := e.Tail.Status()
	st.Tail = types.TailStatus{Active: ts.Active, File: ts.File}
	return st
}

// Close stops the listener and the tail and retires the backend. The
// process normally exits without calling it.
func (e *Engine) Close() {
	<-e.Listener.Kill(nil)
	<-e.Tail.Stop()
	e.Switcher.Close()
}

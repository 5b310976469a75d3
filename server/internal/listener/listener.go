package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sofadb/sofa/server/internal/serial"
)

// AdminPath is the admin UI path appended to the listening URL.
const AdminPath = "_utils/"

const defaultDrainTimeout = 10 * time.Second

// Reporter writes diagnostics straight to the operator, bypassing the log
// file. *logtail.Console satisfies it.
type Reporter interface {
	Errorf(format string, args ...any)
}

// Config wires the listener to its collaborators.
type Config struct {
	Handler http.Handler

	// Ready is awaited before every bind so early startup lines reach the
	// log tail. Optional.
	Ready func() <-chan struct{}
	// StopTail is called, and awaited, before a bind failure is reported.
	// Optional.
	StopTail func() <-chan struct{}
	// StartTail brings the tail back before the next bind once a failure
	// has stopped it. Optional.
	StartTail func() <-chan error
	// Stderr receives bind failure diagnostics. Optional.
	Stderr Reporter

	Policy Policy
	// Exit terminates the process under PolicyExit. Defaults to os.Exit.
	Exit func(code int)
	// DrainTimeout bounds how long a stop waits for open connections.
	// Read at every stop. Defaults to 10s.
	DrainTimeout func() time.Duration
}

// Listener owns the single network socket of the server. Listen, Kill and
// Rebind return immediately; the work is queued and run one cycle at a
// time, so a rebind never overlaps another.
type Listener struct {
	cfg   Config
	queue serial.Queue

	mu     sync.Mutex
	state  State
	host   string
	port   int
	srv    *http.Server
	served chan struct{}

	// set by bindFailed, cleared by the next bind; queue only
	tailStopped bool

	obsMu       sync.RWMutex
	transitions []func(from, to State)
	listening   []func(url string)
	bindErrors  []func(*BindError)
}

// New returns a stopped Listener.
func New(cfg Config) *Listener {
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	if cfg.DrainTimeout == nil {
		cfg.DrainTimeout = func() time.Duration { return defaultDrainTimeout }
	}
	return &Listener{cfg: cfg}
}

// OnTransition registers fn to be called on every state change.
func (l *Listener) OnTransition(fn func(from, to State)) {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	l.transitions = append(l.transitions, fn)
}

// OnListening registers fn to be called with the URL after every
// successful bind.
func (l *Listener) OnListening(fn func(url string)) {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	l.listening = append(l.listening, fn)
}

// OnBindError registers fn to be called with every bind failure, before
// it is reported.
func (l *Listener) OnBindError(fn func(*BindError)) {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	l.bindErrors = append(l.bindErrors, fn)
}

// State returns the current state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Addr returns the host and port last bound or being bound.
func (l *Listener) Addr() (string, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.host, l.port
}

// URL returns the listening URL, or "" unless Listening.
func (l *Listener) URL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Listening {
		return ""
	}
	return FormatURL(l.host, l.port)
}

// FormatURL renders http://host:port/.
func FormatURL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/"
}

// Listen queues a bind to host:port. The channel receives nil once
// Listening, or the *BindError.
func (l *Listener) Listen(host string, port int) <-chan error {
	result := make(chan error, 1)
	l.queue.Go(func() {
		result <- l.listen(host, port)
	})
	return result
}

// Kill queues a graceful stop. Once the listener is Stopped, onStopped (if
// non-nil) runs before any other queued cycle starts.
func (l *Listener) Kill(onStopped func()) <-chan struct{} {
	return l.queue.Go(func() {
		l.kill()
		if onStopped != nil {
			onStopped()
		}
	})
}

// Rebind queues a full stop-then-start cycle to host:port.
func (l *Listener) Rebind(host string, port int) <-chan error {
	result := make(chan error, 1)
	l.queue.Go(func() {
		l.kill()
		result <- l.listen(host, port)
	})
	return result
}

// Idle returns a channel closed once every queued cycle has completed.
func (l *Listener) Idle() <-chan struct{} {
	return l.queue.Idle()
}

func (l *Listener) setState(to State) {
	l.mu.Lock()
	from := l.state
	l.state = to
	l.mu.Unlock()

	slog.Debug("listener: state", "from", from.String(), "to", to.String())
	l.obsMu.RLock()
	defer l.obsMu.RUnlock()
	for _, fn := range l.transitions {
		fn(from, to)
	}
}

// listen binds host:port. Runs on the queue.
func (l *Listener) listen(host string, port int) error {
	if st := l.State(); st != Stopped {
		return fmt.Errorf("listener: listen while %s", st)
	}

	l.mu.Lock()
	l.host, l.port = host, port
	l.mu.Unlock()
	l.setState(Starting)

	if l.tailStopped && l.cfg.StartTail != nil {
		l.tailStopped = false
		if err := <-l.cfg.StartTail(); err != nil {
			slog.Warn("listener: log tail not restarted", "err", err)
		}
	}
	if l.cfg.Ready != nil {
		<-l.cfg.Ready()
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		l.setState(Stopped)
		return l.bindFailed(&BindError{Host: host, Port: port, Err: err})
	}

	// Port 0 binds an ephemeral port; record the real one.
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}

	srv := &http.Server{
		Handler:           l.cfg.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listener: serve stopped", "err", err)
		}
	}()

	l.mu.Lock()
	l.port = port
	l.srv = srv
	l.served = served
	l.mu.Unlock()
	l.setState(Listening)

	url := FormatURL(host, port)
	slog.Info("listener: listening", "url", url, "admin", url+AdminPath)

	l.obsMu.RLock()
	defer l.obsMu.RUnlock()
	for _, fn := range l.listening {
		fn(url)
	}
	return nil
}

// bindFailed stops the log tail, then reports err.
func (l *Listener) bindFailed(err *BindError) error {
	if l.cfg.StopTail != nil {
		<-l.cfg.StopTail()
		l.tailStopped = true
	}

	l.obsMu.RLock()
	for _, fn := range l.bindErrors {
		fn(err)
	}
	l.obsMu.RUnlock()

	if err.AddrInUse() {
		slog.Warn("listener: address already in use",
			"host", err.Host, "port", err.Port, "suggested_port", err.Port+1)
		l.report("Error: port %d is already in use on %s. Try another one, e.g. --port %d",
			err.Port, err.Host, err.Port+1)
		return err
	}

	slog.Error("listener: bind failed", "host", err.Host, "port", err.Port, "err", err.Err)
	l.report("Fatal: cannot listen on %s:%d: %v", err.Host, err.Port, err.Err)
	if l.cfg.Policy == PolicyExit {
		l.cfg.Exit(1)
	}
	return err
}

func (l *Listener) report(format string, args ...any) {
	if l.cfg.Stderr != nil {
		l.cfg.Stderr.Errorf(format, args...)
	}
}

// kill drains and stops the server if it is listening. Runs on the queue.
func (l *Listener) kill() {
	l.mu.Lock()
	if l.state != Listening {
		l.mu.Unlock()
		return
	}
	srv, served := l.srv, l.served
	l.mu.Unlock()

	l.setState(Draining)

	timeout := l.cfg.DrainTimeout()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("listener: drain timed out, closing remaining connections",
			"timeout", timeout, "err", err)
		srv.Close() //nolint:errcheck
	}
	<-served

	l.mu.Lock()
	l.srv, l.served = nil, nil
	l.mu.Unlock()
	l.setState(Stopped)
	slog.Info("listener: stopped")
}

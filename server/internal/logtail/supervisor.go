package logtail

import (
	"log/slog"
	"sync"

	"github.com/sofadb/sofa/server/internal/config"
	"github.com/sofadb/sofa/server/internal/serial"
)

// Getter reads option values. *config.Store satisfies it.
type Getter interface {
	String(config.Path) string
	Bool(config.Path) bool
}

// Status describes the current subscription.
type Status struct {
	// Active is true while a tail mirrors the file to the console.
	Active bool   `json:"active"`
	File   string `json:"file,omitempty"`
}

// Supervisor owns the single log tail subscription. Restarts are queued and
// run one at a time; each fully releases the previous tail before opening
// the next one.
type Supervisor struct {
	cfg     Getter
	console *Console
	queue   serial.Queue

	mu     sync.Mutex
	active *tail

	obsMu     sync.RWMutex
	observers []func(Status, error)
}

// New returns a Supervisor mirroring the configured log file to console.
// Nothing is tailed until the first Restart.
func New(cfg Getter, console *Console) *Supervisor {
	return &Supervisor{cfg: cfg, console: console}
}

// OnRestart registers fn to be called after every restart with the
// resulting status and error.
func (s *Supervisor) OnRestart(fn func(Status, error)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

// Restart queues a restart and returns immediately. The channel receives
// the result once the new subscription (or the no-op when mirroring is
// disabled) is in place.
func (s *Supervisor) Restart() <-chan error {
	result := make(chan error, 1)
	s.queue.Go(func() {
		result <- s.restart()
	})
	return result
}

func (s *Supervisor) restart() error {
	s.release()

	var (
		st  Status
		err error
	)
	if s.cfg.Bool(config.PathNoStdoutLogs) {
		slog.Debug("logtail: stdout mirroring disabled")
	} else {
		path := s.cfg.String(config.PathLogFile)
		if path == "" {
			path = config.DefaultLogFile
		}
		var t *tail
		t, err = startTail(path, s.console.Line)
		if err != nil {
			slog.Error("logtail: start failed", "file", path, "err", err)
		} else {
			s.mu.Lock()
			s.active = t
			s.mu.Unlock()
			st = Status{Active: true, File: t.path}
		}
	}

	s.obsMu.RLock()
	for _, fn := range s.observers {
		fn(st, err)
	}
	s.obsMu.RUnlock()
	return err
}

// release stops the active tail, if any, and waits for it to finish.
func (s *Supervisor) release() {
	s.mu.Lock()
	t := s.active
	s.active = nil
	s.mu.Unlock()
	if t != nil {
		t.stop()
	}
}

// Stop queues the release of the active tail. The channel is closed once
// the tail has stopped.
func (s *Supervisor) Stop() <-chan struct{} {
	return s.queue.Go(s.release)
}

// Ready returns a channel closed once every restart queued so far has
// completed.
func (s *Supervisor) Ready() <-chan struct{} {
	return s.queue.Idle()
}

// Status reports the current subscription.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Status{}
	}
	return Status{Active: true, File: s.active.path}
}

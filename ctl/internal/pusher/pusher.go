package pusher

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sofadb/sofa/pkg/configfile"
)

const (
	backoffInitial    = 500 * time.Millisecond
	backoffMax        = 30 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
	DefaultBufferSize = 256
)

// Setter writes one option. *client.Client satisfies it.
type Setter interface {
	ConfigSet(ctx context.Context, section, key string, value any) (string, error)
}

// permanent is implemented by errors that retrying cannot fix.
type permanent interface {
	Permanent() bool
}

// Pusher buffers entries and sends them to the server.
type Pusher struct {
	set  Setter
	buf  chan configfile.Entry
	wait func(ctx context.Context, d time.Duration) bool // injectable for tests
	sent func(configfile.Entry, string)

	// pending counts entries pushed and not yet delivered or dropped.
	pending sync.WaitGroup
}

// New returns a Pusher holding up to size pending entries.
func New(s Setter, size int) *Pusher {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Pusher{
		set:  s,
		buf:  make(chan configfile.Entry, size),
		wait: sleep,
	}
}

// OnSent registers fn to be called with every delivered entry and the
// value it replaced. Call before Run.
func (p *Pusher) OnSent(fn func(e configfile.Entry, old string)) {
	p.sent = fn
}

// Push enqueues entries. When the buffer is full the oldest pending entry
// is evicted.
func (p *Pusher) Push(entries ...configfile.Entry) {
	for _, e := range entries {
		p.pending.Add(1)
		select {
		case p.buf <- e:
			continue
		default:
		}
		select {
		case old := <-p.buf:
			p.pending.Done()
			slog.Warn("pusher: buffer full, evicted oldest entry",
				"path", old.Path(), "buffer_cap", cap(p.buf))
		default:
		}
		p.buf <- e
	}
}

// Flush blocks until every pushed entry has been delivered or dropped, or
// ctx is done. Run must be running.
func (p *Pusher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of buffered entries.
func (p *Pusher) Pending() int { return len(p.buf) }

// Run sends buffered entries until ctx is cancelled. An entry that fails
// transiently is retried, with backoff, before any later entry is sent.
func (p *Pusher) Run(ctx context.Context) {
	bo := newBackoff()
	for {
		var e configfile.Entry
		select {
		case <-ctx.Done():
			return
		case e = <-p.buf:
		}

		if !p.deliver(ctx, e, bo) {
			return
		}
		p.pending.Done()
	}
}

// deliver sends e until it is accepted or rejected outright. It returns
// false if ctx ended first.
func (p *Pusher) deliver(ctx context.Context, e configfile.Entry, bo *backoff) bool {
	for {
		err := p.send(ctx, e)
		if err == nil {
			bo.reset()
			return true
		}
		var perm permanent
		if errors.As(err, &perm) && perm.Permanent() {
			slog.Error("pusher: server rejected entry, discarding", "path", e.Path(), "err", err)
			return true
		}
		d := bo.next()
		slog.Warn("pusher: send failed, will retry", "path", e.Path(), "err", err, "retry_in", d)
		if !p.wait(ctx, d) {
			return false
		}
	}
}

func (p *Pusher) send(ctx context.Context, e configfile.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	var value any
	if !e.Removed {
		value = e.Value
	}
	old, err := p.set.ConfigSet(ctx, e.Section, e.Key, value)
	if err != nil {
		return err
	}
	slog.Debug("pusher: entry delivered", "path", e.Path(), "old", old)
	if p.sent != nil {
		p.sent(e, old)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current duration ±25% and advances.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}

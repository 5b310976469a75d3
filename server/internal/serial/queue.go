package serial

import "sync"

// Queue runs functions one at a time in the order they were scheduled.
// Each scheduled function starts only after its predecessor has returned,
// so callers never block while earlier work is still draining.
// The zero value is ready to use.
type Queue struct {
	mu   sync.Mutex
	tail chan struct{}
}

// Go schedules fn to run after every previously scheduled function has
// returned. The returned channel is closed once fn itself has returned.
func (q *Queue) Go(fn func()) <-chan struct{} {
	done := make(chan struct{})

	q.mu.Lock()
	prev := q.tail
	q.tail = done
	q.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		fn()
	}()
	return done
}

// Idle returns a channel that is closed once every function scheduled so far
// has returned. Functions scheduled later are not waited for.
func (q *Queue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tail == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return q.tail
}

package listener

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- helpers ----------------------------------------------------------------

type recorder struct {
	mu      sync.Mutex
	steps   []string
	open    int
	maxOpen int
}

func (r *recorder) transition(from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, from.String()+">"+to.String())
	switch to {
	case Listening:
		r.open++
		if r.open > r.maxOpen {
			r.maxOpen = r.open
		}
	case Stopped:
		if from == Draining {
			r.open--
		}
	}
}

func (r *recorder) log(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...)
}

type fakeStderr struct {
	mu    sync.Mutex
	lines []string
	rec   *recorder
}

func (f *fakeStderr) Errorf(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, fmt.Sprintf(format, args...))
	if f.rec != nil {
		f.rec.log("report")
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("listener cycle did not complete")
	}
	return nil
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

// --- tests ------------------------------------------------------------------

func TestListen_ServesAndReportsURL(t *testing.T) {
	l := New(Config{Handler: okHandler()})
	rec := &recorder{}
	l.OnTransition(rec.transition)

	var urls []string
	l.OnListening(func(u string) { urls = append(urls, u) })

	if err := wait(t, l.Listen("127.0.0.1", 0)); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer func() { <-l.Kill(nil) }()

	if l.State() != Listening {
		t.Fatalf("state: %s", l.State())
	}
	host, port := l.Addr()
	want := "http://127.0.0.1:" + strconv.Itoa(port) + "/"
	if host != "127.0.0.1" || port == 0 || l.URL() != want {
		t.Errorf("addr: %s:%d url %s", host, port, l.URL())
	}
	if len(urls) != 1 || urls[0] != want {
		t.Errorf("OnListening: %v", urls)
	}
	if body := get(t, want); body != "ok" {
		t.Errorf("body: %q", body)
	}
	steps := rec.snapshot()
	if strings.Join(steps, ",") != "stopped>starting,starting>listening" {
		t.Errorf("transitions: %v", steps)
	}
}

func TestRebind_TearsDownBeforeBinding(t *testing.T) {
	l := New(Config{Handler: okHandler()})
	rec := &recorder{}
	l.OnTransition(rec.transition)

	if err := wait(t, l.Listen("127.0.0.1", 0)); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	_, oldPort := l.Addr()

	if err := wait(t, l.Rebind("127.0.0.1", 0)); err != nil {
		t.Fatalf("Rebind: %v", err)
	}
	defer func() { <-l.Kill(nil) }()

	_, newPort := l.Addr()
	if newPort == oldPort {
		t.Fatalf("rebind kept port %d", oldPort)
	}

	want := []string{
		"stopped>starting", "starting>listening",
		"listening>draining", "draining>stopped",
		"stopped>starting", "starting>listening",
	}
	if got := rec.snapshot(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("transitions:\n got %v\nwant %v", got, want)
	}
	if rec.maxOpen != 1 {
		t.Errorf("max simultaneous listeners: %d", rec.maxOpen)
	}

	if _, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(oldPort)), time.Second); err == nil {
		t.Error("old port still accepting connections")
	}
	if body := get(t, l.URL()); body != "ok" {
		t.Errorf("new port body: %q", body)
	}
}

func TestRebind_DrainsInFlightRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			close(entered)
			<-release
		}
		_, _ = io.WriteString(w, "done")
	})

	l := New(Config{Handler: h})
	if err := wait(t, l.Listen("127.0.0.1", 0)); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	oldURL := l.URL()

	type result struct {
		body string
		err  error
	}
	slow := make(chan result, 1)
	go func() {
		resp, err := http.Get(oldURL + "slow")
		if err != nil {
			slow <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		slow <- result{body: string(b)}
	}()
	<-entered

	rebound := l.Rebind("127.0.0.1", 0)

	// The rebind must wait in Draining while the request is open.
	deadline := time.Now().Add(2 * time.Second)
	for l.State() != Draining && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if l.State() != Draining {
		t.Fatalf("state while request open: %s", l.State())
	}
	select {
	case <-rebound:
		t.Fatal("rebind finished before the in-flight request")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	res := <-slow
	if res.err != nil || res.body != "done" {
		t.Errorf("in-flight request: %q, %v", res.body, res.err)
	}
	if err := wait(t, rebound); err != nil {
		t.Fatalf("Rebind: %v", err)
	}
	defer func() { <-l.Kill(nil) }()
	if l.State() != Listening {
		t.Errorf("state after rebind: %s", l.State())
	}
}

func TestRebind_ConcurrentRequestsNeverInterleave(t *testing.T) {
	l := New(Config{Handler: okHandler()})
	rec := &recorder{}
	l.OnTransition(rec.transition)

	if err := wait(t, l.Listen("127.0.0.1", 0)); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	var results []<-chan error
	for i := 0; i < 5; i++ {
		results = append(results, l.Rebind("127.0.0.1", 0))
	}
	for _, r := range results {
		if err := wait(t, r); err != nil {
			t.Fatalf("Rebind: %v", err)
		}
	}
	defer func() { <-l.Kill(nil) }()

	steps := rec.snapshot()
	// Each cycle after the first listen is exactly draining, stopped,
	// starting, listening.
	cycle := []string{"listening>draining", "draining>stopped", "stopped>starting", "starting>listening"}
	rest := steps[2:]
	if len(rest) != 5*len(cycle) {
		t.Fatalf("transitions: %v", steps)
	}
	for i, s := range rest {
		if s != cycle[i%len(cycle)] {
			t.Fatalf("interleaved transitions at %d: %v", i, steps)
		}
	}
	if rec.maxOpen != 1 {
		t.Errorf("max simultaneous listeners: %d", rec.maxOpen)
	}
}

func TestListen_WaitsForReady(t *testing.T) {
	ready := make(chan struct{})
	l := New(Config{
		Handler: okHandler(),
		Ready:   func() <-chan struct{} { return ready },
	})

	done := l.Listen("127.0.0.1", 0)
	deadline := time.Now().Add(time.Second)
	for l.State() != Starting && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if l.State() != Starting {
		t.Fatalf("state before ready: %s", l.State())
	}
	select {
	case <-done:
		t.Fatal("bound before the log tail was ready")
	case <-time.After(30 * time.Millisecond):
	}

	close(ready)
	if err := wait(t, done); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	<-l.Kill(nil)
}

func TestListen_AddrInUse(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	rec := &recorder{}
	stderr := &fakeStderr{rec: rec}
	exited := false
	l := New(Config{
		Handler: okHandler(),
		Stderr:  stderr,
		Policy:  PolicyExit,
		Exit:    func(int) { exited = true },
		StopTail: func() <-chan struct{} {
			rec.log("stop-tail")
			ch := make(chan struct{})
			close(ch)
			return ch
		},
	})

	err = wait(t, l.Listen("127.0.0.1", port))
	var berr *BindError
	if !errors.As(err, &berr) || !berr.AddrInUse() {
		t.Fatalf("got %v, want address-in-use BindError", err)
	}
	if l.State() != Stopped {
		t.Errorf("state: %s", l.State())
	}
	if exited {
		t.Error("address in use must not exit the process")
	}

	if len(stderr.lines) != 1 {
		t.Fatalf("stderr: %v", stderr.lines)
	}
	msg := stderr.lines[0]
	if !strings.Contains(msg, strconv.Itoa(port)) || !strings.Contains(msg, strconv.Itoa(port+1)) {
		t.Errorf("diagnostic should name port %d and suggest %d: %q", port, port+1, msg)
	}

	steps := rec.snapshot()
	iStop, iReport := -1, -1
	for i, s := range steps {
		switch s {
		case "stop-tail":
			iStop = i
		case "report":
			iReport = i
		}
	}
	if iStop < 0 || iReport < 0 || iStop > iReport {
		t.Errorf("tail must stop before the report: %v", steps)
	}
}

func TestListen_OtherBindErrorPolicy(t *testing.T) {
	// 203.0.113.0/24 is reserved for documentation and not assigned locally.
	const host = "203.0.113.7"

	tests := []struct {
		policy   Policy
		wantExit bool
	}{
		{PolicyContinue, false},
		{PolicyExit, true},
	}
	for _, tc := range tests {
		code := -1
		stderr := &fakeStderr{}
		l := New(Config{
			Handler: okHandler(),
			Stderr:  stderr,
			Policy:  tc.policy,
			Exit:    func(c int) { code = c },
		})

		err := wait(t, l.Listen(host, 0))
		var berr *BindError
		if !errors.As(err, &berr) || berr.AddrInUse() {
			t.Fatalf("got %v, want non-addr-in-use BindError", err)
		}
		if l.State() != Stopped {
			t.Errorf("state: %s", l.State())
		}
		if tc.wantExit && code != 1 {
			t.Errorf("policy %v: exit code %d, want 1", tc.policy, code)
		}
		if !tc.wantExit && code != -1 {
			t.Errorf("policy %v: exited with %d", tc.policy, code)
		}
		if len(stderr.lines) != 1 || !strings.HasPrefix(stderr.lines[0], "Fatal:") {
			t.Errorf("stderr: %v", stderr.lines)
		}
	}
}

func TestRebind_RecoversAfterBindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := occupied.Addr().(*net.TCPAddr).Port

	l := New(Config{Handler: okHandler()})
	if err := wait(t, l.Listen("127.0.0.1", port)); err == nil {
		t.Fatal("expected bind failure")
	}
	occupied.Close()

	if err := wait(t, l.Rebind("127.0.0.1", port)); err != nil {
		t.Fatalf("Rebind after failure: %v", err)
	}
	defer func() { <-l.Kill(nil) }()
	if l.State() != Listening {
		t.Errorf("state: %s", l.State())
	}
}

func TestRebind_RestartsTailStoppedByFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := occupied.Addr().(*net.TCPAddr).Port

	rec := &recorder{}
	l := New(Config{
		Handler: okHandler(),
		StopTail: func() <-chan struct{} {
			rec.log("stop-tail")
			ch := make(chan struct{})
			close(ch)
			return ch
		},
		StartTail: func() <-chan error {
			rec.log("start-tail")
			ch := make(chan error, 1)
			ch <- nil
			return ch
		},
	})
	if err := wait(t, l.Listen("127.0.0.1", port)); err == nil {
		t.Fatal("expected bind failure")
	}
	occupied.Close()

	if err := wait(t, l.Rebind("127.0.0.1", 0)); err != nil {
		t.Fatalf("Rebind: %v", err)
	}
	if err := wait(t, l.Rebind("127.0.0.1", 0)); err != nil {
		t.Fatalf("second Rebind: %v", err)
	}
	defer func() { <-l.Kill(nil) }()

	want := []string{"stop-tail", "start-tail"}
	if got := rec.snapshot(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("tail calls: got %v, want %v", got, want)
	}
}

func TestKill_RunsOnStoppedBeforeNextCycle(t *testing.T) {
	l := New(Config{Handler: okHandler()})
	if err := wait(t, l.Listen("127.0.0.1", 0)); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	var order []string
	var mu sync.Mutex
	done := l.Kill(func() {
		mu.Lock()
		order = append(order, "onStopped:"+l.State().String())
		mu.Unlock()
	})
	next := l.Listen("127.0.0.1", 0)
	<-done
	if err := wait(t, next); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer func() { <-l.Kill(nil) }()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 1 || order[0] != "onStopped:stopped" {
		t.Errorf("onStopped: %v", order)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyContinue, "continue": PolicyContinue, "exit": PolicyExit} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q): %v, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("panic"); err == nil {
		t.Error("expected error")
	}
}

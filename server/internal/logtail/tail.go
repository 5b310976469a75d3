package logtail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// liveTails counts running tails; tests use it to check for leaks.
var liveTails atomic.Int32

// tail follows one file from its current end, passing each complete new
// line to emit. It survives the file being rotated away and recreated.
type tail struct {
	path    string
	emit    func(string)
	watcher *fsnotify.Watcher

	cancel context.CancelFunc
	done   chan struct{}

	f       *os.File
	r       *bufio.Reader
	offset  int64
	pending strings.Builder
}

// startTail begins following path. It returns once the watch is in place,
// so every line appended after it returns is delivered.
func startTail(path string, emit func(string)) (*tail, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("logtail: resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logtail: create log dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("logtail: new watcher: %w", err)
	}
	// Watch the directory so rotation (rename + create) is visible.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("logtail: watch %s: %w", dir, err)
	}

	t := &tail{path: abs, emit: emit, watcher: watcher, done: make(chan struct{})}
	if err := t.open(true); err != nil {
		watcher.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	liveTails.Add(1)
	go t.run(ctx)
	return t, nil
}

// open (re)opens the file. A missing file is not an error; it is picked up
// when created. atEnd skips existing content.
func (t *tail) open(atEnd bool) error {
	if t.f != nil {
		t.f.Close()
		t.f, t.r = nil, nil
	}
	t.pending.Reset()
	t.offset = 0

	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("logtail: open %s: %w", t.path, err)
	}
	if atEnd {
		off, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return fmt.Errorf("logtail: seek %s: %w", t.path, err)
		}
		t.offset = off
	}
	t.f = f
	t.r = bufio.NewReader(f)
	return nil
}

func (t *tail) run(ctx context.Context) {
	defer func() {
		if t.f != nil {
			t.f.Close()
		}
		t.watcher.Close()
		liveTails.Add(-1)
		close(t.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != t.path {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				// Finish the old file, then follow the new one from the start.
				t.drain()
				_ = t.open(false)
				t.drain()
			case event.Has(fsnotify.Write):
				if t.f == nil {
					_ = t.open(false)
				}
				t.truncated()
				t.drain()
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				t.drain()
			}

		case _, ok := <-t.watcher.Errors:
			// Reporting through the log would feed back into this tail.
			if !ok {
				return
			}
		}
	}
}

// truncated restarts from the beginning if the file shrank under us.
func (t *tail) truncated() {
	if t.f == nil {
		return
	}
	fi, err := t.f.Stat()
	if err != nil || fi.Size() >= t.offset {
		return
	}
	if _, err := t.f.Seek(0, io.SeekStart); err != nil {
		return
	}
	t.offset = 0
	t.pending.Reset()
	t.r.Reset(t.f)
}

// drain emits every complete line available. A trailing partial line is
// kept until its newline arrives.
func (t *tail) drain() {
	if t.r == nil {
		return
	}
	for {
		chunk, err := t.r.ReadString('\n')
		t.offset += int64(len(chunk))
		if err != nil {
			t.pending.WriteString(chunk)
			return
		}
		t.pending.WriteString(chunk)
		line := strings.TrimRight(t.pending.String(), "\r\n")
		t.pending.Reset()
		t.emit(line)
	}
}

// stop ends the tail and waits until its file and watcher are released.
func (t *tail) stop() {
	t.cancel()
	<-t.done
}

package logging

import (
	"io"
	"log/slog"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the log file.
const (
	maxSizeMB  = 50
	maxBackups = 5
	maxAgeDays = 14
)

// ParseLevel parses "debug", "info", "warn" or "error" in any case.
// Unrecognized values yield info and false.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// File is the process log: JSON lines written to a rotated file whose path
// and level can change at runtime.
type File struct {
	level *slog.LevelVar
	log   *slog.Logger

	mu   sync.Mutex
	path string
	out  *lumberjack.Logger
}

// New returns a File writing to path at the given level.
// The file is created on first write.
func New(path, level string) *File {
	f := &File{level: new(slog.LevelVar)}
	f.SetLevel(level)
	f.out = newWriter(path)
	f.path = path
	f.log = slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: f.level}))
	return f
}

func newWriter(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		LocalTime:  true,
	}
}

// Logger returns the slog.Logger writing to the file.
func (f *File) Logger() *slog.Logger { return f.log }

// Write implements io.Writer for the slog handler.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Write(p)
}

// Path returns the current log file path.
func (f *File) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

// SetFile redirects subsequent writes to path. Writes already issued land
// in the previous file.
func (f *File) SetFile(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if path == f.path {
		return
	}
	if err := f.out.Close(); err != nil {
		slog.Warn("logging: close previous log file", "path", f.path, "err", err)
	}
	f.out = newWriter(path)
	f.path = path
}

// SetLevel changes the minimum level. Unknown names fall back to info and
// are reported.
func (f *File) SetLevel(level string) {
	lvl, ok := ParseLevel(level)
	if !ok {
		slog.Warn("logging: unknown log level, using info", "level", level)
	}
	f.level.Set(lvl)
}

// Level returns the current minimum level.
func (f *File) Level() slog.Level { return f.level.Level() }

// Close closes the current file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Close()
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

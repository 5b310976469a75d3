package logtail

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Console writes mirrored log lines to a terminal or plain stream.
// Lines are colored by level only when the stream is a terminal.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	color bool

	errC  *color.Color
	warnC *color.Color
	dbgC  *color.Color
}

// NewConsole wraps w. Color is enabled when w is a terminal.
func NewConsole(w io.Writer) *Console {
	c := &Console{
		w:     w,
		errC:  color.New(color.FgRed),
		warnC: color.New(color.FgYellow),
		dbgC:  color.New(color.Faint),
	}
	if f, ok := w.(*os.File); ok {
		c.color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if c.color {
		c.errC.EnableColor()
		c.warnC.EnableColor()
		c.dbgC.EnableColor()
	}
	return c
}

// Line writes one line, appending the newline.
func (c *Console) Line(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.color {
		fmt.Fprintln(c.w, line)
		return
	}
	switch {
	case strings.Contains(line, `"level":"ERROR"`):
		c.errC.Fprintln(c.w, line) //nolint:errcheck
	case strings.Contains(line, `"level":"WARN"`):
		c.warnC.Fprintln(c.w, line) //nolint:errcheck
	case strings.Contains(line, `"level":"DEBUG"`):
		c.dbgC.Fprintln(c.w, line) //nolint:errcheck
	default:
		fmt.Fprintln(c.w, line)
	}
}

// Errorf writes a formatted error line, in red on a terminal.
func (c *Console) Errorf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.color {
		c.errC.Fprintf(c.w, format+"\n", args...) //nolint:errcheck
		return
	}
	fmt.Fprintf(c.w, format+"\n", args...)
}

package hint

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	startStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Terminal prints one line per hint. Colors are used only when the output is
// a terminal. Safe for concurrent use; deploy jobs report from many goroutines.
type Terminal struct {
	mu     sync.Mutex
	out    io.Writer
	color  bool
	titles map[string]string
}

// NewTerminal creates a Terminal writing to out (os.Stderr if nil).
func NewTerminal(out io.Writer) *Terminal {
	if out == nil {
		out = os.Stderr
	}
	color := false
	if f, ok := out.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Terminal{out: out, color: color, titles: make(map[string]string)}
}

func (t *Terminal) paint(style lipgloss.Style, s string) string {
	if !t.color {
		return s
	}
	return style.Render(s)
}

func (t *Terminal) Start(step, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.titles[step] = msg
	fmt.Fprintf(t.out, "%s %s\n", t.paint(startStyle, "…"), msg)
}

func (t *Terminal) Succeed(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s %s\n", t.paint(okStyle, "✔"), t.label(step))
}

func (t *Terminal) Fail(step string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		fmt.Fprintf(t.out, "%s %s: %v\n", t.paint(failStyle, "✖"), t.label(step), err)
		return
	}
	fmt.Fprintf(t.out, "%s %s\n", t.paint(failStyle, "✖"), t.label(step))
}

func (t *Terminal) Info(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, t.paint(infoStyle, msg))
}

// label returns the message the step was started with, falling back to the key.
// Must be called with mu held.
func (t *Terminal) label(step string) string {
	if msg, ok := t.titles[step]; ok {
		delete(t.titles, step)
		return msg
	}
	return step
}

var _ Hinter = (*Terminal)(nil)

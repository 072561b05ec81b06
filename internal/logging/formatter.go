package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Human-oriented [Formatter].
//
// Default output is "<level> <message>" followed by the error attribute, if
// any. Verbose output adds the timestamp, the handler scope and every
// attribute. Debug records always carry their attributes. Level tags are
// coloured when writing to a terminal.
type PrettyFormatter struct {
	verbose bool
	styles  map[slog.Level]lipgloss.Style // Nil when colour is disabled.
}

// Creates a formatter for w. Colour is enabled when w is a terminal.
func NewPrettyFormatter(w io.Writer) *PrettyFormatter {
	f := &PrettyFormatter{}
	if isTerminal(w) {
		r := lipgloss.NewRenderer(w)
		f.styles = map[slog.Level]lipgloss.Style{
			slog.LevelDebug: r.NewStyle().Faint(true),
			slog.LevelInfo:  r.NewStyle().Foreground(lipgloss.Color("12")),
			slog.LevelWarn:  r.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
			slog.LevelError: r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		}
	}
	return f
}

// Enables or disables verbose output.
func (f *PrettyFormatter) SetVerbose(verbose bool) {
	f.verbose = verbose
}

// Formats e as a single newline-terminated line.
func (f *PrettyFormatter) Format(e Entry) []byte {
	var b strings.Builder

	if f.verbose && !e.Time.IsZero() {
		b.WriteString(e.Time.Format(time.TimeOnly))
		b.WriteByte(' ')
	}

	b.WriteString(f.levelTag(e.Level))
	b.WriteByte(' ')

	if f.verbose && e.Scope != "" {
		b.WriteString(e.Scope)
		b.WriteString(": ")
	}

	b.WriteString(e.Message)

	all := f.verbose || e.Level < slog.LevelInfo
	for _, a := range e.Attrs {
		if all || a.Key == "error" {
			appendAttr(&b, "", a)
		}
	}

	b.WriteByte('\n')
	return []byte(b.String())
}

func (f *PrettyFormatter) levelTag(level slog.Level) string {
	var tag string
	var key slog.Level
	switch {
	case level >= slog.LevelError:
		tag, key = "error", slog.LevelError
	case level >= slog.LevelWarn:
		tag, key = "warn ", slog.LevelWarn
	case level >= slog.LevelInfo:
		tag, key = "info ", slog.LevelInfo
	default:
		tag, key = "debug", slog.LevelDebug
	}
	if style, ok := f.styles[key]; ok {
		return style.Render(tag)
	}
	return tag
}

// Writes " key=value", flattening groups into dotted keys.
func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(b, key, ga)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(quoteIfNeeded(a.Value.String()))
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Package display renders human-readable CLI output.
package display

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Theme holds the colors used for each kind of output.
type Theme struct {
	Primary *color.Color
	Success *color.Color
	Warning *color.Color
	Error   *color.Color
	Muted   *color.Color
}

// DarkTheme suits dark terminals.
func DarkTheme() Theme {
	return Theme{
		Primary: color.New(color.FgHiBlue, color.Bold),
		Success: color.New(color.FgHiGreen),
		Warning: color.New(color.FgHiYellow),
		Error:   color.New(color.FgHiRed),
		Muted:   color.New(color.Faint),
	}
}

// LightTheme suits light terminals.
func LightTheme() Theme {
	return Theme{
		Primary: color.New(color.FgBlue, color.Bold),
		Success: color.New(color.FgGreen),
		Warning: color.New(color.FgYellow),
		Error:   color.New(color.FgRed),
		Muted:   color.New(color.FgMagenta),
	}
}

// Printer writes colored output when the destination supports it.
type Printer struct {
	out     io.Writer
	theme   Theme
	colored bool
	icons   *Icons
}

// NewPrinter creates a printer for out. Colors follow terminal detection
// unless plain is set.
func NewPrinter(out io.Writer, plain bool) *Printer {
	colored := !plain && detectColorSupport(out)
	theme := DarkTheme()
	if colored && !termenv.HasDarkBackground() {
		theme = LightTheme()
	}
	for _, c := range []*color.Color{theme.Primary, theme.Success, theme.Warning, theme.Error, theme.Muted} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return &Printer{out: out, theme: theme, colored: colored, icons: NewIcons(colored)}
}

// detectColorSupport checks that out is a terminal and the environment allows color.
func detectColorSupport(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return termenv.EnvColorProfile() != termenv.Ascii
}

// Colored reports whether escape codes are emitted.
func (p *Printer) Colored() bool { return p.colored }

// Theme returns the active theme.
func (p *Printer) Theme() Theme { return p.theme }

// Icons returns the printer's icon set.
func (p *Printer) Icons() *Icons { return p.icons }

// Writer is the destination of the printer.
func (p *Printer) Writer() io.Writer { return p.out }

func (p *Printer) line(c *color.Color, icon, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if icon != "" {
		msg = p.icons.Render(icon) + " " + msg
	}
	c.Fprintln(p.out, msg)
}

// Title prints a heading.
func (p *Printer) Title(format string, args ...interface{}) {
	p.line(p.theme.Primary, "", format, args...)
}

// Success prints a line marked as successful.
func (p *Printer) Success(format string, args ...interface{}) {
	p.line(p.theme.Success, IconSuccess, format, args...)
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...interface{}) {
	p.line(p.theme.Warning, IconWarning, format, args...)
}

// Error prints a failure line.
func (p *Printer) Error(format string, args ...interface{}) {
	p.line(p.theme.Error, IconError, format, args...)
}

// Info prints an unstyled line.
func (p *Printer) Info(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Muted prints a de-emphasized line.
func (p *Printer) Muted(format string, args ...interface{}) {
	p.line(p.theme.Muted, "", format, args...)
}

package display

import (
	"os"
)

// Icon names.
const (
	IconSuccess = "success"
	IconWarning = "warning"
	IconError   = "error"
	IconRunning = "running"
	IconUnknown = "unknown"
	IconLocked  = "locked"
)

// Icon has a Unicode glyph and an ASCII fallback.
type Icon struct {
	Unicode string
	ASCII   string
}

var iconTable = map[string]Icon{
	IconSuccess: {Unicode: "✓", ASCII: "[OK]"},
	IconWarning: {Unicode: "⚠", ASCII: "[!]"},
	IconError:   {Unicode: "✗", ASCII: "[X]"},
	IconRunning: {Unicode: "⟳", ASCII: "[..]"},
	IconUnknown: {Unicode: "?", ASCII: "[?]"},
	IconLocked:  {Unicode: "🔒", ASCII: "[enc]"},
}

// Icons renders icons with a fallback for terminals without Unicode.
type Icons struct {
	unicode bool
}

// NewIcons picks Unicode when the output is a capable terminal.
func NewIcons(terminal bool) *Icons {
	return &Icons{unicode: terminal && detectUnicodeSupport()}
}

func detectUnicodeSupport() bool {
	if os.Getenv("FORCE_UNICODE") != "" {
		return true
	}
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	if os.Getenv("LANG") == "C" || os.Getenv("LC_ALL") == "C" {
		return false
	}
	term := os.Getenv("TERM")
	return term != "dumb" && term != "vt100"
}

// Unicode reports whether glyphs are used.
func (i *Icons) Unicode() bool { return i.unicode }

// Render returns the icon text for name, or an empty string for unknown names.
func (i *Icons) Render(name string) string {
	icon, ok := iconTable[name]
	if !ok {
		return ""
	}
	if i.unicode {
		return icon.Unicode
	}
	return icon.ASCII
}

package display

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	Horizontal string
	Vertical   string
	Cross      string
}

var (
	ASCIIBorderStyle   = BorderStyle{Horizontal: "-", Vertical: "|", Cross: "+"}
	UnicodeBorderStyle = BorderStyle{Horizontal: "─", Vertical: "│", Cross: "┼"}
)

// Table lays out rows in padded columns. Colors are applied after padding so
// escape codes never affect widths.
type Table struct {
	headers    []string
	rows       [][]string
	rowColors  map[int]*color.Color
	alignments map[int]Alignment
	border     BorderStyle
	header     *color.Color
	maxWidth   int
}

// NewTable creates a table with headers.
func NewTable(headers ...string) *Table {
	return &Table{
		headers:    headers,
		rowColors:  map[int]*color.Color{},
		alignments: map[int]Alignment{},
		border:     ASCIIBorderStyle,
	}
}

// ForPrinter applies the printer's header color and border style.
func (t *Table) ForPrinter(p *Printer) *Table {
	t.header = p.theme.Primary
	if p.icons.Unicode() {
		t.border = UnicodeBorderStyle
	}
	if p.colored {
		t.maxWidth = terminalWidth()
	}
	return t
}

// AddRow appends a row, optionally colored as a whole.
func (t *Table) AddRow(c *color.Color, cells ...string) {
	if c != nil {
		t.rowColors[len(t.rows)] = c
	}
	t.rows = append(t.rows, cells)
}

// SetAlignment sets the alignment of column.
func (t *Table) SetAlignment(column int, a Alignment) {
	t.alignments[column] = a
}

// SetMaxWidth caps the width of the widest column. Zero disables the cap.
func (t *Table) SetMaxWidth(width int) {
	t.maxWidth = width
}

// Len is the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Render writes the table to w.
func (t *Table) Render(w io.Writer) {
	widths := t.widths()

	var b strings.Builder
	t.writeRow(&b, t.headers, widths, t.header)
	sep := make([]string, len(widths))
	for i, width := range widths {
		sep[i] = strings.Repeat(t.border.Horizontal, width+2)
	}
	b.WriteString(strings.Join(sep, t.border.Cross))
	b.WriteString("\n")
	for i, row := range t.rows {
		t.writeRow(&b, row, widths, t.rowColors[i])
	}
	io.WriteString(w, b.String())
}

func (t *Table) writeRow(b *strings.Builder, row []string, widths []int, c *color.Color) {
	cells := make([]string, len(widths))
	for i, width := range widths {
		content := ""
		if i < len(row) {
			content = truncate(row[i], width)
		}
		pad := strings.Repeat(" ", width-utf8.RuneCountInString(content))
		cell := content + pad
		if t.alignments[i] == AlignRight {
			cell = pad + content
		}
		if c != nil {
			cell = c.Sprint(cell)
		}
		cells[i] = " " + cell + " "
	}
	b.WriteString(strings.TrimRight(strings.Join(cells, t.border.Vertical), " "))
	b.WriteString("\n")
}

func (t *Table) widths() []int {
	n := len(t.headers)
	for _, row := range t.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	widths := make([]int, n)
	measure := func(row []string) {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}

	if t.maxWidth > 0 {
		total := 0
		widest := 0
		for i, w := range widths {
			total += w + 3
			if w > widths[widest] {
				widest = i
			}
		}
		if over := total - t.maxWidth; over > 0 && widths[widest]-over >= 8 {
			widths[widest] -= over
		}
	}
	return widths
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	r := []rune(s)
	if width > 3 {
		return string(r[:width-3]) + "..."
	}
	return string(r[:width])
}

// terminalWidth returns the current terminal width
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}

package display

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrinter_NonTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)
	assert.False(t, p.Colored())
	assert.False(t, p.Icons().Unicode())

	p.Success("backup %s done", "shop")
	p.Error("backup failed")
	p.Warn("partial")
	p.Title("Backups")
	p.Muted("none")
	p.Info("plain %d", 1)

	assert.Equal(t, "[OK] backup shop done\n[X] backup failed\n[!] partial\nBackups\nnone\nplain 1\n", buf.String())
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestIcons(t *testing.T) {
	t.Setenv("FORCE_UNICODE", "1")
	assert.Equal(t, "✓", NewIcons(true).Render(IconSuccess))
	assert.Equal(t, "[OK]", NewIcons(false).Render(IconSuccess))
	assert.Equal(t, "", NewIcons(true).Render("nope"))

	t.Setenv("FORCE_UNICODE", "")
	t.Setenv("NO_UNICODE", "1")
	assert.False(t, NewIcons(true).Unicode())
}

func TestTable_Render(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{}, true)
	tbl := NewTable("CONFIG", "STATUS", "SIZE").ForPrinter(p)
	tbl.SetAlignment(2, AlignRight)
	tbl.AddRow(nil, "shop", "success", "1.50 MB")
	tbl.AddRow(p.Theme().Error, "crm", "failed", "")

	var out bytes.Buffer
	tbl.Render(&out)
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, " CONFIG | STATUS  |    SIZE", lines[0])
	assert.Equal(t, "--------+---------+---------", lines[1])
	assert.Equal(t, " shop   | success | 1.50 MB", lines[2])
	assert.Equal(t, " crm    | failed  |", lines[3])
	assert.Equal(t, 2, tbl.Len())
}

func TestTable_MaxWidth(t *testing.T) {
	tbl := NewTable("NAME", "FILE")
	tbl.AddRow(nil, "shop", strings.Repeat("x", 40))
	tbl.SetMaxWidth(30)

	var out bytes.Buffer
	tbl.Render(&out)
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.Contains(t, lines[2], "...")
	assert.LessOrEqual(t, len(lines[2]), 30)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
	assert.Equal(t, "ab", truncate("abcdefgh", 2))
}

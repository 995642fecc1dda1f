package markdown_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/namikmesic/varys/internal/markdown"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func stripANSI(s string) string {
	return ansi.ReplaceAllString(s, "")
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, markdown.Parse(""))
		assert.Nil(t, markdown.Parse("  \n "))
	})

	t.Run("headings and paragraphs", func(t *testing.T) {
		t.Parallel()
		blocks := markdown.Parse("# Title\n\nSome **bold** and `code` here\ncontinued.\n\n### Small")
		assert.Equal(t, []markdown.Block{
			{Kind: markdown.KindHeading, Level: 1, Text: "Title"},
			{Kind: markdown.KindParagraph, Text: "Some bold and code here continued."},
			{Kind: markdown.KindHeading, Level: 3, Text: "Small"},
		}, blocks)
	})

	t.Run("fenced code keeps language and lines", func(t *testing.T) {
		t.Parallel()
		blocks := markdown.Parse("```go\nfunc main() {\n\tprintln(1)\n}\n```")
		require.Len(t, blocks, 1)
		assert.Equal(t, markdown.KindCode, blocks[0].Kind)
		assert.Equal(t, "go", blocks[0].Language)
		assert.Equal(t, "func main() {\n\tprintln(1)\n}", blocks[0].Text)
	})

	t.Run("unordered list with nesting", func(t *testing.T) {
		t.Parallel()
		blocks := markdown.Parse("- one\n- two\n  - two.a\n- three")
		require.Len(t, blocks, 1)
		assert.False(t, blocks[0].Ordered)
		assert.Equal(t, []markdown.ListItem{
			{Depth: 0, Marker: "- ", Text: "one"},
			{Depth: 0, Marker: "- ", Text: "two"},
			{Depth: 1, Marker: "- ", Text: "two.a"},
			{Depth: 0, Marker: "- ", Text: "three"},
		}, blocks[0].Items)
	})

	t.Run("ordered list keeps start number", func(t *testing.T) {
		t.Parallel()
		blocks := markdown.Parse("3. c\n4. d")
		require.Len(t, blocks, 1)
		assert.True(t, blocks[0].Ordered)
		assert.Equal(t, "3. ", blocks[0].Items[0].Marker)
		assert.Equal(t, "4. ", blocks[0].Items[1].Marker)
	})

	t.Run("table", func(t *testing.T) {
		t.Parallel()
		blocks := markdown.Parse("| Tool | Status |\n|---|---|\n| scanner | on |\n| monitor | off |")
		require.Len(t, blocks, 1)
		assert.Equal(t, markdown.KindTable, blocks[0].Kind)
		assert.Equal(t, []string{"Tool", "Status"}, blocks[0].Header)
		assert.Equal(t, [][]string{{"scanner", "on"}, {"monitor", "off"}}, blocks[0].Rows)
	})

	t.Run("quote and rule", func(t *testing.T) {
		t.Parallel()
		blocks := markdown.Parse("> quoted\n> text\n\n---")
		require.Len(t, blocks, 2)
		assert.Equal(t, markdown.Block{Kind: markdown.KindQuote, Text: "quoted text"}, blocks[0])
		assert.Equal(t, markdown.KindRule, blocks[1].Kind)
	})

	t.Run("links keep destination", func(t *testing.T) {
		t.Parallel()
		blocks := markdown.Parse("see [docs](https://example.com)")
		require.Len(t, blocks, 1)
		assert.Equal(t, "see docs (https://example.com)", blocks[0].Text)
	})
}

func TestRender(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "", markdown.Render("", 80))
	})

	t.Run("code block has gutter", func(t *testing.T) {
		t.Parallel()
		out := stripANSI(markdown.Render("```sh\nls -la\n```", 80))
		assert.Equal(t, "sh\n│ ls -la", out)
	})

	t.Run("list items are indented", func(t *testing.T) {
		t.Parallel()
		out := stripANSI(markdown.Render("1. first\n   - inner", 80))
		assert.Equal(t, "1. first\n  - inner", out)
	})

	t.Run("paragraphs wrap to width", func(t *testing.T) {
		t.Parallel()
		out := stripANSI(markdown.Render(strings.Repeat("word ", 20), 20))
		for _, line := range strings.Split(out, "\n") {
			assert.LessOrEqual(t, len(strings.TrimRight(line, " ")), 20)
		}
		assert.Greater(t, strings.Count(out, "\n"), 2)
	})

	t.Run("table contains cells", func(t *testing.T) {
		t.Parallel()
		out := stripANSI(markdown.Render("| a | b |\n|---|---|\n| 1 | 2 |", 80))
		for _, cell := range []string{"a", "b", "1", "2"} {
			assert.Contains(t, out, cell)
		}
	})

	t.Run("blocks are separated by blank lines", func(t *testing.T) {
		t.Parallel()
		out := stripANSI(markdown.Render("# T\n\nbody", 80))
		assert.Equal(t, "T\n\nbody", out)
	})
}

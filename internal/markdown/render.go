package markdown

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

const defaultWidth = 80

var (
	headingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Faint(true)
	quoteStyle   = lipgloss.NewStyle().Italic(true)
	tableHeader  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableCell    = lipgloss.NewStyle().Padding(0, 1)
)

// Render formats content for a terminal of the given width.
func Render(content string, width int) string {
	return RenderBlocks(Parse(content), width)
}

func RenderBlocks(blocks []Block, width int) string {
	if width <= 0 {
		width = defaultWidth
	}
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, renderBlock(b, width))
	}
	return strings.Join(out, "\n\n")
}

func renderBlock(b Block, width int) string {
	switch b.Kind {
	case KindHeading:
		s := headingStyle
		if b.Level == 1 {
			s = s.Underline(true)
		}
		return wrap(s.Render(b.Text), width)

	case KindCode:
		gutter := mutedStyle.Render("│") + " "
		var sb strings.Builder
		if b.Language != "" {
			sb.WriteString(mutedStyle.Render(b.Language))
			sb.WriteString("\n")
		}
		for i, line := range strings.Split(b.Text, "\n") {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(gutter + line)
		}
		return sb.String()

	case KindList:
		var lines []string
		for _, it := range b.Items {
			lines = append(lines, listItem(it, width)...)
		}
		return strings.Join(lines, "\n")

	case KindTable:
		t := lgtable.New().
			Border(lipgloss.NormalBorder()).
			Headers(b.Header...).
			Rows(b.Rows...).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == lgtable.HeaderRow {
					return tableHeader
				}
				return tableCell
			})
		return t.String()

	case KindQuote:
		bar := mutedStyle.Render("┃") + " "
		wrapped := wrap(quoteStyle.Render(b.Text), width-2)
		lines := strings.Split(wrapped, "\n")
		for i := range lines {
			lines[i] = bar + lines[i]
		}
		return strings.Join(lines, "\n")

	case KindRule:
		return mutedStyle.Render(strings.Repeat("─", min(width, 40)))

	default:
		return wrap(b.Text, width)
	}
}

func listItem(it ListItem, width int) []string {
	prefix := strings.Repeat("  ", it.Depth) + it.Marker
	itemWidth := max(width-len(prefix), 10)
	lines := strings.Split(wrap(it.Text, itemWidth), "\n")
	pad := strings.Repeat(" ", len(prefix))
	for i := range lines {
		if i == 0 {
			lines[i] = prefix + lines[i]
		} else {
			lines[i] = pad + lines[i]
		}
	}
	return lines
}

// wrap word-wraps s to width, dropping the padding lipgloss adds.
func wrap(s string, width int) string {
	lines := strings.Split(lipgloss.NewStyle().Width(width).Render(s), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

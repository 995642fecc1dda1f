package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/namikmesic/varys/internal/chat"
	"github.com/namikmesic/varys/internal/markdown"
	"github.com/namikmesic/varys/internal/stream"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Width(18)
)

// errReplyFailed marks a failure that was already printed as the reply.
var errReplyFailed = errors.New("reply failed")

// printTurn writes a reply as it arrives. With render set the text is
// held back and printed as formatted markdown once complete.
func printTurn(out io.Writer, t *chat.Turn, render bool, width int) error {
	for ev := range t.Events() {
		if ev.Kind == stream.KindContent && !render {
			fmt.Fprint(out, ev.Text)
		}
	}
	msg, err := t.Wait()
	switch {
	case err != nil:
		if !render && msg.Content != "" {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, errorStyle.Render(msg.Content))
		return fmt.Errorf("%w: %w", errReplyFailed, err)
	case render:
		fmt.Fprintln(out, markdown.Render(msg.Content, width))
	default:
		fmt.Fprintln(out)
	}
	return nil
}

func printField(out io.Writer, label string, value any) {
	fmt.Fprintln(out, labelStyle.Render(label)+fmt.Sprint(value))
}

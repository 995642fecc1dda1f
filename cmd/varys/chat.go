package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/namikmesic/varys/internal/chat"
	"github.com/namikmesic/varys/internal/markdown"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

var (
	chatResume string
	chatRender bool
	chatWidth  int
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session. Replies stream as they arrive;
Ctrl-C cancels the reply in progress, Ctrl-D leaves.

Commands:
  /retry            resend the last message after a failed reply
  /regenerate       ask for a new answer to the last message
  /upload <path>    upload a file
  /history          print the conversation so far
  /render           toggle markdown rendering of replies
  /quit             leave`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatResume, "resume", "", "Resume a stored conversation by id")
	chatCmd.Flags().BoolVar(&chatRender, "render", false, "Render replies as markdown once complete")
	chatCmd.Flags().IntVar(&chatWidth, "width", 80, "Wrap width for rendered replies")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		conv, err := openConversation(ctx, a, chatResume)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		// Ctrl-C only reaches us while a reply is streaming; at the prompt
		// liner sees it as a key press.
		interrupts := make(chan os.Signal, 1)
		signal.Notify(interrupts, os.Interrupt)
		defer func() {
			signal.Stop(interrupts)
			close(interrupts)
		}()
		go func() {
			for range interrupts {
				if t := conv.Active(); t != nil {
					t.Cancel()
				}
			}
		}()

		line := liner.NewLiner()
		defer line.Close()
		line.SetCtrlCAborts(true)

		fmt.Fprintln(out, mutedStyle.Render("conversation "+conv.ID().String()+"  (/quit to leave)"))
		if chatResume != "" {
			printHistory(out, conv.Messages())
		}

		for {
			input, err := line.Prompt("> ")
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					return err
				}
				fmt.Fprintln(out)
				return nil
			}
			input = strings.TrimSpace(input)
			if input == "" {
				continue
			}
			line.AppendHistory(input)

			quit, err := handleInput(ctx, conv, out, input)
			if quit {
				return nil
			}
			if err != nil && !errors.Is(err, errReplyFailed) {
				fmt.Fprintln(out, errorStyle.Render(err.Error()))
			}
		}
	})
}

func handleInput(ctx context.Context, conv *chat.Conversation, out io.Writer, input string) (quit bool, err error) {
	if !strings.HasPrefix(input, "/") {
		return false, reply(out, func() (*chat.Turn, error) { return conv.Send(ctx, input) })
	}

	name, arg, _ := strings.Cut(input, " ")
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/retry":
		return false, reply(out, func() (*chat.Turn, error) { return conv.Retry(ctx) })
	case "/regenerate":
		return false, reply(out, func() (*chat.Turn, error) { return conv.Regenerate(ctx) })
	case "/upload":
		path := strings.TrimSpace(arg)
		if path == "" {
			return false, errors.New("usage: /upload <path>")
		}
		f, err := os.Open(path)
		if err != nil {
			return false, err
		}
		defer f.Close()
		return false, reply(out, func() (*chat.Turn, error) { return conv.Upload(ctx, path, f) })
	case "/history":
		printHistory(out, conv.Messages())
		return false, nil
	case "/render":
		chatRender = !chatRender
		fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("markdown rendering: %v", chatRender)))
		return false, nil
	}
	return false, fmt.Errorf("unknown command %s", name)
}

func reply(out io.Writer, start func() (*chat.Turn, error)) error {
	t, err := start()
	if err != nil {
		return err
	}
	return printTurn(out, t, chatRender, chatWidth)
}

func printHistory(out io.Writer, msgs []chat.Message) {
	for _, m := range msgs {
		switch {
		case m.Role == chat.RoleUser:
			fmt.Fprintln(out, promptStyle.Render("> ")+m.Content)
		case m.Status == chat.StatusError:
			fmt.Fprintln(out, errorStyle.Render(m.Content))
		default:
			fmt.Fprintln(out, markdown.Render(m.Content, chatWidth))
		}
	}
}

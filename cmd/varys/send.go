package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/namikmesic/varys/internal/chat"
	"github.com/spf13/cobra"
)

var (
	sendRender       bool
	sendWidth        int
	sendConversation string
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Ask for a new answer to the last message of a stored conversation",
	Args:  cobra.NoArgs,
	RunE:  runRegenerate,
}

var uploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Upload a file (txt, pdf, doc, docx, md) and print the reply",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Show what the backend supports",
	Args:  cobra.NoArgs,
	RunE:  runCapabilities,
}

func init() {
	for _, c := range []*cobra.Command{sendCmd, regenerateCmd, uploadCmd} {
		c.Flags().BoolVar(&sendRender, "render", false, "Render the reply as markdown once complete")
		c.Flags().IntVar(&sendWidth, "width", 80, "Wrap width for rendered replies")
		c.Flags().StringVar(&sendConversation, "conversation", "", "Continue a stored conversation by id")
	}
	regenerateCmd.MarkFlagRequired("conversation")
	rootCmd.AddCommand(sendCmd, regenerateCmd, uploadCmd, capabilitiesCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptible(cmd.Context())
	defer stop()

	return withApp(ctx, func(a *app) error {
		conv, err := openConversation(ctx, a, sendConversation)
		if err != nil {
			return err
		}
		turn, err := conv.Send(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printTurn(cmd.OutOrStdout(), turn, sendRender, sendWidth)
	})
}

func runRegenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptible(cmd.Context())
	defer stop()

	return withApp(ctx, func(a *app) error {
		conv, err := openConversation(ctx, a, sendConversation)
		if err != nil {
			return err
		}
		turn, err := conv.Regenerate(ctx)
		if err != nil {
			return err
		}
		return printTurn(cmd.OutOrStdout(), turn, sendRender, sendWidth)
	})
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptible(cmd.Context())
	defer stop()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	return withApp(ctx, func(a *app) error {
		conv, err := openConversation(ctx, a, sendConversation)
		if err != nil {
			return err
		}
		turn, err := conv.Upload(ctx, args[0], f)
		if err != nil {
			return err
		}
		return printTurn(cmd.OutOrStdout(), turn, sendRender, sendWidth)
	})
}

func runCapabilities(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptible(cmd.Context())
	defer stop()

	return withApp(ctx, func(a *app) error {
		caps, err := a.client.Capabilities(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printField(out, "model", caps.Model)
		printField(out, "streaming", caps.Streaming)
		printField(out, "tools", strings.Join(caps.Tools, ", "))
		return nil
	})
}

// openConversation starts a fresh conversation, or resumes a stored one
// when id is set.
func openConversation(ctx context.Context, a *app, id string) (*chat.Conversation, error) {
	if id == "" {
		return a.conversation(ctx), nil
	}
	convID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id %q: %w", id, err)
	}
	if a.messages == nil {
		return nil, errors.New("stored conversations need TELEMETRY_ENABLED and a database")
	}
	history, err := a.messages.Messages(ctx, convID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("conversation %s not found", convID)
	}
	return a.conversation(ctx, chat.WithID(convID), chat.WithHistory(history)), nil
}

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [conversation-id]",
	Short: "List stored conversations, or print one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of conversations to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		if a.messages == nil {
			return errors.New("stored conversations need TELEMETRY_ENABLED and a database")
		}
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid conversation id %q: %w", args[0], err)
			}
			msgs, err := a.messages.Messages(ctx, id)
			if err != nil {
				return err
			}
			printHistory(out, msgs)
			return nil
		}

		convs, err := a.messages.Conversations(ctx, historyLimit)
		if err != nil {
			return err
		}
		for _, c := range convs {
			preview := strings.ReplaceAll(c.Preview, "\n", " ")
			if r := []rune(preview); len(r) > 60 {
				preview = string(r[:60]) + "…"
			}
			fmt.Fprintf(out, "%s  %s  %3d  %s\n",
				c.ID, mutedStyle.Render(c.LastAt.Local().Format("2006-01-02 15:04")), c.Messages, preview)
		}
		return nil
	})
}

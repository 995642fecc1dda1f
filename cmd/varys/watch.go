package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/namikmesic/varys/internal/chat"
	"github.com/namikmesic/varys/internal/jetstream"
	nats "github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [conversation-id]",
	Short: "Follow conversation updates broadcast by another varys",
	Long: `Follow conversation updates broadcast by a varys running with
BROADCAST_ENABLED=true and NATS_PORT set. Connects to NATS_URL and replays
the retained updates before following new ones.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptible(cmd.Context())
	defer stop()

	id := uuid.Nil
	if len(args) == 1 {
		parsed, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid conversation id %q: %w", args[0], err)
		}
		id = parsed
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("varys-watch"))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.NATSURL, err)
	}
	defer nc.Drain()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("get JetStream context: %w", err)
	}
	updates, err := jetstream.Watch(ctx, js, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	last := map[uuid.UUID]chat.Status{}
	for u := range updates {
		m := u.Message
		if last[m.ID] == m.Status {
			continue
		}
		last[m.ID] = m.Status
		if m.Status.Done() {
			delete(last, m.ID)
		}

		prefix := mutedStyle.Render(u.ConversationID.String()[:8]) + " " + labelStyle.Render(string(m.Role)+" "+string(m.Status))
		switch {
		case m.Role == chat.RoleUser, m.Status.Done():
			fmt.Fprintf(out, "%s %s\n", prefix, m.Content)
		default:
			fmt.Fprintln(out, prefix)
		}
	}
	return nil
}

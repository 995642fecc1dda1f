package main

import (
	"context"
	"fmt"
	"os"

	"github.com/namikmesic/varys/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfg *config.Config

	flagAPIURL   string
	flagLogLevel string
	flagNoStream bool
)

var rootCmd = &cobra.Command{
	Use:   "varys",
	Short: "Terminal client for the varys chat backend",
	Long: `varys talks to a chat backend over HTTP and renders streamed replies.

Examples:
  varys chat                          # interactive session
  varys send "summarize this log"     # one-shot message
  varys upload report.pdf
  varys settings set temperature 0.3
  varys debug logs --filter error --follow

Configuration comes from the environment (and an optional .env file):
VARYS_API_URL, VARYS_API_KEY, LOG_LEVEL, TELEMETRY_ENABLED, DATABASE_URL,
BROADCAST_ENABLED, NATS_STORE_DIR, NATS_PORT, NATS_URL.`,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if flagAPIURL != "" {
			c.APIURL = flagAPIURL
		}
		if flagLogLevel != "" {
			c.LogLevel = flagLogLevel
		}
		setupLogging(c.LogLevel)
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "Backend base URL (overrides VARYS_API_URL)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&flagNoStream, "no-stream", false, "Always request buffered replies")
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

func execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

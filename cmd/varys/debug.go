package main

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/namikmesic/varys/internal/debuglog"
	"github.com/namikmesic/varys/internal/storage"
	"github.com/spf13/cobra"
)

var (
	debugFilter   string
	debugFollow   bool
	debugInterval time.Duration
	debugSince    time.Duration
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Inspect backend debug logs and local telemetry",
}

var debugLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Fetch the backend debug logs (requires debugMode)",
	Args:  cobra.NoArgs,
	RunE:  runDebugLogs,
}

var debugClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the backend debug logs",
	Args:  cobra.NoArgs,
	RunE:  runDebugClear,
}

var debugMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Summarize locally recorded requests (requires TELEMETRY_ENABLED)",
	Args:  cobra.NoArgs,
	RunE:  runDebugMetrics,
}

func init() {
	debugLogsCmd.Flags().StringVar(&debugFilter, "filter", debuglog.FilterAll,
		"Log type: all, request, response, error, token_usage, system_metrics")
	debugLogsCmd.Flags().BoolVarP(&debugFollow, "follow", "f", false, "Keep polling for new entries")
	debugLogsCmd.Flags().DurationVar(&debugInterval, "interval", 30*time.Second, "Polling interval with --follow")
	debugMetricsCmd.Flags().DurationVar(&debugSince, "since", 24*time.Hour, "Window to summarize")
	debugCmd.AddCommand(debugLogsCmd, debugClearCmd, debugMetricsCmd)
	rootCmd.AddCommand(debugCmd)
}

// newMonitor returns a monitor enabled according to the backend's
// debugMode setting.
func newMonitor(cmd *cobra.Command, a *app, opts ...debuglog.Option) (*debuglog.Monitor, error) {
	s, err := a.settings.Load(cmd.Context())
	if err != nil {
		return nil, err
	}
	if !s.DebugMode {
		return nil, fmt.Errorf("%w: run `varys settings set debugMode true` first", debuglog.ErrDisabled)
	}
	m := debuglog.NewMonitor(a.client, opts...)
	m.SetEnabled(true)
	if err := m.SetFilter(debugFilter); err != nil {
		return nil, err
	}
	return m, nil
}

func runDebugLogs(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptible(cmd.Context())
	defer stop()
	out := cmd.OutOrStdout()

	return withApp(ctx, func(a *app) error {
		if !debugFollow {
			m, err := newMonitor(cmd, a)
			if err != nil {
				return err
			}
			if _, err := m.Refresh(ctx, true); err != nil {
				return err
			}
			printDebugLogs(out, m.Logs(), nil)
			printDebugMetrics(out, m.Metrics())
			return nil
		}

		var mu sync.Mutex
		seen := map[string]bool{}
		m, err := newMonitor(cmd, a,
			debuglog.WithInterval(debugInterval),
			debuglog.OnRefresh(func(l debuglog.Logs) {
				mu.Lock()
				defer mu.Unlock()
				printDebugLogs(out, l.Logs, seen)
			}),
		)
		if err != nil {
			return err
		}
		m.Run(ctx)
		return nil
	})
}

func runDebugClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		m, err := newMonitor(cmd, a)
		if err != nil {
			return err
		}
		if err := m.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "debug logs cleared")
		return nil
	})
}

func runDebugMetrics(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		if a.pool == nil {
			return errors.New("local telemetry is off; set TELEMETRY_ENABLED=true")
		}
		m, err := storage.QueryMetrics(ctx, a.pool, time.Now().Add(-debugSince))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printField(out, "requests", m.TotalRequests)
		printField(out, "errors", m.TotalErrors)
		printField(out, "streamed replies", m.StreamedReplies)
		printField(out, "stream events", m.StreamEvents)
		printField(out, "avg response", fmt.Sprintf("%.0fms", m.AvgResponseMs))
		return nil
	})
}

// printDebugLogs prints entries not yet in seen. A nil seen prints all.
func printDebugLogs(out io.Writer, logs []debuglog.Log, seen map[string]bool) {
	for _, l := range logs {
		if seen != nil {
			key := l.Timestamp + "|" + l.Type + "|" + l.SessionID + "|" + string(l.Data)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		fmt.Fprintf(out, "%s %s %s\n", mutedStyle.Render(l.Timestamp), labelStyle.Render(l.Type), l.Data)
	}
}

func printDebugMetrics(out io.Writer, m debuglog.Metrics) {
	fmt.Fprintln(out)
	printField(out, "total requests", m.TotalRequests)
	printField(out, "total tokens", m.TotalTokens)
	printField(out, "total errors", m.TotalErrors)
	printField(out, "avg response", fmt.Sprintf("%.2fs", m.AvgResponseTime))
}

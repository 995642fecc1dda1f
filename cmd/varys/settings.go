package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/namikmesic/varys/internal/settings"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the backend settings",
	Long: `Show or change the backend settings. When the backend cannot be reached
the last known settings are shown.

Keys: model, temperature, maxTokens, streamingEnabled, securityLevel,
debugMode, apiKey, tools.securityScanner, tools.codeAnalysis,
tools.dataOperations, tools.networkMonitor`,
	Args: cobra.NoArgs,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value> [<key> <value>...]",
	Short: "Change one or more settings",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 || len(args)%2 != 0 {
			return fmt.Errorf("expected key/value pairs, got %d arguments", len(args))
		}
		return nil
	},
	RunE: runSettingsSet,
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsReset,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsResetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		s, err := a.settings.Load(ctx)
		if err != nil {
			return err
		}
		if lerr := a.settings.LastError(); lerr != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("backend unreachable, showing local copy: "+lerr.Error()))
		}
		printSettings(cmd.OutOrStdout(), s)
		return nil
	})
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		next, err := a.settings.Load(ctx)
		if err != nil {
			return err
		}
		if lerr := a.settings.LastError(); lerr != nil {
			return lerr
		}
		for i := 0; i < len(args); i += 2 {
			if err := next.Set(args[i], args[i+1]); err != nil {
				return err
			}
		}
		saved, err := a.settings.Update(ctx, next)
		if err != nil {
			return err
		}
		printSettings(cmd.OutOrStdout(), saved)
		return nil
	})
}

func runSettingsReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		s, err := a.settings.Reset(ctx)
		if err != nil {
			return err
		}
		printSettings(cmd.OutOrStdout(), s)
		return nil
	})
}

func printSettings(out io.Writer, s settings.Settings) {
	printField(out, "model", s.Model)
	printField(out, "temperature", s.Temperature)
	printField(out, "maxTokens", s.MaxTokens)
	printField(out, "streamingEnabled", s.StreamingEnabled)
	printField(out, "securityLevel", s.SecurityLevel)
	printField(out, "debugMode", s.DebugMode)
	printField(out, "apiKey", maskKey(s.APIKey))

	var tools []string
	for _, t := range []struct {
		name string
		on   bool
	}{
		{"securityScanner", s.Tools.SecurityScanner},
		{"codeAnalysis", s.Tools.CodeAnalysis},
		{"dataOperations", s.Tools.DataOperations},
		{"networkMonitor", s.Tools.NetworkMonitor},
	} {
		if t.on {
			tools = append(tools, t.name)
		}
	}
	printField(out, "tools", strings.Join(tools, ", "))
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

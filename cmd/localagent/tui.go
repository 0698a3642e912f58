package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/holon-run/localagent/pkg/client"
	"github.com/holon-run/localagent/pkg/tui"
	"github.com/spf13/cobra"
)

var tuiRPCURL string

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Monitor search and process sessions of a running server",
	Long: `Start an interactive terminal monitor for a running "localagent serve".

Keys: q quit, R refresh, space toggles auto refresh, tab switches panel,
up/down select, s stops the selected search, x closes the selected process
session.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		rpcURL := tuiRPCURL
		if rpcURL == "" {
			rpcURL = fmt.Sprintf("http://%s/rpc", cfg.Server.Listen)
		}

		app := tui.NewApp(client.NewRPCClient(rpcURL), rpcURL)
		p := tea.NewProgram(app, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("failed to run TUI: %w", err)
		}
		return nil
	},
}

func init() {
	tuiCmd.Flags().StringVar(&tuiRPCURL, "rpc", "", "RPC endpoint URL (default http://<server.listen>/rpc)")
	rootCmd.AddCommand(tuiCmd)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	holonlog "github.com/holon-run/localagent/pkg/log"
	"github.com/holon-run/localagent/pkg/search"
	"github.com/spf13/cobra"
)

var findLimit int

var findCmd = &cobra.Command{
	Use:   "find <directory> <pattern>",
	Short: "Run one search in-process and print the matches",
	Long: `Walk directory for files whose base name matches pattern ("*" and "?"
wildcards, case-insensitive, anchored on the whole name) and print each
absolute path on its own line in discovery order. Directories on the skip list
(node_modules, .git, ...) are not entered.

Interrupting the command stops the search and prints what was found so far.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer holonlog.Sync()

		registry := search.NewRegistry(search.RegistryConfig{
			SkipDirs:        cfg.Search.SkipDirs,
			DefaultPageSize: cfg.Search.DefaultPageSize,
		})
		defer registry.Shutdown()

		id, err := registry.Start(args[0], args[1])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := registry.Wait(ctx, id); err != nil {
			if !errors.Is(err, context.Canceled) {
				return err
			}
			if _, err := registry.Stop(id); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		printed := 0
		for offset := 0; ; {
			page, err := registry.Results(id, offset, cfg.Search.DefaultPageSize)
			if err != nil {
				return err
			}
			for _, p := range page.Results {
				if findLimit > 0 && printed >= findLimit {
					return nil
				}
				fmt.Fprintln(out, p)
				printed++
			}
			if !page.HasMore {
				holonlog.Info("search finished", "id", id, "status", page.Status,
					"total", page.Total, "scanned_directories", page.ScannedDirectories)
				return nil
			}
			offset += len(page.Results)
		}
	},
}

func init() {
	findCmd.Flags().IntVar(&findLimit, "limit", 0, "Print at most n paths (0 prints all)")
	rootCmd.AddCommand(findCmd)
}

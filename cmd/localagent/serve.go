package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	holonlog "github.com/holon-run/localagent/pkg/log"
	"github.com/holon-run/localagent/pkg/procsession"
	"github.com/holon-run/localagent/pkg/search"
	"github.com/holon-run/localagent/pkg/serve"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveListen string
	serveStdio  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve search and process sessions over JSON-RPC",
	Long: `Run the session registries behind JSON-RPC transports.

By default the HTTP transport listens on the configured address and serves
POST /rpc, the /ws WebSocket endpoint and GET /health. With --stdio requests
are read from stdin (one JSON object per line) and responses are written to
stdout; pass --listen explicitly to run both transports.

On SIGINT or SIGTERM the HTTP server shuts down, running searches are
cancelled and every process session is killed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer holonlog.Sync()

		listen := cfg.Server.Listen
		if cmd.Flags().Changed("listen") {
			listen = serveListen
		}
		runHTTP := !serveStdio || cmd.Flags().Changed("listen")

		broadcaster := serve.NewNotificationBroadcaster()
		searches := search.NewRegistry(search.RegistryConfig{
			SkipDirs:        cfg.Search.SkipDirs,
			DefaultPageSize: cfg.Search.DefaultPageSize,
			OnFinish:        broadcaster.SearchFinished,
		})
		processes := procsession.NewRegistry(procsession.Config{
			MaxChunks:      cfg.Process.MaxChunks,
			RetainChunks:   cfg.Process.RetainChunks,
			ReadBufferSize: cfg.Process.ReadBufferSize,
			OnExit:         broadcaster.ProcessExited,
		})
		defer func() {
			searches.Shutdown()
			processes.Shutdown()
			holonlog.Info("sessions shut down")
		}()

		methods := serve.NewMethodRegistry()
		serve.NewService(serve.ServiceConfig{
			Searches:    searches,
			Processes:   processes,
			MaxPageSize: cfg.Search.MaxPageSize,
			Version:     Version,
		}).Register(methods)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		if runHTTP {
			srv, err := serve.NewHTTPServer(serve.HTTPConfig{
				Addr:        listen,
				Methods:     methods,
				Broadcaster: broadcaster,
			})
			if err != nil {
				return err
			}
			g.Go(func() error {
				return srv.Start(gctx)
			})
		}
		if serveStdio {
			g.Go(func() error {
				// End of input ends the whole server.
				defer cancel()
				return serve.ServeStdio(gctx, os.Stdin, os.Stdout, methods, broadcaster)
			})
		}

		holonlog.Info("serve started", "http", runHTTP, "listen", listen, "stdio", serveStdio)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (default from config, 127.0.0.1:7300)")
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "Serve NDJSON JSON-RPC on stdin/stdout")
	rootCmd.AddCommand(serveCmd)
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/checkdeck/checkdeck/internal/webserver"
)

func newServeCommand() *cobra.Command {
	var port int
	var outputDir string
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Preview rendered reports in a browser",
		Long: `Serve the rendered output directory over local HTTP.

The server binds to loopback only and serves the rendered documents plus a
small JSON API:

  /api/health    Liveness probe
  /api/report    The raw report.json
  /api/summary   Derived statuses and counts

Press Ctrl-C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := webserver.New(webserver.Config{
				Port:      port,
				OutputDir: outputDir,
				NoBrowser: noBrowser,
				Logger:    slog.Default(),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 3000, "Port to listen on")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "checkdeck-out", "Rendered output directory to serve")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Do not open the browser automatically")

	return cmd
}

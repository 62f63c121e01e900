package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/docvec/internal/server"
)

func newServerCmd(g *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve the HTTP API",
		Long: `Starts the HTTP API on server.host:server.port. When reconcile.interval
is set, a background sweep repairs record pairs left inconsistent by failed writes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, true, func(ctx context.Context, c *Components) error {
				if port > 0 {
					c.Config.Server.Port = port
				}
				srv := server.NewServer(c.Store, c.Config, c.Logger, server.WithDiskUsage(c.diskUsage()))

				errc := make(chan error, 1)
				go func() { errc <- srv.Start(ctx) }()
				select {
				case err := <-errc:
					return err
				case <-ctx.Done():
				}

				c.Logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Stop(shutdownCtx); err != nil {
					c.Logger.Warn("server shutdown failed", zap.Error(err))
				}
				return <-errc
			})
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}

package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/tally/internal/logger"
	"github.com/cleared-dev/tally/internal/server"
)

func newServeCommand(g *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the statement upload API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			if addr == "" {
				addr = ws.Config.Server.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(ws, logger.FromContext(ctx))
			return srv.Run(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from tally.yaml)")

	return cmd
}


package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWorkerCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run queue loops, the promoter, the recurring trigger, and the cleanup sweeper",
		Long: `Run queue loops, the promoter, the recurring trigger, and the cleanup sweeper
until SIGINT or SIGTERM.

Only built-in job types have handlers here (cache.invalidate, when the store
is Redis). Applications with their own handlers embed the engine package.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := s.open(ctx)
			if err != nil {
				return err
			}
			if err := rt.engine.Start(ctx); err != nil {
				_ = rt.close(context.Background())
				return err
			}
			s.logger.Info("worker running", slog.String("store", s.backend))

			<-ctx.Done()
			s.logger.Info("shutdown requested")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
			defer cancel()
			return rt.close(shutdownCtx)
		},
	}
}

package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func init() {
	workerCmd.Flags().DurationVar(&workerPoll, "poll", 30*time.Second,
		"interval for picking up pending jobs from the store")
	rootCmd.AddCommand(workerCmd)
}

var workerPoll time.Duration

// workerCmd runs the pool without the HTTP boundary: jobs submitted by
// another instance (or stranded by a crash) are picked up from the store.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a standalone worker pool draining pending jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return e.Pool.Start(ctx, cfg.Worker.Count)
		})
		g.Go(func() error {
			ticker := time.NewTicker(workerPoll)
			defer ticker.Stop()
			for {
				n, err := e.Service.RequeuePending(ctx)
				if err != nil {
					zap.L().Warn("requeue of pending jobs failed", zap.Error(err))
				} else if n > 0 {
					zap.L().Info("pending jobs requeued", zap.Int("jobs", n))
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})

		zap.L().Info("worker pool started",
			zap.Int("workers", cfg.Worker.Count),
			zap.Duration("poll", workerPoll))
		return g.Wait()
	},
}

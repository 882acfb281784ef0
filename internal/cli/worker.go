package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/law-makers/panelwatch/internal/app"
	"github.com/law-makers/panelwatch/internal/ui"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued scrape and login jobs",
	Long: `Runs the job workers until interrupted.

Jobs left active by a crashed worker become visible again after the visibility
timeout and are picked up here. Finished jobs older than --retain are purged on
start.`,
	Example: `  # Process jobs with the configured concurrency
  $ panelwatch worker

  # Keep finished jobs for a day
  $ panelwatch worker --retain 24h`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().Duration("retain", 7*24*time.Hour, "Purge finished jobs older than this on start (0 keeps all)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	a := mustApp(cmd)
	ctx := cmd.Context()

	retain, _ := cmd.Flags().GetDuration("retain")
	if err := purgeJobs(ctx, a, retain); err != nil {
		return err
	}

	pool, err := a.NewWorkerPool()
	if err != nil {
		return err
	}
	pool.Start(ctx)

	fmt.Println(ui.Info(fmt.Sprintf("Processing jobs with %d workers, press Ctrl+C to stop", a.Config.QueueConcurrency)))
	<-ctx.Done()
	log.Warn().Msg("Interrupt received, finishing running jobs")
	pool.Stop()
	return nil
}

// purgeJobs drops finished jobs older than retain and logs what is queued
func purgeJobs(ctx context.Context, a *app.Application, retain time.Duration) error {
	broker, err := a.Broker()
	if err != nil {
		return err
	}
	if retain > 0 {
		n, err := broker.Purge(ctx, time.Now().Add(-retain))
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info().Int("purged", n).Dur("retain", retain).Msg("Purged finished jobs")
		}
	}

	stats, err := broker.Stats(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Int("pending", stats.Pending).
		Int("active", stats.Active).
		Int("completed", stats.Completed).
		Int("failed", stats.Failed).
		Msg("Queue state")
	return nil
}

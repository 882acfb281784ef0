package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/law-makers/panelwatch/internal/ui"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the RPC server, job workers and scheduler",
	Long: `Runs everything in one process until interrupted:

- the RPC server (POST /rpc/login, POST /rpc/scrapChannel, GET /rpc/jobs/{id},
GET /rpc/session, and the /events websocket)
- the job workers
- the scheduler that queues a scrape of every tracked channel`,
	Example: `  # Serve on the configured address
  $ panelwatch serve

  # Scrape every three hours and once right away
  $ panelwatch serve --schedule "@every 3h" --run-now

  # Serve without periodic scrapes
  $ panelwatch serve --no-schedule`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (defaults to the configured server address)")
	serveCmd.Flags().String("schedule", "", "Cron spec for channel scrapes (defaults to the configured schedule)")
	serveCmd.Flags().Bool("no-schedule", false, "Do not queue periodic scrapes")
	serveCmd.Flags().Bool("run-now", false, "Queue a scrape of every tracked channel on start")
}

func runServe(cmd *cobra.Command, args []string) error {
	a := mustApp(cmd)
	ctx := cmd.Context()

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		a.Config.ServerAddr = addr
	}
	if err := purgeJobs(ctx, a, 7*24*time.Hour); err != nil {
		return err
	}

	pool, err := a.NewWorkerPool()
	if err != nil {
		return err
	}
	pool.Start(ctx)
	defer pool.Stop()

	if noSchedule, _ := cmd.Flags().GetBool("no-schedule"); !noSchedule {
		sched, err := a.NewScheduler()
		if err != nil {
			return err
		}
		spec, _ := cmd.Flags().GetString("schedule")
		if spec == "" {
			spec = a.Config.ScrapeSchedule
		}
		if err := sched.Start(spec); err != nil {
			return err
		}
		defer sched.Stop()

		if runNow, _ := cmd.Flags().GetBool("run-now"); runNow {
			sched.RunNow()
		}
	}

	srv, err := a.NewServer()
	if err != nil {
		return err
	}
	fmt.Println(ui.Info(fmt.Sprintf("Serving on http://%s, press Ctrl+C to stop", a.Config.ServerAddr)))
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}

	log.Info().Dur("uptime", a.Uptime()).Msg("Server stopped")
	return nil
}

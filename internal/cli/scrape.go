package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/law-makers/panelwatch/internal/app"
	"github.com/law-makers/panelwatch/internal/queue"
	"github.com/law-makers/panelwatch/internal/storage"
	"github.com/law-makers/panelwatch/internal/ui"
	"github.com/law-makers/panelwatch/internal/utils/output"
	urlutil "github.com/law-makers/panelwatch/internal/utils/url"
	"github.com/law-makers/panelwatch/pkg/models"
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape [channel]",
	Short: "Queue scrapes for new videos",
	Long: `Queue a scrape of one channel, or of every tracked channel with --all.

A scrape lists videos published since the channel was last checked through the
video API and stores the ones not seen before. When the API quota is spent and a
login session exists, the channel page is read in the browser instead.

Jobs are processed by "panelwatch worker" or "panelwatch serve". With --wait the
jobs are processed in this process and a progress bar is shown until all of
them finish.`,
	Example: `  # Queue a scrape of one channel
  $ panelwatch scrape @GoogleDevelopers

  # Scrape all tracked channels now and wait for the results
  $ panelwatch scrape --all --wait

  # Log in with the stored credentials before scraping
  $ panelwatch scrape UC_x5XG1OV2P6uZZ5FSM9Ttw --login --wait --output results.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().Bool("all", false, "Scrape every tracked channel")
	scrapeCmd.Flags().Bool("wait", false, "Process the jobs here and wait for them to finish")
	scrapeCmd.Flags().Bool("login", false, "Log in with the stored credentials before scraping")
	scrapeCmd.Flags().StringP("output", "o", "", "With --wait, save the job results to this JSON file")
}

func runScrape(cmd *cobra.Command, args []string) error {
	a := mustApp(cmd)
	all, _ := cmd.Flags().GetBool("all")
	wait, _ := cmd.Flags().GetBool("wait")
	withLogin, _ := cmd.Flags().GetBool("login")
	outPath, _ := cmd.Flags().GetString("output")

	if all == (len(args) == 1) {
		return fmt.Errorf("give either a channel or --all")
	}

	store, err := a.Store()
	if err != nil {
		return err
	}
	jobs, err := scrapeJobs(store, args, all)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("\nNo tracked channels. Add one with \"panelwatch channels add <channel>\".")
		fmt.Println()
		return nil
	}
	if withLogin {
		creds, err := a.Credentials.Get()
		if err != nil {
			return fmt.Errorf("--login needs stored credentials: %w", err)
		}
		for i := range jobs {
			jobs[i].Email = creds.Email
			jobs[i].Password = creds.Password
		}
	}

	ctx := cmd.Context()
	producer, err := a.Producer()
	if err != nil {
		return err
	}

	// Subscribe before enqueueing so no transition is missed
	var (
		events      <-chan queue.Event
		unsubscribe = func() {}
	)
	if wait {
		events, unsubscribe = a.Events.Subscribe(256)
	}
	defer unsubscribe()

	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		id, err := producer.EnqueueScrape(ctx, job)
		if err != nil {
			return fmt.Errorf("failed to queue %s: %w", job.ChannelID, err)
		}
		log.Debug().Str("job_id", id).Str("channel_id", job.ChannelID).Msg("Scrape queued")
		ids = append(ids, id)
	}

	if !wait {
		if wantJSON(cmd) {
			return emitJSON(ids)
		}
		fmt.Println(ui.Success(fmt.Sprintf("✓ %s (%d)", ui.MsgScrapeQueued, len(ids))))
		for i, id := range ids {
			fmt.Printf("  %s  %s\n", ui.ColorDim+id+ui.ColorReset, jobs[i].ChannelID)
		}
		return nil
	}

	records, err := waitForJobs(ctx, a, producer, events, ids, "Scraping")
	if err != nil {
		return err
	}
	if outPath != "" {
		if err := output.SaveJSON(records, outPath); err != nil {
			return fmt.Errorf("failed to save results: %w", err)
		}
	}
	if wantJSON(cmd) {
		return emitJSON(records)
	}
	return printScrapeSummary(records)
}

// scrapeJobs builds the job payloads for one channel argument or for every stored channel
func scrapeJobs(store *storage.Store, args []string, all bool) ([]models.ScrapeJob, error) {
	if all {
		channels, err := store.ListChannels()
		if err != nil {
			return nil, err
		}
		jobs := make([]models.ScrapeJob, 0, len(channels))
		for _, ch := range channels {
			jobs = append(jobs, models.ScrapeJob{
				Title:       ch.Title,
				Description: ch.Description,
				URL:         ch.URL,
				ChannelID:   ch.ID,
			})
		}
		return jobs, nil
	}

	ref, err := urlutil.ParseChannel(args[0])
	if err != nil {
		return nil, err
	}
	job := models.ScrapeJob{URL: ref.URL(), ChannelID: ref.String()}
	if ref.ID != "" {
		if ch, err := store.GetChannel(ref.ID); err == nil {
			job.Title = ch.Title
			job.Description = ch.Description
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return []models.ScrapeJob{job}, nil
}

// waitForJobs runs a worker pool until every job in ids is terminal. desc labels
// the progress bar.
func waitForJobs(ctx context.Context, a *app.Application, producer *queue.Producer, events <-chan queue.Event, ids []string, desc string) ([]*queue.Job, error) {
	pool, err := a.NewWorkerPool()
	if err != nil {
		return nil, err
	}
	pool.Start(ctx)
	defer pool.Stop()

	bar := progressbar.NewOptions(len(ids),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil, fmt.Errorf("event stream closed")
			}
			if !pending[ev.JobID] {
				continue
			}
			switch ev.Type {
			case queue.EventActive:
				bar.Describe(fmt.Sprintf("%s (attempt %d)", desc, ev.Attempt))
			case queue.EventCompleted, queue.EventFailed:
				job, err := producer.Get(ctx, ev.JobID)
				if err != nil {
					return nil, err
				}
				if job.Status.Terminal() {
					delete(pending, ev.JobID)
					_ = bar.Add(1)
				}
			}
		}
	}
	_ = bar.Finish()

	records := make([]*queue.Job, 0, len(ids))
	for _, id := range ids {
		job, err := producer.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		// Payloads carry credentials for authenticated scrapes
		job.Payload = nil
		records = append(records, job)
	}
	return records, nil
}

func printScrapeSummary(records []*queue.Job) error {
	title("📥 Scrape Results")

	var failed int
	for _, job := range records {
		if job.Status != queue.StatusCompleted {
			failed++
			fmt.Printf("%s %s\n", ui.Error("✗"), job.ID)
			fmt.Printf("   %s\n", job.LastError)
			continue
		}

		var res models.ScrapeResult
		if err := json.Unmarshal(job.Result, &res); err != nil {
			return fmt.Errorf("failed to decode result of job %s: %w", job.ID, err)
		}
		fmt.Printf("%s %s\n", ui.Success("✓"), ui.Bold(res.ChannelID))
		fmt.Printf("   New videos: %d (via %s)\n", res.NewVideos, res.Source)
		for _, id := range res.VideoIDs {
			fmt.Printf("   • %s\n", urlutil.VideoURL(id))
		}
	}
	fmt.Println()

	if failed > 0 {
		return fmt.Errorf("%d/%d scrapes failed", failed, len(records))
	}
	fmt.Println(ui.Success(ui.MsgScrapeSucceeded))
	return nil
}

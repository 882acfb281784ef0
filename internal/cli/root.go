package cli

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/law-makers/panelwatch/internal/app"
	"github.com/law-makers/panelwatch/internal/config"
)

const shutdownTimeout = 30 * time.Second

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "panelwatch",
	Short: "Monitor video channels for a discussion panel",
	Long: `Panelwatch keeps a logged-in browser session for a Google account, tracks a list
of video channels and collects newly published videos into a local database.

Scrapes run as queued jobs. Start a worker (or the RPC server) to process them.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with ctx, which is cancelled on interrupt.
// The application is initialized lazily in PersistentPreRunE.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Command failed")
	}
	return err
}

func init() {
	config.RegisterFlags(rootCmd)

	rootCmd.Flags().BoolP("help", "h", false, "Help for Panelwatch")
	rootCmd.Flags().Bool("version", false, "Version for Panelwatch")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpFunc(customHelpFunc)
	rootCmd.SetUsageFunc(customUsageFunc)

	// Initialize lazily so -h and help never open the browser profile or database
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if GetAppFromCmd(cmd) != nil {
			return nil
		}

		cfg, err := config.Load(cmd)
		if err != nil {
			return err
		}

		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		SetApp(cmd, a)
		active = a
		return nil
	}

	// Finalizers run even when the command fails, unlike PersistentPostRun
	cobra.OnFinalize(closeApp)
}

// active is the application built for the running command
var active *app.Application

func closeApp() {
	if active == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = active.Close(ctx)
	active = nil
}

// mustApp returns the application initialized for cmd
func mustApp(cmd *cobra.Command) *app.Application {
	a := GetAppFromCmd(cmd)
	if a == nil {
		panic("application not initialized for " + cmd.CommandPath())
	}
	return a
}

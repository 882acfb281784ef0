package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/law-makers/panelwatch/internal/auth"
	"github.com/law-makers/panelwatch/internal/ui"
)

var importFormat string

// sessionCmd represents the session command
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or replace the saved login session",
	Long: `View, clear, or import the saved login session.

The session is a single JSON file of browser cookies. It is written after every
successful login and applied to the browser before authenticated scrapes.`,
	Example: `  # Show cookie count, domains and expiry
  $ panelwatch session view

  # Remove the session file
  $ panelwatch session clear

  # Replace the session with cookies exported from your browser
  $ panelwatch session import cookies.json

  # Import a Netscape/curl cookie jar from stdin
  $ panelwatch session import --format netscape < cookies.txt`,
}

var sessionViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show details of the saved session",
	Args:  cobra.NoArgs,
	RunE:  runSessionView,
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the saved session",
	Args:  cobra.NoArgs,
	RunE:  runSessionClear,
}

var sessionImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Replace the session with exported cookies",
	Long: `Import cookies exported from a regular browser to create the session.

This is useful in headless environments where the login window cannot be shown.
Sign in normally in your browser, export the cookies for google.com and
youtube.com as a JSON array or a Netscape cookie file, then import them here.
The input is parsed in full before the session file is replaced.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessionImport,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionViewCmd)
	sessionCmd.AddCommand(sessionClearCmd)
	sessionCmd.AddCommand(sessionImportCmd)

	sessionImportCmd.Flags().StringVar(&importFormat, "format", auth.FormatJSON, "Import format: json, netscape")
}

func runSessionView(cmd *cobra.Command, args []string) error {
	sum := mustApp(cmd).Sessions.Summary()
	if wantJSON(cmd) {
		return emitJSON(sum)
	}

	title("🔍 Saved Session")
	field("File:", sum.Path)
	if !sum.Exists {
		fmt.Printf("\n%s\n", ui.Info("No saved session. Run \"panelwatch login\" to create one."))
		fmt.Println()
		return nil
	}
	field("Modified:", formatTime(sum.ModifiedAt))
	if !sum.Valid {
		field("Status:", ui.Error("⚠️  Unreadable ("+sum.Error+")"))
		fmt.Println()
		return nil
	}

	field("Cookies:", strconv.Itoa(sum.Cookies))
	field("Domains:", strings.Join(sum.Domains, ", "))
	if !sum.EarliestExpiry.IsZero() {
		field("Earliest:", expiryLabel(sum.EarliestExpiry))
		field("Latest:", expiryLabel(sum.LatestExpiry))
	}
	fmt.Println()
	return nil
}

func expiryLabel(t time.Time) string {
	if time.Now().After(t) {
		return fmt.Sprintf("%s (expired %s ago)", formatTime(t), time.Since(t).Round(time.Hour))
	}
	return fmt.Sprintf("%s (in %s)", formatTime(t), time.Until(t).Round(time.Hour))
}

func runSessionClear(cmd *cobra.Command, args []string) error {
	sessions := mustApp(cmd).Sessions
	if err := sessions.Clear(); err != nil {
		return err
	}
	log.Info().Str("path", sessions.Path()).Msg("Session cleared")
	fmt.Println(ui.Success("✓ Session cleared"))
	return nil
}

func runSessionImport(cmd *cobra.Command, args []string) error {
	var r io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open cookie file: %w", err)
		}
		defer f.Close()
		r = f
	}

	sessions := mustApp(cmd).Sessions
	n, err := sessions.Import(r, strings.ToLower(importFormat))
	if err != nil {
		return fmt.Errorf("failed to import session: %w", err)
	}

	log.Info().Int("cookie_count", n).Str("format", importFormat).Msg("Session imported")
	fmt.Println(ui.Success(fmt.Sprintf("✓ Imported %d cookies into %s", n, sessions.Path())))
	return nil
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/law-makers/panelwatch/internal/app"
	"github.com/law-makers/panelwatch/internal/auth"
	"github.com/law-makers/panelwatch/internal/queue"
	"github.com/law-makers/panelwatch/internal/ui"
	"github.com/law-makers/panelwatch/pkg/models"
)

var (
	loginEmail    string
	loginPassword string
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the Google account and save the session",
	Long: `Opens the persistent browser profile and drives the Google sign-in flow.

With an email (from --email or the keyring, see "credentials set") the email and
password steps are filled automatically. Anything else, such as 2-step verification
or a captcha, is left for you to finish in the browser window before the manual
wait timeout runs out.

On success the browser cookies are written to the session file and are reused by
authenticated scrapes.

With --queue the login becomes a check-login job for "panelwatch worker" or
"panelwatch serve". The worker reads the keyring when no --email is given.`,
	Example: `  # Log in with credentials stored in the keyring
  $ panelwatch login

  # Log in with explicit credentials
  $ panelwatch login --email panel@example.com --password hunter2

  # Sign in by hand in the browser window
  $ panelwatch login --manual

  # Queue the login for a worker and wait for it here
  $ panelwatch login --queue --wait`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email (defaults to the keyring)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (defaults to the keyring)")
	loginCmd.Flags().Bool("manual", false, "Ignore stored credentials and sign in by hand")
	loginCmd.Flags().Bool("queue", false, "Queue the login as a job instead of running it here")
	loginCmd.Flags().Bool("wait", false, "With --queue, process the job here and wait for it")
}

func runLogin(cmd *cobra.Command, args []string) error {
	a := mustApp(cmd)

	if queued, _ := cmd.Flags().GetBool("queue"); queued {
		return runQueuedLogin(cmd, a)
	}

	manual, _ := cmd.Flags().GetBool("manual")
	creds, err := loginCredentials(a.Credentials, manual)
	if err != nil {
		return err
	}

	log.Info().
		Str("account", creds.String()).
		Str("session_file", a.Sessions.Path()).
		Msg("Initiating login")

	if !wantJSON(cmd) {
		title("🔐 Account Login")
		field("Account:", creds.String())
		field("Session:", a.Sessions.Path())
		field("Wait:", a.Config.ManualWaitTimeout.String())
		fmt.Println()
	}

	res := a.Login.Login(cmd.Context(), creds)
	if wantJSON(cmd) {
		if err := emitJSON(res); err != nil {
			return err
		}
	} else if res.Success {
		fmt.Println(ui.Success("✓ " + res.Message))
		field("State:", string(res.State))
		field("Cookies:", strconv.Itoa(res.Cookies))
		fmt.Println()
	} else {
		fmt.Println(ui.Error("✗ " + res.Message))
		field("Error:", res.Error)
		fmt.Println()
	}

	if !res.Success {
		return fmt.Errorf("login failed: %s", res.Error)
	}
	return nil
}

// loginCredentials picks flag credentials over stored ones. A missing keyring
// entry leaves the flow credential-less.
func loginCredentials(store *auth.CredentialStore, manual bool) (*auth.Credentials, error) {
	if loginEmail != "" || loginPassword != "" {
		if loginEmail == "" {
			return nil, fmt.Errorf("--password requires --email")
		}
		return &auth.Credentials{Email: loginEmail, Password: loginPassword}, nil
	}
	if manual {
		return &auth.Credentials{}, nil
	}

	creds, err := store.Get()
	switch {
	case err == nil:
		return creds, nil
	case errors.Is(err, auth.ErrNoCredentials):
		log.Info().Msg("No stored credentials, waiting for manual sign-in")
	default:
		log.Warn().Err(err).Msg("Keyring unavailable, waiting for manual sign-in")
	}
	return &auth.Credentials{}, nil
}

// loginJob is the payload for a queued login. Only flag credentials go into it;
// the job handler falls back to the keyring.
func loginJob() (queue.LoginJob, error) {
	if loginPassword != "" && loginEmail == "" {
		return queue.LoginJob{}, fmt.Errorf("--password requires --email")
	}
	return queue.LoginJob{Email: loginEmail, Password: loginPassword}, nil
}

func runQueuedLogin(cmd *cobra.Command, a *app.Application) error {
	ctx := cmd.Context()
	wait, _ := cmd.Flags().GetBool("wait")

	job, err := loginJob()
	if err != nil {
		return err
	}
	producer, err := a.Producer()
	if err != nil {
		return err
	}

	var (
		events      <-chan queue.Event
		unsubscribe = func() {}
	)
	if wait {
		events, unsubscribe = a.Events.Subscribe(64)
	}
	defer unsubscribe()

	id, err := producer.EnqueueLogin(ctx, job)
	if err != nil {
		return err
	}
	if !wait {
		if wantJSON(cmd) {
			return emitJSON(models.LoginResponse{Success: true, Message: ui.MsgLoginQueued, JobID: id})
		}
		fmt.Println(ui.Success("✓ " + ui.MsgLoginQueued))
		fmt.Printf("  %s\n", ui.ColorDim+id+ui.ColorReset)
		return nil
	}

	records, err := waitForJobs(ctx, a, producer, events, []string{id}, "Logging in")
	if err != nil {
		return err
	}
	rec := records[0]
	if wantJSON(cmd) {
		return emitJSON(rec)
	}

	var res auth.LoginResult
	if len(rec.Result) > 0 {
		if err := json.Unmarshal(rec.Result, &res); err != nil {
			return fmt.Errorf("failed to decode login result: %w", err)
		}
	}
	if rec.Status != queue.StatusCompleted {
		fmt.Println(ui.Error("✗ " + ui.MsgLoginFailed))
		field("Error:", rec.LastError)
		fmt.Println()
		return fmt.Errorf("login failed: %s", rec.LastError)
	}
	fmt.Println(ui.Success("✓ " + ui.MsgLoginSuccess))
	field("State:", string(res.State))
	field("Cookies:", strconv.Itoa(res.Cookies))
	fmt.Println()
	return nil
}

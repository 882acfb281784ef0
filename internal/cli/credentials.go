package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/law-makers/panelwatch/internal/auth"
	"github.com/law-makers/panelwatch/internal/ui"
)

// credentialsCmd represents the credentials command
var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage the account credentials stored in the OS keyring",
	Long: `Store or remove the Google account email and password used by "login",
scheduled authenticated scrapes, and the RPC login endpoint when no
credentials are sent.

Credentials are kept in your OS keyring under the "panelwatch" service.`,
	Example: `  # Store credentials, prompting for the password
  $ panelwatch credentials set --email panel@example.com

  # Remove stored credentials
  $ panelwatch credentials delete`,
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store account credentials",
	Args:  cobra.NoArgs,
	RunE:  runCredentialsSet,
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove stored account credentials",
	Args:  cobra.NoArgs,
	RunE:  runCredentialsDelete,
}

func init() {
	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credentialsSetCmd)
	credentialsCmd.AddCommand(credentialsDeleteCmd)

	credentialsSetCmd.Flags().String("email", "", "Account email (required)")
	credentialsSetCmd.Flags().String("password", "", "Account password (prompted when omitted)")
	credentialsSetCmd.MarkFlagRequired("email")
}

func runCredentialsSet(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")

	if password == "" {
		fmt.Print("Password (leave empty to type it in the browser): ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			password = strings.TrimSpace(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
	}

	creds := auth.Credentials{Email: strings.TrimSpace(email), Password: password}
	if err := mustApp(cmd).Credentials.Set(creds); err != nil {
		return err
	}
	fmt.Println(ui.Success("✓ Credentials saved for " + creds.String()))
	return nil
}

func runCredentialsDelete(cmd *cobra.Command, args []string) error {
	if err := mustApp(cmd).Credentials.Delete(); err != nil {
		return err
	}
	fmt.Println(ui.Success("✓ Credentials removed"))
	return nil
}

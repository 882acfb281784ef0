package config

import "github.com/spf13/cobra"

// RegisterFlags registers common CLI flags on the provided root command
func RegisterFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress all output except errors")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format only")
	cmd.PersistentFlags().String("data-dir", "", "Directory for the database, session file, profile and debug artifacts")
	cmd.PersistentFlags().String("timeout", "30s", "Set hard timeout for API requests")
	cmd.PersistentFlags().String("user-agent", "", "Custom browser user agent string")
	cmd.PersistentFlags().Bool("headless", false, "Run the browser without a window (manual login challenges cannot be completed)")
	cmd.PersistentFlags().String("config", "", "Path to a TOML configuration file (optional)")
}

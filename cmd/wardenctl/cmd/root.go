// Package cmd implements the wardenctl CLI commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/internal/version"
)

var (
	// Global flags
	eventsDBPath string
	outputFormat string
)

// OutputFormat returns the selected output format ("text" or "json").
func OutputFormat() string {
	return outputFormat
}

var rootCmd = &cobra.Command{
	Use:   "wardenctl",
	Short: "Inspect and test warden file-access policies",
	Long: `wardenctl works with the warden daemon's rule configuration and
event database.

It validates watch-item configurations before deployment, evaluates
hypothetical accesses against a configuration, and lists recorded
rule violations.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&eventsDBPath, "events-db", "",
		"access event database path (default: per-user data dir)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text",
		"error output format (text or json)")
}

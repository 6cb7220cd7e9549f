package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/pkg/clierror"
	"github.com/wardenlabs/warden/pkg/policy"
)

var validateCmd = &cobra.Command{
	Use:   "validate <config-file>",
	Short: "Validate a watch-item configuration",
	Long: `Parse and compile a watch-item configuration without installing it.

Exits non-zero with the first configuration error found; a valid
configuration prints its rule counts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := policy.LoadConfigFile(args[0])
		if err != nil {
			color.Red("✗ %v", err)
			if errors.Is(err, fs.ErrNotExist) {
				return clierror.ConfigNotFound(args[0])
			}
			return clierror.ConfigInvalid(args[0], err)
		}

		dataPolicies, processPolicies, err := cfg.Compile()
		if err != nil {
			color.Red("✗ %v", err)
			return clierror.ConfigInvalid(args[0], err)
		}

		color.Green("✓ configuration valid")
		fmt.Printf("  policy version:   %s\n", cfg.Version)
		fmt.Printf("  watch items:      %d\n", len(cfg.WatchItems))
		fmt.Printf("  data rules:       %d\n", len(dataPolicies))
		fmt.Printf("  process rules:    %d\n", len(processPolicies))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

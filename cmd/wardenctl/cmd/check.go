package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/pkg/clierror"
	"github.com/wardenlabs/warden/pkg/engine"
	"github.com/wardenlabs/warden/pkg/policy"
)

var (
	checkConfig   string
	checkTarget   string
	checkWrite    bool
	checkProcess  string
	checkSignID   string
	checkTeamID   string
	checkCDHash   string
	checkCertHash string
	checkPlatform bool
	checkPid      int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate a hypothetical access against a configuration",
	Long: `Compile the given configuration and render the decision for one
target path and instigating process, exactly as the daemon would.

Example:

  wardenctl check --config rules.yaml \
      --target /usr/bin/ls --write \
      --process /bin/bad --signing-id EXAMPLE123:com.example.bad`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := policy.LoadConfigFile(checkConfig)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return clierror.ConfigNotFound(checkConfig)
			}
			return clierror.ConfigInvalid(checkConfig, err)
		}

		// Discard decision logs; the verdict goes to stdout.
		logger := slog.New(slog.DiscardHandler)
		store := policy.NewStore(logger)
		snap, err := store.Rebuild(cfg)
		if err != nil {
			return clierror.ConfigInvalid(checkConfig, err)
		}
		store.Install(snap, checkConfig)

		eng := engine.New(engine.Config{Store: store, Logger: logger})
		d := eng.Evaluate(engine.Event{
			TargetPath:  checkTarget,
			WriteAccess: checkWrite,
			Instigator: policy.ProcessIdentity{
				Pid:               checkPid,
				BinaryPath:        checkProcess,
				SigningID:         checkSignID,
				TeamID:            checkTeamID,
				CDHash:            checkCDHash,
				CertificateSHA256: checkCertHash,
				PlatformBinary:    checkPlatform,
			},
		})

		switch {
		case !d.Matched:
			color.Green("ALLOW (no rule governs this path/process)")
		case d.AuditOnly:
			color.Yellow("ALLOW (audit-only violation of %q)", d.PolicyName)
		case d.Allowed:
			color.Green("ALLOW (rule %q)", d.PolicyName)
		default:
			color.Red("DENY (rule %q)", d.PolicyName)
		}
		if d.Matched {
			fmt.Printf("  policy version: %s\n", d.PolicyVersion)
			fmt.Printf("  silent:         %v (tty: %v)\n", d.Silent, d.SilentTTY)
			if d.CustomMessage != "" {
				fmt.Printf("  message:        %s\n", d.CustomMessage)
			}
			if d.EventDetailURL != "" {
				fmt.Printf("  detail link:    %s\n", d.EventDetailURL)
			}
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkConfig, "config", "/etc/warden/rules.yaml", "configuration file")
	checkCmd.Flags().StringVar(&checkTarget, "target", "", "target path being accessed")
	checkCmd.Flags().BoolVar(&checkWrite, "write", false, "treat the access as a write")
	checkCmd.Flags().StringVar(&checkProcess, "process", "", "instigating process binary path")
	checkCmd.Flags().StringVar(&checkSignID, "signing-id", "", "instigator signing ID")
	checkCmd.Flags().StringVar(&checkTeamID, "team-id", "", "instigator team ID")
	checkCmd.Flags().StringVar(&checkCDHash, "cdhash", "", "instigator cdhash (hex)")
	checkCmd.Flags().StringVar(&checkCertHash, "cert-sha256", "", "instigator certificate SHA-256 (hex)")
	checkCmd.Flags().BoolVar(&checkPlatform, "platform-binary", false, "instigator is a platform binary")
	checkCmd.Flags().IntVar(&checkPid, "pid", 0, "instigator pid")
	checkCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(checkCmd)
}

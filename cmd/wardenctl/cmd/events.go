package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/pkg/clierror"
	"github.com/wardenlabs/warden/pkg/store"
)

var (
	eventsPolicy string
	eventsLimit  int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recorded rule violations",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := eventsDBPath
		if path == "" {
			path = store.DefaultPath()
		}
		db, err := store.Open(path)
		if err != nil {
			return clierror.DatabaseUnavailable(path, err)
		}
		defer db.Close()

		events, err := db.List(eventsPolicy, eventsLimit)
		if err != nil {
			return clierror.DatabaseUnavailable(path, err)
		}
		if len(events) == 0 {
			fmt.Println("no events recorded")
			return nil
		}

		for _, ev := range events {
			stamp := ev.Timestamp.Format("2006-01-02 15:04:05")
			if ev.Decision == "deny" {
				color.Red("%s  DENY   %-30s %s", stamp, ev.PolicyName, ev.Target)
			} else {
				color.Yellow("%s  AUDIT  %-30s %s", stamp, ev.PolicyName, ev.Target)
			}
			fmt.Printf("%21s by %s (pid %d)\n", "", ev.Process.BinaryPath, ev.Process.Pid)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsPolicy, "policy", "", "filter by rule name")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum events to list")
	rootCmd.AddCommand(eventsCmd)
}

// Package main implements the sigctl CLI for operating a running signald.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the signald HTTP server
	serverURL string
	// timeout bounds every request
	timeout time.Duration
	// rawJSON prints response bodies instead of tables
	rawJSON bool
	// version information
	version = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sigctl",
		Short: "CLI for signald operations",
		Long: `sigctl is a command-line interface for a running signald daemon.
It reports loop, quota and circuit health, lists discovery candidates,
records operator decisions and queries consensus.`,
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9191", "signald server URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&rawJSON, "json", false, "print raw JSON responses")

	root.AddCommand(
		statusCmd(),
		summaryCmd(),
		candidatesCmd(),
		decisionCmd("approve", "Approve a candidate so its posts are ingested"),
		decisionCmd("reject", "Reject a candidate so it is never suggested again"),
		consensusCmd(),
		shiftCmd(),
		runCmd(),
	)
	return root
}

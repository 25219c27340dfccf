// Command gridxc is a thin submitter-facing CLI for the Grid-X
// coordinator's HTTP Surface: submit a job, poll its status, and check a
// user's credit balance. It is a convenience wrapper around the same
// endpoints any HTTP client can call, built as a cobra command tree the
// way cmd/skyc shapes its own subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var gridxcAddr string

func main() {
	root := &cobra.Command{
		Use:   "gridxc",
		Short: "gridxc is the command-line client for the Grid-X coordinator.",
	}
	root.PersistentFlags().StringVar(&gridxcAddr, "addr", "http://localhost:8081", "coordinator HTTP API address")

	root.AddCommand(submitCmd, jobCmd, jobsCmd, workersCmd, creditsCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

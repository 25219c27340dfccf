package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type workerView struct {
	ID            string  `json:"id"`
	OwnerID       string  `json:"owner_id"`
	Status        string  `json:"status"`
	JobsCompleted int     `json:"jobs_completed"`
	CreditsEarned float64 `json:"credits_earned"`
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List registered workers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var workers []workerView
		if err := doJSON("GET", "/workers", nil, &workers); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WORKER\tOWNER\tSTATUS\tJOBS\tEARNED")
		for _, wk := range workers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.4f\n", wk.ID, wk.OwnerID, wk.Status, wk.JobsCompleted, wk.CreditsEarned)
		}
		return w.Flush()
	},
}

var creditsUserID string

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Show a user's credit balance.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if creditsUserID == "" {
			return fmt.Errorf("--user is required")
		}
		var resp struct {
			UserID  string  `json:"user_id"`
			Balance float64 `json:"balance"`
		}
		if err := doJSON("GET", "/credits/"+creditsUserID, nil, &resp); err != nil {
			return err
		}
		fmt.Printf("%s: %.4f credits\n", resp.UserID, resp.Balance)
		return nil
	},
}

func init() {
	creditsCmd.Flags().StringVar(&creditsUserID, "user", "", "submitter/owner id")
}

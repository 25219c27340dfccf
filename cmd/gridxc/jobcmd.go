package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// jobView is the subset of a job row the CLI prints; its fields carry
// the same JSON tags as the matching gridtypes.Job fields.
type jobView struct {
	JobID       string  `json:"job_id"`
	SubmitterID string  `json:"user_id"`
	Status      string  `json:"status"`
	Language    string  `json:"language"`
	WorkerID    string  `json:"worker_id"`
	Stdout      string  `json:"stdout"`
	Stderr      string  `json:"stderr"`
	ExitCode    *int    `json:"exit_code"`
	Reserved    float64 `json:"reserved"`
	Cost        float64 `json:"cost"`
	CreatedAt   float64 `json:"created_at"`
}

var submitUserID, submitCode, submitLang string
var submitTimeout int
var submitWait bool

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job for execution.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if submitCode == "" {
			return fmt.Errorf("--code is required")
		}
		var params = struct {
			UserID string `json:"user_id"`
			Code   string `json:"code"`
			Lang   string `json:"language,omitempty"`
			Limits struct {
				TimeoutSeconds int `json:"timeout_s,omitempty"`
			} `json:"limits"`
		}{UserID: submitUserID, Code: submitCode, Lang: submitLang}
		params.Limits.TimeoutSeconds = submitTimeout

		var resp struct {
			JobID    string  `json:"job_id"`
			Status   string  `json:"status"`
			Reserved float64 `json:"reserved"`
		}
		if err := doJSON("POST", "/jobs", params, &resp); err != nil {
			return err
		}
		fmt.Printf("job %s queued (reserved %.4f credits)\n", resp.JobID, resp.Reserved)
		if submitWait {
			return waitForJob(resp.JobID)
		}
		return nil
	},
}

var jobCmd = &cobra.Command{
	Use:   "job [job-id]",
	Short: "Show a single job's status and output.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var job jobView
		if err := doJSON("GET", "/jobs/"+args[0], nil, &job); err != nil {
			return err
		}
		printJob(os.Stdout, job)
		return nil
	},
}

var jobsUserID string
var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List a user's jobs, newest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jobsUserID == "" {
			return fmt.Errorf("--user is required")
		}
		var jobs []jobView
		path := fmt.Sprintf("/jobs?user_id=%s&limit=%d", jobsUserID, jobsLimit)
		if err := doJSON("GET", path, nil, &jobs); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "JOB\tSTATUS\tLANG\tWORKER\tRESERVED\tCOST")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.4f\t%.4f\n", j.JobID, j.Status, j.Language, j.WorkerID, j.Reserved, j.Cost)
		}
		return w.Flush()
	},
}

func printJob(w *os.File, j jobView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "job:\t%s\n", j.JobID)
	fmt.Fprintf(tw, "status:\t%s\n", j.Status)
	fmt.Fprintf(tw, "worker:\t%s\n", j.WorkerID)
	fmt.Fprintf(tw, "reserved:\t%.4f\n", j.Reserved)
	fmt.Fprintf(tw, "cost:\t%.4f\n", j.Cost)
	if j.ExitCode != nil {
		fmt.Fprintf(tw, "exit code:\t%d\n", *j.ExitCode)
	}
	_ = tw.Flush()
	if j.Stdout != "" {
		fmt.Fprintln(w, "--- stdout ---")
		fmt.Fprintln(w, j.Stdout)
	}
	if j.Stderr != "" {
		fmt.Fprintln(w, "--- stderr ---")
		fmt.Fprintln(w, j.Stderr)
	}
}

func init() {
	submitCmd.Flags().StringVar(&submitUserID, "user", "", "submitter id")
	submitCmd.Flags().StringVar(&submitCode, "code", "", "source code to execute")
	submitCmd.Flags().StringVar(&submitLang, "lang", "", "language tag (python, javascript, node, bash)")
	submitCmd.Flags().IntVar(&submitTimeout, "timeout", 0, "timeout in seconds (defaults to the coordinator's configured default)")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "block and show progress until the job completes")

	jobsCmd.Flags().StringVar(&jobsUserID, "user", "", "submitter id")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum jobs to list (capped at 100 by the server)")
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"

	"github.com/gridx-labs/coordinator/internal/gridtypes"
)

// pollInterval is how often --wait polls GET /jobs/{id}. A job's timeout is
// enforced worker-side; this is purely a CLI display refresh rate.
const pollInterval = 500 * time.Millisecond

// waitForJob polls a submitted job until it leaves queued/running, showing
// a spinner-style progress bar the way an upload/download command reports
// a long-running operation with vbauerster/mpb.
func waitForJob(jobID string) error {
	p := mpb.New(mpb.WithWidth(40))
	bar := p.AddBar(0,
		mpb.PrependDecorators(decor.Name(jobID[:8]+" ")),
		mpb.AppendDecorators(decor.OnComplete(decor.Spinner(nil), "done")),
	)

	var job jobView
	for {
		if err := doJSON("GET", "/jobs/"+jobID, nil, &job); err != nil {
			bar.Abort(true)
			return err
		}
		switch job.Status {
		case gridtypes.JobCompleted, gridtypes.JobFailed, gridtypes.JobCancelled:
			bar.SetTotal(1, true)
			p.Wait()
			printJob(os.Stdout, job)
			if job.Status != gridtypes.JobCompleted {
				return fmt.Errorf("job %s finished with status %s", jobID, job.Status)
			}
			return nil
		}
		time.Sleep(pollInterval)
	}
}

// Package scheduler owns the FIFO job queue and the pairing loop between
// queued jobs and idle workers, plus the Watchdog that recovers jobs
// orphaned by a worker that vanished without a clean disconnect.
package scheduler

import (
	"strconv"
	"sync"
	"time"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/threadgroup"

	"github.com/gridx-labs/coordinator/internal/credit"
	"github.com/gridx-labs/coordinator/internal/gridtypes"
	"github.com/gridx-labs/coordinator/internal/persist"
	"github.com/gridx-labs/coordinator/internal/registry"
	"github.com/gridx-labs/coordinator/internal/store"
)

// Scheduler drives dispatch, message-derived updates (on_started/on_result)
// and the Watchdog sweep, all against the shared Store and Registry.
type Scheduler struct {
	st       *store.Store
	reg      *registry.Registry
	credits  *credit.Engine
	log      *persist.Logger
	queue    *jobQueue
	dispatch sync.Mutex // serializes the pairing loop; held for a whole pass, including the assign_job send

	checkInterval    time.Duration
	heartbeatTimeout time.Duration

	tg threadgroup.ThreadGroup
}

// New returns a Scheduler. Call Enqueue for jobs that exist at startup in
// status=queued (e.g. after a crash) before calling Start.
func New(st *store.Store, reg *registry.Registry, credits *credit.Engine, log *persist.Logger, checkInterval, heartbeatTimeout time.Duration) *Scheduler {
	return &Scheduler{
		st:               st,
		reg:              reg,
		credits:          credits,
		log:              log,
		queue:            newJobQueue(),
		checkInterval:    checkInterval,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// QueueLen reports the FIFO depth, for /status.
func (s *Scheduler) QueueLen() int {
	return s.queue.len()
}

// Enqueue pushes jobID to the tail of the FIFO and kicks a dispatch.
func (s *Scheduler) Enqueue(jobID string) {
	s.queue.push(jobID)
	s.Dispatch()
}

// Start launches the Watchdog loop under the scheduler's thread group.
// Stop (via Close) waits for it to exit.
func (s *Scheduler) Start() error {
	if err := s.tg.Add(); err != nil {
		return err
	}
	go func() {
		defer s.tg.Done()
		s.watchdogLoop()
	}()
	return nil
}

// Close signals the Watchdog to stop and waits for it to exit.
func (s *Scheduler) Close() error {
	return s.tg.Stop()
}

// Dispatch runs the pairing loop: pop the oldest queued job, find an
// eligible idle worker, CAS-assign, and push the assignment down the
// worker's session. It is non-reentrant: a concurrent caller blocks on the
// dispatch mutex rather than running a second interleaved pass.
func (s *Scheduler) Dispatch() {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	for {
		jobID, ok := s.queue.pop()
		if !ok {
			return
		}
		job, err := s.st.GetJob(jobID)
		if err != nil {
			// A store error must not strand the job: its row is still
			// queued, which the Watchdog never sweeps, so the FIFO entry
			// is the only recovery path. Put it back and retry on the
			// next tick rather than spinning against a failing store.
			s.logf("dispatch: get_job %s failed: %v", jobID, err)
			s.queue.push(jobID)
			return
		}
		if job == nil || job.Status != gridtypes.JobQueued {
			continue // already handled
		}

		idle, ok := s.reg.PickIdle(job.SubmitterID)
		if !ok {
			// No eligible worker for the head of the queue: put it back
			// and stop. Later jobs wait behind it until the next tick,
			// keeping assignment strictly FIFO.
			s.queue.push(jobID)
			return
		}

		s.reg.MarkBusy(idle.WorkerID)
		_ = s.st.SetWorkerStatus(idle.WorkerID, gridtypes.WorkerBusy)

		assigned, err := s.st.AssignJobToWorker(jobID, idle.WorkerID)
		if err != nil {
			s.logf("dispatch: assign %s to %s failed: %v", jobID, idle.WorkerID, err)
			s.reg.MarkIdle(idle.WorkerID)
			_ = s.st.SetWorkerStatus(idle.WorkerID, gridtypes.WorkerIdle)
			s.queue.push(jobID)
			return
		}
		if !assigned {
			// The CAS lost: the job is no longer queued (a racing
			// dispatch or requeue already handled it), so dropping the
			// FIFO entry is correct.
			s.reg.MarkIdle(idle.WorkerID)
			_ = s.st.SetWorkerStatus(idle.WorkerID, gridtypes.WorkerIdle)
			continue
		}

		msg := gridtypes.AssignJob{
			Type:  gridtypes.MsgAssignJob,
			JobID: jobID,
			Kind:  job.Language,
			Payload: gridtypes.AssignJobPayload{
				Script: job.Code,
			},
			Limits: gridtypes.AssignJobLimits{
				CPUs:     job.Limits.CPUs,
				Memory:   memoryString(job.Limits.MemoryMB),
				TimeoutS: job.Limits.TimeoutSeconds,
			},
		}
		if idle.Session == nil || idle.Session.Send(&msg) != nil {
			s.logf("dispatch: send assign_job to %s failed, requeueing %s", idle.WorkerID, jobID)
			s.reg.MarkIdle(idle.WorkerID)
			_ = s.st.SetWorkerStatus(idle.WorkerID, gridtypes.WorkerIdle)
			_ = s.st.RequeueJob(jobID)
			s.queue.push(jobID)
			return
		}
	}
}

func memoryString(mb int) string {
	if mb <= 0 {
		return ""
	}
	return strconv.Itoa(mb) + "m"
}

// OnStarted marks a job's started-at when the worker confirms execution
// began.
func (s *Scheduler) OnStarted(jobID string) error {
	return s.st.MarkJobStarted(jobID)
}

// OnResult handles a worker's job_result: settle credits, complete the
// job, idle the worker, and re-run dispatch so the freed worker (or freed
// queue slot) is immediately considered. A result for a job that is no
// longer running on this worker (requeued, or already completed by an
// earlier delivery) is dropped without settling, so a retried delivery can
// never double-charge.
func (s *Scheduler) OnResult(jobID, workerID string, exitCode int, stdout, stderr string, duration *float64) error {
	job, err := s.st.GetJob(jobID)
	if err != nil {
		return errors.AddContext(err, "on_result: get_job")
	}
	switch {
	case job == nil:
		s.logf("on_result: unknown job %s from worker %s", jobID, workerID)
	case job.Status != gridtypes.JobRunning || job.AssignedWorkerID != workerID:
		s.logf("on_result: stale result for job %s from worker %s ignored", jobID, workerID)
	default:
		var ownerID string
		if w, err := s.st.GetWorker(workerID); err == nil && w != nil {
			ownerID = w.OwnerID
		}
		_, reward, err := s.credits.Settle(job, ownerID, duration)
		if err != nil {
			s.logf("on_result: settle job %s failed: %v", jobID, err)
		}
		if reward > 0 {
			if err := s.st.AddWorkerEarnings(workerID, reward); err != nil {
				s.logf("on_result: record earnings for worker %s failed: %v", workerID, err)
			}
		}
	}

	if err := s.st.CompleteJob(jobID, workerID, stdout, stderr, exitCode); err != nil {
		s.logf("on_result: complete_job %s failed: %v", jobID, err)
	}

	s.reg.MarkIdle(workerID)
	_ = s.st.SetWorkerStatus(workerID, gridtypes.WorkerIdle)

	s.Dispatch()
	return nil
}

// Requeue resets jobID to queued and pushes it back onto the FIFO — used
// by both Worker Session teardown and the Watchdog.
func (s *Scheduler) Requeue(jobID string) error {
	if err := s.st.RequeueJob(jobID); err != nil {
		return err
	}
	s.Enqueue(jobID)
	return nil
}

func (s *Scheduler) logf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Errorf(format, args...)
	}
}

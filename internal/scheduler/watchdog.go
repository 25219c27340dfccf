package scheduler

import (
	"time"

	"gitlab.com/NebulousLabs/fastrand"
)

// watchdogLoop periodically scans for running jobs whose session is gone
// and whose heartbeat is stale, and recovers them. It never returns except
// on shutdown; sweep errors are logged and absorbed so one bad row can't
// take the loop down.
func (s *Scheduler) watchdogLoop() {
	// Jitter the first tick by up to one interval so that, in a deployment
	// running several coordinator processes against separate shards, their
	// sweeps don't all land in the same instant.
	if s.checkInterval > 0 {
		select {
		case <-s.tg.StopChan():
			return
		case <-time.After(time.Duration(fastrand.Intn(int(s.checkInterval)))):
		}
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.tg.StopChan():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Scheduler) sweep() {
	running, err := s.st.ListRunningJobs()
	if err != nil {
		s.logf("watchdog: list_running_jobs failed: %v", err)
		return
	}
	for _, job := range running {
		if job.AssignedWorkerID == "" {
			continue
		}
		if s.reg.Contains(job.AssignedWorkerID) {
			continue // live session, leave it alone
		}
		w, err := s.st.GetWorker(job.AssignedWorkerID)
		if err != nil {
			s.logf("watchdog: get_worker %s failed: %v", job.AssignedWorkerID, err)
			continue
		}
		stale := w == nil || w.LastHeartbeat == 0 || staleBy(w.LastHeartbeat, s.heartbeatTimeout)
		if !stale {
			continue
		}
		if w != nil {
			_ = s.st.SetWorkerOffline(w.ID)
		}
		if err := s.Requeue(job.ID); err != nil {
			s.logf("watchdog: requeue %s failed: %v", job.ID, err)
			continue
		}
		s.logf("watchdog: recovered orphaned job %s from worker %s", job.ID, job.AssignedWorkerID)
	}
}

func staleBy(lastHeartbeat float64, timeout time.Duration) bool {
	age := time.Since(time.Unix(0, int64(lastHeartbeat*1e9)))
	return age > timeout
}

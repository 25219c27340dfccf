package store

import (
	"bytes"
	"sort"

	"gitlab.com/NebulousLabs/bolt"
	"gitlab.com/NebulousLabs/errors"

	"github.com/gridx-labs/coordinator/internal/gridtypes"
)

// jobIndexKey builds the jobs_by_user secondary-index key for a job.
func jobIndexKey(userID, jobID string) []byte {
	return append(append([]byte(userID), 0), []byte(jobID)...)
}

// CreateJob inserts a new job with status=queued. It fails if id already
// exists.
func (s *Store) CreateJob(id, submitter, code, language string, limits gridtypes.Limits, reservedCost float64) (*gridtypes.Job, error) {
	j := &gridtypes.Job{
		ID:           id,
		SubmitterID:  submitter,
		Code:         code,
		Language:     language,
		Status:       gridtypes.JobQueued,
		CreatedAt:    now(),
		Limits:       limits,
		ReservedCost: reservedCost,
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket([]byte(bucketJobs))
		if jobs.Get([]byte(id)) != nil {
			return errors.New("job already exists")
		}
		data, err := encodeJob(j)
		if err != nil {
			return err
		}
		if err := jobs.Put([]byte(id), data); err != nil {
			return err
		}
		byUser := tx.Bucket([]byte(bucketJobsByUser))
		return byUser.Put(jobIndexKey(submitter, id), nil)
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// GetJob reads a single job row. It returns (nil, nil) if the job does not
// exist so callers can distinguish "not found" from a store error.
func (s *Store) GetJob(id string) (*gridtypes.Job, error) {
	var j *gridtypes.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketJobs)).Get([]byte(id))
		if data == nil {
			return nil
		}
		row, err := decodeJob(data)
		if err != nil {
			return err
		}
		j = row
		return nil
	})
	return j, err
}

// ListJobsBySubmitter returns a submitter's jobs, newest first, capped at
// limit (and at 100 regardless of what the caller asks for).
func (s *Store) ListJobsBySubmitter(submitter string, limit int) ([]*gridtypes.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var jobs []*gridtypes.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		byUser := tx.Bucket([]byte(bucketJobsByUser))
		jobsBucket := tx.Bucket([]byte(bucketJobs))
		prefix := append([]byte(submitter), 0)
		c := byUser.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			jobID := k[len(prefix):]
			data := jobsBucket.Get(jobID)
			if data == nil {
				continue
			}
			row, err := decodeJob(data)
			if err != nil {
				return err
			}
			jobs = append(jobs, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt > jobs[j].CreatedAt })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// AssignJobToWorker is the CAS-assign: it atomically transitions a job from
// queued to running only if it is still queued, and marks the worker busy
// in the same transaction. The returned bool reports whether the
// assignment happened; a false with a nil error means the job was no
// longer queued (already handled, e.g. by a racing dispatch).
func (s *Store) AssignJobToWorker(jobID, workerID string) (bool, error) {
	assigned := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket([]byte(bucketJobs))
		data := jobs.Get([]byte(jobID))
		if data == nil {
			return nil
		}
		j, err := decodeJob(data)
		if err != nil {
			return err
		}
		if j.Status != gridtypes.JobQueued {
			return nil
		}
		j.Status = gridtypes.JobRunning
		j.AssignedWorkerID = workerID
		j.StartedAt = now()
		nd, err := encodeJob(j)
		if err != nil {
			return err
		}
		if err := jobs.Put([]byte(jobID), nd); err != nil {
			return err
		}

		workers := tx.Bucket([]byte(bucketWorkers))
		if wd := workers.Get([]byte(workerID)); wd != nil {
			if w, err := decodeWorker(wd); err == nil {
				w.Status = gridtypes.WorkerBusy
				if nw, err := encodeWorker(w); err == nil {
					_ = workers.Put([]byte(workerID), nw)
				}
			}
		}

		running := tx.Bucket([]byte(bucketRunningByWorker))
		if err := running.Put([]byte(workerID), []byte(jobID)); err != nil {
			return err
		}
		assigned = true
		return nil
	})
	return assigned, err
}

// MarkJobStarted sets started-at if it has not already been set. The
// job_started message is a confirmation signal; AssignJobToWorker already
// set started-at at dispatch time, so this is usually a no-op.
func (s *Store) MarkJobStarted(jobID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket([]byte(bucketJobs))
		data := jobs.Get([]byte(jobID))
		if data == nil {
			return nil
		}
		j, err := decodeJob(data)
		if err != nil {
			return err
		}
		if j.StartedAt != 0 {
			return nil
		}
		j.StartedAt = now()
		nd, err := encodeJob(j)
		if err != nil {
			return err
		}
		return jobs.Put([]byte(jobID), nd)
	})
}

// CompleteJob sets the job to completed (exit 0) or failed (otherwise),
// persists its outputs, and idles the worker, all in one transaction. The
// transition only fires while the job is running and still assigned to
// workerID; a result arriving after a requeue (or from a worker the job no
// longer belongs to) is dropped, which makes result delivery safe to
// retry.
func (s *Store) CompleteJob(jobID, workerID, stdout, stderr string, exitCode int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket([]byte(bucketJobs))
		data := jobs.Get([]byte(jobID))
		if data == nil {
			return gridtypes.ErrNotFound
		}
		j, err := decodeJob(data)
		if err != nil {
			return err
		}
		if j.Status != gridtypes.JobRunning || j.AssignedWorkerID != workerID {
			return nil
		}
		if exitCode == 0 {
			j.Status = gridtypes.JobCompleted
		} else {
			j.Status = gridtypes.JobFailed
		}
		j.CompletedAt = now()
		j.Stdout = gridtypes.Sanitize(stdout, gridtypes.MaxOutputBytes)
		j.Stderr = gridtypes.Sanitize(stderr, gridtypes.MaxOutputBytes)
		ec := exitCode
		j.ExitCode = &ec
		nd, err := encodeJob(j)
		if err != nil {
			return err
		}
		if err := jobs.Put([]byte(jobID), nd); err != nil {
			return err
		}

		workers := tx.Bucket([]byte(bucketWorkers))
		if wd := workers.Get([]byte(workerID)); wd != nil {
			if w, err := decodeWorker(wd); err == nil {
				w.Status = gridtypes.WorkerIdle
				w.JobsCompleted++
				if nw, err := encodeWorker(w); err == nil {
					_ = workers.Put([]byte(workerID), nw)
				}
			}
		}
		return tx.Bucket([]byte(bucketRunningByWorker)).Delete([]byte(workerID))
	})
}

// RequeueJob resets a running job back to queued with a cleared worker-id,
// started-at and completed-at, used by both Worker Session teardown and
// the Watchdog. It is a no-op if the job is not currently running.
func (s *Store) RequeueJob(jobID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket([]byte(bucketJobs))
		data := jobs.Get([]byte(jobID))
		if data == nil {
			return nil
		}
		j, err := decodeJob(data)
		if err != nil {
			return err
		}
		if j.Status != gridtypes.JobRunning {
			return nil
		}
		workerID := j.AssignedWorkerID
		j.Status = gridtypes.JobQueued
		j.AssignedWorkerID = ""
		j.StartedAt = 0
		j.CompletedAt = 0
		nd, err := encodeJob(j)
		if err != nil {
			return err
		}
		if err := jobs.Put([]byte(jobID), nd); err != nil {
			return err
		}
		if workerID != "" {
			return tx.Bucket([]byte(bucketRunningByWorker)).Delete([]byte(workerID))
		}
		return nil
	})
}

// JobRunningForWorker returns the id of the job currently running on
// workerID, if any. It backs session teardown.
func (s *Store) JobRunningForWorker(workerID string) (string, bool, error) {
	var jobID string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketRunningByWorker)).Get([]byte(workerID))
		if data != nil {
			jobID = string(data)
		}
		return nil
	})
	return jobID, jobID != "", err
}

// ListRunningJobs returns every job currently in status=running, for the
// Watchdog's sweep. A full scan of the jobs bucket is acceptable at
// coordinator scale (hundreds to low thousands of in-flight jobs).
func (s *Store) ListRunningJobs() ([]*gridtypes.Job, error) {
	var jobs []*gridtypes.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketJobs))
		return b.ForEach(func(_, v []byte) error {
			j, err := decodeJob(v)
			if err != nil {
				return err
			}
			if j.Status == gridtypes.JobRunning {
				jobs = append(jobs, j)
			}
			return nil
		})
	})
	return jobs, err
}

// SetJobSettlement persists the actual duration and cost computed at
// settlement time.
func (s *Store) SetJobSettlement(jobID string, duration *float64, actualCost float64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket([]byte(bucketJobs))
		data := jobs.Get([]byte(jobID))
		if data == nil {
			return gridtypes.ErrNotFound
		}
		j, err := decodeJob(data)
		if err != nil {
			return err
		}
		j.ActualDuration = duration
		j.ActualCost = actualCost
		nd, err := encodeJob(j)
		if err != nil {
			return err
		}
		return jobs.Put([]byte(jobID), nd)
	})
}

package store

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/gridx-labs/coordinator/internal/gridtypes"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "gridx.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

const (
	jobA    = "11111111-1111-4111-8111-111111111111"
	jobB    = "11111111-1111-4111-8111-222222222222"
	workerA = "22222222-2222-4222-8222-111111111111"
	workerB = "22222222-2222-4222-8222-222222222222"
)

// TestJobRoundTrip verifies that everything written at creation, including
// the source code hidden from the job's API form, comes back intact.
func TestJobRoundTrip(t *testing.T) {
	st := testStore(t)
	code := "print('hello')\n"
	if _, err := st.CreateJob(jobA, "alice", code, gridtypes.LangPython, gridtypes.Limits{TimeoutSeconds: 30, CPUs: 2}, 3.0); err != nil {
		t.Fatal(err)
	}
	j, err := st.GetJob(jobA)
	if err != nil {
		t.Fatal(err)
	}
	if j == nil {
		t.Fatal("job not found after create")
	}
	if j.Code != code {
		t.Errorf("code = %q, want %q", j.Code, code)
	}
	if j.Status != gridtypes.JobQueued || j.ReservedCost != 3.0 || j.Limits.TimeoutSeconds != 30 {
		t.Errorf("unexpected row after create: %+v", j)
	}
	if j.CreatedAt == 0 {
		t.Error("created_at not set")
	}
}

// TestCreateJobDuplicate verifies duplicate ids are rejected.
func TestCreateJobDuplicate(t *testing.T) {
	st := testStore(t)
	if _, err := st.CreateJob(jobA, "alice", "x", gridtypes.LangBash, gridtypes.Limits{}, 1.0); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateJob(jobA, "alice", "x", gridtypes.LangBash, gridtypes.Limits{}, 1.0); err == nil {
		t.Fatal("expected duplicate create to fail")
	}
}

// TestAssignCAS verifies assign only fires on a queued job, and that two
// assigns for the same job can't both win.
func TestAssignCAS(t *testing.T) {
	st := testStore(t)
	if _, err := st.CreateJob(jobA, "alice", "x", gridtypes.LangBash, gridtypes.Limits{}, 1.0); err != nil {
		t.Fatal(err)
	}
	if _, err := st.UpsertWorker(workerA, "", gridtypes.Caps{}, "bob", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := st.UpsertWorker(workerB, "", gridtypes.Caps{}, "carol", ""); err != nil {
		t.Fatal(err)
	}

	ok, err := st.AssignJobToWorker(jobA, workerA)
	if err != nil || !ok {
		t.Fatalf("first assign: ok=%v err=%v", ok, err)
	}
	ok, err = st.AssignJobToWorker(jobA, workerB)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second assign won the CAS on a running job")
	}

	j, err := st.GetJob(jobA)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != gridtypes.JobRunning || j.AssignedWorkerID != workerA || j.StartedAt == 0 {
		t.Errorf("unexpected row after assign: %+v", j)
	}
	w, err := st.GetWorker(workerA)
	if err != nil {
		t.Fatal(err)
	}
	if w.Status != gridtypes.WorkerBusy {
		t.Errorf("worker status = %s, want busy", w.Status)
	}
}

// TestCompleteJobIdempotent verifies a second (or mismatched-worker) result
// delivery never flips a finished job back or re-counts it.
func TestCompleteJobIdempotent(t *testing.T) {
	st := testStore(t)
	if _, err := st.CreateJob(jobA, "alice", "x", gridtypes.LangBash, gridtypes.Limits{}, 1.0); err != nil {
		t.Fatal(err)
	}
	if _, err := st.UpsertWorker(workerA, "", gridtypes.Caps{}, "bob", ""); err != nil {
		t.Fatal(err)
	}
	if ok, err := st.AssignJobToWorker(jobA, workerA); err != nil || !ok {
		t.Fatalf("assign: ok=%v err=%v", ok, err)
	}

	// A result from a worker the job isn't assigned to is dropped.
	if err := st.CompleteJob(jobA, workerB, "nope", "", 0); err != nil {
		t.Fatal(err)
	}
	j, _ := st.GetJob(jobA)
	if j.Status != gridtypes.JobRunning {
		t.Fatalf("mismatched-worker result mutated the job: %+v", j)
	}

	if err := st.CompleteJob(jobA, workerA, "out", "err", 1); err != nil {
		t.Fatal(err)
	}
	j, _ = st.GetJob(jobA)
	if j.Status != gridtypes.JobFailed || j.Stdout != "out" || j.Stderr != "err" {
		t.Fatalf("unexpected row after complete: %+v", j)
	}
	if j.ExitCode == nil || *j.ExitCode != 1 {
		t.Fatalf("exit code = %v, want 1", j.ExitCode)
	}

	// A replayed delivery is a no-op.
	if err := st.CompleteJob(jobA, workerA, "other", "", 0); err != nil {
		t.Fatal(err)
	}
	j, _ = st.GetJob(jobA)
	if j.Status != gridtypes.JobFailed || j.Stdout != "out" {
		t.Fatalf("replayed result mutated the job: %+v", j)
	}
	w, _ := st.GetWorker(workerA)
	if w.JobsCompleted != 1 {
		t.Errorf("jobs completed = %d, want 1", w.JobsCompleted)
	}
}

// TestRequeueJob verifies the running -> queued reset clears assignment
// fields and the running_by_worker index.
func TestRequeueJob(t *testing.T) {
	st := testStore(t)
	if _, err := st.CreateJob(jobA, "alice", "x", gridtypes.LangBash, gridtypes.Limits{}, 1.0); err != nil {
		t.Fatal(err)
	}
	if _, err := st.UpsertWorker(workerA, "", gridtypes.Caps{}, "bob", ""); err != nil {
		t.Fatal(err)
	}
	if ok, err := st.AssignJobToWorker(jobA, workerA); err != nil || !ok {
		t.Fatalf("assign: ok=%v err=%v", ok, err)
	}
	if _, running, _ := st.JobRunningForWorker(workerA); !running {
		t.Fatal("running_by_worker index missing after assign")
	}

	if err := st.RequeueJob(jobA); err != nil {
		t.Fatal(err)
	}
	j, _ := st.GetJob(jobA)
	if j.Status != gridtypes.JobQueued || j.AssignedWorkerID != "" || j.StartedAt != 0 {
		t.Fatalf("unexpected row after requeue: %+v", j)
	}
	if _, running, _ := st.JobRunningForWorker(workerA); running {
		t.Fatal("running_by_worker index not cleared by requeue")
	}

	// Requeueing a job that isn't running is a no-op.
	if err := st.RequeueJob(jobA); err != nil {
		t.Fatal(err)
	}
}

// TestListJobsBySubmitterOrder verifies newest-first ordering and the
// per-submitter filter.
func TestListJobsBySubmitterOrder(t *testing.T) {
	st := testStore(t)
	if _, err := st.CreateJob(jobA, "alice", "x", gridtypes.LangBash, gridtypes.Limits{}, 1.0); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateJob(jobB, "alice", "y", gridtypes.LangBash, gridtypes.Limits{}, 1.0); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateJob("33333333-3333-4333-8333-333333333333", "bob", "z", gridtypes.LangBash, gridtypes.Limits{}, 1.0); err != nil {
		t.Fatal(err)
	}

	jobs, err := st.ListJobsBySubmitter("alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[0].CreatedAt < jobs[1].CreatedAt {
		t.Error("jobs not ordered newest first")
	}

	jobs, err = st.ListJobsBySubmitter("alice", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("limit not applied: got %d jobs", len(jobs))
	}
}

// TestDeductGuardsBalance verifies the conditional debit: concurrent
// deductions of a balance can never overdraw it.
func TestDeductGuardsBalance(t *testing.T) {
	st := testStore(t)
	if _, err := st.EnsureUser("alice", 10.0); err != nil {
		t.Fatal(err)
	}

	const attempts = 20
	var wg sync.WaitGroup
	successes := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.Deduct("alice", 3.0)
			if err != nil {
				t.Error(err)
				return
			}
			successes <- ok
		}()
	}
	wg.Wait()
	close(successes)

	won := 0
	for ok := range successes {
		if ok {
			won++
		}
	}
	if won != 3 {
		t.Errorf("%d deductions succeeded, want 3 (floor(10/3))", won)
	}
	balance, err := st.GetBalance("alice")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 1.0 {
		t.Errorf("balance = %v, want 1.0", balance)
	}
}

// TestEnsureUserIdempotent verifies ensure never resets an existing
// ledger.
func TestEnsureUserIdempotent(t *testing.T) {
	st := testStore(t)
	if _, err := st.EnsureUser("alice", 100.0); err != nil {
		t.Fatal(err)
	}
	if ok, err := st.Deduct("alice", 40.0); err != nil || !ok {
		t.Fatalf("deduct: ok=%v err=%v", ok, err)
	}
	balance, err := st.EnsureUser("alice", 100.0)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 60.0 {
		t.Errorf("balance = %v, want 60.0 (ensure must not reset)", balance)
	}
}

// TestUserAuthVerify verifies the register/verify pair, including that the
// stored hash survives a store reopen.
func TestUserAuthVerify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gridx.db")
	st, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := st.RegisterUserAuth("bob", "secret-1"); err != nil {
		t.Fatal(err)
	}
	if ok, err := st.VerifyUserAuth("bob", "secret-1"); err != nil || !ok {
		t.Fatalf("verify with correct token: ok=%v err=%v", ok, err)
	}
	if ok, err := st.VerifyUserAuth("bob", "secret-2"); err != nil || ok {
		t.Fatalf("verify with wrong token: ok=%v err=%v", ok, err)
	}
	if ok, err := st.VerifyUserAuth("nobody", "secret-1"); err != nil || ok {
		t.Fatalf("verify for unknown user: ok=%v err=%v", ok, err)
	}

	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	st, err = Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if ok, err := st.VerifyUserAuth("bob", "secret-1"); err != nil || !ok {
		t.Fatalf("verify after reopen: ok=%v err=%v", ok, err)
	}
}

// TestFindWorkerByOwnerToken verifies reconnect reuse: the worker row
// written at hello time can be matched again by owner and token.
func TestFindWorkerByOwnerToken(t *testing.T) {
	st := testStore(t)
	hash, err := HashWorkerToken("tok-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.UpsertWorker(workerA, "10.0.0.1", gridtypes.Caps{CPUCores: 4}, "bob", hash); err != nil {
		t.Fatal(err)
	}

	w, found, err := st.FindWorkerByOwnerToken("bob", "tok-1")
	if err != nil || !found {
		t.Fatalf("find: found=%v err=%v", found, err)
	}
	if w.ID != workerA {
		t.Errorf("found worker %s, want %s", w.ID, workerA)
	}
	if _, found, _ := st.FindWorkerByOwnerToken("bob", "tok-2"); found {
		t.Error("wrong token matched a worker")
	}
	if _, found, _ := st.FindWorkerByOwnerToken("alice", "tok-1"); found {
		t.Error("wrong owner matched a worker")
	}
}

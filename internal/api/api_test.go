package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gridx-labs/coordinator/internal/config"
	"github.com/gridx-labs/coordinator/internal/credit"
	"github.com/gridx-labs/coordinator/internal/gridtypes"
	"github.com/gridx-labs/coordinator/internal/registry"
	"github.com/gridx-labs/coordinator/internal/scheduler"
	"github.com/gridx-labs/coordinator/internal/store"
)

func testAPI(t *testing.T) (*httptest.Server, *store.Store, *credit.Engine) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "gridx.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Config{
		CostPerSecond:     0.1,
		MinCost:           0.05,
		MaxCost:           25.0,
		RewardRatio:       0.85,
		DefaultJobTimeout: 60,
		InitialCredits:    100.0,
	}
	reg := registry.New()
	credits := credit.New(st, cfg, nil)
	sched := scheduler.New(st, reg, credits, nil, time.Hour, time.Hour)
	a := New(st, reg, credits, sched, cfg, nil)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv, st, credits
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}

// TestJobsPOSTHappyPath covers submission: credits reserved, job row
// created and queued, reserve amount reported.
func TestJobsPOSTHappyPath(t *testing.T) {
	srv, st, _ := testAPI(t)

	resp := postJSON(t, srv.URL+"/jobs", map[string]interface{}{
		"user_id":  "alice",
		"code":     "print('hi')",
		"language": "python",
		"limits":   map[string]int{"timeout_s": 60},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body JobsPOSTResponse
	decodeBody(t, resp, &body)
	if body.Status != gridtypes.JobQueued {
		t.Errorf("status = %s, want queued", body.Status)
	}
	if body.Reserved != 6.0 {
		t.Errorf("reserved = %v, want 6.0", body.Reserved)
	}

	job, err := st.GetJob(body.JobID)
	if err != nil || job == nil {
		t.Fatalf("job row missing: %v", err)
	}
	if job.Status != gridtypes.JobQueued {
		t.Errorf("persisted status = %s, want queued", job.Status)
	}

	balance, err := st.GetBalance("alice")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 94.0 {
		t.Errorf("balance = %v, want 94.0 after reserving 6.0", balance)
	}
}

// TestJobsPOSTInsufficientCredits covers the 402 path: no job row, balance
// untouched.
func TestJobsPOSTInsufficientCredits(t *testing.T) {
	srv, st, _ := testAPI(t)
	if _, err := st.EnsureUser("poor", 1.0); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, srv.URL+"/jobs", map[string]interface{}{
		"user_id": "poor",
		"code":    "print('hi')",
		"limits":  map[string]int{"timeout_s": 60},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}

	jobs, err := st.ListJobsBySubmitter("poor", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("got %d job rows, want 0", len(jobs))
	}
	balance, err := st.GetBalance("poor")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 1.0 {
		t.Errorf("balance = %v, want unchanged 1.0", balance)
	}
}

// TestJobsPOSTValidation covers 400 rejections.
func TestJobsPOSTValidation(t *testing.T) {
	srv, _, _ := testAPI(t)
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"bad user id", map[string]interface{}{"user_id": "no spaces!", "code": "x"}},
		{"empty code", map[string]interface{}{"user_id": "alice", "code": ""}},
		{"bad language", map[string]interface{}{"user_id": "alice", "code": "x", "language": "cobol"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/jobs", tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

// TestJobGET covers the single-row read, the 404, and the 400 on a
// malformed id.
func TestJobGET(t *testing.T) {
	srv, st, _ := testAPI(t)
	const id = "11111111-1111-4111-8111-111111111111"
	if _, err := st.CreateJob(id, "alice", "x", gridtypes.LangBash, gridtypes.Limits{}, 1.0); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/jobs/" + id)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var job gridtypes.Job
	decodeBody(t, resp, &job)
	if job.ID != id {
		t.Errorf("job id = %s, want %s", job.ID, id)
	}

	resp, err = http.Get(srv.URL + "/jobs/11111111-1111-4111-8111-999999999999")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status for unknown id = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/jobs/not-a-uuid")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status for malformed id = %d, want 400", resp.StatusCode)
	}
}

// TestWorkersRegisterAndHeartbeat covers both POST /workers forms sharing
// the wildcard route.
func TestWorkersRegisterAndHeartbeat(t *testing.T) {
	srv, st, _ := testAPI(t)

	resp := postJSON(t, srv.URL+"/workers/register", map[string]interface{}{
		"owner_id": "bob",
		"caps":     map[string]int{"cpu_cores": 4},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d, want 200", resp.StatusCode)
	}
	var reg WorkersRegisterPOSTResponse
	decodeBody(t, resp, &reg)
	if !reg.Success || reg.WorkerID == "" {
		t.Fatalf("unexpected register response: %+v", reg)
	}

	w, err := st.GetWorker(reg.WorkerID)
	if err != nil || w == nil {
		t.Fatalf("worker row missing: %v", err)
	}
	before := w.LastHeartbeat

	// Path form.
	resp = postJSON(t, srv.URL+"/workers/"+reg.WorkerID+"/heartbeat", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("path heartbeat status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	// Body form.
	resp = postJSON(t, srv.URL+"/workers/heartbeat", map[string]string{"id": reg.WorkerID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("body heartbeat status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	w, err = st.GetWorker(reg.WorkerID)
	if err != nil {
		t.Fatal(err)
	}
	if w.LastHeartbeat < before {
		t.Error("heartbeat did not advance")
	}

	resp = postJSON(t, srv.URL+"/workers/heartbeat", map[string]string{"id": "not-a-uuid"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad heartbeat id status = %d, want 400", resp.StatusCode)
	}
}

// TestCreditsGET verifies the balance endpoint creates the ledger at the
// initial balance on first reference.
func TestCreditsGET(t *testing.T) {
	srv, _, _ := testAPI(t)

	resp, err := http.Get(srv.URL + "/credits/newuser")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body CreditsGETResponse
	decodeBody(t, resp, &body)
	if body.Balance != 100.0 {
		t.Errorf("balance = %v, want initial 100.0", body.Balance)
	}

	resp, err = http.Get(srv.URL + "/credits/bad%20user")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad user status = %d, want 400", resp.StatusCode)
	}
}

// TestHealthAndStatus smoke-tests the observability endpoints.
func TestHealthAndStatus(t *testing.T) {
	srv, _, _ := testAPI(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var health HealthGETResponse
	decodeBody(t, resp, &health)
	if health.Status != "healthy" {
		t.Errorf("health status = %s, want healthy", health.Status)
	}

	resp, err = http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	var status StatusGETResponse
	decodeBody(t, resp, &status)
	if status.Workers.Total != 0 || status.QueueSize != 0 {
		t.Errorf("unexpected status on empty coordinator: %+v", status)
	}
}

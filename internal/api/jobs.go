package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	gridErrs "gitlab.com/NebulousLabs/errors"

	"github.com/gridx-labs/coordinator/internal/gridtypes"
)

// JobsPOSTParams is the /jobs submission body.
type JobsPOSTParams struct {
	UserID string           `json:"user_id"`
	Code   string           `json:"code"`
	Lang   string           `json:"language"`
	Limits gridtypes.Limits `json:"limits"`
}

// JobsPOSTResponse is returned on successful submission.
type JobsPOSTResponse struct {
	JobID    string  `json:"job_id"`
	Status   string  `json:"status"`
	Reserved float64 `json:"reserved"`
}

// jobsHandlerPOST implements POST /jobs: validate, reserve credits, create
// the job row, enqueue it, and respond. On a Store failure after the
// reservation succeeded, the reservation is refunded before returning 500.
func (a *API) jobsHandlerPOST(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var p JobsPOSTParams
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		WriteError(w, Error{"invalid request body: " + err.Error()}, http.StatusBadRequest)
		return
	}

	if !gridtypes.ValidUserID(p.UserID) {
		writeKindError(w, gridErrs.AddContext(gridtypes.ErrInvalidInput, "user_id"))
		return
	}
	if len(p.Code) == 0 || len(p.Code) > gridtypes.MaxCodeBytes {
		writeKindError(w, gridErrs.AddContext(gridtypes.ErrInvalidInput, "code must be 1 byte to 1 MiB"))
		return
	}
	lang := p.Lang
	if lang == "" {
		lang = gridtypes.DefaultLanguage
	}
	if !gridtypes.ValidLanguage(lang) {
		writeKindError(w, gridErrs.AddContext(gridtypes.ErrInvalidInput, "unsupported language "+lang))
		return
	}

	code := gridtypes.Sanitize(p.Code, gridtypes.MaxCodeBytes)
	reserved := a.credits.MaxReserve(p.Limits.TimeoutSeconds)

	ok, err := a.credits.Reserve(p.UserID, reserved)
	if err != nil {
		writeKindError(w, gridErrs.Compose(gridtypes.ErrInternal, gridErrs.AddContext(err, "unable to reserve credits")))
		return
	}
	if !ok {
		writeKindError(w, gridtypes.ErrInsufficientCredit)
		return
	}

	jobID := uuid.New().String()
	if _, err := a.st.CreateJob(jobID, p.UserID, code, lang, p.Limits, reserved); err != nil {
		if rerr := a.credits.Refund(p.UserID, reserved); rerr != nil {
			a.logf("jobs: refund after failed create_job %s failed: %v", jobID, rerr)
		}
		writeKindError(w, gridErrs.Compose(gridtypes.ErrInternal, gridErrs.AddContext(err, "unable to create job")))
		return
	}

	a.sched.Enqueue(jobID)

	WriteJSON(w, JobsPOSTResponse{JobID: jobID, Status: gridtypes.JobQueued, Reserved: reserved})
}

// jobsHandlerGET implements GET /jobs?user_id=&limit=.
func (a *API) jobsHandlerGET(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	userID := req.URL.Query().Get("user_id")
	if !gridtypes.ValidUserID(userID) {
		WriteError(w, Error{"invalid user_id"}, http.StatusBadRequest)
		return
	}
	limit := 100
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			WriteError(w, Error{"invalid limit"}, http.StatusBadRequest)
			return
		}
		limit = n
	}

	jobs, err := a.st.ListJobsBySubmitter(userID, limit)
	if err != nil {
		WriteError(w, Error{"unable to list jobs: " + err.Error()}, http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*gridtypes.Job{}
	}
	WriteJSON(w, jobs)
}

// jobHandlerGET implements GET /jobs/{id}.
func (a *API) jobHandlerGET(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if !gridtypes.ValidUUIDv4(id) {
		writeKindError(w, gridErrs.AddContext(gridtypes.ErrInvalidInput, "job id"))
		return
	}
	job, err := a.st.GetJob(id)
	if err != nil {
		WriteError(w, Error{"unable to get job: " + err.Error()}, http.StatusInternalServerError)
		return
	}
	if job == nil {
		writeKindError(w, gridErrs.AddContext(gridtypes.ErrNotFound, "job "+id))
		return
	}
	WriteJSON(w, job)
}

func (a *API) logf(format string, args ...interface{}) {
	if a.log != nil {
		a.log.Errorf(format, args...)
	}
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/gridx-labs/coordinator/internal/gridtypes"
)

// WorkersRegisterPOSTParams is the /workers/register body. This
// endpoint upserts a Store row for informational/administrative purposes;
// a worker's live presence in the Registry is still established only by a
// successful `hello` over the websocket channel.
type WorkersRegisterPOSTParams struct {
	ID      string         `json:"id"`
	Caps    gridtypes.Caps `json:"caps"`
	IP      string         `json:"ip"`
	OwnerID string         `json:"owner_id"`
}

// WorkersRegisterPOSTResponse acknowledges registration.
type WorkersRegisterPOSTResponse struct {
	Success  bool   `json:"success"`
	WorkerID string `json:"worker_id"`
	Status   string `json:"status"`
}

// workersPOSTHandler dispatches POST /workers/register and POST
// /workers/heartbeat, which share one wildcard route (see
// buildHTTPRoutes).
func (a *API) workersPOSTHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	switch ps.ByName("id") {
	case "register":
		a.workersRegisterHandlerPOST(w, req)
	case "heartbeat":
		a.workersHeartbeatHandlerPOST(w, req)
	default:
		WriteError(w, Error{"unrecognized call: POST " + req.URL.Path}, http.StatusNotFound)
	}
}

func (a *API) workersRegisterHandlerPOST(w http.ResponseWriter, req *http.Request) {
	var p WorkersRegisterPOSTParams
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		WriteError(w, Error{"invalid request body: " + err.Error()}, http.StatusBadRequest)
		return
	}
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	} else if !gridtypes.ValidUUIDv4(id) {
		WriteError(w, Error{"invalid worker id"}, http.StatusBadRequest)
		return
	}

	if _, err := a.st.UpsertWorker(id, p.IP, p.Caps, p.OwnerID, ""); err != nil {
		WriteError(w, Error{"unable to register worker: " + err.Error()}, http.StatusInternalServerError)
		return
	}
	WriteJSON(w, WorkersRegisterPOSTResponse{Success: true, WorkerID: id, Status: "registered"})
}

// workersHandlerGET implements GET /workers.
func (a *API) workersHandlerGET(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	workers, err := a.st.ListWorkers()
	if err != nil {
		WriteError(w, Error{"unable to list workers: " + err.Error()}, http.StatusInternalServerError)
		return
	}
	if workers == nil {
		workers = []*gridtypes.Worker{}
	}
	WriteJSON(w, workers)
}

// HeartbeatResponse is the shared response shape for both heartbeat
// endpoints.
type HeartbeatResponse struct {
	Success   bool    `json:"success"`
	WorkerID  string  `json:"worker_id"`
	Timestamp float64 `json:"timestamp"`
}

// workerHeartbeatHandlerPOST implements POST /workers/{id}/heartbeat.
func (a *API) workerHeartbeatHandlerPOST(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	a.heartbeat(w, ps.ByName("id"))
}

// WorkersHeartbeatPOSTParams is the /workers/heartbeat body form.
type WorkersHeartbeatPOSTParams struct {
	ID string `json:"id"`
}

// workersHeartbeatHandlerPOST implements POST /workers/heartbeat.
func (a *API) workersHeartbeatHandlerPOST(w http.ResponseWriter, req *http.Request) {
	var p WorkersHeartbeatPOSTParams
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		WriteError(w, Error{"invalid request body: " + err.Error()}, http.StatusBadRequest)
		return
	}
	a.heartbeat(w, p.ID)
}

func (a *API) heartbeat(w http.ResponseWriter, id string) {
	if !gridtypes.ValidUUIDv4(id) {
		WriteError(w, Error{"invalid worker id"}, http.StatusBadRequest)
		return
	}
	if err := a.st.UpdateHeartbeat(id); err != nil {
		WriteError(w, Error{"unable to update heartbeat: " + err.Error()}, http.StatusInternalServerError)
		return
	}
	a.reg.Touch(id, nowFloat())
	WriteJSON(w, HeartbeatResponse{Success: true, WorkerID: id, Timestamp: nowFloat()})
}

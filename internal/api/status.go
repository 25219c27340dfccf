package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/gridx-labs/coordinator/internal/gridtypes"
)

// HealthGETResponse is the /health response.
type HealthGETResponse struct {
	Status    string  `json:"status"`
	UptimeSec float64 `json:"uptime_seconds"`
}

func (a *API) healthHandlerGET(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	WriteJSON(w, HealthGETResponse{Status: "healthy", UptimeSec: nowFloat() - a.startedAt})
}

// WorkerCounts summarizes the live Registry for /status.
type WorkerCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// StatusGETResponse is the /status response.
type StatusGETResponse struct {
	Workers   WorkerCounts `json:"workers"`
	QueueSize int          `json:"queue_size"`
	UptimeSec float64      `json:"uptime_seconds"`
}

// statusHandlerGET implements GET /status: live session counts from the
// Registry (not the Store, which also holds offline rows) plus the
// Scheduler's FIFO depth.
func (a *API) statusHandlerGET(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	WriteJSON(w, StatusGETResponse{
		Workers: WorkerCounts{
			Total:  a.reg.Len(),
			Active: a.reg.CountByStatus(gridtypes.WorkerBusy),
		},
		QueueSize: a.sched.QueueLen(),
		UptimeSec: nowFloat() - a.startedAt,
	})
}

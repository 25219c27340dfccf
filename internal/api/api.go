// Package api is the coordinator's HTTP Surface: a thin
// translator between external JSON requests and the Store, Credit Engine,
// Registry and Scheduler. It never holds domain logic of its own — every
// handler parses/validates a request, calls a core component, and renders
// the result. The whole route table is registered in one buildHTTPRoutes
// pass so the surface can be read top to bottom in one place.
package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	gridErrs "gitlab.com/NebulousLabs/errors"

	"github.com/gridx-labs/coordinator/internal/config"
	"github.com/gridx-labs/coordinator/internal/credit"
	"github.com/gridx-labs/coordinator/internal/gridtypes"
	"github.com/gridx-labs/coordinator/internal/persist"
	"github.com/gridx-labs/coordinator/internal/registry"
	"github.com/gridx-labs/coordinator/internal/scheduler"
	"github.com/gridx-labs/coordinator/internal/store"
)

// Error is the JSON envelope returned on every non-2xx response.
type Error struct {
	Message string `json:"message"`
}

// API wires the HTTP Surface to the coordinator's core components.
type API struct {
	st      *store.Store
	reg     *registry.Registry
	credits *credit.Engine
	sched   *scheduler.Scheduler
	cfg     config.Config
	log     *persist.Logger

	startedAt float64

	routerMu sync.Mutex
	router   http.Handler
}

// New builds an API and its route table. Call Handler to get the
// http.Handler to pass to an http.Server.
func New(st *store.Store, reg *registry.Registry, credits *credit.Engine, sched *scheduler.Scheduler, cfg config.Config, log *persist.Logger) *API {
	a := &API{
		st:        st,
		reg:       reg,
		credits:   credits,
		sched:     sched,
		cfg:       cfg,
		log:       log,
		startedAt: nowFloat(),
	}
	a.buildHTTPRoutes()
	return a
}

// Handler returns the composed http.Handler (routes + CORS middleware).
func (a *API) Handler() http.Handler {
	a.routerMu.Lock()
	defer a.routerMu.Unlock()
	return a.router
}

// buildHTTPRoutes registers every endpoint in a single pass.
//
// httprouter refuses to mix the static segments "register" and "heartbeat"
// with the :id wildcard under POST /workers, so those two endpoints
// share one wildcard route and workersPOSTHandler tells them apart by the
// captured segment.
func (a *API) buildHTTPRoutes() {
	router := httprouter.New()
	router.RedirectTrailingSlash = false
	router.NotFound = http.HandlerFunc(a.unrecognizedCallHandler)

	router.POST("/jobs", a.jobsHandlerPOST)
	router.GET("/jobs", a.jobsHandlerGET)
	router.GET("/jobs/:id", a.jobHandlerGET)

	router.GET("/workers", a.workersHandlerGET)
	router.POST("/workers/:id", a.workersPOSTHandler)
	router.POST("/workers/:id/heartbeat", a.workerHeartbeatHandlerPOST)

	router.GET("/credits/:user_id", a.creditsHandlerGET)

	router.GET("/health", a.healthHandlerGET)
	router.GET("/status", a.statusHandlerGET)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})

	a.routerMu.Lock()
	a.router = c.Handler(router)
	a.routerMu.Unlock()
}

func (a *API) unrecognizedCallHandler(w http.ResponseWriter, req *http.Request) {
	WriteError(w, Error{"unrecognized call: " + req.Method + " " + req.URL.Path}, http.StatusNotFound)
}

// WriteJSON writes v to w as a JSON body with a 200 status.
func WriteJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err to w as a JSON {"message": ...} body with the
// given status code.
func WriteError(w http.ResponseWriter, err Error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

// writeKindError maps one of gridtypes' sentinel error kinds to its HTTP
// status using errors.Contains, and falls back to 500 for anything else.
func writeKindError(w http.ResponseWriter, err error) {
	switch {
	case gridErrs.Contains(err, gridtypes.ErrInvalidInput):
		WriteError(w, Error{err.Error()}, http.StatusBadRequest)
	case gridErrs.Contains(err, gridtypes.ErrAuthFailed):
		WriteError(w, Error{err.Error()}, http.StatusUnauthorized)
	case gridErrs.Contains(err, gridtypes.ErrInsufficientCredit):
		WriteError(w, Error{err.Error()}, http.StatusPaymentRequired)
	case gridErrs.Contains(err, gridtypes.ErrNotFound):
		WriteError(w, Error{err.Error()}, http.StatusNotFound)
	default:
		WriteError(w, Error{err.Error()}, http.StatusInternalServerError)
	}
}

package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/gridx-labs/coordinator/internal/gridtypes"
)

// CreditsGETResponse is the /credits/{user_id} response.
type CreditsGETResponse struct {
	UserID    string  `json:"user_id"`
	Balance   float64 `json:"balance"`
	Timestamp float64 `json:"timestamp"`
}

// creditsHandlerGET implements GET /credits/{user_id}. It ensures the
// ledger exists (at the configured initial balance) rather than 404ing a
// user who has never submitted, matching ensure_user's idempotent-create
// semantics, then reads the full ledger row.
func (a *API) creditsHandlerGET(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	userID := ps.ByName("user_id")
	if !gridtypes.ValidUserID(userID) {
		WriteError(w, Error{"invalid user_id"}, http.StatusBadRequest)
		return
	}
	if _, err := a.credits.EnsureUser(userID); err != nil {
		WriteError(w, Error{"unable to read balance: " + err.Error()}, http.StatusInternalServerError)
		return
	}
	uc, err := a.st.GetUserCredits(userID)
	if err != nil || uc == nil {
		WriteError(w, Error{"unable to read balance"}, http.StatusInternalServerError)
		return
	}
	WriteJSON(w, CreditsGETResponse{UserID: userID, Balance: uc.Balance, Timestamp: nowFloat()})
}

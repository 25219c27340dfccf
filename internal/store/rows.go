package store

import (
	"encoding/json"

	"github.com/gridx-labs/coordinator/internal/gridtypes"
)

// The API structs in gridtypes deliberately hide job source code and
// credential hashes from their JSON form. The store still has to round-trip
// those fields, so each persisted row embeds the API struct and re-adds the
// hidden fields under its own keys. encode/decode below are the only places
// that know about this split.

type jobRow struct {
	gridtypes.Job
	Code string `json:"code"`
}

type workerRow struct {
	gridtypes.Worker
	AuthTokenHash string `json:"auth_token_hash,omitempty"`
}

type authRow struct {
	gridtypes.UserAuth
	AuthTokenHash string `json:"auth_token_hash"`
}

func encodeJob(j *gridtypes.Job) ([]byte, error) {
	return json.Marshal(&jobRow{Job: *j, Code: j.Code})
}

func decodeJob(data []byte) (*gridtypes.Job, error) {
	var row jobRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	row.Job.Code = row.Code
	return &row.Job, nil
}

func encodeWorker(w *gridtypes.Worker) ([]byte, error) {
	return json.Marshal(&workerRow{Worker: *w, AuthTokenHash: w.AuthTokenHash})
}

func decodeWorker(data []byte) (*gridtypes.Worker, error) {
	var row workerRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	row.Worker.AuthTokenHash = row.AuthTokenHash
	return &row.Worker, nil
}

func encodeAuth(ua *gridtypes.UserAuth) ([]byte, error) {
	return json.Marshal(&authRow{UserAuth: *ua, AuthTokenHash: ua.AuthTokenHash})
}

func decodeAuth(data []byte) (*gridtypes.UserAuth, error) {
	var row authRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	row.UserAuth.AuthTokenHash = row.AuthTokenHash
	return &row.UserAuth, nil
}
